// Package builders tracks builder slots for registered clan accounts.
//
// An Owner (a Telegram user) registers Accounts, each with a fixed number of
// builder slots. Tasks occupy a slot until they are cancelled or until the
// expiry Scanner notifies the owner shortly before the timer ends and removes
// them.
//
// Every mutation is a conditional update against the Store; nothing here keeps
// a cached copy of the data between calls.
package builders
