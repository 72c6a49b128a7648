// Package logx wraps zerolog for friends-bot.
//
// Console output is human-readable; the optional file sink is JSON; warn+
// records can also be mirrored to the admin chat, rate limited.
package logx
