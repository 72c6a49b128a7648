// Package notifier delivers builder expiry notifications over the chat transport.
//
// Delivery is synchronous so the caller learns whether the owner was reached:
// the expiry scanner only removes a task after a successful send. Sends share
// one token bucket (golang.org/x/time/rate) and failed sends are retried with
// jittered exponential backoff.
//
// Notifications go to the configured alerts chat/topic, or to the owner's
// private chat when no alerts chat is set.
package notifier
