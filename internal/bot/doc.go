// Package bot routes Telegram updates to command handlers.
//
// The router owns a command tree ("constructores add", "constructores list", ...),
// root-level aliases for the Telegram menu ("/constructores_add"), inline button
// callbacks ("scope:action:payload") and a bounded worker pool. Handlers for the
// builder commands live in builders.go and talk to internal/builders only.
package bot
