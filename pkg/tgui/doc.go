// Package tgui provides small Telegram UI helpers: HTML escaping, a message
// builder with HTML/no-preview defaults, inline keyboards and callback data
// bounded by Telegram's 64 byte limit.
package tgui
