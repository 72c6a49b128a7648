package bot

import (
	"strings"
	"unicode"

	kit "github.com/Keeeszo/friends-bot/internal/transport"
)

// sanitizeCommand converts a route or alias into a Telegram command name ([a-z0-9_]{1,32}).
func sanitizeCommand(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == '-' || r == '/' || unicode.IsSpace(r):
			if b.Len() > 0 && !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}

// menuCommandName joins a route into one command: ["constructores","add"] -> "constructores_add".
func menuCommandName(route []string) (string, bool) {
	out := sanitizeCommand(strings.Join(route, "_"))
	return out, out != ""
}

// Menu returns the command list for the client menu: top-level commands first,
// then the subcommand shortcuts.
func (m *Router) Menu() []kit.BotCommand {
	m.mu.RLock()
	root := m.root
	m.mu.RUnlock()

	var out []kit.BotCommand
	seen := map[string]bool{}
	add := func(cmd, desc string) {
		if cmd == "" || seen[cmd] || len(out) >= 100 {
			return
		}
		seen[cmd] = true
		if desc = strings.TrimSpace(strings.ReplaceAll(desc, "\n", " ")); desc == "" {
			desc = cmd
		}
		if len(desc) > 256 {
			desc = desc[:256]
		}
		out = append(out, kit.BotCommand{Command: cmd, Description: desc})
	}
	for _, name := range root.childNames() {
		n, _ := root.child(name)
		add(sanitizeCommand(name), nodeDesc(n))
	}
	for _, name := range root.childNames() {
		n, _ := root.child(name)
		for _, sub := range n.childNames() {
			c, _ := n.child(sub)
			if c.cmd == nil {
				continue
			}
			if cmd, ok := menuCommandName([]string{name, sub}); ok {
				add(cmd, c.cmd.Description)
			}
		}
	}
	return out
}
