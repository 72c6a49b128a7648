package bot

import (
	"strings"

	"github.com/Keeeszo/friends-bot/pkg/tgui"
)

// helpText renders HTML help for the top level or for one command path.
func (m *Router) helpText(path []string) string {
	m.mu.RLock()
	root, alias := m.root, m.alias
	m.mu.RUnlock()

	if len(path) == 0 {
		return helpTop(root)
	}
	cur := root
	full := make([]string, 0, len(path))
	for _, p := range path {
		p = commandWord(p)
		n, ok := cur.child(p)
		if !ok {
			if leaf, ok := alias[p]; ok && leaf.cmd != nil && len(full) == 0 {
				cur = leaf
				full = splitRoute(leaf.cmd.Route)
				break
			}
			return tgui.JoinH("\n",
				tgui.H("❓ "+tgui.B("Comando desconocido").String()),
				tgui.H("Escribe "+tgui.Code("/comandos").String()+" para ver la lista."),
			).String()
		}
		cur = n
		full = append(full, p)
	}
	return helpNode(cur, full)
}

func helpTop(root *cmdNode) string {
	b := tgui.New().Title("📜", "COMANDOS DISPONIBLES").Blank()
	for _, name := range root.childNames() {
		n, _ := root.child(name)
		b.HTML(tgui.H("▸ /" + tgui.Esc(name).String() + " : " + tgui.Esc(nodeDesc(n)).String()))
	}
	return b.Build().Text
}

func helpNode(n *cmdNode, path []string) string {
	b := tgui.New().Title("📌", "/"+strings.Join(path, " "))
	if n.cmd != nil {
		if d := strings.TrimSpace(n.cmd.Description); d != "" {
			b.Line(d)
		}
		if u := strings.TrimSpace(n.cmd.Usage); u != "" {
			b.HTML(tgui.H("Uso: " + tgui.Code(u).String()))
		}
	}
	if subs := n.childNames(); len(subs) > 0 {
		b.Blank().Line("Subcomandos:")
		for _, s := range subs {
			c, _ := n.child(s)
			line := "• " + tgui.Code(s).String()
			if c.cmd != nil && c.cmd.Usage != "" {
				line += " - " + tgui.Esc(c.cmd.Usage).String()
			}
			b.HTML(tgui.H(line))
		}
	}
	return b.Build().Text
}

func nodeDesc(n *cmdNode) string {
	if n.cmd != nil && n.cmd.Description != "" {
		return n.cmd.Description
	}
	return strings.Join(n.childNames(), ", ")
}
