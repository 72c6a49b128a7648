package tgui

import (
	"context"
	"strings"

	kit "github.com/Keeeszo/friends-bot/internal/transport"
)

// Message is a rendered UI payload: text plus send options.
type Message struct {
	Text string
	Opt  *kit.SendOptions
}

// Send sends the message to a chat.
func (m Message) Send(ctx context.Context, s kit.Sender, to kit.ChatTarget) (kit.MessageRef, error) {
	return s.SendText(ctx, to, m.Text, m.options())
}

// Edit replaces the text (and keyboard) of an existing message.
func (m Message) Edit(ctx context.Context, ad kit.Adapter, ref kit.MessageRef) error {
	return ad.EditText(ctx, ref, m.Text, m.options())
}

func (m Message) options() *kit.SendOptions {
	if m.Opt == nil {
		return &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	}
	return m.Opt
}

// Builder assembles an HTML message line by line. Plain-text inputs are escaped.
type Builder struct {
	kb    *Inline
	lines []string
}

func New() *Builder { return &Builder{} }

// Inline attaches an inline keyboard. Empty keyboards are dropped.
func (b *Builder) Inline(kb *Inline) *Builder {
	b.kb = kb
	return b
}

// Title adds a bold title line with an optional emoji.
func (b *Builder) Title(emoji, title string) *Builder {
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	if e := strings.TrimSpace(emoji); e != "" {
		b.lines = append(b.lines, Esc(e).String()+" "+B(t).String())
	} else {
		b.lines = append(b.lines, B(t).String())
	}
	return b
}

// Line adds an escaped line.
func (b *Builder) Line(s string) *Builder {
	b.lines = append(b.lines, Esc(s).String())
	return b
}

// HTML adds a line that is already safe HTML.
func (b *Builder) HTML(h H) *Builder {
	b.lines = append(b.lines, h.String())
	return b
}

func (b *Builder) Blank() *Builder { return b.Line("") }

// Bullets adds "• item" lines, skipping blanks.
func (b *Builder) Bullets(items ...string) *Builder {
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			b.Line("• " + it)
		}
	}
	return b
}

// Size is the UTF-16 length of the text built so far.
func (b *Builder) Size() int {
	return UTF16Len(strings.Join(b.lines, "\n"))
}

// Append copies o's lines after b's. o's keyboard is ignored.
func (b *Builder) Append(o *Builder) *Builder {
	b.lines = append(b.lines, o.lines...)
	return b
}

// Build produces a ready-to-send Message. Text over MaxMessageLen loses whole
// trailing lines, so an HTML tag is never cut in half.
func (b *Builder) Build() Message {
	text := strings.Trim(strings.Join(b.lines, "\n"), "\n")
	if UTF16Len(text) > MaxMessageLen {
		text = fitLines(text, MaxMessageLen)
	}
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if b.kb != nil && b.kb.Len() > 0 {
		opt.ReplyMarkupAdapter = b.kb.Markup()
	}
	return Message{Text: text, Opt: opt}
}

func fitLines(text string, limit int) string {
	const more = "…"
	lines := strings.Split(text, "\n")
	size := UTF16Len(more)
	keep := 0
	for _, l := range lines {
		n := UTF16Len(l) + 1
		if size+n > limit {
			break
		}
		size += n
		keep++
	}
	if keep == 0 {
		// The first line alone is over the limit.
		return TruncRunes(lines[0], limit/2)
	}
	return strings.Join(append(lines[:keep:keep], more), "\n")
}
