package bot

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Keeeszo/friends-bot/internal/builders"
	"github.com/Keeeszo/friends-bot/internal/storage"
	kit "github.com/Keeeszo/friends-bot/internal/transport"
	"github.com/Keeeszo/friends-bot/pkg/logx"
)

var testNow = time.Date(2026, 5, 10, 18, 0, 0, 0, time.UTC)

type outMsg struct {
	to   kit.ChatTarget
	ref  kit.MessageRef
	text string
	opt  *kit.SendOptions
}

type fakeAdapter struct {
	mu      sync.Mutex
	sent    []outMsg
	edits   []outMsg
	answers []string
	signal  chan struct{}
}

func newFakeAdapter() *fakeAdapter { return &fakeAdapter{signal: make(chan struct{}, 256)} }

func (f *fakeAdapter) poke() {
	select {
	case f.signal <- struct{}{}:
	default:
	}
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: len(f.sent) + 1}
	f.sent = append(f.sent, outMsg{to: to, ref: ref, text: text, opt: opt})
	f.poke()
	return ref, nil
}

func (f *fakeAdapter) EditText(_ context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, outMsg{ref: ref, text: text, opt: opt})
	f.poke()
	return nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	f.poke()
	return nil
}

// waitFor blocks until cond holds over the adapter state.
func (f *fakeAdapter) waitFor(t *testing.T, what string, cond func(f *fakeAdapter) bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		f.mu.Lock()
		ok := cond(f)
		f.mu.Unlock()
		if ok {
			return
		}
		select {
		case <-f.signal:
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func (f *fakeAdapter) lastSent() outMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

type fakeMembers struct {
	members []builders.Member
}

func (m *fakeMembers) LookupMember(_ context.Context, tagOrName string) (builders.Member, error) {
	tag := builders.NormalizeTag(tagOrName)
	for _, mem := range m.members {
		if mem.Tag == tag || builders.SameName(mem.Name, tagOrName) {
			return mem, nil
		}
	}
	return builders.Member{}, fmt.Errorf("%w: %s", builders.ErrMemberNotFound, tagOrName)
}

type harness struct {
	adapter *fakeAdapter
	router  *Router
	ledger  *builders.Ledger
	updates chan kit.Update
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "builders.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	now := func() time.Time { return testNow }
	opts := builders.Options{Now: now}
	members := &fakeMembers{members: []builders.Member{
		{Tag: "#VGGG0VY", Name: "Keeeszo", Level: 16},
		{Tag: "#P2U8LQ", Name: "Ñandú", Level: 12},
	}}
	reg := builders.NewRegistry(st, members, opts)
	reg.SetCapacityRange(1, 5)
	led := builders.NewLedger(st, opts)

	h := &harness{
		adapter: newFakeAdapter(),
		ledger:  led,
		updates: make(chan kit.Update, 16),
	}
	h.router = NewRouter(h.adapter, logx.Nop())
	b := NewBuilders(reg, led, now)
	h.router.Register(b.Commands(), b.Callbacks())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.router.DispatchLoop(ctx, h.updates)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

// say sends a message and waits for the reply.
func (h *harness) say(t *testing.T, from int64, text string) outMsg {
	t.Helper()
	h.adapter.mu.Lock()
	before := len(h.adapter.sent)
	h.adapter.mu.Unlock()
	h.updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ID: 1, ChatID: -100, ThreadID: 7, FromID: from, FromUsername: fmt.Sprint("user", from), Text: text,
	}}
	h.adapter.waitFor(t, "reply to "+strings.Fields(text)[0], func(f *fakeAdapter) bool { return len(f.sent) > before })
	return h.adapter.lastSent()
}
