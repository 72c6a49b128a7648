package bot

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	kit "github.com/Keeeszo/friends-bot/internal/transport"
)

func TestTokenizeCommandLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"/constructores list", []string{"/constructores", "list"}},
		{`/constructores build Main 2h "Mejora del muro"`, []string{"/constructores", "build", "Main", "2h", "Mejora del muro"}},
		{`/c build a 1h Torre\ \"X\"`, []string{"/c", "build", "a", "1h", `Torre "X"`}},
		{"/c build a 1h rey's  altar", []string{"/c", "build", "a", "1h", "rey's", "altar"}},
	}
	for _, tt := range tests {
		if got := tokenizeCommandLine(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("tokenizeCommandLine(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCommandWord(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]string{
		"/Constructores":           "constructores",
		"/constructores@FriendsBot": "constructores",
		"constructores_add":        "constructores_add",
	} {
		if got := commandWord(in); got != want {
			t.Errorf("commandWord(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeCommand(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]string{
		"constructores add": "constructores_add",
		"/Help":             "help",
		"a--b":              "a_b",
		strings.Repeat("x", 40): strings.Repeat("x", 32),
	} {
		if got := sanitizeCommand(in); got != want {
			t.Errorf("sanitizeCommand(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewReqIDUnique(t *testing.T) {
	t.Parallel()
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := newReqID()
		if seen[id] {
			t.Fatalf("duplicate request id %q", id)
		}
		seen[id] = true
	}
}

func TestChainOrder(t *testing.T) {
	t.Parallel()
	var trace []string
	mw := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *Request) error {
				trace = append(trace, name)
				return next(ctx, req)
			}
		}
	}
	h := Chain(func(context.Context, *Request) error {
		trace = append(trace, "handler")
		return nil
	}, mw("a"), mw("b"))
	_ = h(context.Background(), &Request{})
	if want := []string{"a", "b", "handler"}; !reflect.DeepEqual(trace, want) {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
}

func TestPanicRecoverReturnsError(t *testing.T) {
	t.Parallel()
	h := Chain(func(context.Context, *Request) error { panic("boom") }, MWPanicRecover())
	if err := h(context.Background(), &Request{}); err == nil {
		t.Fatal("expected error from recovered panic")
	}
}

func TestTimeoutMiddlewareSetsDeadline(t *testing.T) {
	t.Parallel()
	h := Chain(func(ctx context.Context, _ *Request) error {
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("no deadline")
		}
		return nil
	}, MWTimeout(time.Second))
	if err := h(context.Background(), &Request{}); err != nil {
		t.Fatal(err)
	}
}

func TestRouterIgnoresUnknownAndForeignChats(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.router.SetAllowedChats([]int64{-100})

	// Neither of these produces a reply; the following /comandos proves they were processed.
	h.updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: -100, FromID: 1, Text: "/ping"}}
	h.updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: -200, FromID: 1, Text: "/comandos"}}
	h.updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: -100, FromID: 1, Text: "hola /comandos"}}
	got := h.say(t, 1, "/comandos")

	h.adapter.mu.Lock()
	n := len(h.adapter.sent)
	h.adapter.mu.Unlock()
	if n != 1 {
		t.Fatalf("sent %d messages, want 1", n)
	}
	if got.to.ChatID != -100 || got.to.ThreadID != 7 {
		t.Fatalf("reply target = %+v", got.to)
	}
	if !strings.Contains(got.text, "COMANDOS DISPONIBLES") || !strings.Contains(got.text, "/constructores") {
		t.Fatalf("help text = %q", got.text)
	}
}

func TestRouterSubcommandsAndAliases(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	if got := h.say(t, 1, "/constructores@FriendsBot"); !strings.Contains(got.text, "Gestión de Constructores") {
		t.Fatalf("root usage = %q", got.text)
	}
	if got := h.say(t, 1, "/constructores foo"); !strings.Contains(got.text, "Subcomando no reconocido: foo") {
		t.Fatalf("unknown subcommand = %q", got.text)
	}
	if got := h.say(t, 1, "/constructores_list"); !strings.Contains(got.text, "No tienes constructores registrados") {
		t.Fatalf("alias list = %q", got.text)
	}
	if got := h.say(t, 1, "/CONSTRUCTORES LIST"); !strings.Contains(got.text, "No tienes constructores registrados") {
		t.Fatalf("upper-case route = %q", got.text)
	}
	got := h.say(t, 1, "/help constructores")
	if !strings.Contains(got.text, "Subcomandos") || !strings.Contains(got.text, "<code>add</code>") {
		t.Fatalf("help constructores = %q", got.text)
	}
	if got := h.say(t, 1, "/help nada"); !strings.Contains(got.text, "Comando desconocido") {
		t.Fatalf("help unknown = %q", got.text)
	}
}

func TestMenu(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	var names []string
	for _, c := range h.router.Menu() {
		if c.Description == "" {
			t.Errorf("%s has no description", c.Command)
		}
		names = append(names, c.Command)
	}
	for _, want := range []string{"comandos", "constructores", "help", "constructores_add", "constructores_build", "constructores_cancel", "constructores_list"} {
		found := false
		for _, n := range names {
			found = found || n == want
		}
		if !found {
			t.Errorf("menu %v lacks %q", names, want)
		}
	}
	if names[0] != "comandos" {
		t.Errorf("menu should start with top-level commands, got %v", names)
	}
}

func TestUnknownCallbackIsAnswered(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "x", ChatID: -100, FromID: 1, Data: "zz:top:1"}}
	h.adapter.waitFor(t, "callback answer", func(f *fakeAdapter) bool { return len(f.answers) == 1 })
}
