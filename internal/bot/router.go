package bot

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "github.com/Keeeszo/friends-bot/internal/runtime/supervisor"
	kit "github.com/Keeeszo/friends-bot/internal/transport"
	"github.com/Keeeszo/friends-bot/pkg/logx"
	"github.com/Keeeszo/friends-bot/pkg/tgui"
)

const defaultCommandTimeout = 20 * time.Second

type Command struct {
	// Route is a space-separated command path, e.g. "constructores add".
	Route       string
	Aliases     []string
	Description string
	Usage       string
	Timeout     time.Duration
	Handle      HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackRoute handles inline button data "scope:action:payload".
type CallbackRoute struct {
	Scope   string
	Action  string
	Timeout time.Duration
	Handle  CallbackHandlerFunc
}

type Request struct {
	Update   kit.Update
	Chat     kit.ChatTarget
	FromID   int64
	FromName string
	Command  string
	Args     []string
	Payload  string
	ReqID    string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// OwnerID is the registry owner id of the sender.
func (r *Request) OwnerID() string { return strconv.FormatInt(r.FromID, 10) }

// Reply sends m to the chat (and topic) the request came from.
func (r *Request) Reply(ctx context.Context, m tgui.Message) error {
	_, err := m.Send(ctx, r.Adapter, r.Chat)
	return err
}

// Router dispatches updates to commands and callbacks on a bounded worker pool.
type Router struct {
	mu        sync.RWMutex
	root      *cmdNode
	alias     map[string]*cmdNode
	callbacks map[string]map[string]CallbackRoute
	allowed   map[int64]struct{}

	log     logx.Logger
	adapter kit.Adapter

	runMu   sync.Mutex
	running bool

	jobs chan func()
}

func NewRouter(adapter kit.Adapter, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		root:      newRoot(),
		alias:     map[string]*cmdNode{},
		callbacks: map[string]map[string]CallbackRoute{},
		log:       log.With(logx.String("comp", "router")),
		adapter:   adapter,
		jobs:      make(chan func(), 256),
	}
}

// SetAllowedChats restricts serving to the given chats. Empty allows every chat.
// Safe to call during hot-reload.
func (m *Router) SetAllowedChats(ids []int64) {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	m.mu.Lock()
	m.allowed = set
	m.mu.Unlock()
}

func (m *Router) chatAllowed(chatID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.allowed) == 0 {
		return true
	}
	_, ok := m.allowed[chatID]
	return ok
}

// Register replaces the command and callback tables. /help and /comandos are always added.
func (m *Router) Register(cmds []Command, cbs []CallbackRoute) {
	cmds = append(cmds,
		Command{
			Route:       "comandos",
			Description: "Lista de comandos disponibles",
			Usage:       "/comandos",
			Handle: func(ctx context.Context, req *Request) error {
				return req.Reply(ctx, tgui.Message{Text: m.helpText(nil)})
			},
		},
		Command{
			Route:       "help",
			Description: "Ayuda de un comando",
			Usage:       "/help [comando] [subcomando]",
			Handle: func(ctx context.Context, req *Request) error {
				return req.Reply(ctx, tgui.Message{Text: m.helpText(req.Args)})
			},
		},
	)

	root := newRoot()
	alias := map[string]*cmdNode{}
	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		root.add(route, c)
		leaf := root.find(route)
		// "/constructores_add" style shortcuts for the Telegram menu. Single-token
		// routes are not aliased or subcommand traversal would be short-circuited.
		if name, ok := menuCommandName(route); ok && len(route) > 1 {
			if _, exists := alias[name]; !exists {
				alias[name] = leaf
			}
		}
		for _, a := range c.Aliases {
			if a = sanitizeCommand(a); a != "" {
				alias[a] = leaf
			}
		}
	}

	cb := map[string]map[string]CallbackRoute{}
	for _, r := range cbs {
		s, a := strings.TrimSpace(r.Scope), strings.TrimSpace(r.Action)
		if s == "" || a == "" || r.Handle == nil {
			continue
		}
		if cb[s] == nil {
			cb[s] = map[string]CallbackRoute{}
		}
		cb[s][a] = r
	}

	m.mu.Lock()
	m.root, m.alias, m.callbacks = root, alias, cb
	m.mu.Unlock()
}

func (m *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := max(2, runtime.NumCPU())

	sup := rtsup.New(ctx,
		rtsup.WithLogger(m.log),
		rtsup.WithCancelOnError(false),
	)
	m.runMu.Lock()
	m.running = true
	m.runMu.Unlock()

	m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(m.jobs)))

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-m.jobs:
					m.runJob(idx, job)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
		)
	}

	defer func() {
		m.runMu.Lock()
		m.running = false
		m.runMu.Unlock()
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.route(ctx, up)
		}
	}
}

func (m *Router) runJob(worker int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (m *Router) tryEnqueue(fn func()) bool {
	m.runMu.Lock()
	running := m.running
	m.runMu.Unlock()
	if !running {
		return false
	}
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

func (m *Router) route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		m.routeMessage(ctx, up)
	case kit.UpdateCallback:
		m.routeCallback(ctx, up)
	}
}

func (m *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	if !m.chatAllowed(msg.ChatID) {
		m.log.Debug("command from chat not allowed", logx.Int64("chat_id", msg.ChatID))
		return
	}
	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return
	}
	word := commandWord(parts[0])
	args := parts[1:]

	m.mu.RLock()
	root, alias := m.root, m.alias
	m.mu.RUnlock()

	if leaf, ok := alias[word]; ok && leaf.cmd != nil {
		m.enqueueCommand(ctx, up, *leaf.cmd, args)
		return
	}

	cur, ok := root.child(word)
	if !ok {
		// Other bots share the group; unknown commands are not ours to answer.
		return
	}
	for len(args) > 0 {
		child, ok := cur.child(args[0])
		if !ok {
			break
		}
		cur = child
		args = args[1:]
	}
	if cur.cmd == nil {
		return
	}
	m.enqueueCommand(ctx, up, *cur.cmd, args)
}

func (m *Router) enqueueCommand(ctx context.Context, up kit.Update, cmd Command, args []string) {
	msg := up.Message
	rid := newReqID()
	req := &Request{
		Update:   up,
		Chat:     kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:   msg.FromID,
		FromName: msg.DisplayName(),
		Command:  cmd.Route,
		Args:     args,
		ReqID:    rid,
		Adapter:  m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Route),
		),
	}
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	final := Chain(cmd.Handle, MWPanicRecover(), MWRequestLog(), MWTimeout(timeout))

	if !m.tryEnqueue(func() { _ = final(ctx, req) }) {
		_, _ = m.adapter.SendText(ctx, req.Chat, "⏳ Estoy ocupado, inténtalo de nuevo en unos segundos", nil)
	}
}

func (m *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	if !m.chatAllowed(cb.ChatID) {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	scope, action, payload, ok := tgui.ParseData(strings.TrimSpace(cb.Data))
	if !ok {
		return
	}
	m.mu.RLock()
	route, ok := m.callbacks[scope][action]
	m.mu.RUnlock()
	if !ok {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}

	rid := newReqID()
	key := "cb:" + scope + ":" + action
	req := &Request{
		Update:   up,
		Chat:     kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID},
		FromID:   cb.FromID,
		FromName: cb.FromUsername,
		Command:  key,
		Payload:  payload,
		ReqID:    rid,
		Adapter:  m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", cb.ChatID),
			logx.Int64("from_id", cb.FromID),
			logx.String("cmd", key),
		),
	}
	if req.FromName == "" {
		req.FromName = cb.FromName
	}
	timeout := route.Timeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	h := func(ctx context.Context, r *Request) error { return route.Handle(ctx, r, payload) }
	final := Chain(h, MWPanicRecover(), MWRequestLog(), MWTimeout(timeout))

	if !m.tryEnqueue(func() { _ = final(ctx, req) }) {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "Ocupado, inténtalo de nuevo")
	}
}
