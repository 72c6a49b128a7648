package builders_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Keeeszo/friends-bot/internal/builders"
	"github.com/Keeeszo/friends-bot/internal/eventbus"
	"github.com/Keeeszo/friends-bot/internal/storage"
	"github.com/Keeeszo/friends-bot/pkg/logx"
)

var epoch = time.Date(2026, 5, 10, 18, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: epoch} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func openStore(t *testing.T, driver string) builders.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: driver, Path: filepath.Join(t.TempDir(), "store."+driver)}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

type fixture struct {
	store    builders.Store
	clock    *clock
	bus      eventbus.Bus
	members  *fakeMembers
	notifier *fakeNotifier
	registry *builders.Registry
	ledger   *builders.Ledger
}

func newFixture(t *testing.T, driver string) *fixture {
	t.Helper()
	f := &fixture{
		store:    openStore(t, driver),
		clock:    newClock(),
		bus:      eventbus.New(),
		members:  &fakeMembers{},
		notifier: &fakeNotifier{},
	}
	opts := f.options()
	f.registry = builders.NewRegistry(f.store, f.members, opts)
	f.ledger = builders.NewLedger(f.store, opts)
	return f
}

func (f *fixture) options() builders.Options {
	return builders.Options{Events: f.bus, Now: f.clock.Now}
}

func (f *fixture) register(t *testing.T, ownerID, ownerName, tag, name string, capacity int) builders.Account {
	t.Helper()
	acct, err := f.registry.RegisterAccount(context.Background(), builders.RegisterRequest{
		OwnerID: ownerID, OwnerName: ownerName, Tag: tag, Name: name, Level: 14, Capacity: capacity,
	})
	if err != nil {
		t.Fatalf("RegisterAccount(%s): %v", tag, err)
	}
	return acct
}

func (f *fixture) add(t *testing.T, ownerID, acct, dur, desc string) builders.Task {
	t.Helper()
	task, _, err := f.ledger.AddTask(context.Background(), builders.AddRequest{
		OwnerID: ownerID, Account: acct, Duration: dur, Description: desc,
	})
	if err != nil {
		t.Fatalf("AddTask(%s, %s): %v", acct, dur, err)
	}
	return task
}

type fakeMembers struct {
	members []builders.Member
	err     error
}

func (m *fakeMembers) LookupMember(_ context.Context, tagOrName string) (builders.Member, error) {
	if m.err != nil {
		return builders.Member{}, m.err
	}
	for _, mem := range m.members {
		if mem.Tag == builders.NormalizeTag(tagOrName) || builders.SameName(mem.Name, tagOrName) {
			return mem, nil
		}
	}
	return builders.Member{}, builders.ErrMemberNotFound
}

type sent struct {
	OwnerID string
	Text    string
}

type fakeNotifier struct {
	mu     sync.Mutex
	sent   []sent
	failOn map[string]bool // owner ids whose delivery fails
}

func (n *fakeNotifier) Notify(_ context.Context, ownerID, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failOn[ownerID] {
		return errors.New("telegram: chat not found")
	}
	n.sent = append(n.sent, sent{OwnerID: ownerID, Text: text})
	return nil
}

func (n *fakeNotifier) Sent() []sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sent(nil), n.sent...)
}

// flakyStore fails selected operations of an underlying store.
type flakyStore struct {
	builders.Store
	failRemoveTasks bool
	failAccounts    bool
}

var errDiskGone = errors.New("disk I/O error")

func (s *flakyStore) RemoveTasks(ctx context.Context, refs []builders.TaskRef) (int, error) {
	if s.failRemoveTasks {
		return 0, errDiskGone
	}
	return s.Store.RemoveTasks(ctx, refs)
}

func (s *flakyStore) Accounts(ctx context.Context, ownerID string) ([]builders.Account, error) {
	if s.failAccounts {
		return nil, errDiskGone
	}
	return s.Store.Accounts(ctx, ownerID)
}
