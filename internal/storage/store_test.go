package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Keeeszo/friends-bot/internal/builders"
	"github.com/Keeeszo/friends-bot/pkg/logx"
)

var drivers = []string{"file", "sqlite"}

func openTest(t *testing.T, driver string) builders.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "friends."+driver)
	st, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func account(tag, name string, capacity int, at time.Time) builders.Account {
	return builders.Account{Tag: tag, Name: name, Level: 15, Capacity: capacity, RegisteredAt: at}
}

func task(id string, end time.Duration) builders.Task {
	return builders.Task{ID: id, Start: t0, End: t0.Add(end), Description: "wall " + id}
}

func forEachDriver(t *testing.T, fn func(t *testing.T, st builders.Store)) {
	for _, d := range drivers {
		t.Run(d, func(t *testing.T) {
			t.Parallel()
			fn(t, openTest(t, d))
		})
	}
}

func TestUpsertAccountUniqueness(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, st builders.Store) {
		ctx := context.Background()
		alice := builders.Owner{ID: "1", Name: "alice"}
		bob := builders.Owner{ID: "2", Name: "bob"}

		if err := st.UpsertAccount(ctx, alice, account("#ABC123", "Keeeszo", 2, t0)); err != nil {
			t.Fatalf("UpsertAccount: %v", err)
		}
		err := st.UpsertAccount(ctx, bob, account("#ABC123", "Keeeszo", 3, t0))
		if !errors.Is(err, builders.ErrDuplicateTag) {
			t.Fatalf("UpsertAccount by another owner = %v, want ErrDuplicateTag", err)
		}
		accts, err := st.Accounts(ctx, "2")
		if err != nil || len(accts) != 0 {
			t.Fatalf("bob accounts = %v, %v; want none", accts, err)
		}

		owner, ok, err := st.FindAccountOwner(ctx, "#ABC123")
		if err != nil || !ok || owner.ID != "1" || owner.Name != "alice" {
			t.Fatalf("FindAccountOwner = %+v, %v, %v", owner, ok, err)
		}
		if _, ok, _ := st.FindAccountOwner(ctx, "#NOPE"); ok {
			t.Fatal("unknown tag reported as registered")
		}
	})
}

func TestUpsertAccountOverwriteClearsTasks(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, st builders.Store) {
		ctx := context.Background()
		o := builders.Owner{ID: "1", Name: "alice"}
		_ = st.UpsertAccount(ctx, o, account("#A", "First", 2, t0))
		_ = st.UpsertAccount(ctx, o, account("#B", "Second", 2, t0.Add(time.Second)))
		if ok, err := st.AppendTask(ctx, "1", "#A", task("t1", time.Hour)); !ok || err != nil {
			t.Fatalf("AppendTask = %v, %v", ok, err)
		}
		if err := st.UpsertAccount(ctx, o, account("#A", "First", 4, t0.Add(time.Minute))); err != nil {
			t.Fatalf("re-register: %v", err)
		}
		accts, err := st.Accounts(ctx, "1")
		if err != nil {
			t.Fatalf("Accounts: %v", err)
		}
		if len(accts) != 2 || accts[0].Tag != "#A" || accts[1].Tag != "#B" {
			t.Fatalf("registry order changed: %+v", accts)
		}
		if accts[0].Capacity != 4 || len(accts[0].Tasks) != 0 {
			t.Fatalf("overwritten account = %+v", accts[0])
		}
	})
}

func TestAppendTaskCapacity(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, st builders.Store) {
		ctx := context.Background()
		_ = st.UpsertAccount(ctx, builders.Owner{ID: "1", Name: "alice"}, account("#A", "Main", 2, t0))

		for _, id := range []string{"t1", "t2"} {
			if ok, err := st.AppendTask(ctx, "1", "#A", task(id, time.Hour)); !ok || err != nil {
				t.Fatalf("AppendTask(%s) = %v, %v", id, ok, err)
			}
		}
		if ok, err := st.AppendTask(ctx, "1", "#A", task("t3", time.Hour)); ok || err != nil {
			t.Fatalf("third AppendTask = %v, %v; want false, nil", ok, err)
		}
		if _, err := st.AppendTask(ctx, "2", "#A", task("t4", time.Hour)); !errors.Is(err, builders.ErrAccountNotFound) {
			t.Fatalf("AppendTask for wrong owner = %v, want ErrAccountNotFound", err)
		}

		accts, _ := st.Accounts(ctx, "1")
		got := accts[0].Tasks
		if len(got) != 2 || got[0].ID != "t1" || got[1].ID != "t2" {
			t.Fatalf("tasks = %+v", got)
		}
		if !got[0].End.Equal(t0.Add(time.Hour)) || got[0].Description != "wall t1" {
			t.Fatalf("task round trip = %+v", got[0])
		}
	})
}

func TestAppendTaskConcurrentSingleSlot(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, st builders.Store) {
		ctx := context.Background()
		_ = st.UpsertAccount(ctx, builders.Owner{ID: "1", Name: "alice"}, account("#A", "Main", 3, t0))
		_, _ = st.AppendTask(ctx, "1", "#A", task("t0", time.Hour))
		_, _ = st.AppendTask(ctx, "1", "#A", task("t1", time.Hour))

		const n = 8
		var (
			wg  sync.WaitGroup
			mu  sync.Mutex
			won int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ok, err := st.AppendTask(ctx, "1", "#A", task(fmt.Sprintf("race-%d", i), time.Hour))
				if err != nil {
					t.Errorf("AppendTask: %v", err)
					return
				}
				if ok {
					mu.Lock()
					won++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		if won != 1 {
			t.Fatalf("%d appends won the last slot, want 1", won)
		}
		accts, _ := st.Accounts(ctx, "1")
		if len(accts[0].Tasks) != 3 {
			t.Fatalf("account holds %d tasks, capacity 3", len(accts[0].Tasks))
		}
	})
}

func TestRemoveTaskIdempotent(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, st builders.Store) {
		ctx := context.Background()
		_ = st.UpsertAccount(ctx, builders.Owner{ID: "1", Name: "alice"}, account("#A", "Main", 2, t0))
		_, _ = st.AppendTask(ctx, "1", "#A", task("t1", time.Hour))

		if _, ok, _ := st.RemoveTask(ctx, "2", "#A", "t1"); ok {
			t.Fatal("another owner removed the task")
		}
		got, ok, err := st.RemoveTask(ctx, "1", "#A", "t1")
		if err != nil || !ok || got.Description != "wall t1" {
			t.Fatalf("RemoveTask = %+v, %v, %v", got, ok, err)
		}
		if _, ok, err := st.RemoveTask(ctx, "1", "#A", "t1"); ok || err != nil {
			t.Fatalf("second RemoveTask = %v, %v; want false, nil", ok, err)
		}
	})
}

func TestClaimReleaseAndBatchRemove(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, st builders.Store) {
		ctx := context.Background()
		_ = st.UpsertAccount(ctx, builders.Owner{ID: "1", Name: "alice"}, account("#A", "Main", 3, t0))
		_ = st.UpsertAccount(ctx, builders.Owner{ID: "2", Name: "bob"}, account("#B", "Alt", 3, t0))
		_, _ = st.AppendTask(ctx, "1", "#A", task("a1", time.Minute))
		_, _ = st.AppendTask(ctx, "1", "#A", task("a2", time.Hour))
		_, _ = st.AppendTask(ctx, "2", "#B", task("b1", time.Minute))

		ref := builders.TaskRef{OwnerID: "1", Tag: "#A", TaskID: "a1"}
		if ok, err := st.ClaimTask(ctx, ref, t0); !ok || err != nil {
			t.Fatalf("ClaimTask = %v, %v", ok, err)
		}
		if ok, _ := st.ClaimTask(ctx, ref, t0); ok {
			t.Fatal("task claimed twice")
		}
		if err := st.ReleaseTask(ctx, ref); err != nil {
			t.Fatalf("ReleaseTask: %v", err)
		}
		if ok, _ := st.ClaimTask(ctx, ref, t0.Add(time.Second)); !ok {
			t.Fatal("released task could not be claimed again")
		}
		if ok, _ := st.ClaimTask(ctx, builders.TaskRef{OwnerID: "1", Tag: "#A", TaskID: "gone"}, t0); ok {
			t.Fatal("claimed a missing task")
		}

		owners, err := st.All(ctx)
		if err != nil || len(owners) != 2 {
			t.Fatalf("All = %d owners, %v", len(owners), err)
		}
		a1 := owners[0].Accounts[0].Tasks[0]
		if a1.NotifiedAt == nil || !a1.NotifiedAt.Equal(t0.Add(time.Second)) {
			t.Fatalf("NotifiedAt = %v", a1.NotifiedAt)
		}

		n, err := st.RemoveTasks(ctx, []builders.TaskRef{
			ref,
			{OwnerID: "2", Tag: "#B", TaskID: "b1"},
			{OwnerID: "2", Tag: "#B", TaskID: "already-gone"},
		})
		if err != nil || n != 2 {
			t.Fatalf("RemoveTasks = %d, %v; want 2", n, err)
		}
		owners, _ = st.All(ctx)
		if len(owners[0].Accounts[0].Tasks) != 1 || len(owners[1].Accounts[0].Tasks) != 0 {
			t.Fatalf("unexpected tasks after batch: %+v", owners)
		}
	})
}

func TestAppendAudit(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, st builders.Store) {
		err := st.AppendAudit(context.Background(), builders.AuditEntry{
			Event: builders.EventTaskAdded, OwnerID: "1", Tag: "#A", TaskID: "t1", Detail: "wall",
		})
		if err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	})
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "mongo", Path: filepath.Join(t.TempDir(), "x")}, logx.Nop()); err == nil {
		t.Fatal("expected error")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("expected missing path error")
	}
}

func TestFileStoreSharedAcrossHandles(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "shared.json")
	a, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()
	b, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	ctx := context.Background()
	_ = a.UpsertAccount(ctx, builders.Owner{ID: "1", Name: "alice"}, account("#A", "Main", 1, t0))
	if ok, _ := b.AppendTask(ctx, "1", "#A", task("t1", time.Hour)); !ok {
		t.Fatal("second handle did not see the account")
	}
	if ok, _ := a.AppendTask(ctx, "1", "#A", task("t2", time.Hour)); ok {
		t.Fatal("first handle overfilled the account")
	}
}

func TestFileStoreClose(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "b.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	if err := st.UpsertAccount(ctx, builders.Owner{ID: "1"}, account("#A", "Main", 1, t0)); err != nil {
		t.Fatalf("UpsertAccount: %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := st.AppendAudit(cancelled, builders.AuditEntry{Event: builders.EventTaskAdded}); !errors.Is(err, context.Canceled) {
		t.Fatalf("AppendAudit on cancelled ctx = %v", err)
	}

	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := st.All(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("All after Close = %v", err)
	}
	if _, err := st.AppendTask(ctx, "1", "#A", task("t1", time.Hour)); !errors.Is(err, ErrClosed) {
		t.Fatalf("AppendTask after Close = %v", err)
	}
	if err := st.AppendAudit(ctx, builders.AuditEntry{Event: builders.EventTaskAdded}); !errors.Is(err, ErrClosed) {
		t.Fatalf("AppendAudit after Close = %v", err)
	}
}
