package builders

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Keeeszo/friends-bot/pkg/logx"
)

// DefaultDescription is used when a task is added without one.
const DefaultDescription = "Construcción"

// Ledger owns the tasks of every account and enforces slot capacity.
type Ledger struct {
	store Store
	opts  Options

	maxDescription int
	newID          func() string
}

func NewLedger(store Store, opts Options) *Ledger {
	return &Ledger{
		store:          store,
		opts:           opts.withDefaults("ledger"),
		maxDescription: 100,
		newID:          uuid.NewString,
	}
}

// SetMaxDescription bounds task descriptions, in runes.
func (l *Ledger) SetMaxDescription(n int) {
	if n > 0 {
		l.maxDescription = n
	}
}

// ResolveAccount finds the owner's account by exact tag, or else by display
// name (case-insensitive, first in registry order).
func (l *Ledger) ResolveAccount(ctx context.Context, ownerID, ident string) (Account, error) {
	accts, err := l.store.Accounts(ctx, ownerID)
	if err != nil {
		return Account{}, upstream("accounts", err)
	}
	acct, ok := findAccount(accts, ident)
	if !ok {
		return Account{}, fmt.Errorf("%w: %q", ErrAccountNotFound, ident)
	}
	return acct, nil
}

// AddRequest describes a new task. Zero Start means now.
type AddRequest struct {
	OwnerID     string
	Account     string // tag or display name
	Start       time.Time
	Duration    string
	Description string
}

// AddTask appends a task to the account. The store re-checks capacity in the
// same update, so concurrent adds can never overfill an account. The returned
// account snapshot includes the new task.
func (l *Ledger) AddTask(ctx context.Context, req AddRequest) (Task, Account, error) {
	acct, err := l.ResolveAccount(ctx, req.OwnerID, req.Account)
	if err != nil {
		return Task{}, Account{}, err
	}
	if len(acct.Tasks) >= acct.Capacity {
		return Task{}, acct, &CapacityError{Tag: acct.Tag, Name: acct.Name, Used: len(acct.Tasks), Capacity: acct.Capacity}
	}

	d, err := ParseDuration(req.Duration)
	if err != nil {
		return Task{}, acct, err
	}
	if d <= 0 {
		return Task{}, acct, fmt.Errorf("%w: duration must be greater than zero", ErrInvalidFormat)
	}

	start := req.Start
	if start.IsZero() {
		start = l.opts.Now()
	}
	task := Task{
		ID:          l.newID(),
		Start:       start,
		End:         start.Add(d),
		Description: l.describe(req.Description),
	}

	ok, err := l.store.AppendTask(ctx, req.OwnerID, acct.Tag, task)
	if err != nil {
		return Task{}, acct, upstream("append task", err)
	}
	if !ok {
		return Task{}, acct, &CapacityError{Tag: acct.Tag, Name: acct.Name, Used: max(len(acct.Tasks), acct.Capacity), Capacity: acct.Capacity}
	}
	acct.Tasks = append(acct.Tasks, task)

	l.opts.Log.Info("task added",
		logx.Owner(req.OwnerID),
		logx.Tag(acct.Tag),
		logx.TaskID(task.ID),
		logx.Time("end", task.End),
	)
	l.opts.publish(EventTaskAdded, start, Lifecycle{
		OwnerID: req.OwnerID,
		Tag:     acct.Tag,
		Account: acct.Name,
		TaskID:  task.ID,
		Detail:  task.Description,
	})
	return task, acct, nil
}

func (l *Ledger) describe(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return DefaultDescription
	}
	if r := []rune(s); len(r) > l.maxDescription {
		s = string(r[:l.maxDescription])
	}
	return s
}

// CancelTask removes a task by id, or by its 1-based list position. Cancelling
// the same task twice fails the second time with ErrTaskNotFound. The returned
// account snapshot no longer holds the task.
func (l *Ledger) CancelTask(ctx context.Context, ownerID, account, ref string) (Task, Account, error) {
	acct, err := l.ResolveAccount(ctx, ownerID, account)
	if err != nil {
		return Task{}, Account{}, err
	}
	id, ok := resolveTaskRef(acct.Tasks, ref)
	if !ok {
		return Task{}, acct, fmt.Errorf("%w: %q", ErrTaskNotFound, ref)
	}

	removed, ok, err := l.store.RemoveTask(ctx, ownerID, acct.Tag, id)
	if err != nil {
		return Task{}, acct, upstream("remove task", err)
	}
	if !ok {
		return Task{}, acct, fmt.Errorf("%w: %q", ErrTaskNotFound, ref)
	}
	acct.Tasks = dropTask(acct.Tasks, id)

	l.opts.Log.Info("task cancelled",
		logx.Owner(ownerID),
		logx.Tag(acct.Tag),
		logx.TaskID(id),
	)
	l.opts.publish(EventTaskCancelled, l.opts.Now(), Lifecycle{
		OwnerID: ownerID,
		Tag:     acct.Tag,
		Account: acct.Name,
		TaskID:  id,
		Detail:  removed.Description,
	})
	return removed, acct, nil
}

// resolveTaskRef maps an exact id or a 1-based position to a task id.
func resolveTaskRef(tasks []Task, ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	for _, t := range tasks {
		if t.ID == ref {
			return t.ID, true
		}
	}
	pos, err := strconv.Atoi(ref)
	if err != nil || pos < 1 || pos > len(tasks) {
		return "", false
	}
	return tasks[pos-1].ID, true
}

func dropTask(tasks []Task, id string) []Task {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}

// ListTasks returns the account's tasks in insertion order.
func (l *Ledger) ListTasks(ctx context.Context, ownerID, account string) ([]Task, error) {
	acct, err := l.ResolveAccount(ctx, ownerID, account)
	if err != nil {
		return nil, err
	}
	return acct.Tasks, nil
}

// Overview returns the owner's accounts, optionally only those whose display
// name equals nameFilter (case-insensitive).
func (l *Ledger) Overview(ctx context.Context, ownerID, nameFilter string) ([]Account, error) {
	accts, err := l.store.Accounts(ctx, ownerID)
	if err != nil {
		return nil, upstream("accounts", err)
	}
	if strings.TrimSpace(nameFilter) == "" {
		return accts, nil
	}
	out := accts[:0:0]
	for _, a := range accts {
		if SameName(a.Name, nameFilter) {
			out = append(out, a)
		}
	}
	return out, nil
}
