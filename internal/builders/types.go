package builders

import (
	"context"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// Owner is the Telegram identity that registers accounts.
type Owner struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Accounts in registry order (registration time).
	Accounts []Account `json:"accounts"`
}

// Account is one clan member with a fixed number of builder slots.
type Account struct {
	Tag          string    `json:"tag"`
	Name         string    `json:"name"`
	Level        int       `json:"level"`
	Capacity     int       `json:"capacity"`
	RegisteredAt time.Time `json:"registered_at"`
	// Tasks in insertion order; list positions are 1-based indexes into it.
	Tasks []Task `json:"tasks"`
}

// Free returns the number of idle builder slots.
func (a Account) Free() int { return max(0, a.Capacity-len(a.Tasks)) }

// Task is a running build timer occupying one slot.
type Task struct {
	ID          string    `json:"id"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Description string    `json:"description"`
	// NotifiedAt is set once the expiry notification has been claimed.
	NotifiedAt *time.Time `json:"notified_at,omitempty"`
}

// TaskRef addresses a task for conditional store updates.
type TaskRef struct {
	OwnerID string
	Tag     string
	TaskID  string
}

// Member is a clan member as reported by the clan API.
type Member struct {
	Tag   string
	Name  string
	Level int
}

// AuditEntry is one persisted lifecycle event.
type AuditEntry struct {
	At      time.Time `json:"at"`
	Event   string    `json:"event"`
	OwnerID string    `json:"owner_id"`
	Tag     string    `json:"tag"`
	TaskID  string    `json:"task_id,omitempty"`
	Detail  string    `json:"detail,omitempty"`
}

// Store is the authoritative persistence for owners, accounts and tasks.
// Every method is a single conditional update or read; implementations must be
// safe for concurrent use, including from other processes sharing the data.
type Store interface {
	// FindAccountOwner returns the owner holding tag, without accounts.
	FindAccountOwner(ctx context.Context, tag string) (Owner, bool, error)
	// UpsertAccount creates owner if needed and stores acct (with no tasks) under it.
	// Returns ErrDuplicateTag when the tag belongs to a different owner.
	UpsertAccount(ctx context.Context, owner Owner, acct Account) error
	Accounts(ctx context.Context, ownerID string) ([]Account, error)
	// AppendTask appends task iff the account has a free slot. It returns false
	// when the account is full and ErrAccountNotFound when it does not exist.
	AppendTask(ctx context.Context, ownerID, tag string, task Task) (bool, error)
	// RemoveTask returns false when the task is already gone.
	RemoveTask(ctx context.Context, ownerID, tag, taskID string) (Task, bool, error)
	// ClaimTask sets NotifiedAt iff the task exists and is unclaimed.
	ClaimTask(ctx context.Context, ref TaskRef, at time.Time) (bool, error)
	ReleaseTask(ctx context.Context, ref TaskRef) error
	// RemoveTasks removes refs in one batch; missing refs are ignored.
	RemoveTasks(ctx context.Context, refs []TaskRef) (int, error)
	All(ctx context.Context) ([]Owner, error)
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Notifier delivers a text to an owner. Failures are reported, never fatal.
type Notifier interface {
	Notify(ctx context.Context, ownerID, text string) error
}

// MemberDirectory resolves clan members. A miss returns ErrMemberNotFound.
type MemberDirectory interface {
	LookupMember(ctx context.Context, tagOrName string) (Member, error)
}

// NormalizeTag trims, upper-cases and '#'-prefixes a player tag.
func NormalizeTag(tag string) string {
	t := strings.ToUpper(strings.TrimSpace(tag))
	if t == "" {
		return ""
	}
	if !strings.HasPrefix(t, "#") {
		t = "#" + t
	}
	return t
}

// SameName compares display names under Unicode case folding.
func SameName(a, b string) bool {
	fold := cases.Fold()
	return fold.String(strings.TrimSpace(a)) == fold.String(strings.TrimSpace(b))
}

// findAccount prefers an exact tag match and otherwise returns the first
// account, in registry order, whose name matches.
func findAccount(accounts []Account, ident string) (Account, bool) {
	ident = strings.TrimSpace(ident)
	if ident == "" {
		return Account{}, false
	}
	tag := NormalizeTag(ident)
	for _, a := range accounts {
		if a.Tag == tag {
			return a, true
		}
	}
	for _, a := range accounts {
		if SameName(a.Name, ident) {
			return a, true
		}
	}
	return Account{}, false
}
