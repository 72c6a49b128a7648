package builders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Keeeszo/friends-bot/pkg/logx"
)

// Registry owns the owner -> accounts mapping and the global tag uniqueness rule.
type Registry struct {
	store   Store
	members MemberDirectory
	opts    Options

	minCapacity int
	maxCapacity int
}

func NewRegistry(store Store, members MemberDirectory, opts Options) *Registry {
	return &Registry{
		store:       store,
		members:     members,
		opts:        opts.withDefaults("registry"),
		minCapacity: 1,
		maxCapacity: 6,
	}
}

// SetCapacityRange changes the range accepted by ValidateCapacity.
func (r *Registry) SetCapacityRange(min, max int) {
	if min < 1 || max < min {
		return
	}
	r.minCapacity, r.maxCapacity = min, max
}

func (r *Registry) CapacityRange() (int, int) { return r.minCapacity, r.maxCapacity }

// ValidateCapacity is the boundary check for user supplied capacities.
func (r *Registry) ValidateCapacity(n int) error {
	if n < r.minCapacity || n > r.maxCapacity {
		return fmt.Errorf("%w: %d not in [%d,%d]", ErrCapacityOutOfRange, n, r.minCapacity, r.maxCapacity)
	}
	return nil
}

// IsTagRegistered reports whether any owner holds tag and, if so, that owner's name.
// It always reads the store.
func (r *Registry) IsTagRegistered(ctx context.Context, tag string) (bool, string, error) {
	owner, ok, err := r.store.FindAccountOwner(ctx, NormalizeTag(tag))
	if err != nil {
		return false, "", upstream("find account owner", err)
	}
	if !ok {
		return false, "", nil
	}
	return true, owner.Name, nil
}

// RegisterRequest describes an account to register. Capacity must already be validated.
type RegisterRequest struct {
	OwnerID   string
	OwnerName string
	Tag       string
	Name      string
	Level     int
	Capacity  int
}

// RegisterAccount stores the account under its owner with no tasks. Re-registering
// one's own tag overwrites it; a tag held by another owner fails with *DuplicateTagError.
func (r *Registry) RegisterAccount(ctx context.Context, req RegisterRequest) (Account, error) {
	tag := NormalizeTag(req.Tag)
	if tag == "" || strings.TrimSpace(req.OwnerID) == "" {
		return Account{}, fmt.Errorf("%w: empty tag or owner", ErrAccountNotFound)
	}

	holder, held, err := r.store.FindAccountOwner(ctx, tag)
	if err != nil {
		return Account{}, upstream("find account owner", err)
	}
	if held && holder.ID != req.OwnerID {
		return Account{}, &DuplicateTagError{Tag: tag, OwnerName: holder.Name}
	}

	now := r.opts.Now()
	acct := Account{
		Tag:          tag,
		Name:         strings.TrimSpace(req.Name),
		Level:        req.Level,
		Capacity:     req.Capacity,
		RegisteredAt: now,
	}
	owner := Owner{ID: req.OwnerID, Name: req.OwnerName}
	if err := r.store.UpsertAccount(ctx, owner, acct); err != nil {
		if errors.Is(err, ErrDuplicateTag) {
			// lost a race with another owner; report who won
			name := "otro usuario"
			if h, ok, ferr := r.store.FindAccountOwner(ctx, tag); ferr == nil && ok {
				name = h.Name
			}
			return Account{}, &DuplicateTagError{Tag: tag, OwnerName: name}
		}
		return Account{}, upstream("upsert account", err)
	}

	r.opts.Log.Info("account registered",
		logx.Owner(req.OwnerID),
		logx.Tag(tag),
		logx.Int("capacity", req.Capacity),
	)
	r.opts.publish(EventAccountRegistered, now, Lifecycle{
		OwnerID: req.OwnerID,
		Tag:     tag,
		Account: acct.Name,
		Detail:  fmt.Sprintf("capacity=%d", req.Capacity),
	})
	return acct, nil
}

// RegisterMember validates the capacity, resolves tagOrName against the clan
// member list and registers the canonical account.
func (r *Registry) RegisterMember(ctx context.Context, ownerID, ownerName, tagOrName string, capacity int) (Account, error) {
	if err := r.ValidateCapacity(capacity); err != nil {
		return Account{}, err
	}
	if r.members == nil {
		return Account{}, &UpstreamError{Op: "lookup member", Err: errors.New("no member directory")}
	}
	m, err := r.members.LookupMember(ctx, tagOrName)
	if err != nil {
		return Account{}, upstream("lookup member", err)
	}
	return r.RegisterAccount(ctx, RegisterRequest{
		OwnerID:   ownerID,
		OwnerName: ownerName,
		Tag:       m.Tag,
		Name:      m.Name,
		Level:     m.Level,
		Capacity:  capacity,
	})
}

// Accounts returns the owner's accounts in registry order; empty when unknown.
func (r *Registry) Accounts(ctx context.Context, ownerID string) ([]Account, error) {
	accts, err := r.store.Accounts(ctx, ownerID)
	if err != nil {
		return nil, upstream("accounts", err)
	}
	return accts, nil
}

// AccountsByTag is Accounts keyed by tag.
func (r *Registry) AccountsByTag(ctx context.Context, ownerID string) (map[string]Account, error) {
	accts, err := r.Accounts(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Account, len(accts))
	for _, a := range accts {
		out[a.Tag] = a
	}
	return out, nil
}
