package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/Keeeszo/friends-bot/internal/builders"
	"github.com/Keeeszo/friends-bot/pkg/logx"
)

const lockRetryDelay = 20 * time.Millisecond

// fileStore keeps everything in one JSON document.
//
// Files:
//   - <path>             the document, replaced atomically via rename
//   - <path>.lock        flock held for every read and mutation
//   - <prefix>.audit.jsonl append-only audit trail
//
// Every mutation re-reads the document under the exclusive lock, so several
// processes can share the same path without lost updates.
type fileStore struct {
	path    string
	log     logx.Logger
	lock    *flock.Flock
	timeout time.Duration

	// mu serializes goroutines of this process; flock serializes processes.
	mu        sync.Mutex
	auditFile *os.File
	closed    bool
}

type document struct {
	Version int              `json:"version"`
	Owners  []builders.Owner `json:"owners"`
}

func openFile(cfg Config, log logx.Logger) (builders.Store, error) {
	path := strings.TrimSpace(cfg.Path)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	af, err := os.OpenFile(filepath.Join(dir, base+".audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s := &fileStore{
		path:      path,
		log:       log,
		lock:      flock.New(path + ".lock"),
		timeout:   cfg.busyTimeout(),
		auditFile: af,
	}
	// fail fast on a corrupt document
	if _, err := s.read(context.Background()); err != nil {
		_ = af.Close()
		return nil, err
	}
	log.Debug("file store opened", logx.String("path", path))
	return s, nil
}

// Close releases the audit file and the lock handle. Later calls fail with ErrClosed.
func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.auditFile.Close()
	s.auditFile = nil
	return errors.Join(err, s.lock.Close())
}

func (s *fileStore) acquire(ctx context.Context, exclusive bool) (func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	lctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var (
		ok  bool
		err error
	)
	if exclusive {
		ok, err = s.lock.TryLockContext(lctx, lockRetryDelay)
	} else {
		ok, err = s.lock.TryRLockContext(lctx, lockRetryDelay)
	}
	if err != nil || !ok {
		s.mu.Unlock()
		if err == nil {
			err = errors.New("lock not acquired")
		}
		return nil, fmt.Errorf("lock %s: %w", s.lock.Path(), err)
	}
	return func() {
		if err := s.lock.Unlock(); err != nil {
			s.log.Warn("unlock failed", logx.Err(err))
		}
		s.mu.Unlock()
	}, nil
}

func (s *fileStore) load() (*document, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &document{Version: 1}, nil
	}
	if err != nil {
		return nil, err
	}
	var doc document
	if len(strings.TrimSpace(string(b))) == 0 {
		return &document{Version: 1}, nil
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return &doc, nil
}

func (s *fileStore) save(doc *document) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *fileStore) read(ctx context.Context) (*document, error) {
	release, err := s.acquire(ctx, false)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.load()
}

// update applies fn to a fresh copy of the document and saves it when fn reports a change.
func (s *fileStore) update(ctx context.Context, fn func(doc *document) (bool, error)) error {
	release, err := s.acquire(ctx, true)
	if err != nil {
		return err
	}
	defer release()
	doc, err := s.load()
	if err != nil {
		return err
	}
	changed, err := fn(doc)
	if err != nil || !changed {
		return err
	}
	return s.save(doc)
}

func (d *document) owner(id string) *builders.Owner {
	for i := range d.Owners {
		if d.Owners[i].ID == id {
			return &d.Owners[i]
		}
	}
	return nil
}

func (d *document) account(ownerID, tag string) *builders.Account {
	o := d.owner(ownerID)
	if o == nil {
		return nil
	}
	for i := range o.Accounts {
		if o.Accounts[i].Tag == tag {
			return &o.Accounts[i]
		}
	}
	return nil
}

func (s *fileStore) FindAccountOwner(ctx context.Context, tag string) (builders.Owner, bool, error) {
	doc, err := s.read(ctx)
	if err != nil {
		return builders.Owner{}, false, err
	}
	for _, o := range doc.Owners {
		for _, a := range o.Accounts {
			if a.Tag == tag {
				return builders.Owner{ID: o.ID, Name: o.Name}, true, nil
			}
		}
	}
	return builders.Owner{}, false, nil
}

func (s *fileStore) UpsertAccount(ctx context.Context, owner builders.Owner, acct builders.Account) error {
	return s.update(ctx, func(doc *document) (bool, error) {
		for _, o := range doc.Owners {
			if o.ID == owner.ID {
				continue
			}
			for _, a := range o.Accounts {
				if a.Tag == acct.Tag {
					return false, builders.ErrDuplicateTag
				}
			}
		}
		o := doc.owner(owner.ID)
		if o == nil {
			doc.Owners = append(doc.Owners, builders.Owner{ID: owner.ID})
			o = &doc.Owners[len(doc.Owners)-1]
		}
		o.Name = owner.Name
		acct.Tasks = nil
		for i := range o.Accounts {
			if o.Accounts[i].Tag == acct.Tag {
				// keep the original registry position
				acct.RegisteredAt = o.Accounts[i].RegisteredAt
				o.Accounts[i] = acct
				return true, nil
			}
		}
		o.Accounts = append(o.Accounts, acct)
		return true, nil
	})
}

func (s *fileStore) Accounts(ctx context.Context, ownerID string) ([]builders.Account, error) {
	doc, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	if o := doc.owner(ownerID); o != nil {
		return o.Accounts, nil
	}
	return nil, nil
}

func (s *fileStore) All(ctx context.Context) ([]builders.Owner, error) {
	doc, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Owners, nil
}

func (s *fileStore) AppendTask(ctx context.Context, ownerID, tag string, task builders.Task) (bool, error) {
	var ok bool
	err := s.update(ctx, func(doc *document) (bool, error) {
		a := doc.account(ownerID, tag)
		if a == nil {
			return false, builders.ErrAccountNotFound
		}
		if len(a.Tasks) >= a.Capacity {
			return false, nil
		}
		a.Tasks = append(a.Tasks, task)
		ok = true
		return true, nil
	})
	return ok, err
}

func (s *fileStore) RemoveTask(ctx context.Context, ownerID, tag, taskID string) (builders.Task, bool, error) {
	var (
		removed builders.Task
		ok      bool
	)
	err := s.update(ctx, func(doc *document) (bool, error) {
		a := doc.account(ownerID, tag)
		if a == nil {
			return false, nil
		}
		for i, t := range a.Tasks {
			if t.ID == taskID {
				removed, ok = t, true
				a.Tasks = append(a.Tasks[:i], a.Tasks[i+1:]...)
				return true, nil
			}
		}
		return false, nil
	})
	return removed, ok, err
}

func (s *fileStore) ClaimTask(ctx context.Context, ref builders.TaskRef, at time.Time) (bool, error) {
	var ok bool
	err := s.update(ctx, func(doc *document) (bool, error) {
		a := doc.account(ref.OwnerID, ref.Tag)
		if a == nil {
			return false, nil
		}
		for i := range a.Tasks {
			if a.Tasks[i].ID == ref.TaskID && a.Tasks[i].NotifiedAt == nil {
				a.Tasks[i].NotifiedAt = &at
				ok = true
				return true, nil
			}
		}
		return false, nil
	})
	return ok, err
}

func (s *fileStore) ReleaseTask(ctx context.Context, ref builders.TaskRef) error {
	return s.update(ctx, func(doc *document) (bool, error) {
		a := doc.account(ref.OwnerID, ref.Tag)
		if a == nil {
			return false, nil
		}
		for i := range a.Tasks {
			if a.Tasks[i].ID == ref.TaskID && a.Tasks[i].NotifiedAt != nil {
				a.Tasks[i].NotifiedAt = nil
				return true, nil
			}
		}
		return false, nil
	})
}

func (s *fileStore) RemoveTasks(ctx context.Context, refs []builders.TaskRef) (int, error) {
	if len(refs) == 0 {
		return 0, nil
	}
	var removed int
	err := s.update(ctx, func(doc *document) (bool, error) {
		removed = 0
		for _, r := range refs {
			a := doc.account(r.OwnerID, r.Tag)
			if a == nil {
				continue
			}
			for i, t := range a.Tasks {
				if t.ID == r.TaskID {
					a.Tasks = append(a.Tasks[:i], a.Tasks[i+1:]...)
					removed++
					break
				}
			}
		}
		return removed > 0, nil
	})
	return removed, err
}

func (s *fileStore) AppendAudit(ctx context.Context, e builders.AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}
