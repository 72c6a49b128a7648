package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Keeeszo/friends-bot/internal/builders"
	"github.com/Keeeszo/friends-bot/pkg/logx"
)

//go:embed migrations.sql
var migrations string

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (builders.Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.busyTimeout().Milliseconds()))
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}
	if err := retryOnBusy(context.Background(), func() error {
		_, err := db.Exec(migrations)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryOnBusy retries op while another process holds the write lock.
func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil || !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			return lastErr
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = min(delay*2, busyRetryMaxBackoff)
	}
	return lastErr
}

func (s *sqliteStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := retryOnBusy(ctx, func() error {
		var err error
		res, err = s.db.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

func (s *sqliteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) FindAccountOwner(ctx context.Context, tag string) (builders.Owner, bool, error) {
	var o builders.Owner
	err := s.db.QueryRowContext(ctx,
		`SELECT o.id, o.name FROM accounts a JOIN owners o ON o.id = a.owner_id WHERE a.tag = ?`, tag,
	).Scan(&o.ID, &o.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return builders.Owner{}, false, nil
	}
	if err != nil {
		return builders.Owner{}, false, err
	}
	return o, true, nil
}

func (s *sqliteStore) UpsertAccount(ctx context.Context, owner builders.Owner, acct builders.Account) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO owners(id, name) VALUES(?, ?)
			 ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
			owner.ID, owner.Name,
		); err != nil {
			return err
		}
		// The WHERE makes the upsert a no-op when another owner holds the tag.
		res, err := tx.ExecContext(ctx,
			`INSERT INTO accounts(tag, owner_id, name, level, capacity, registered_at) VALUES(?, ?, ?, ?, ?, ?)
			 ON CONFLICT(tag) DO UPDATE SET name = excluded.name, level = excluded.level, capacity = excluded.capacity
			 WHERE accounts.owner_id = excluded.owner_id`,
			acct.Tag, owner.ID, acct.Name, acct.Level, acct.Capacity, acct.RegisteredAt.UnixNano(),
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return builders.ErrDuplicateTag
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM tasks WHERE account_tag = ?`, acct.Tag)
		return err
	})
}

func (s *sqliteStore) Accounts(ctx context.Context, ownerID string) ([]builders.Account, error) {
	owners, err := s.load(ctx, `WHERE o.id = ?`, ownerID)
	if err != nil || len(owners) == 0 {
		return nil, err
	}
	return owners[0].Accounts, nil
}

func (s *sqliteStore) All(ctx context.Context) ([]builders.Owner, error) {
	return s.load(ctx, "")
}

// load reads owners with accounts and tasks in registry and insertion order.
func (s *sqliteStore) load(ctx context.Context, where string, args ...any) ([]builders.Owner, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id, o.name, a.tag, a.name, a.level, a.capacity, a.registered_at,
		       t.id, t.start_at, t.end_at, t.description, t.notified_at
		FROM owners o
		JOIN accounts a ON a.owner_id = o.id
		LEFT JOIN tasks t ON t.account_tag = a.tag
		`+where+`
		ORDER BY o.id, a.registered_at, a.rowid, t.seq`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []builders.Owner
	for rows.Next() {
		var (
			ownerID, ownerName, tag, name string
			level, capacity               int
			registered                    int64
			taskID, desc                  sql.NullString
			start, end, notified          sql.NullInt64
		)
		if err := rows.Scan(&ownerID, &ownerName, &tag, &name, &level, &capacity, &registered,
			&taskID, &start, &end, &desc, &notified); err != nil {
			return nil, err
		}
		if len(out) == 0 || out[len(out)-1].ID != ownerID {
			out = append(out, builders.Owner{ID: ownerID, Name: ownerName})
		}
		o := &out[len(out)-1]
		if len(o.Accounts) == 0 || o.Accounts[len(o.Accounts)-1].Tag != tag {
			o.Accounts = append(o.Accounts, builders.Account{
				Tag:          tag,
				Name:         name,
				Level:        level,
				Capacity:     capacity,
				RegisteredAt: time.Unix(0, registered),
			})
		}
		if !taskID.Valid {
			continue
		}
		a := &o.Accounts[len(o.Accounts)-1]
		t := builders.Task{
			ID:          taskID.String,
			Start:       time.Unix(0, start.Int64),
			End:         time.Unix(0, end.Int64),
			Description: desc.String,
		}
		if notified.Valid {
			at := time.Unix(0, notified.Int64)
			t.NotifiedAt = &at
		}
		a.Tasks = append(a.Tasks, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendTask(ctx context.Context, ownerID, tag string, task builders.Task) (bool, error) {
	// Capacity check and insert are one statement, so concurrent appends cannot overfill.
	res, err := s.exec(ctx, `
		INSERT INTO tasks(id, account_tag, start_at, end_at, description)
		SELECT ?, a.tag, ?, ?, ?
		FROM accounts a
		WHERE a.tag = ? AND a.owner_id = ?
		  AND (SELECT COUNT(*) FROM tasks t WHERE t.account_tag = a.tag) < a.capacity`,
		task.ID, task.Start.UnixNano(), task.End.UnixNano(), task.Description, tag, ownerID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM accounts WHERE tag = ? AND owner_id = ?`, tag, ownerID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, builders.ErrAccountNotFound
	}
	return false, err
}

func (s *sqliteStore) RemoveTask(ctx context.Context, ownerID, tag, taskID string) (builders.Task, bool, error) {
	var (
		t        = builders.Task{ID: taskID}
		start    int64
		end      int64
		notified sql.NullInt64
	)
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx, `
			DELETE FROM tasks
			WHERE id = ? AND account_tag = (SELECT tag FROM accounts WHERE tag = ? AND owner_id = ?)
			RETURNING start_at, end_at, description, notified_at`,
			taskID, tag, ownerID,
		).Scan(&start, &end, &t.Description, &notified)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return builders.Task{}, false, nil
	}
	if err != nil {
		return builders.Task{}, false, err
	}
	t.Start, t.End = time.Unix(0, start), time.Unix(0, end)
	if notified.Valid {
		at := time.Unix(0, notified.Int64)
		t.NotifiedAt = &at
	}
	return t, true, nil
}

func (s *sqliteStore) ClaimTask(ctx context.Context, ref builders.TaskRef, at time.Time) (bool, error) {
	res, err := s.exec(ctx, `
		UPDATE tasks SET notified_at = ?
		WHERE id = ? AND notified_at IS NULL
		  AND account_tag = (SELECT tag FROM accounts WHERE tag = ? AND owner_id = ?)`,
		at.UnixNano(), ref.TaskID, ref.Tag, ref.OwnerID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *sqliteStore) ReleaseTask(ctx context.Context, ref builders.TaskRef) error {
	_, err := s.exec(ctx, `UPDATE tasks SET notified_at = NULL WHERE id = ? AND account_tag = ?`, ref.TaskID, ref.Tag)
	return err
}

func (s *sqliteStore) RemoveTasks(ctx context.Context, refs []builders.TaskRef) (int, error) {
	if len(refs) == 0 {
		return 0, nil
	}
	var removed int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		removed = 0
		stmt, err := tx.PrepareContext(ctx, `
			DELETE FROM tasks
			WHERE id = ? AND account_tag = (SELECT tag FROM accounts WHERE tag = ? AND owner_id = ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range refs {
			res, err := stmt.ExecContext(ctx, r.TaskID, r.Tag, r.OwnerID)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			removed += int(n)
		}
		return nil
	})
	return removed, err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e builders.AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.exec(ctx,
		`INSERT INTO audit(at, event, owner_id, tag, task_id, detail) VALUES(?, ?, ?, ?, ?, ?)`,
		e.At.UnixNano(), e.Event, e.OwnerID, e.Tag, nullStr(e.TaskID), nullStr(e.Detail),
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
