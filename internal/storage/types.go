package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "file" (default): JSON document at Path, plus Path+".lock" and an audit JSONL file
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite and the file lock wait; 0 means default
}

const defaultBusyTimeout = 5 * time.Second

func (c Config) busyTimeout() time.Duration {
	if c.BusyTimeout > 0 {
		return c.BusyTimeout
	}
	return defaultBusyTimeout
}
