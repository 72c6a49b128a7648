// Package storage implements builders.Store.
//
// Drivers:
//   - "file": one JSON document guarded by an OS file lock (gofrs/flock),
//     rewritten atomically on every mutation
//   - "sqlite": modernc.org/sqlite, conditional single-statement updates
package storage
