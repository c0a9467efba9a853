package wal

import "github.com/go-errors/errors"

var (
	// ErrNoWalDBExists is returned when the log is opened for restore but
	// has never been created.
	ErrNoWalDBExists = errors.New("write-ahead log has not yet been created")

	// ErrMetaNotFound is returned when the schema metadata bucket is
	// missing its entry.
	ErrMetaNotFound = errors.New("unable to locate meta information")

	// ErrNoSnapshot is returned when a restore finds state changes but no
	// snapshot to anchor the replay; the log must then be replayed from
	// the beginning.
	ErrNoSnapshot = errors.New("no snapshot exists")

	// ErrNotInitialized is returned when Dispatch is called before the
	// node state was created by an init state change.
	ErrNotInitialized = errors.New("node state is not initialized")
)
