package wal

import (
	"github.com/meshpay/meshd/node"
	"github.com/meshpay/meshd/transfer"
)

// WriteAheadLog is the dispatcher driving the node reducer. It owns the
// current node state and guarantees the §5 ordering discipline: callers hand
// it one state change at a time, each change is made durable before it is
// applied, and crash recovery replays the tail of the log over the latest
// snapshot.
//
// The type is not safe for concurrent use; the layer feeding it must
// serialize dispatches, typically from a single consumer goroutine.
type WriteAheadLog struct {
	db *DB

	state    *transfer.NodeState
	sequence uint64
}

// New wraps an opened database with an empty dispatcher. The node state does
// not exist until an init state change is dispatched.
func New(db *DB) *WriteAheadLog {
	return &WriteAheadLog{db: db}
}

// Restore rebuilds the dispatcher from disk: the latest snapshot, if any,
// then every logged state change after it, replayed in order. Replay goes
// through the same reducer as live dispatch, so the recovered state is
// byte-identical to the pre-crash one.
func Restore(db *DB) (*WriteAheadLog, error) {
	w := &WriteAheadLog{db: db}

	snapshot, snapshotSequence, err := db.FetchLatestSnapshot()
	switch err {
	case nil:
		w.state = snapshot
		w.sequence = snapshotSequence
	case ErrNoSnapshot:
		// Replay from the very beginning of the log.
	default:
		return nil, err
	}

	stateChanges, lastSequence, err := db.StateChangesSince(w.sequence)
	if err != nil {
		return nil, err
	}

	for _, stateChange := range stateChanges {
		iteration := node.StateTransition(w.state, stateChange)
		w.state = iteration.NewState
	}
	w.sequence = lastSequence

	log.Infof("Restored node state: %d state changes replayed, "+
		"block_number=%d", len(stateChanges), w.blockNumber())

	return w, nil
}

// Dispatch durably logs the state change, applies it, and returns the
// emitted events for the caller to execute. The write happens strictly
// before the reducer runs, so a crash between the two replays the change on
// restart instead of losing it.
func (w *WriteAheadLog) Dispatch(stateChange transfer.StateChange) ([]transfer.Event, error) {
	if w.state == nil {
		if _, ok := stateChange.(*transfer.ActionInitNode); !ok {
			return nil, ErrNotInitialized
		}
	}

	sequence, err := w.db.AppendStateChange(stateChange)
	if err != nil {
		return nil, err
	}

	iteration := node.StateTransition(w.state, stateChange)
	w.state = iteration.NewState
	w.sequence = sequence

	return iteration.Events, nil
}

// Snapshot persists the current state and prunes the covered log prefix.
func (w *WriteAheadLog) Snapshot() error {
	if w.state == nil {
		return ErrNotInitialized
	}

	log.Debugf("Writing snapshot at sequence %d", w.sequence)
	return w.db.PutSnapshot(w.sequence, w.state)
}

// State exposes the current node state. The reducer owns it; callers must
// not mutate it or retain interior references across dispatches.
func (w *WriteAheadLog) State() *transfer.NodeState {
	return w.state
}

func (w *WriteAheadLog) blockNumber() int64 {
	if w.state == nil {
		return 0
	}
	return w.state.BlockNumber
}
