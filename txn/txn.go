// Package txn implements the write-set-driven Transaction Manager — spec §2
// component 7. It tracks each transaction's mutations in issue order and
// unwinds them on abort; it does not itself touch the heap, index, or
// catalog layers — the engine supplies the undo callback that knows how to
// reverse a given write record, keeping this package free of a storage-layer
// import cycle.
package txn

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"relcore/relerr"
	"relcore/types"
)

// State is a transaction's lifecycle stage.
type State uint8

const (
	Active State = iota
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Active:
		return "ACTIVE"
	case Committed:
		return "COMMITTED"
	case Aborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// WriteKind tags a WriteRecord's variant — spec §4.6: "an ordered tagged
// union {Insert(rid), Delete(rid,before), Update(rid,before,after)}". A tag
// field is used instead of an interface hierarchy, matching the tagged-union
// discipline the executor pipeline uses (no dynamic downcasting).
type WriteKind uint8

const (
	WriteInsert WriteKind = iota
	WriteDelete
	WriteUpdate
)

// WriteRecord is one entry in a transaction's write set.
type WriteRecord struct {
	Kind   WriteKind
	Table  string
	Rid    types.Rid
	Before types.Tuple // populated for Delete and Update
	After  types.Tuple // populated for Update only
}

// UndoFunc reverses a single write record. Supplied by the caller of Abort
// (the engine), which alone knows how to reach the affected heap and its
// indexes.
type UndoFunc func(WriteRecord) error

// Transaction tracks one unit of work's ordered write set and lifecycle
// state.
type Transaction struct {
	ID    int64
	mu    sync.Mutex
	state State
	writes []WriteRecord
}

func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transaction) requireActive() error {
	if t.state != Active {
		return errors.Wrapf(relerr.ErrInternal, "txn %d: not active (state=%s)", t.ID, t.state)
	}
	return nil
}

// RecordInsert appends an Insert entry to the write set.
func (t *Transaction) RecordInsert(table string, rid types.Rid) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireActive(); err != nil {
		return err
	}
	t.writes = append(t.writes, WriteRecord{Kind: WriteInsert, Table: table, Rid: rid})
	return nil
}

// RecordDelete appends a Delete entry, capturing the row as it was before
// deletion so abort can restore it.
func (t *Transaction) RecordDelete(table string, rid types.Rid, before types.Tuple) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireActive(); err != nil {
		return err
	}
	t.writes = append(t.writes, WriteRecord{Kind: WriteDelete, Table: table, Rid: rid, Before: before.Clone()})
	return nil
}

// RecordUpdate appends an Update entry, capturing both the before and after
// images.
func (t *Transaction) RecordUpdate(table string, rid types.Rid, before, after types.Tuple) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireActive(); err != nil {
		return err
	}
	t.writes = append(t.writes, WriteRecord{Kind: WriteUpdate, Table: table, Rid: rid, Before: before.Clone(), After: after.Clone()})
	return nil
}

// WriteSet returns a snapshot of the write set recorded so far.
func (t *Transaction) WriteSet() []WriteRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]WriteRecord, len(t.writes))
	copy(out, t.writes)
	return out
}

// Commit marks the transaction committed. commitHook, if non-nil, runs
// first (the engine's flush-log / release-locks hook — spec's WAL and lock
// manager are out of scope here, but the hook point is preserved so a real
// implementation can plug into it without reshaping this package).
func (t *Transaction) Commit(commitHook func() error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireActive(); err != nil {
		return err
	}
	if commitHook != nil {
		if err := commitHook(); err != nil {
			return err
		}
	}
	t.state = Committed
	return nil
}

// Abort walks the write set in reverse, applying undo to each record, then
// marks the transaction aborted — spec §4.6's rollback.
func (t *Transaction) Abort(undo UndoFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Active {
		return errors.Wrapf(relerr.ErrInternal, "txn %d: not active (state=%s)", t.ID, t.state)
	}
	for i := len(t.writes) - 1; i >= 0; i-- {
		if err := undo(t.writes[i]); err != nil {
			return errors.Wrapf(err, "txn %d: undo write %d (%v)", t.ID, i, t.writes[i].Kind)
		}
	}
	t.state = Aborted
	return nil
}

// Manager issues monotonically increasing transaction IDs and tracks every
// transaction's lifecycle.
type Manager struct {
	mu      sync.Mutex
	nextID  int64
	active  map[int64]*Transaction
}

func NewManager() *Manager {
	return &Manager{active: make(map[int64]*Transaction)}
}

// Begin starts a new active transaction.
func (m *Manager) Begin() *Transaction {
	id := atomic.AddInt64(&m.nextID, 1)
	t := &Transaction{ID: id, state: Active}
	m.mu.Lock()
	m.active[id] = t
	m.mu.Unlock()
	return t
}

// Get looks up a transaction by ID, active or otherwise; a committed or
// aborted transaction still resolves until Forget drops it.
func (m *Manager) Get(id int64) (*Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.active[id]
	return t, ok
}

// Forget drops a completed transaction's bookkeeping entry.
func (m *Manager) Forget(id int64) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}
