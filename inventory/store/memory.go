/*
Package store provides the in-memory inventory.Store implementation.

Used for tests and dev mode. Transactions are simulated with a global
write lock plus a snapshot taken on entry and restored on error: the lock
serializes writers (so lock-ordering inside a transaction is trivially
safe) and the snapshot gives all-or-nothing rollback. The durable
implementation lives in store/sqlite.

All reads return copies; callers mutate their copy and persist it through
the Update* methods, exactly as they would against a database row.
*/
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/vlasisgeo/quantwms/inventory"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	quants       map[inventory.QuantID]inventory.Quant
	quantsByKey  map[string]inventory.QuantID
	reservations map[inventory.ReservationID]inventory.Reservation
	movements    []inventory.Movement
	documents    map[inventory.DocumentID]inventory.Document
	lines        map[inventory.LineID]inventory.DocumentLine

	// insertion counters keep deterministic secondary ordering
	lineSeq map[inventory.LineID]int
	resSeq  map[inventory.ReservationID]int
	seq     int
}

func NewMemory() *Memory {
	return &Memory{
		quants:       make(map[inventory.QuantID]inventory.Quant),
		quantsByKey:  make(map[string]inventory.QuantID),
		reservations: make(map[inventory.ReservationID]inventory.Reservation),
		documents:    make(map[inventory.DocumentID]inventory.Document),
		lines:        make(map[inventory.LineID]inventory.DocumentLine),
		lineSeq:      make(map[inventory.LineID]int),
		resSeq:       make(map[inventory.ReservationID]int),
	}
}

var _ inventory.Store = (*Memory)(nil)

// =============================================================================
// TRANSACTIONS - global lock + snapshot rollback
// =============================================================================

// WithTx executes fn under the write lock. On error the pre-transaction
// snapshot is restored, so partial writes are never observable.
func (m *Memory) WithTx(ctx context.Context, fn func(inventory.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&memTx{m: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memSnapshot struct {
	quants       map[inventory.QuantID]inventory.Quant
	quantsByKey  map[string]inventory.QuantID
	reservations map[inventory.ReservationID]inventory.Reservation
	movements    []inventory.Movement
	documents    map[inventory.DocumentID]inventory.Document
	lines        map[inventory.LineID]inventory.DocumentLine
	lineSeq      map[inventory.LineID]int
	resSeq       map[inventory.ReservationID]int
	seq          int
}

func (m *Memory) snapshot() memSnapshot {
	s := memSnapshot{
		quants:       make(map[inventory.QuantID]inventory.Quant, len(m.quants)),
		quantsByKey:  make(map[string]inventory.QuantID, len(m.quantsByKey)),
		reservations: make(map[inventory.ReservationID]inventory.Reservation, len(m.reservations)),
		movements:    append([]inventory.Movement(nil), m.movements...),
		documents:    make(map[inventory.DocumentID]inventory.Document, len(m.documents)),
		lines:        make(map[inventory.LineID]inventory.DocumentLine, len(m.lines)),
		lineSeq:      make(map[inventory.LineID]int, len(m.lineSeq)),
		resSeq:       make(map[inventory.ReservationID]int, len(m.resSeq)),
		seq:          m.seq,
	}
	for k, v := range m.quants {
		s.quants[k] = v
	}
	for k, v := range m.quantsByKey {
		s.quantsByKey[k] = v
	}
	for k, v := range m.reservations {
		s.reservations[k] = v
	}
	for k, v := range m.documents {
		s.documents[k] = v
	}
	for k, v := range m.lines {
		s.lines[k] = v
	}
	for k, v := range m.lineSeq {
		s.lineSeq[k] = v
	}
	for k, v := range m.resSeq {
		s.resSeq[k] = v
	}
	return s
}

func (m *Memory) restore(s memSnapshot) {
	m.quants = s.quants
	m.quantsByKey = s.quantsByKey
	m.reservations = s.reservations
	m.movements = s.movements
	m.documents = s.documents
	m.lines = s.lines
	m.lineSeq = s.lineSeq
	m.resSeq = s.resSeq
	m.seq = s.seq
}

// =============================================================================
// TX VIEW
// =============================================================================

// memTx writes directly against the parent under the held lock. "Row
// locking" is subsumed by the global lock: no other transaction runs
// concurrently, which satisfies the lock-before-read contract trivially.
type memTx struct {
	m *Memory
}

var _ inventory.Tx = (*memTx)(nil)

// --- quants ---

func (t *memTx) FindQuantByKey(_ context.Context, key inventory.QuantKey) (*inventory.Quant, error) {
	id, ok := t.m.quantsByKey[key.String()]
	if !ok {
		return nil, nil
	}
	q := t.m.quants[id]
	return &q, nil
}

func (t *memTx) GetQuantForUpdate(_ context.Context, id inventory.QuantID) (*inventory.Quant, error) {
	q, ok := t.m.quants[id]
	if !ok {
		return nil, inventory.ErrQuantNotFound
	}
	return &q, nil
}

func (t *memTx) LockCandidates(_ context.Context, query inventory.CandidateQuery) ([]*inventory.Quant, error) {
	var result []*inventory.Quant
	for id := range t.m.quants {
		q := t.m.quants[id]
		if q.Item != query.Item || q.Owner != query.Owner {
			continue
		}
		if query.Warehouse != "" && q.Warehouse != query.Warehouse {
			continue
		}
		if query.Bin != "" && q.Bin != query.Bin {
			continue
		}
		if len(query.Categories) > 0 && !containsCategory(query.Categories, q.Category) {
			continue
		}
		quant := q
		result = append(result, &quant)
	}

	// Stable global lock order: received_at, then id.
	sort.Slice(result, func(i, j int) bool {
		if !result[i].ReceivedAt.Equal(result[j].ReceivedAt) {
			return result[i].ReceivedAt.Before(result[j].ReceivedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func containsCategory(cats []inventory.StockCategory, c inventory.StockCategory) bool {
	for _, cat := range cats {
		if cat == c {
			return true
		}
	}
	return false
}

func (t *memTx) InsertQuant(_ context.Context, quant *inventory.Quant) error {
	t.m.quants[quant.ID] = *quant
	t.m.quantsByKey[quant.Key().String()] = quant.ID
	return nil
}

func (t *memTx) UpdateQuant(_ context.Context, quant *inventory.Quant) error {
	if _, ok := t.m.quants[quant.ID]; !ok {
		return inventory.ErrQuantNotFound
	}
	t.m.quants[quant.ID] = *quant
	return nil
}

func (t *memTx) DeleteQuant(_ context.Context, id inventory.QuantID) error {
	q, ok := t.m.quants[id]
	if !ok {
		return inventory.ErrQuantNotFound
	}
	delete(t.m.quantsByKey, q.Key().String())
	delete(t.m.quants, id)
	return nil
}

// --- reservations ---

func (t *memTx) GetReservationForUpdate(_ context.Context, id inventory.ReservationID) (*inventory.Reservation, error) {
	r, ok := t.m.reservations[id]
	if !ok {
		return nil, inventory.ErrReservationNotFound
	}
	return &r, nil
}

func (t *memTx) ReservationsForLine(_ context.Context, line inventory.LineID) ([]*inventory.Reservation, error) {
	var result []*inventory.Reservation
	for id := range t.m.reservations {
		if t.m.reservations[id].Line == line {
			r := t.m.reservations[id]
			result = append(result, &r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return t.m.resSeq[result[i].ID] < t.m.resSeq[result[j].ID]
	})
	return result, nil
}

func (t *memTx) InsertReservation(_ context.Context, r *inventory.Reservation) error {
	t.m.seq++
	t.m.resSeq[r.ID] = t.m.seq
	t.m.reservations[r.ID] = *r
	return nil
}

func (t *memTx) UpdateReservation(_ context.Context, r *inventory.Reservation) error {
	if _, ok := t.m.reservations[r.ID]; !ok {
		return inventory.ErrReservationNotFound
	}
	t.m.reservations[r.ID] = *r
	return nil
}

func (t *memTx) DeleteReservation(_ context.Context, id inventory.ReservationID) error {
	if _, ok := t.m.reservations[id]; !ok {
		return inventory.ErrReservationNotFound
	}
	delete(t.m.reservations, id)
	return nil
}

// --- movements (append-only) ---

func (t *memTx) AppendMovement(_ context.Context, mv *inventory.Movement) error {
	t.m.movements = append(t.m.movements, *mv)
	return nil
}

// --- documents and lines ---

func (t *memTx) InsertDocument(_ context.Context, d *inventory.Document) error {
	t.m.documents[d.ID] = *d
	return nil
}

func (t *memTx) GetDocumentForUpdate(_ context.Context, id inventory.DocumentID) (*inventory.Document, error) {
	d, ok := t.m.documents[id]
	if !ok {
		return nil, inventory.ErrDocumentNotFound
	}
	return &d, nil
}

func (t *memTx) UpdateDocumentStatus(_ context.Context, id inventory.DocumentID, status inventory.DocumentStatus) error {
	d, ok := t.m.documents[id]
	if !ok {
		return inventory.ErrDocumentNotFound
	}
	d.Status = status
	t.m.documents[id] = d
	return nil
}

func (t *memTx) InsertLine(_ context.Context, l *inventory.DocumentLine) error {
	t.m.seq++
	t.m.lineSeq[l.ID] = t.m.seq
	t.m.lines[l.ID] = *l
	return nil
}

func (t *memTx) GetLineForUpdate(_ context.Context, id inventory.LineID) (*inventory.DocumentLine, error) {
	l, ok := t.m.lines[id]
	if !ok {
		return nil, inventory.ErrLineNotFound
	}
	return &l, nil
}

func (t *memTx) UpdateLine(_ context.Context, l *inventory.DocumentLine) error {
	if _, ok := t.m.lines[l.ID]; !ok {
		return inventory.ErrLineNotFound
	}
	t.m.lines[l.ID] = *l
	return nil
}

func (t *memTx) LinesForDocument(_ context.Context, id inventory.DocumentID) ([]*inventory.DocumentLine, error) {
	return t.m.linesForDocumentLocked(id), nil
}

func (m *Memory) linesForDocumentLocked(id inventory.DocumentID) []*inventory.DocumentLine {
	var result []*inventory.DocumentLine
	for lid := range m.lines {
		if m.lines[lid].Document == id {
			l := m.lines[lid]
			result = append(result, &l)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return m.lineSeq[result[i].ID] < m.lineSeq[result[j].ID]
	})
	return result
}

// =============================================================================
// SNAPSHOT READS (no locks held by callers; committed state only)
// =============================================================================

func (m *Memory) GetQuant(_ context.Context, id inventory.QuantID) (*inventory.Quant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q, ok := m.quants[id]
	if !ok {
		return nil, inventory.ErrQuantNotFound
	}
	return &q, nil
}

func (m *Memory) ListQuants(_ context.Context, f inventory.QuantFilter) ([]*inventory.Quant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*inventory.Quant
	for id := range m.quants {
		q := m.quants[id]
		if f.Item != "" && q.Item != f.Item {
			continue
		}
		if f.Bin != "" && q.Bin != f.Bin {
			continue
		}
		if f.Warehouse != "" && q.Warehouse != f.Warehouse {
			continue
		}
		if f.Owner != "" && q.Owner != f.Owner {
			continue
		}
		quant := q
		result = append(result, &quant)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].ReceivedAt.Equal(result[j].ReceivedAt) {
			return result[i].ReceivedAt.Before(result[j].ReceivedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (m *Memory) Movements(_ context.Context, f inventory.MovementFilter) ([]*inventory.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*inventory.Movement
	// Newest first, like the audit views this feeds.
	for i := len(m.movements) - 1; i >= 0; i-- {
		mv := m.movements[i]
		if f.Item != "" && mv.Item != f.Item {
			continue
		}
		if f.Warehouse != "" && mv.Warehouse != f.Warehouse {
			continue
		}
		if f.Type != "" && mv.Type != f.Type {
			continue
		}
		movement := mv
		result = append(result, &movement)
		if f.Limit > 0 && len(result) >= f.Limit {
			break
		}
	}
	return result, nil
}

func (m *Memory) GetDocument(_ context.Context, id inventory.DocumentID) (*inventory.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.documents[id]
	if !ok {
		return nil, inventory.ErrDocumentNotFound
	}
	return &d, nil
}

func (m *Memory) LinesForDocument(_ context.Context, id inventory.DocumentID) ([]*inventory.DocumentLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.linesForDocumentLocked(id), nil
}

func (m *Memory) GetReservation(_ context.Context, id inventory.ReservationID) (*inventory.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.reservations[id]
	if !ok {
		return nil, inventory.ErrReservationNotFound
	}
	return &r, nil
}

func (m *Memory) ReservationsForDocument(_ context.Context, id inventory.DocumentID) ([]*inventory.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lines := make(map[inventory.LineID]bool)
	for lid := range m.lines {
		if m.lines[lid].Document == id {
			lines[lid] = true
		}
	}

	var result []*inventory.Reservation
	for rid := range m.reservations {
		if lines[m.reservations[rid].Line] {
			r := m.reservations[rid]
			result = append(result, &r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return m.resSeq[result[i].ID] < m.resSeq[result[j].ID]
	})
	return result, nil
}
