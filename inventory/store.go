/*
store.go - Transactional persistence contract

PURPOSE:
  Defines the interface between the allocation engine and the database.
  Correctness under concurrency is enforced entirely through this contract,
  never through application-level mutexes around domain logic.

THE TRANSACTIONAL CONTRACT:
  Every mutating operation runs inside exactly one WithTx call, which must
  guarantee:
    (a) row-level locks are acquired on every Quant that will be read then
        written, BEFORE its quantities are read (never read-before-lock);
    (b) all reads happen after locks are held;
    (c) all derived writes (Quant, Reservation, Movement, Document/Line)
        commit together or not at all.
  A transaction blocking on a row held by another in-flight transaction
  waits on the store's native lock queue; a store-side timeout surfaces as
  ErrLockTimeout and the whole operation is safe to retry.

LOCK ORDERING:
  LockCandidates acquires locks in the stable global order
  (received_at ASC, id ASC). Transfer locks identities in the canonical
  QuantKey order. Every new code path that locks more than one Quant must
  follow one of these two orders; this is the deadlock-avoidance invariant.

IMPLEMENTATIONS:
  - inventory/store: in-memory, for tests and dev mode
  - store/sqlite:    durable, sqlx over SQLite (single-writer transactions;
                     the same statements port to Postgres with FOR UPDATE)
*/
package inventory

import "context"

// =============================================================================
// TX - operations available inside one atomic transaction
// =============================================================================

// Tx is the set of operations available inside a single atomic transaction.
// All *ForUpdate reads and LockCandidates hold row locks until the
// transaction commits or rolls back.
type Tx interface {
	// --- Quants ---

	// FindQuantByKey returns the locked Quant for a uniqueness tuple, or
	// (nil, nil) if no such Quant exists.
	FindQuantByKey(ctx context.Context, key QuantKey) (*Quant, error)

	// GetQuantForUpdate returns the locked Quant, or ErrQuantNotFound.
	GetQuantForUpdate(ctx context.Context, id QuantID) (*Quant, error)

	// LockCandidates locks and returns all Quants matching the query, in
	// the stable global lock order (received_at ASC, id ASC).
	LockCandidates(ctx context.Context, q CandidateQuery) ([]*Quant, error)

	InsertQuant(ctx context.Context, quant *Quant) error
	UpdateQuant(ctx context.Context, quant *Quant) error
	DeleteQuant(ctx context.Context, id QuantID) error

	// --- Reservations ---

	GetReservationForUpdate(ctx context.Context, id ReservationID) (*Reservation, error)
	ReservationsForLine(ctx context.Context, line LineID) ([]*Reservation, error)
	InsertReservation(ctx context.Context, r *Reservation) error
	UpdateReservation(ctx context.Context, r *Reservation) error
	DeleteReservation(ctx context.Context, id ReservationID) error

	// --- Movements (append-only; no update or delete exists) ---

	AppendMovement(ctx context.Context, m *Movement) error

	// --- Documents and lines ---

	InsertDocument(ctx context.Context, d *Document) error
	GetDocumentForUpdate(ctx context.Context, id DocumentID) (*Document, error)
	UpdateDocumentStatus(ctx context.Context, id DocumentID, status DocumentStatus) error

	InsertLine(ctx context.Context, l *DocumentLine) error
	GetLineForUpdate(ctx context.Context, id LineID) (*DocumentLine, error)
	UpdateLine(ctx context.Context, l *DocumentLine) error
	LinesForDocument(ctx context.Context, id DocumentID) ([]*DocumentLine, error)
}

// CandidateQuery selects allocation candidates. Owner is mandatory: owner
// filtering is the tenant isolation boundary and is never relaxable.
type CandidateQuery struct {
	Item       ItemID
	Warehouse  WarehouseID
	Owner      OwnerID
	Bin        BinID // optional: restrict to one bin
	Categories []StockCategory
}

// =============================================================================
// STORE - transaction entry point plus read-only snapshots
// =============================================================================

// Store is the durable keyed storage for the engine. Snapshot reads take no
// locks and observe only committed state.
type Store interface {
	// WithTx executes fn within one atomic transaction. If fn returns an
	// error the transaction is rolled back and no write is observable.
	WithTx(ctx context.Context, fn func(Tx) error) error

	GetQuant(ctx context.Context, id QuantID) (*Quant, error)
	ListQuants(ctx context.Context, f QuantFilter) ([]*Quant, error)

	Movements(ctx context.Context, f MovementFilter) ([]*Movement, error)

	GetDocument(ctx context.Context, id DocumentID) (*Document, error)
	LinesForDocument(ctx context.Context, id DocumentID) ([]*DocumentLine, error)

	GetReservation(ctx context.Context, id ReservationID) (*Reservation, error)
	ReservationsForDocument(ctx context.Context, id DocumentID) ([]*Reservation, error)
}

// QuantFilter narrows snapshot quant listings. Zero values mean "any".
type QuantFilter struct {
	Item      ItemID
	Bin       BinID
	Warehouse WarehouseID
	Owner     OwnerID
}

// MovementFilter narrows movement history. Zero values mean "any".
type MovementFilter struct {
	Item      ItemID
	Warehouse WarehouseID
	Type      MovementType
	Limit     int
}
