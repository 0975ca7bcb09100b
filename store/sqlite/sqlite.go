/*
Package sqlite provides the durable inventory.Store implementation.

PURPOSE:
  Implements the transactional contract (inventory.Store / inventory.Tx)
  on SQLite via sqlx. In production the same statement shapes apply to
  PostgreSQL; the only material dialect difference is that the locking
  reads (FindQuantByKey, GetQuantForUpdate, LockCandidates) would carry
  FOR UPDATE. On SQLite a single-writer mutex plus one database
  transaction per WithTx gives the equivalent guarantee: no two mutating
  transactions are ever in flight at once, so every read inside WithTx
  is a locked read.

KEY TABLES:
  quants:          canonical stock units; UNIQUE over the identity tuple
  reservations:    line-to-quant earmarks
  movements:       append-only audit log; no UPDATE or DELETE ever issued
  documents:       order headers
  document_lines:  per-item request lines

APPEND-ONLY ENFORCEMENT:
  The movements table is write-once. This package contains no UPDATE or
  DELETE statement for it; corrections happen through compensating
  ADJUSTMENT movements recorded by the engine.

LOCK TIMEOUTS:
  The connection uses a busy timeout; if SQLite still reports a busy or
  locked database the error surfaces as inventory.ErrLockTimeout, which
  callers may retry wholesale.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) so snapshot readers
  never block the single writer.

USAGE:
  store, err := sqlite.New("./data/quantwms.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := inventory.NewEngine(store, logger)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - inventory/store.go: interface definitions and the lock-ordering rules
  - inventory/store/memory.go: in-memory counterpart used by tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/vlasisgeo/quantwms/inventory"
)

// Store implements inventory.Store using SQLite.
type Store struct {
	db *sqlx.DB
	mu sync.RWMutex
}

var _ inventory.Store = (*Store)(nil)

// New opens (or creates) the database at path. Use ":memory:" for tests.
func New(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps the single-writer discipline honest even
	// if a caller leaks a query outside WithTx.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS quants (
		id           TEXT PRIMARY KEY,
		item         TEXT NOT NULL,
		bin          TEXT NOT NULL,
		warehouse    TEXT NOT NULL,
		lot_code     TEXT NOT NULL DEFAULT '',
		lot_expiry   TIMESTAMP,
		category     TEXT NOT NULL,
		owner        TEXT NOT NULL,
		qty          TEXT NOT NULL,
		qty_reserved TEXT NOT NULL,
		received_at  TIMESTAMP NOT NULL,
		UNIQUE (item, bin, lot_code, category, owner)
	);

	-- Candidate scan in stable lock order (hot path)
	CREATE INDEX IF NOT EXISTS idx_quants_candidates
		ON quants(item, owner, warehouse, category, received_at, id);
	CREATE INDEX IF NOT EXISTS idx_quants_bin ON quants(bin);

	CREATE TABLE IF NOT EXISTS reservations (
		id         TEXT PRIMARY KEY,
		line_id    TEXT NOT NULL,
		quant_id   TEXT NOT NULL,
		qty        TEXT NOT NULL,
		qty_picked TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reservations_line ON reservations(line_id);
	CREATE INDEX IF NOT EXISTS idx_reservations_quant ON reservations(quant_id);

	CREATE TABLE IF NOT EXISTS movements (
		id            TEXT PRIMARY KEY,
		item          TEXT NOT NULL,
		from_quant    TEXT NOT NULL DEFAULT '',
		to_quant      TEXT NOT NULL DEFAULT '',
		qty           TEXT NOT NULL,
		movement_type TEXT NOT NULL,
		warehouse     TEXT NOT NULL,
		reference     TEXT NOT NULL DEFAULT '',
		actor         TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_movements_item ON movements(item, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_movements_warehouse ON movements(warehouse, created_at DESC);

	CREATE TABLE IF NOT EXISTS documents (
		id         TEXT PRIMARY KEY,
		doc_number TEXT NOT NULL UNIQUE,
		doc_type   TEXT NOT NULL,
		status     TEXT NOT NULL,
		warehouse  TEXT NOT NULL,
		owner      TEXT NOT NULL,
		notes      TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);

	CREATE TABLE IF NOT EXISTS document_lines (
		id            TEXT PRIMARY KEY,
		document_id   TEXT NOT NULL,
		item          TEXT NOT NULL,
		qty_requested TEXT NOT NULL,
		qty_allocated TEXT NOT NULL,
		qty_picked    TEXT NOT NULL,
		created_at    TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_lines_document ON document_lines(document_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// wrapLockErr maps SQLite busy/locked conditions onto the engine's
// retryable lock timeout sentinel.
func wrapLockErr(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		if se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked {
			return fmt.Errorf("%w: %v", inventory.ErrLockTimeout, err)
		}
	}
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn inside one database transaction under the writer mutex.
// Rollback on error, commit on nil; partial writes are never observable.
func (s *Store) WithTx(ctx context.Context, fn func(inventory.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapLockErr(err)
	}
	defer tx.Rollback()

	if err := fn(&sqlTx{tx: tx}); err != nil {
		return err
	}
	return wrapLockErr(tx.Commit())
}

type sqlTx struct {
	tx *sqlx.Tx
}

var _ inventory.Tx = (*sqlTx)(nil)

const quantColumns = `id, item, bin, warehouse, lot_code, lot_expiry, category, owner, qty, qty_reserved, received_at`

// --- Quants ---

// On PostgreSQL the three locking reads below carry FOR UPDATE; under the
// single-writer mutex the plain reads are already exclusive.

func (t *sqlTx) FindQuantByKey(ctx context.Context, key inventory.QuantKey) (*inventory.Quant, error) {
	var q inventory.Quant
	err := t.tx.GetContext(ctx, &q,
		`SELECT `+quantColumns+` FROM quants
		 WHERE item = ? AND bin = ? AND lot_code = ? AND category = ? AND owner = ?`,
		key.Item, key.Bin, key.LotCode, key.Category, key.Owner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapLockErr(err)
	}
	return &q, nil
}

func (t *sqlTx) GetQuantForUpdate(ctx context.Context, id inventory.QuantID) (*inventory.Quant, error) {
	var q inventory.Quant
	err := t.tx.GetContext(ctx, &q,
		`SELECT `+quantColumns+` FROM quants WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, inventory.ErrQuantNotFound
	}
	if err != nil {
		return nil, wrapLockErr(err)
	}
	return &q, nil
}

func (t *sqlTx) LockCandidates(ctx context.Context, q inventory.CandidateQuery) ([]*inventory.Quant, error) {
	conditions := []string{"item = ?", "owner = ?"}
	args := []interface{}{q.Item, q.Owner}

	if q.Warehouse != "" {
		conditions = append(conditions, "warehouse = ?")
		args = append(args, q.Warehouse)
	}
	if q.Bin != "" {
		conditions = append(conditions, "bin = ?")
		args = append(args, q.Bin)
	}

	query := `SELECT ` + quantColumns + ` FROM quants WHERE ` + strings.Join(conditions, " AND ")
	if len(q.Categories) > 0 {
		in, inArgs, err := sqlx.In(" AND category IN (?)", q.Categories)
		if err != nil {
			return nil, err
		}
		query += in
		args = append(args, inArgs...)
	}
	// Stable global lock order; deadlock-avoidance invariant.
	query += ` ORDER BY received_at ASC, id ASC`

	var quants []*inventory.Quant
	if err := t.tx.SelectContext(ctx, &quants, query, args...); err != nil {
		return nil, wrapLockErr(err)
	}
	return quants, nil
}

func (t *sqlTx) InsertQuant(ctx context.Context, quant *inventory.Quant) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO quants (id, item, bin, warehouse, lot_code, lot_expiry, category, owner, qty, qty_reserved, received_at)
		VALUES (:id, :item, :bin, :warehouse, :lot_code, :lot_expiry, :category, :owner, :qty, :qty_reserved, :received_at)`,
		quant)
	return wrapLockErr(err)
}

func (t *sqlTx) UpdateQuant(ctx context.Context, quant *inventory.Quant) error {
	// Only the quantity fields ever change after insert; identity is
	// immutable.
	_, err := t.tx.ExecContext(ctx,
		`UPDATE quants SET qty = ?, qty_reserved = ? WHERE id = ?`,
		quant.Qty, quant.QtyReserved, quant.ID)
	return wrapLockErr(err)
}

func (t *sqlTx) DeleteQuant(ctx context.Context, id inventory.QuantID) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM quants WHERE id = ?`, id)
	if err != nil {
		return wrapLockErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return inventory.ErrQuantNotFound
	}
	return nil
}

// --- Reservations ---

func (t *sqlTx) GetReservationForUpdate(ctx context.Context, id inventory.ReservationID) (*inventory.Reservation, error) {
	var r inventory.Reservation
	err := t.tx.GetContext(ctx, &r,
		`SELECT id, line_id, quant_id, qty, qty_picked, created_at FROM reservations WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, inventory.ErrReservationNotFound
	}
	if err != nil {
		return nil, wrapLockErr(err)
	}
	return &r, nil
}

func (t *sqlTx) ReservationsForLine(ctx context.Context, line inventory.LineID) ([]*inventory.Reservation, error) {
	var rs []*inventory.Reservation
	err := t.tx.SelectContext(ctx, &rs,
		`SELECT id, line_id, quant_id, qty, qty_picked, created_at
		 FROM reservations WHERE line_id = ? ORDER BY created_at ASC, id ASC`, line)
	return rs, wrapLockErr(err)
}

func (t *sqlTx) InsertReservation(ctx context.Context, r *inventory.Reservation) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO reservations (id, line_id, quant_id, qty, qty_picked, created_at)
		VALUES (:id, :line_id, :quant_id, :qty, :qty_picked, :created_at)`, r)
	return wrapLockErr(err)
}

func (t *sqlTx) UpdateReservation(ctx context.Context, r *inventory.Reservation) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE reservations SET qty = ?, qty_picked = ? WHERE id = ?`,
		r.Qty, r.QtyPicked, r.ID)
	return wrapLockErr(err)
}

func (t *sqlTx) DeleteReservation(ctx context.Context, id inventory.ReservationID) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM reservations WHERE id = ?`, id)
	if err != nil {
		return wrapLockErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return inventory.ErrReservationNotFound
	}
	return nil
}

// --- Movements (append-only) ---

func (t *sqlTx) AppendMovement(ctx context.Context, m *inventory.Movement) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO movements (id, item, from_quant, to_quant, qty, movement_type, warehouse, reference, actor, created_at)
		VALUES (:id, :item, :from_quant, :to_quant, :qty, :movement_type, :warehouse, :reference, :actor, :created_at)`, m)
	return wrapLockErr(err)
}

// --- Documents and lines ---

func (t *sqlTx) InsertDocument(ctx context.Context, d *inventory.Document) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO documents (id, doc_number, doc_type, status, warehouse, owner, notes, created_by, created_at)
		VALUES (:id, :doc_number, :doc_type, :status, :warehouse, :owner, :notes, :created_by, :created_at)`, d)
	return wrapLockErr(err)
}

func (t *sqlTx) GetDocumentForUpdate(ctx context.Context, id inventory.DocumentID) (*inventory.Document, error) {
	var d inventory.Document
	err := t.tx.GetContext(ctx, &d,
		`SELECT id, doc_number, doc_type, status, warehouse, owner, notes, created_by, created_at
		 FROM documents WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, inventory.ErrDocumentNotFound
	}
	if err != nil {
		return nil, wrapLockErr(err)
	}
	return &d, nil
}

func (t *sqlTx) UpdateDocumentStatus(ctx context.Context, id inventory.DocumentID, status inventory.DocumentStatus) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE documents SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return wrapLockErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return inventory.ErrDocumentNotFound
	}
	return nil
}

func (t *sqlTx) InsertLine(ctx context.Context, l *inventory.DocumentLine) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO document_lines (id, document_id, item, qty_requested, qty_allocated, qty_picked, created_at)
		VALUES (:id, :document_id, :item, :qty_requested, :qty_allocated, :qty_picked, :created_at)`, l)
	return wrapLockErr(err)
}

func (t *sqlTx) GetLineForUpdate(ctx context.Context, id inventory.LineID) (*inventory.DocumentLine, error) {
	var l inventory.DocumentLine
	err := t.tx.GetContext(ctx, &l,
		`SELECT id, document_id, item, qty_requested, qty_allocated, qty_picked, created_at
		 FROM document_lines WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, inventory.ErrLineNotFound
	}
	if err != nil {
		return nil, wrapLockErr(err)
	}
	return &l, nil
}

func (t *sqlTx) UpdateLine(ctx context.Context, l *inventory.DocumentLine) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE document_lines SET qty_allocated = ?, qty_picked = ? WHERE id = ?`,
		l.QtyAllocated, l.QtyPicked, l.ID)
	return wrapLockErr(err)
}

func (t *sqlTx) LinesForDocument(ctx context.Context, id inventory.DocumentID) ([]*inventory.DocumentLine, error) {
	var ls []*inventory.DocumentLine
	err := t.tx.SelectContext(ctx, &ls,
		`SELECT id, document_id, item, qty_requested, qty_allocated, qty_picked, created_at
		 FROM document_lines WHERE document_id = ? ORDER BY created_at ASC, id ASC`, id)
	return ls, wrapLockErr(err)
}

// =============================================================================
// SNAPSHOT READS (committed state, no write lock)
// =============================================================================

func (s *Store) GetQuant(ctx context.Context, id inventory.QuantID) (*inventory.Quant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var q inventory.Quant
	err := s.db.GetContext(ctx, &q, `SELECT `+quantColumns+` FROM quants WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, inventory.ErrQuantNotFound
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *Store) ListQuants(ctx context.Context, f inventory.QuantFilter) ([]*inventory.Quant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conditions := []string{"1=1"}
	args := []interface{}{}
	if f.Item != "" {
		conditions = append(conditions, "item = ?")
		args = append(args, f.Item)
	}
	if f.Bin != "" {
		conditions = append(conditions, "bin = ?")
		args = append(args, f.Bin)
	}
	if f.Warehouse != "" {
		conditions = append(conditions, "warehouse = ?")
		args = append(args, f.Warehouse)
	}
	if f.Owner != "" {
		conditions = append(conditions, "owner = ?")
		args = append(args, f.Owner)
	}

	query := `SELECT ` + quantColumns + ` FROM quants WHERE ` + strings.Join(conditions, " AND ") +
		` ORDER BY received_at ASC, id ASC`

	var quants []*inventory.Quant
	err := s.db.SelectContext(ctx, &quants, query, args...)
	return quants, err
}

func (s *Store) Movements(ctx context.Context, f inventory.MovementFilter) ([]*inventory.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conditions := []string{"1=1"}
	args := []interface{}{}
	if f.Item != "" {
		conditions = append(conditions, "item = ?")
		args = append(args, f.Item)
	}
	if f.Warehouse != "" {
		conditions = append(conditions, "warehouse = ?")
		args = append(args, f.Warehouse)
	}
	if f.Type != "" {
		conditions = append(conditions, "movement_type = ?")
		args = append(args, f.Type)
	}

	query := `SELECT id, item, from_quant, to_quant, qty, movement_type, warehouse, reference, actor, created_at
		FROM movements WHERE ` + strings.Join(conditions, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	var ms []*inventory.Movement
	err := s.db.SelectContext(ctx, &ms, query, args...)
	return ms, err
}

func (s *Store) GetDocument(ctx context.Context, id inventory.DocumentID) (*inventory.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var d inventory.Document
	err := s.db.GetContext(ctx, &d,
		`SELECT id, doc_number, doc_type, status, warehouse, owner, notes, created_by, created_at
		 FROM documents WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, inventory.ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) LinesForDocument(ctx context.Context, id inventory.DocumentID) ([]*inventory.DocumentLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ls []*inventory.DocumentLine
	err := s.db.SelectContext(ctx, &ls,
		`SELECT id, document_id, item, qty_requested, qty_allocated, qty_picked, created_at
		 FROM document_lines WHERE document_id = ? ORDER BY created_at ASC, id ASC`, id)
	return ls, err
}

func (s *Store) GetReservation(ctx context.Context, id inventory.ReservationID) (*inventory.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var r inventory.Reservation
	err := s.db.GetContext(ctx, &r,
		`SELECT id, line_id, quant_id, qty, qty_picked, created_at FROM reservations WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, inventory.ErrReservationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) ReservationsForDocument(ctx context.Context, id inventory.DocumentID) ([]*inventory.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rs []*inventory.Reservation
	err := s.db.SelectContext(ctx, &rs,
		`SELECT r.id, r.line_id, r.quant_id, r.qty, r.qty_picked, r.created_at
		 FROM reservations r
		 JOIN document_lines l ON l.id = r.line_id
		 WHERE l.document_id = ?
		 ORDER BY r.created_at ASC, r.id ASC`, id)
	return rs, err
}
