/*
allocate.go - Order-driven operations: reserve, pick, unreserve, cancel

PURPOSE:
  Implements the allocation lifecycle that connects Documents to Quants
  through Reservations:

    reserve   earmark available quantity for a line (partial is success)
    pick      physically remove reserved quantity (boolean rejection on
              over-pick, never an exception)
    unreserve release the unpicked remainder back to availability
    cancel    whole-document release; refused once anything was picked

CRITICAL INVARIANTS:
  1. OWNER ISOLATION: candidates are always filtered by the document's
     owner. A quant with a different owner surfacing here is an internal
     invariant violation (CrossOwnerError), never silently skipped.
  2. LOCK-THEN-READ: candidate quantities are only read after LockCandidates
     returns; the strategy sort happens after all locks are held.
  3. DELETE ORDER: a fully picked Reservation is deleted before its Quant,
     so no reservation ever references a deleted quant.
  4. DERIVED STATUS: document status is recomputed from line totals inside
     the same transaction as every mutation that changes them.
*/
package inventory

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// allocatableCategories is the category filter applied to every candidate
// query. Blocked and quality-check stock never ships.
var allocatableCategories = []StockCategory{CategoryUnrestricted, CategoryConsignment}

// =============================================================================
// DOCUMENT CREATION
// =============================================================================

// DocumentInput describes a new document header.
type DocumentInput struct {
	Number    string
	Type      DocumentType
	Warehouse WarehouseID
	Owner     OwnerID
	Notes     string
	CreatedBy string
}

// CreateDocument creates a document in DRAFT.
func (e *Engine) CreateDocument(ctx context.Context, in DocumentInput) (*Document, error) {
	if in.Type == "" {
		in.Type = DocTypeOutbound
	}
	doc := &Document{
		ID:        DocumentID(newID()),
		Number:    in.Number,
		Type:      in.Type,
		Status:    StatusDraft,
		Warehouse: in.Warehouse,
		Owner:     in.Owner,
		Notes:     in.Notes,
		CreatedBy: in.CreatedBy,
		CreatedAt: time.Now().UTC(),
	}
	err := e.store.WithTx(ctx, func(tx Tx) error {
		return tx.InsertDocument(ctx, doc)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// AddLine appends a line to a document and recomputes the derived status in
// the same transaction: the first line moves a DRAFT to PENDING, and a new
// line on an already-allocated document dilutes its status accordingly.
func (e *Engine) AddLine(ctx context.Context, docID DocumentID, item ItemID, qtyRequested decimal.Decimal) (*DocumentLine, error) {
	if !qtyRequested.IsPositive() {
		return nil, ErrInvalidQuantity
	}

	line := &DocumentLine{
		ID:           LineID(newID()),
		Document:     docID,
		Item:         item,
		QtyRequested: qtyRequested,
		QtyAllocated: decimal.Zero,
		QtyPicked:    decimal.Zero,
		CreatedAt:    time.Now().UTC(),
	}
	err := e.store.WithTx(ctx, func(tx Tx) error {
		doc, err := tx.GetDocumentForUpdate(ctx, docID)
		if err != nil {
			return err
		}
		if doc.Status.Terminal() {
			return ErrDocumentClosed
		}
		if err := tx.InsertLine(ctx, line); err != nil {
			return err
		}
		_, err = e.refreshStatusTx(ctx, tx, doc)
		return err
	})
	if err != nil {
		return nil, err
	}
	return line, nil
}

// =============================================================================
// RESERVE
// =============================================================================

// AllocationResult breaks down a whole-document reserve call by line outcome.
type AllocationResult struct {
	AllocatedLines          []LineID        `json:"allocated_lines"`
	PartiallyAllocatedLines []PartialLine   `json:"partially_allocated_lines"`
	UnallocatedLines        []LineID        `json:"unallocated_lines"`
	TotalAllocated          decimal.Decimal `json:"total_allocated"`
	Status                  DocumentStatus  `json:"status"`
}

// PartialLine reports a line that got some, but not all, of its request.
type PartialLine struct {
	Line      LineID          `json:"line_id"`
	Allocated decimal.Decimal `json:"allocated"`
	Requested decimal.Decimal `json:"requested"`
}

// ReserveDocument allocates every line of a document against available
// quants, in one atomic transaction. Lines that cannot be fully covered are
// partially allocated; lines with nothing available get nothing. Neither is
// an error. The document status is recomputed before commit.
func (e *Engine) ReserveDocument(ctx context.Context, docID DocumentID, strategy Strategy, actor string) (*AllocationResult, error) {
	if strategy == "" {
		strategy = FIFO
	}
	if !strategy.Valid() {
		return nil, ErrInvalidStrategy
	}

	result := &AllocationResult{TotalAllocated: decimal.Zero}
	err := e.store.WithTx(ctx, func(tx Tx) error {
		doc, err := tx.GetDocumentForUpdate(ctx, docID)
		if err != nil {
			return err
		}
		if doc.Status.Terminal() {
			return ErrDocumentClosed
		}

		lines, err := tx.LinesForDocument(ctx, docID)
		if err != nil {
			return err
		}

		for _, line := range lines {
			allocated, err := e.reserveLineTx(ctx, tx, doc, line, strategy, actor)
			if err != nil {
				return err
			}
			result.TotalAllocated = result.TotalAllocated.Add(allocated)

			switch {
			case line.QtyAllocated.Equal(line.QtyRequested):
				result.AllocatedLines = append(result.AllocatedLines, line.ID)
			case line.QtyAllocated.IsPositive():
				result.PartiallyAllocatedLines = append(result.PartiallyAllocatedLines, PartialLine{
					Line:      line.ID,
					Allocated: line.QtyAllocated,
					Requested: line.QtyRequested,
				})
			default:
				result.UnallocatedLines = append(result.UnallocatedLines, line.ID)
			}
		}

		status, err := e.refreshStatusTx(ctx, tx, doc)
		if err != nil {
			return err
		}
		result.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReserveLine allocates a single line. Returns the quantity allocated by
// this call, which may be zero: insufficient stock is a partial outcome,
// not an error.
func (e *Engine) ReserveLine(ctx context.Context, lineID LineID, strategy Strategy, actor string) (decimal.Decimal, error) {
	if strategy == "" {
		strategy = FIFO
	}
	if !strategy.Valid() {
		return decimal.Zero, ErrInvalidStrategy
	}

	allocated := decimal.Zero
	err := e.store.WithTx(ctx, func(tx Tx) error {
		line, err := tx.GetLineForUpdate(ctx, lineID)
		if err != nil {
			return err
		}
		doc, err := tx.GetDocumentForUpdate(ctx, line.Document)
		if err != nil {
			return err
		}
		if doc.Status.Terminal() {
			return ErrDocumentClosed
		}

		allocated, err = e.reserveLineTx(ctx, tx, doc, line, strategy, actor)
		if err != nil {
			return err
		}
		_, err = e.refreshStatusTx(ctx, tx, doc)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	return allocated, nil
}

// reserveLineTx walks ordered candidates and earmarks quantity for one line.
// Candidates are locked in the stable global order before any quantity is
// read; the strategy comparator reorders them only after the locks are held.
func (e *Engine) reserveLineTx(ctx context.Context, tx Tx, doc *Document, line *DocumentLine, strategy Strategy, actor string) (decimal.Decimal, error) {
	remaining := line.QtyRemaining()
	if !remaining.IsPositive() {
		return decimal.Zero, nil
	}

	candidates, err := tx.LockCandidates(ctx, CandidateQuery{
		Item:       line.Item,
		Warehouse:  doc.Warehouse,
		Owner:      doc.Owner, // hard tenant boundary, never relaxable
		Categories: allocatableCategories,
	})
	if err != nil {
		return decimal.Zero, err
	}
	strategy.sortCandidates(candidates)

	existing, err := tx.ReservationsForLine(ctx, line.ID)
	if err != nil {
		return decimal.Zero, err
	}
	byQuant := make(map[QuantID]*Reservation, len(existing))
	for _, r := range existing {
		byQuant[r.Quant] = r
	}

	allocated := decimal.Zero
	for _, quant := range candidates {
		if !remaining.IsPositive() {
			break
		}
		if quant.Owner != doc.Owner {
			// Structurally impossible: the candidate query filters by owner.
			// Surfaced as fatal, never silently corrected.
			e.log.Error("owner isolation violated",
				zap.String("quant", quant.debugString()),
				zap.String("document", string(doc.ID)))
			return decimal.Zero, &CrossOwnerError{
				Quant:         quant.ID,
				QuantOwner:    quant.Owner,
				DocumentOwner: doc.Owner,
			}
		}

		take := decimal.Min(remaining, quant.QtyAvailable())
		if !take.IsPositive() {
			continue
		}

		if r, ok := byQuant[quant.ID]; ok {
			r.Qty = r.Qty.Add(take)
			if err := tx.UpdateReservation(ctx, r); err != nil {
				return decimal.Zero, err
			}
		} else {
			r := &Reservation{
				ID:        ReservationID(newID()),
				Line:      line.ID,
				Quant:     quant.ID,
				Qty:       take,
				QtyPicked: decimal.Zero,
				CreatedAt: time.Now().UTC(),
			}
			if err := tx.InsertReservation(ctx, r); err != nil {
				return decimal.Zero, err
			}
			byQuant[quant.ID] = r
		}

		quant.QtyReserved = quant.QtyReserved.Add(take)
		if err := tx.UpdateQuant(ctx, quant); err != nil {
			return decimal.Zero, err
		}

		if err := tx.AppendMovement(ctx, &Movement{
			ID:        MovementID(newID()),
			Item:      line.Item,
			FromQuant: quant.ID,
			ToQuant:   quant.ID,
			Qty:       take,
			Type:      MovementReserved,
			Warehouse: doc.Warehouse,
			Reference: "reserve:" + doc.Number,
			Actor:     actor,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			return decimal.Zero, err
		}

		allocated = allocated.Add(take)
		remaining = remaining.Sub(take)
	}

	if allocated.IsPositive() {
		line.QtyAllocated = line.QtyAllocated.Add(allocated)
		if err := tx.UpdateLine(ctx, line); err != nil {
			return decimal.Zero, err
		}
	}
	return allocated, nil
}

// =============================================================================
// PICK
// =============================================================================

// Pick physically removes reserved quantity against one reservation.
// Returns false, with no mutation, when qty exceeds the reservation's
// unpicked remainder: an expected caller condition, not a fault.
// A fully picked reservation is deleted before its quant; a quant drained
// to zero is deleted second, inside the same transaction.
func (e *Engine) Pick(ctx context.Context, id ReservationID, qty decimal.Decimal, actor string) (bool, error) {
	if !qty.IsPositive() {
		return false, ErrInvalidQuantity
	}

	picked := false
	err := e.store.WithTx(ctx, func(tx Tx) error {
		r, err := tx.GetReservationForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if qty.GreaterThan(r.QtyRemaining()) {
			return nil // rejected, nothing touched
		}

		quant, err := tx.GetQuantForUpdate(ctx, r.Quant)
		if err != nil {
			return err
		}
		if quant.Qty.LessThan(qty) {
			// Defensive: the reservation invariant should make this
			// unreachable, but never let qty go negative.
			return nil
		}

		line, err := tx.GetLineForUpdate(ctx, r.Line)
		if err != nil {
			return err
		}
		doc, err := tx.GetDocumentForUpdate(ctx, line.Document)
		if err != nil {
			return err
		}

		r.QtyPicked = r.QtyPicked.Add(qty)
		quant.Qty = quant.Qty.Sub(qty)
		quant.QtyReserved = quant.QtyReserved.Sub(qty)

		if err := tx.AppendMovement(ctx, &Movement{
			ID:        MovementID(newID()),
			Item:      line.Item,
			FromQuant: quant.ID,
			Qty:       qty,
			Type:      MovementOutbound,
			Warehouse: doc.Warehouse,
			Reference: "pick:" + doc.Number,
			Actor:     actor,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}

		// Delete order matters: reservation first, then its quant.
		if r.QtyPicked.Equal(r.Qty) {
			if err := tx.DeleteReservation(ctx, r.ID); err != nil {
				return err
			}
		} else {
			if err := tx.UpdateReservation(ctx, r); err != nil {
				return err
			}
		}
		if quant.Qty.IsZero() {
			if err := tx.DeleteQuant(ctx, quant.ID); err != nil {
				return err
			}
		} else {
			if err := tx.UpdateQuant(ctx, quant); err != nil {
				return err
			}
		}

		line.QtyPicked = line.QtyPicked.Add(qty)
		if err := tx.UpdateLine(ctx, line); err != nil {
			return err
		}
		if _, err := e.refreshStatusTx(ctx, tx, doc); err != nil {
			return err
		}

		picked = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return picked, nil
}

// =============================================================================
// UNRESERVE
// =============================================================================

// Unreserve releases a reservation's unpicked remainder back to
// availability. A reservation with no picks is deleted; one with picks is
// shrunk to its picked amount.
func (e *Engine) Unreserve(ctx context.Context, id ReservationID, actor string) error {
	return e.store.WithTx(ctx, func(tx Tx) error {
		r, err := tx.GetReservationForUpdate(ctx, id)
		if err != nil {
			return err
		}
		line, err := tx.GetLineForUpdate(ctx, r.Line)
		if err != nil {
			return err
		}
		doc, err := tx.GetDocumentForUpdate(ctx, line.Document)
		if err != nil {
			return err
		}
		if err := e.unreserveTx(ctx, tx, doc, line, r, actor); err != nil {
			return err
		}
		if err := tx.UpdateLine(ctx, line); err != nil {
			return err
		}
		_, err = e.refreshStatusTx(ctx, tx, doc)
		return err
	})
}

// unreserveTx releases one reservation's remainder. It mutates line totals
// in memory; the caller persists the line and recomputes document status.
func (e *Engine) unreserveTx(ctx context.Context, tx Tx, doc *Document, line *DocumentLine, r *Reservation, actor string) error {
	remainder := r.QtyRemaining()
	if remainder.IsPositive() {
		quant, err := tx.GetQuantForUpdate(ctx, r.Quant)
		if err != nil {
			return err
		}
		quant.QtyReserved = quant.QtyReserved.Sub(remainder)
		if quant.QtyReserved.IsNegative() {
			quant.QtyReserved = decimal.Zero
		}
		if err := tx.UpdateQuant(ctx, quant); err != nil {
			return err
		}
		if err := tx.AppendMovement(ctx, &Movement{
			ID:        MovementID(newID()),
			Item:      line.Item,
			FromQuant: quant.ID,
			ToQuant:   quant.ID,
			Qty:       remainder,
			Type:      MovementReserved,
			Warehouse: doc.Warehouse,
			Reference: "unreserve:" + doc.Number,
			Actor:     actor,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
	}

	if r.QtyPicked.IsZero() {
		if err := tx.DeleteReservation(ctx, r.ID); err != nil {
			return err
		}
	} else {
		r.Qty = r.QtyPicked
		if err := tx.UpdateReservation(ctx, r); err != nil {
			return err
		}
	}

	line.QtyAllocated = line.QtyAllocated.Sub(remainder)
	if line.QtyAllocated.IsNegative() {
		line.QtyAllocated = decimal.Zero
	}
	return nil
}

// =============================================================================
// CANCEL
// =============================================================================

// CancelDocument releases every open reservation on the document's lines
// and sets CANCELED. Returns false, with no mutation, if anything on the
// document has already been picked: picked stock has left the building and
// needs the compensating adjustment path, not cancellation. Canceling an
// already-canceled document is a no-op success.
func (e *Engine) CancelDocument(ctx context.Context, docID DocumentID, actor string) (bool, error) {
	canceled := false
	err := e.store.WithTx(ctx, func(tx Tx) error {
		doc, err := tx.GetDocumentForUpdate(ctx, docID)
		if err != nil {
			return err
		}
		if doc.Status == StatusCanceled {
			canceled = true
			return nil
		}
		if doc.Status == StatusCompleted {
			return nil // terminal, rejected
		}

		lines, err := tx.LinesForDocument(ctx, docID)
		if err != nil {
			return err
		}
		for _, line := range lines {
			if line.QtyPicked.IsPositive() {
				return nil // rejected, nothing touched
			}
		}

		for _, line := range lines {
			reservations, err := tx.ReservationsForLine(ctx, line.ID)
			if err != nil {
				return err
			}
			// Deterministic lock order across the quants we are about to
			// touch, same discipline as every multi-quant path.
			sort.Slice(reservations, func(i, j int) bool {
				return reservations[i].Quant < reservations[j].Quant
			})
			for _, r := range reservations {
				if err := e.unreserveTx(ctx, tx, doc, line, r, actor); err != nil {
					return err
				}
			}
			if err := tx.UpdateLine(ctx, line); err != nil {
				return err
			}
		}

		if err := tx.UpdateDocumentStatus(ctx, docID, StatusCanceled); err != nil {
			return err
		}
		canceled = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return canceled, nil
}

// =============================================================================
// STATUS REFRESH
// =============================================================================

// refreshStatusTx recomputes the document status from its current line
// totals and persists it when changed. Called at the end of every
// transaction that mutates line totals.
func (e *Engine) refreshStatusTx(ctx context.Context, tx Tx, doc *Document) (DocumentStatus, error) {
	lines, err := tx.LinesForDocument(ctx, doc.ID)
	if err != nil {
		return doc.Status, err
	}
	status := ComputeStatus(doc.Status, lines)
	if status != doc.Status {
		if err := tx.UpdateDocumentStatus(ctx, doc.ID, status); err != nil {
			return doc.Status, err
		}
		doc.Status = status
	}
	return status, nil
}

// =============================================================================
// PICKING LIST
// =============================================================================

// PickingGroup is one bin's worth of open picks, ordered for a picker walk.
type PickingGroup struct {
	Bin   BinID         `json:"bin"`
	Items []PickingItem `json:"items"`
}

// PickingItem is one open reservation on the picking list.
type PickingItem struct {
	Reservation  ReservationID   `json:"reservation_id"`
	Quant        QuantID         `json:"quant_id"`
	Item         ItemID          `json:"item"`
	LotCode      string          `json:"lot_code,omitempty"`
	Qty          decimal.Decimal `json:"qty"`
	QtyPicked    decimal.Decimal `json:"qty_picked"`
	QtyRemaining decimal.Decimal `json:"qty_remaining"`
}

// PickingList returns the document's open reservations grouped by bin.
// Snapshot read: no locks, committed state only.
func (e *Engine) PickingList(ctx context.Context, docID DocumentID) ([]PickingGroup, error) {
	reservations, err := e.store.ReservationsForDocument(ctx, docID)
	if err != nil {
		return nil, err
	}

	lines, err := e.store.LinesForDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	itemByLine := make(map[LineID]ItemID, len(lines))
	for _, l := range lines {
		itemByLine[l.ID] = l.Item
	}

	grouped := make(map[BinID][]PickingItem)
	for _, r := range reservations {
		if !r.QtyRemaining().IsPositive() {
			continue
		}
		quant, err := e.store.GetQuant(ctx, r.Quant)
		if err != nil {
			return nil, err
		}
		grouped[quant.Bin] = append(grouped[quant.Bin], PickingItem{
			Reservation:  r.ID,
			Quant:        quant.ID,
			Item:         itemByLine[r.Line],
			LotCode:      quant.LotCode,
			Qty:          r.Qty,
			QtyPicked:    r.QtyPicked,
			QtyRemaining: r.QtyRemaining(),
		})
	}

	bins := make([]BinID, 0, len(grouped))
	for bin := range grouped {
		bins = append(bins, bin)
	}
	sort.Slice(bins, func(i, j int) bool { return bins[i] < bins[j] })

	list := make([]PickingGroup, 0, len(bins))
	for _, bin := range bins {
		list = append(list, PickingGroup{Bin: bin, Items: grouped[bin]})
	}
	return list, nil
}
