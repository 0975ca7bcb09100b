/*
document.go - Document / DocumentLine lifecycle

PURPOSE:
  An order (outbound, transfer, inbound, adjustment) is a Document with one
  DocumentLine per requested item. Document status is DERIVED from line
  totals by a single pure function, recomputed inside every transaction that
  changes those totals. Status is never independently settable; that is the
  source of drift bugs this design avoids.

LIFECYCLE:
  DRAFT -> PENDING -> {PARTIALLY_ALLOCATED | FULLY_ALLOCATED}
        -> PARTIALLY_PICKED -> COMPLETED
  CANCELED is reachable from any non-terminal state, and only via
  Engine.CancelDocument, which refuses once anything has been picked.

SEE ALSO:
  - allocate.go: the operations that move documents through these states
*/
package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DOCUMENT TYPES AND STATUSES
// =============================================================================

type DocumentType string

const (
	DocTypeOutbound   DocumentType = "OUTBOUND_ORDER"
	DocTypeTransfer   DocumentType = "TRANSFER_ORDER"
	DocTypeInbound    DocumentType = "INBOUND_RECEIPT"
	DocTypeAdjustment DocumentType = "ADJUSTMENT"
)

type DocumentStatus string

const (
	StatusDraft              DocumentStatus = "DRAFT"
	StatusPending            DocumentStatus = "PENDING"
	StatusPartiallyAllocated DocumentStatus = "PARTIALLY_ALLOCATED"
	StatusFullyAllocated     DocumentStatus = "FULLY_ALLOCATED"
	StatusPartiallyPicked    DocumentStatus = "PARTIALLY_PICKED"
	StatusCompleted          DocumentStatus = "COMPLETED"
	StatusCanceled           DocumentStatus = "CANCELED"
)

// Terminal reports whether no further transitions are allowed.
func (s DocumentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// =============================================================================
// DOCUMENT / DOCUMENT LINE
// =============================================================================

// Document is an order/transfer/receipt header. Aggregate totals are derived
// from its lines, never stored on the header.
type Document struct {
	ID        DocumentID     `db:"id" json:"id"`
	Number    string         `db:"doc_number" json:"doc_number"`
	Type      DocumentType   `db:"doc_type" json:"doc_type"`
	Status    DocumentStatus `db:"status" json:"status"`
	Warehouse WarehouseID    `db:"warehouse" json:"warehouse"`
	Owner     OwnerID        `db:"owner" json:"owner"`
	Notes     string         `db:"notes" json:"notes,omitempty"`
	CreatedBy string         `db:"created_by" json:"created_by,omitempty"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// DocumentLine is one item + requested quantity within a Document.
// QtyAllocated and QtyPicked mirror the line's reservation aggregates and
// are maintained inside the same transaction as the reservations themselves.
type DocumentLine struct {
	ID           LineID          `db:"id" json:"id"`
	Document     DocumentID      `db:"document_id" json:"document_id"`
	Item         ItemID          `db:"item" json:"item"`
	QtyRequested decimal.Decimal `db:"qty_requested" json:"qty_requested"`
	QtyAllocated decimal.Decimal `db:"qty_allocated" json:"qty_allocated"`
	QtyPicked    decimal.Decimal `db:"qty_picked" json:"qty_picked"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// QtyRemaining is the quantity still needing allocation.
func (l *DocumentLine) QtyRemaining() decimal.Decimal {
	return l.QtyRequested.Sub(l.QtyAllocated)
}

// DocumentTotals aggregates line quantities for a document snapshot.
type DocumentTotals struct {
	Requested decimal.Decimal `json:"requested"`
	Allocated decimal.Decimal `json:"allocated"`
	Picked    decimal.Decimal `json:"picked"`
}

// Totals sums the given lines.
func Totals(lines []*DocumentLine) DocumentTotals {
	t := DocumentTotals{
		Requested: decimal.Zero,
		Allocated: decimal.Zero,
		Picked:    decimal.Zero,
	}
	for _, l := range lines {
		t.Requested = t.Requested.Add(l.QtyRequested)
		t.Allocated = t.Allocated.Add(l.QtyAllocated)
		t.Picked = t.Picked.Add(l.QtyPicked)
	}
	return t
}

// =============================================================================
// STATUS DERIVATION - single pure function, no other writer
// =============================================================================

// ComputeStatus derives a document's status from its current status and its
// lines. CANCELED is terminal. A document with no lines stays where it is;
// any lined document with nothing allocated is PENDING, which is what moves
// a DRAFT forward when its first line arrives.
func ComputeStatus(current DocumentStatus, lines []*DocumentLine) DocumentStatus {
	if current == StatusCanceled {
		return StatusCanceled
	}
	if len(lines) == 0 {
		return current
	}

	t := Totals(lines)
	switch {
	case t.Picked.Equal(t.Requested) && t.Requested.IsPositive():
		return StatusCompleted
	case t.Picked.IsPositive():
		return StatusPartiallyPicked
	case t.Allocated.Equal(t.Requested) && t.Requested.IsPositive():
		return StatusFullyAllocated
	case t.Allocated.IsPositive():
		return StatusPartiallyAllocated
	default:
		return StatusPending
	}
}
