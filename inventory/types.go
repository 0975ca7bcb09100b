/*
Package inventory provides the core inventory allocation and ledger engine.

PURPOSE:
  This package contains the canonical stock unit (Quant), the allocation
  operations that mutate it (receive, reserve, pick, unreserve, transfer),
  the order document state machine that drives allocation, and the immutable
  Movement log that records every quantity change.

KEY CONCEPTS IN THIS FILE (types.go):
  - Quant: a quantity of one item, in one bin, under one lot/category/owner
  - Reservation: an earmark of Quant quantity against a document line
  - Movement: an immutable audit record of a quantity change
  - StockCategory: unrestricted / blocked / quality-check / consignment
  - Strategy: FIFO (oldest received first) or FEFO (earliest expiry first)

DESIGN PRINCIPLES:
  1. Derived availability: available = qty - qty_reserved, never persisted
  2. Precision: quantities use decimal.Decimal, never floats
  3. Uniqueness: at most one Quant per (item, bin, lot, category, owner);
     receiving into an existing tuple increments, never duplicates
  4. No empty Quants: a Quant whose qty reaches zero is deleted
  5. Auditability: every mutation appends a Movement in the same transaction

SEE ALSO:
  - engine.go: quant-level operations (receive, transfer)
  - allocate.go: order-driven operations (reserve, pick, unreserve, cancel)
  - document.go: Document/DocumentLine state machine
  - store.go: transactional persistence contract
*/
package inventory

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	ItemID        string
	BinID         string
	WarehouseID   string
	OwnerID       string
	QuantID       string
	ReservationID string
	MovementID    string
	DocumentID    string
	LineID        string
)

// =============================================================================
// STOCK CATEGORY
// =============================================================================

// StockCategory classifies stock status. Only allocatable categories are
// considered by the allocation engine.
type StockCategory string

const (
	CategoryUnrestricted StockCategory = "UNRESTRICTED"
	CategoryBlocked      StockCategory = "BLOCKED"
	CategoryQualityCheck StockCategory = "QUALITY_CHECK"
	CategoryConsignment  StockCategory = "CONSIGNMENT"
)

// Allocatable reports whether stock in this category may be reserved against
// order lines. Blocked and quality-check stock never ships.
func (c StockCategory) Allocatable() bool {
	return c == CategoryUnrestricted || c == CategoryConsignment
}

// Valid reports whether c is one of the known categories.
func (c StockCategory) Valid() bool {
	switch c {
	case CategoryUnrestricted, CategoryBlocked, CategoryQualityCheck, CategoryConsignment:
		return true
	}
	return false
}

// =============================================================================
// QUANT - Canonical inventory unit
// =============================================================================

// Quant is the smallest addressable unit of stock: a quantity of one item,
// in one bin, under one lot/category/owner.
//
// INVARIANTS:
//   - 0 <= QtyReserved <= Qty at every commit boundary
//   - At most one Quant per Key() tuple
//   - Qty == 0 never persists (the row is deleted instead)
type Quant struct {
	ID        QuantID       `db:"id" json:"id"`
	Item      ItemID        `db:"item" json:"item"`
	Bin       BinID         `db:"bin" json:"bin"`
	Warehouse WarehouseID   `db:"warehouse" json:"warehouse"`
	LotCode   string        `db:"lot_code" json:"lot_code,omitempty"`
	LotExpiry *time.Time    `db:"lot_expiry" json:"lot_expiry,omitempty"`
	Category  StockCategory `db:"category" json:"category"`
	Owner     OwnerID       `db:"owner" json:"owner"`

	Qty         decimal.Decimal `db:"qty" json:"qty"`
	QtyReserved decimal.Decimal `db:"qty_reserved" json:"qty_reserved"`

	ReceivedAt time.Time `db:"received_at" json:"received_at"`
}

// QtyAvailable is the derived availability: qty - qty_reserved.
// Never persisted; always recomputed from the two hot fields.
func (q *Quant) QtyAvailable() decimal.Decimal {
	avail := q.Qty.Sub(q.QtyReserved)
	if avail.IsNegative() {
		return decimal.Zero
	}
	return avail
}

// Key returns the uniqueness tuple identifying this Quant.
func (q *Quant) Key() QuantKey {
	return QuantKey{
		Item:     q.Item,
		Bin:      q.Bin,
		LotCode:  q.LotCode,
		Category: q.Category,
		Owner:    q.Owner,
	}
}

// QuantKey is the uniqueness tuple (item, bin, lot, category, owner).
// Warehouse is deliberately absent: bin IDs are globally unique and each bin
// belongs to exactly one warehouse, so the bin alone pins the location and
// the Quant's Warehouse field is a denormalized label of the bin's home.
// The canonical string form defines the total order used when locking more
// than one Quant identity in a single transaction (deadlock avoidance).
type QuantKey struct {
	Item     ItemID
	Bin      BinID
	LotCode  string
	Category StockCategory
	Owner    OwnerID
}

// String returns the canonical form "item|bin|lot|category|owner".
func (k QuantKey) String() string {
	return strings.Join([]string{
		string(k.Item), string(k.Bin), k.LotCode, string(k.Category), string(k.Owner),
	}, "|")
}

// Less defines the canonical total order over quant identities.
// Every code path that locks two identities must acquire them in this order.
func (k QuantKey) Less(other QuantKey) bool {
	return k.String() < other.String()
}

// =============================================================================
// RESERVATION - Earmark of Quant quantity for a DocumentLine
// =============================================================================

// Reservation links a DocumentLine to a Quant.
//
// INVARIANTS:
//   - 0 <= QtyPicked <= Qty
//   - Sum of open reservation Qty per Quant <= Quant.QtyReserved
//   - Deleted when fully picked, always before any dependent Quant delete
type Reservation struct {
	ID        ReservationID   `db:"id" json:"id"`
	Line      LineID          `db:"line_id" json:"line_id"`
	Quant     QuantID         `db:"quant_id" json:"quant_id"`
	Qty       decimal.Decimal `db:"qty" json:"qty"`
	QtyPicked decimal.Decimal `db:"qty_picked" json:"qty_picked"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// QtyRemaining is the unpicked remainder of this reservation.
func (r *Reservation) QtyRemaining() decimal.Decimal {
	return r.Qty.Sub(r.QtyPicked)
}

// =============================================================================
// MOVEMENT - Immutable audit record
// =============================================================================

type MovementType string

const (
	MovementInbound    MovementType = "INBOUND"
	MovementReserved   MovementType = "RESERVED"
	MovementOutbound   MovementType = "OUTBOUND"
	MovementTransfer   MovementType = "TRANSFER"
	MovementAdjustment MovementType = "ADJUSTMENT"
)

// Movement records a single quantity change. Append-only: no Movement is
// ever updated or deleted. Written in the same transaction as the mutation
// it describes.
type Movement struct {
	ID        MovementID      `db:"id" json:"id"`
	Item      ItemID          `db:"item" json:"item"`
	FromQuant QuantID         `db:"from_quant" json:"from_quant,omitempty"`
	ToQuant   QuantID         `db:"to_quant" json:"to_quant,omitempty"`
	Qty       decimal.Decimal `db:"qty" json:"qty"`
	Type      MovementType    `db:"movement_type" json:"movement_type"`
	Warehouse WarehouseID     `db:"warehouse" json:"warehouse"`
	Reference string          `db:"reference" json:"reference,omitempty"`
	Actor     string          `db:"actor" json:"actor,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// =============================================================================
// SNAPSHOT VIEWS - Derived, read-only
// =============================================================================

// ItemInventory is the aggregate snapshot of one item's stock.
type ItemInventory struct {
	Item           ItemID          `json:"item"`
	TotalQty       decimal.Decimal `json:"total_qty"`
	TotalReserved  decimal.Decimal `json:"total_reserved"`
	TotalAvailable decimal.Decimal `json:"total_available"`
	ByBin          []BinHolding    `json:"by_bin"`
}

// BinHolding is one Quant's contribution to an item snapshot.
type BinHolding struct {
	Bin       BinID           `json:"bin"`
	LotCode   string          `json:"lot_code,omitempty"`
	Category  StockCategory   `json:"category"`
	Qty       decimal.Decimal `json:"qty"`
	Reserved  decimal.Decimal `json:"reserved"`
	Available decimal.Decimal `json:"available"`
}

func (q *Quant) holding() BinHolding {
	return BinHolding{
		Bin:       q.Bin,
		LotCode:   q.LotCode,
		Category:  q.Category,
		Qty:       q.Qty,
		Reserved:  q.QtyReserved,
		Available: q.QtyAvailable(),
	}
}

func (q *Quant) debugString() string {
	return fmt.Sprintf("Quant(%s@%s lot=%q qty=%s reserved=%s)",
		q.Item, q.Bin, q.LotCode, q.Qty, q.QtyReserved)
}
