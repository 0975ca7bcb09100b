/*
engine.go - Quant-level operations: receive, transfer, adjust, delete

PURPOSE:
  The Engine is the only writer of Quant.Qty and Quant.QtyReserved. Every
  operation here runs inside exactly one store transaction that locks the
  rows it will mutate before reading their quantities, appends the Movement
  describing the change, and commits everything together or not at all.

OPERATIONS:
  Receive:     find-or-create by uniqueness tuple, increment qty, INBOUND
  Transfer:    move qty between bins, identity otherwise preserved, TRANSFER
  Adjust:      signed correction (compensating path for partial picks), ADJUSTMENT
  DeleteQuant: explicit delete, permitted only at qty == 0

SEE ALSO:
  - allocate.go: order-driven operations (reserve/pick/unreserve/cancel)
*/
package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine implements the allocation and ledger operations on top of a Store.
// It holds no state of its own; correctness under concurrency comes entirely
// from the store's transactional contract.
type Engine struct {
	store Store
	log   *zap.Logger
}

// NewEngine creates an engine. A nil logger disables logging.
func NewEngine(store Store, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, log: logger}
}

// Store exposes the snapshot-read side of the underlying store.
func (e *Engine) Store() Store { return e.store }

func newID() string { return uuid.NewString() }

// =============================================================================
// RECEIVE
// =============================================================================

// ReceiveInput describes an inbound receipt.
type ReceiveInput struct {
	Item      ItemID
	Bin       BinID
	Warehouse WarehouseID
	LotCode   string
	LotExpiry *time.Time
	Category  StockCategory // defaults to UNRESTRICTED
	Owner     OwnerID
	Qty       decimal.Decimal

	// ReceivedAt overrides the receipt timestamp (backdated receipts).
	// Zero means now.
	ReceivedAt time.Time

	Actor     string
	Reference string
}

// Receive adds quantity to the Quant identified by the input's uniqueness
// tuple, creating it if absent. The find-or-create and the increment happen
// under the same lock, so two racing receives on the same tuple can never
// lose an update or create a duplicate row.
func (e *Engine) Receive(ctx context.Context, in ReceiveInput) (*Quant, error) {
	if !in.Qty.IsPositive() {
		return nil, ErrInvalidQuantity
	}
	if in.Category == "" {
		in.Category = CategoryUnrestricted
	}

	key := QuantKey{
		Item:     in.Item,
		Bin:      in.Bin,
		LotCode:  in.LotCode,
		Category: in.Category,
		Owner:    in.Owner,
	}
	receivedAt := in.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	reference := in.Reference
	if reference == "" {
		reference = "receive_goods"
	}

	var result *Quant
	err := e.store.WithTx(ctx, func(tx Tx) error {
		quant, err := tx.FindQuantByKey(ctx, key)
		if err != nil {
			return err
		}

		if quant == nil {
			quant = &Quant{
				ID:          QuantID(newID()),
				Item:        in.Item,
				Bin:         in.Bin,
				Warehouse:   in.Warehouse,
				LotCode:     in.LotCode,
				LotExpiry:   in.LotExpiry,
				Category:    in.Category,
				Owner:       in.Owner,
				Qty:         in.Qty,
				QtyReserved: decimal.Zero,
				ReceivedAt:  receivedAt,
			}
			if err := tx.InsertQuant(ctx, quant); err != nil {
				return err
			}
		} else {
			quant.Qty = quant.Qty.Add(in.Qty)
			if err := tx.UpdateQuant(ctx, quant); err != nil {
				return err
			}
		}

		if err := tx.AppendMovement(ctx, &Movement{
			ID:        MovementID(newID()),
			Item:      in.Item,
			ToQuant:   quant.ID,
			Qty:       in.Qty,
			Type:      MovementInbound,
			Warehouse: quant.Warehouse,
			Reference: reference,
			Actor:     in.Actor,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}

		result = quant
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Debug("received stock",
		zap.String("item", string(in.Item)),
		zap.String("bin", string(in.Bin)),
		zap.String("qty", in.Qty.String()))
	return result, nil
}

// =============================================================================
// TRANSFER
// =============================================================================

// TransferInput describes an atomic move between bins. The destination
// keeps the source's item, lot, category, and owner. Bin IDs are globally
// unique, so ToBin alone identifies the destination; ToWarehouse only labels
// a destination quant created in a bin of another warehouse and can never
// distinguish two quants. A transfer into the source's own bin is rejected
// as ErrSameLocation regardless of ToWarehouse.
type TransferInput struct {
	FromQuant   QuantID
	ToBin       BinID
	ToWarehouse WarehouseID // empty = same warehouse as source
	Qty         decimal.Decimal
	Actor       string
	Reference   string
}

// Transfer moves quantity from one Quant to its sibling identity in another
// bin. Both identities are locked in the canonical QuantKey order before any
// quantity is read, so two opposite concurrent transfers cannot deadlock.
// Reserved quantity never moves: the transferable amount is the source's
// derived availability.
func (e *Engine) Transfer(ctx context.Context, in TransferInput) (*Quant, error) {
	if !in.Qty.IsPositive() {
		return nil, ErrInvalidQuantity
	}

	// Identity probe: a snapshot read to learn the source tuple. Quantities
	// are ignored here; they are re-read under lock inside the transaction.
	snap, err := e.store.GetQuant(ctx, in.FromQuant)
	if err != nil {
		return nil, err
	}

	srcKey := snap.Key()
	destKey := srcKey
	destKey.Bin = in.ToBin
	if destKey == srcKey {
		return nil, ErrSameLocation
	}
	destWarehouse := snap.Warehouse
	if in.ToWarehouse != "" {
		destWarehouse = in.ToWarehouse
	}
	reference := in.Reference
	if reference == "" {
		reference = "transfer_qty"
	}

	var result *Quant
	err = e.store.WithTx(ctx, func(tx Tx) error {
		// Lock both identities in the canonical tuple order.
		first, second := srcKey, destKey
		if destKey.Less(srcKey) {
			first, second = destKey, srcKey
		}
		a, err := tx.FindQuantByKey(ctx, first)
		if err != nil {
			return err
		}
		b, err := tx.FindQuantByKey(ctx, second)
		if err != nil {
			return err
		}

		src, dest := a, b
		if first != srcKey {
			src, dest = b, a
		}
		if src == nil || src.ID != in.FromQuant {
			// The source row changed identity or vanished since the probe.
			return ErrQuantNotFound
		}

		available := src.QtyAvailable()
		if in.Qty.GreaterThan(available) {
			return &InsufficientAvailableError{
				Quant:     src.ID,
				Available: available,
				Requested: in.Qty,
			}
		}

		src.Qty = src.Qty.Sub(in.Qty)

		if dest == nil {
			dest = &Quant{
				ID:          QuantID(newID()),
				Item:        src.Item,
				Bin:         in.ToBin,
				Warehouse:   destWarehouse,
				LotCode:     src.LotCode,
				LotExpiry:   src.LotExpiry,
				Category:    src.Category,
				Owner:       src.Owner,
				Qty:         in.Qty,
				QtyReserved: decimal.Zero,
				// The stock keeps its age across bins so FIFO is unaffected.
				ReceivedAt: src.ReceivedAt,
			}
			if err := tx.InsertQuant(ctx, dest); err != nil {
				return err
			}
		} else {
			dest.Qty = dest.Qty.Add(in.Qty)
			if err := tx.UpdateQuant(ctx, dest); err != nil {
				return err
			}
		}

		if src.Qty.IsZero() {
			if err := tx.DeleteQuant(ctx, src.ID); err != nil {
				return err
			}
		} else {
			if err := tx.UpdateQuant(ctx, src); err != nil {
				return err
			}
		}

		if err := tx.AppendMovement(ctx, &Movement{
			ID:        MovementID(newID()),
			Item:      src.Item,
			FromQuant: src.ID,
			ToQuant:   dest.ID,
			Qty:       in.Qty,
			Type:      MovementTransfer,
			Warehouse: src.Warehouse,
			Reference: reference,
			Actor:     in.Actor,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}

		result = dest
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Debug("transferred stock",
		zap.String("from", string(in.FromQuant)),
		zap.String("to_bin", string(in.ToBin)),
		zap.String("qty", in.Qty.String()))
	return result, nil
}

// =============================================================================
// ADJUST
// =============================================================================

// Adjust applies a signed manual correction to a Quant's quantity. This is
// the compensating path for discrepancies (damage, count corrections, and
// documents that cannot be canceled because picking already started).
// The resulting qty may not drop below the reserved quantity.
func (e *Engine) Adjust(ctx context.Context, id QuantID, delta decimal.Decimal, actor, reason string) (*Quant, error) {
	if delta.IsZero() {
		return nil, ErrInvalidQuantity
	}

	var result *Quant
	err := e.store.WithTx(ctx, func(tx Tx) error {
		quant, err := tx.GetQuantForUpdate(ctx, id)
		if err != nil {
			return err
		}

		newQty := quant.Qty.Add(delta)
		if newQty.LessThan(quant.QtyReserved) {
			return &InsufficientAvailableError{
				Quant:     quant.ID,
				Available: quant.QtyAvailable(),
				Requested: delta.Neg(),
			}
		}

		quant.Qty = newQty
		if quant.Qty.IsZero() {
			if err := tx.DeleteQuant(ctx, quant.ID); err != nil {
				return err
			}
		} else {
			if err := tx.UpdateQuant(ctx, quant); err != nil {
				return err
			}
		}

		movement := &Movement{
			ID:        MovementID(newID()),
			Item:      quant.Item,
			Qty:       delta.Abs(),
			Type:      MovementAdjustment,
			Warehouse: quant.Warehouse,
			Reference: reason,
			Actor:     actor,
			CreatedAt: time.Now().UTC(),
		}
		if delta.IsPositive() {
			movement.ToQuant = quant.ID
		} else {
			movement.FromQuant = quant.ID
		}
		if err := tx.AppendMovement(ctx, movement); err != nil {
			return err
		}

		result = quant
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// =============================================================================
// DELETE
// =============================================================================

// DeleteQuant removes a Quant row. Permitted only when qty == 0; in normal
// operation empty quants are already removed by pick/transfer, so this is
// an administrative escape hatch.
func (e *Engine) DeleteQuant(ctx context.Context, id QuantID) error {
	return e.store.WithTx(ctx, func(tx Tx) error {
		quant, err := tx.GetQuantForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !quant.Qty.IsZero() {
			return &NonEmptyQuantError{Quant: quant.ID, Qty: quant.Qty}
		}
		return tx.DeleteQuant(ctx, quant.ID)
	})
}

// =============================================================================
// SNAPSHOT READS
// =============================================================================

// InventoryByItem returns the aggregate stock snapshot for one item,
// optionally scoped by warehouse and owner. All quantities are derived from
// committed Quant state; availability is never persisted.
func (e *Engine) InventoryByItem(ctx context.Context, item ItemID, warehouse WarehouseID, owner OwnerID) (*ItemInventory, error) {
	quants, err := e.store.ListQuants(ctx, QuantFilter{
		Item:      item,
		Warehouse: warehouse,
		Owner:     owner,
	})
	if err != nil {
		return nil, err
	}

	inv := &ItemInventory{
		Item:           item,
		TotalQty:       decimal.Zero,
		TotalReserved:  decimal.Zero,
		TotalAvailable: decimal.Zero,
	}
	for _, q := range quants {
		inv.TotalQty = inv.TotalQty.Add(q.Qty)
		inv.TotalReserved = inv.TotalReserved.Add(q.QtyReserved)
		inv.TotalAvailable = inv.TotalAvailable.Add(q.QtyAvailable())
		inv.ByBin = append(inv.ByBin, q.holding())
	}
	return inv, nil
}
