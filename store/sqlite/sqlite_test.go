package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vlasisgeo/quantwms/inventory"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func testQuant(id, item, bin string, qty decimal.Decimal, receivedAt time.Time) *inventory.Quant {
	return &inventory.Quant{
		ID:          inventory.QuantID(id),
		Item:        inventory.ItemID(item),
		Bin:         inventory.BinID(bin),
		Warehouse:   "WH1",
		Category:    inventory.CategoryUnrestricted,
		Owner:       "acme",
		Qty:         qty,
		QtyReserved: decimal.Zero,
		ReceivedAt:  receivedAt,
	}
}

func TestQuantRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// GIVEN a quant with a lot expiry and fractional quantity
	expiry := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	q := testQuant("q1", "WIDGET", "A-01-01", d("12.5"), time.Now().UTC())
	q.LotCode = "LOT-7"
	q.LotExpiry = &expiry

	// WHEN it is committed and read back
	err := store.WithTx(ctx, func(tx inventory.Tx) error {
		return tx.InsertQuant(ctx, q)
	})
	require.NoError(t, err)

	got, err := store.GetQuant(ctx, "q1")
	require.NoError(t, err)

	// THEN every field survives the round trip
	assert.Equal(t, q.Item, got.Item)
	assert.Equal(t, q.Bin, got.Bin)
	assert.Equal(t, "LOT-7", got.LotCode)
	require.NotNil(t, got.LotExpiry)
	assert.True(t, got.LotExpiry.Equal(expiry))
	assert.True(t, got.Qty.Equal(d("12.5")), "qty precision must be exact, got %s", got.Qty)
	assert.True(t, got.QtyReserved.IsZero())
}

func TestQuantNilLotExpiry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// GIVEN a quant with no lot expiry
	q := testQuant("q1", "WIDGET", "A-01-01", d("5"), time.Now().UTC())

	err := store.WithTx(ctx, func(tx inventory.Tx) error {
		return tx.InsertQuant(ctx, q)
	})
	require.NoError(t, err)

	// THEN it reads back as nil, not zero time
	got, err := store.GetQuant(ctx, "q1")
	require.NoError(t, err)
	assert.Nil(t, got.LotExpiry)
}

func TestRollbackLeavesNoTrace(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	// GIVEN a transaction that writes a quant and a movement, then fails
	err := store.WithTx(ctx, func(tx inventory.Tx) error {
		q := testQuant("q1", "WIDGET", "A-01-01", d("10"), time.Now().UTC())
		if err := tx.InsertQuant(ctx, q); err != nil {
			return err
		}
		if err := tx.AppendMovement(ctx, &inventory.Movement{
			ID:        "m1",
			Item:      "WIDGET",
			ToQuant:   "q1",
			Qty:       d("10"),
			Type:      inventory.MovementInbound,
			Warehouse: "WH1",
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// THEN neither write is observable
	_, err = store.GetQuant(ctx, "q1")
	assert.ErrorIs(t, err, inventory.ErrQuantNotFound)

	movements, err := store.Movements(ctx, inventory.MovementFilter{Item: "WIDGET"})
	require.NoError(t, err)
	assert.Empty(t, movements)
}

func TestUniqueTupleEnforcedBySchema(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// GIVEN a committed quant
	q1 := testQuant("q1", "WIDGET", "A-01-01", d("10"), time.Now().UTC())
	require.NoError(t, store.WithTx(ctx, func(tx inventory.Tx) error {
		return tx.InsertQuant(ctx, q1)
	}))

	// WHEN a second quant with the identical identity tuple is inserted
	q2 := testQuant("q2", "WIDGET", "A-01-01", d("3"), time.Now().UTC())
	err := store.WithTx(ctx, func(tx inventory.Tx) error {
		return tx.InsertQuant(ctx, q2)
	})

	// THEN the unique index rejects it even if engine logic were bypassed
	require.Error(t, err)
}

func TestLockCandidatesStableOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	// GIVEN quants inserted out of receipt order
	require.NoError(t, store.WithTx(ctx, func(tx inventory.Tx) error {
		for _, q := range []*inventory.Quant{
			testQuant("q3", "WIDGET", "C-01", d("5"), base.Add(48*time.Hour)),
			testQuant("q1", "WIDGET", "A-01", d("5"), base),
			testQuant("q2", "WIDGET", "B-01", d("5"), base.Add(24*time.Hour)),
		} {
			if err := tx.InsertQuant(ctx, q); err != nil {
				return err
			}
		}
		return nil
	}))

	// WHEN candidates are locked
	var got []inventory.QuantID
	require.NoError(t, store.WithTx(ctx, func(tx inventory.Tx) error {
		quants, err := tx.LockCandidates(ctx, inventory.CandidateQuery{
			Item:       "WIDGET",
			Owner:      "acme",
			Categories: []inventory.StockCategory{inventory.CategoryUnrestricted},
		})
		if err != nil {
			return err
		}
		for _, q := range quants {
			got = append(got, q.ID)
		}
		return nil
	}))

	// THEN they come back in received_at order regardless of insert order
	assert.Equal(t, []inventory.QuantID{"q1", "q2", "q3"}, got)
}

func TestLockCandidatesFiltersOwnerAndCategory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.WithTx(ctx, func(tx inventory.Tx) error {
		mine := testQuant("q1", "WIDGET", "A-01", d("5"), now)
		other := testQuant("q2", "WIDGET", "B-01", d("5"), now)
		other.Owner = "globex"
		blocked := testQuant("q3", "WIDGET", "C-01", d("5"), now)
		blocked.Category = inventory.CategoryBlocked
		for _, q := range []*inventory.Quant{mine, other, blocked} {
			if err := tx.InsertQuant(ctx, q); err != nil {
				return err
			}
		}
		return nil
	}))

	var got []inventory.QuantID
	require.NoError(t, store.WithTx(ctx, func(tx inventory.Tx) error {
		quants, err := tx.LockCandidates(ctx, inventory.CandidateQuery{
			Item:       "WIDGET",
			Owner:      "acme",
			Categories: []inventory.StockCategory{inventory.CategoryUnrestricted, inventory.CategoryConsignment},
		})
		if err != nil {
			return err
		}
		for _, q := range quants {
			got = append(got, q.ID)
		}
		return nil
	}))

	assert.Equal(t, []inventory.QuantID{"q1"}, got)
}

func TestMovementsNewestFirstWithLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.WithTx(ctx, func(tx inventory.Tx) error {
		for i, id := range []string{"m1", "m2", "m3"} {
			if err := tx.AppendMovement(ctx, &inventory.Movement{
				ID:        inventory.MovementID(id),
				Item:      "WIDGET",
				Qty:       d("1"),
				Type:      inventory.MovementInbound,
				Warehouse: "WH1",
				CreatedAt: base.Add(time.Duration(i) * time.Hour),
			}); err != nil {
				return err
			}
		}
		return nil
	}))

	movements, err := store.Movements(ctx, inventory.MovementFilter{Item: "WIDGET", Limit: 2})
	require.NoError(t, err)
	require.Len(t, movements, 2)
	assert.Equal(t, inventory.MovementID("m3"), movements[0].ID)
	assert.Equal(t, inventory.MovementID("m2"), movements[1].ID)
}

// Full allocation lifecycle against the durable store, proving the engine
// behaves identically on SQLite and the in-memory store.
func TestEngineLifecycleOnSQLite(t *testing.T) {
	store := newTestStore(t)
	engine := inventory.NewEngine(store, nil)
	ctx := context.Background()

	// GIVEN received stock and a one-line outbound order
	quant, err := engine.Receive(ctx, inventory.ReceiveInput{
		Item: "WIDGET", Bin: "A-01-01", Warehouse: "WH1", Owner: "acme", Qty: d("100"),
	})
	require.NoError(t, err)

	doc, err := engine.CreateDocument(ctx, inventory.DocumentInput{
		Number: "SO-1001", Type: inventory.DocTypeOutbound, Warehouse: "WH1", Owner: "acme",
	})
	require.NoError(t, err)
	line, err := engine.AddLine(ctx, doc.ID, "WIDGET", d("60"))
	require.NoError(t, err)

	// WHEN the document is reserved and fully picked
	result, err := engine.ReserveDocument(ctx, doc.ID, inventory.FIFO, "tester")
	require.NoError(t, err)
	assert.True(t, result.TotalAllocated.Equal(d("60")))
	assert.Equal(t, inventory.StatusFullyAllocated, result.Status)

	reservations, err := store.ReservationsForDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, reservations, 1)

	picked, err := engine.Pick(ctx, reservations[0].ID, d("60"), "tester")
	require.NoError(t, err)
	require.True(t, picked)

	// THEN the quant shrank, the document completed, and the ledger holds
	// the full history
	got, err := store.GetQuant(ctx, quant.ID)
	require.NoError(t, err)
	assert.True(t, got.Qty.Equal(d("40")))
	assert.True(t, got.QtyReserved.IsZero())

	gotDoc, err := store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.StatusCompleted, gotDoc.Status)

	lines, err := store.LinesForDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, line.ID, lines[0].ID)
	assert.True(t, lines[0].QtyPicked.Equal(d("60")))

	movements, err := store.Movements(ctx, inventory.MovementFilter{Item: "WIDGET"})
	require.NoError(t, err)
	require.Len(t, movements, 3)
	assert.Equal(t, inventory.MovementOutbound, movements[0].Type)
	assert.Equal(t, inventory.MovementReserved, movements[1].Type)
	assert.Equal(t, inventory.MovementInbound, movements[2].Type)
}

// Durability: a second Store handle over the same file sees committed state.
func TestDurabilityAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s1, err := New(path)
	require.NoError(t, err)
	require.NoError(t, s1.WithTx(ctx, func(tx inventory.Tx) error {
		return tx.InsertQuant(ctx, testQuant("q1", "WIDGET", "A-01-01", d("10"), time.Now().UTC()))
	}))
	require.NoError(t, s1.Close())

	s2, err := New(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.GetQuant(ctx, "q1")
	require.NoError(t, err)
	assert.True(t, got.Qty.Equal(d("10")))
}
