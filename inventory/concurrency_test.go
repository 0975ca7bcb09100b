package inventory_test

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vlasisgeo/quantwms/inventory"
)

// Two documents race to reserve 60 each from a single quant of 100.
// Whatever the interleaving, total reserved never exceeds on-hand.
func TestConcurrentReserveNeverOversells(t *testing.T) {
	engine := newTestEngine()
	ctx := context.Background()

	quant := receiveSimple(t, engine, "WIDGET", "A-01", "100")

	docs := make([]*inventory.Document, 2)
	for i, n := range []string{"SO-1", "SO-2"} {
		doc, err := engine.CreateDocument(ctx, inventory.DocumentInput{
			Number: n, Warehouse: "WH1", Owner: "acme",
		})
		require.NoError(t, err)
		_, err = engine.AddLine(ctx, doc.ID, "WIDGET", d("60"))
		require.NoError(t, err)
		docs[i] = doc
	}

	var wg sync.WaitGroup
	results := make([]*inventory.AllocationResult, 2)
	errs := make([]error, 2)
	for i := range docs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = engine.ReserveDocument(ctx, docs[i].ID, inventory.FIFO, "")
		}(i)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	total := results[0].TotalAllocated.Add(results[1].TotalAllocated)
	assert.True(t, total.LessThanOrEqual(d("100")),
		"allocated %s across both documents, only 100 on hand", total)

	got, err := engine.Store().GetQuant(ctx, quant.ID)
	require.NoError(t, err)
	assert.True(t, got.QtyReserved.Equal(total))
	assert.True(t, got.QtyReserved.LessThanOrEqual(got.Qty))

	// One document got its full 60; the loser got the remaining 40.
	assert.True(t, total.Equal(d("100")))
}

// Two pickers race to pick the full reservation. Exactly one succeeds;
// the stock leaves once.
func TestConcurrentPickDeductsOnce(t *testing.T) {
	engine := newTestEngine()
	ctx := context.Background()

	receiveSimple(t, engine, "WIDGET", "A-01", "50")
	doc, err := engine.CreateDocument(ctx, inventory.DocumentInput{
		Number: "SO-1", Warehouse: "WH1", Owner: "acme",
	})
	require.NoError(t, err)
	_, err = engine.AddLine(ctx, doc.ID, "WIDGET", d("50"))
	require.NoError(t, err)
	_, err = engine.ReserveDocument(ctx, doc.ID, inventory.FIFO, "")
	require.NoError(t, err)

	reservations, err := engine.Store().ReservationsForDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, reservations, 1)
	resID := reservations[0].ID

	var wg sync.WaitGroup
	outcomes := make([]bool, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = engine.Pick(ctx, resID, d("50"), "picker")
		}(i)
	}
	wg.Wait()

	// The loser sees either a boolean refusal (remainder gone) or a
	// not-found once the winner deleted the reservation.
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, inventory.ErrReservationNotFound)
		}
	}

	successes := 0
	for _, ok := range outcomes {
		if ok {
			successes++
		}
	}
	assert.Equal(t, 1, successes, "exactly one pick must win")

	// The single outbound movement confirms one deduction
	movements, err := engine.Store().Movements(ctx, inventory.MovementFilter{Type: inventory.MovementOutbound})
	require.NoError(t, err)
	assert.Len(t, movements, 1)
}

// Racing receives on the same identity tuple merge into one quant with the
// summed quantity; the find-or-create is atomic.
func TestConcurrentReceiveSameTupleMerges(t *testing.T) {
	engine := newTestEngine()
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.Receive(ctx, inventory.ReceiveInput{
				Item: "WIDGET", Bin: "A-01", Warehouse: "WH1", Owner: "acme", Qty: d("10"),
			})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	quants, err := engine.Store().ListQuants(ctx, inventory.QuantFilter{Item: "WIDGET"})
	require.NoError(t, err)
	require.Len(t, quants, 1, "one tuple, one quant")
	assert.True(t, quants[0].Qty.Equal(d("80")))

	movements, err := engine.Store().Movements(ctx, inventory.MovementFilter{Type: inventory.MovementInbound})
	require.NoError(t, err)
	assert.Len(t, movements, workers, "every receive is individually audited")
}

// Opposite transfers between two bins run concurrently without deadlock;
// totals are conserved.
func TestOppositeTransfersConserveStock(t *testing.T) {
	engine := newTestEngine()
	ctx := context.Background()

	a := receiveSimple(t, engine, "WIDGET", "A-01", "50")
	b := receiveSimple(t, engine, "WIDGET", "B-01", "50")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = engine.Transfer(ctx, inventory.TransferInput{
			FromQuant: a.ID, ToBin: "B-01", Qty: d("20"),
		})
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = engine.Transfer(ctx, inventory.TransferInput{
			FromQuant: b.ID, ToBin: "A-01", Qty: d("20"),
		})
	}()
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	quants, err := engine.Store().ListQuants(ctx, inventory.QuantFilter{Item: "WIDGET"})
	require.NoError(t, err)
	total := decimal.Zero
	for _, q := range quants {
		total = total.Add(q.Qty)
	}
	assert.True(t, total.Equal(d("100")), "transfers move stock, never create or destroy it")
}

// A cancel racing a pick ends in exactly one of two consistent states:
// canceled with all stock released, or picked with the cancel refused.
func TestCancelPickRaceStaysConsistent(t *testing.T) {
	engine := newTestEngine()
	ctx := context.Background()

	receiveSimple(t, engine, "WIDGET", "A-01", "50")
	doc, err := engine.CreateDocument(ctx, inventory.DocumentInput{
		Number: "SO-1", Warehouse: "WH1", Owner: "acme",
	})
	require.NoError(t, err)
	_, err = engine.AddLine(ctx, doc.ID, "WIDGET", d("50"))
	require.NoError(t, err)
	_, err = engine.ReserveDocument(ctx, doc.ID, inventory.FIFO, "")
	require.NoError(t, err)

	reservations, err := engine.Store().ReservationsForDocument(ctx, doc.ID)
	require.NoError(t, err)
	resID := reservations[0].ID

	var wg sync.WaitGroup
	var picked, canceled bool
	var pickErr, cancelErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		picked, pickErr = engine.Pick(ctx, resID, d("50"), "picker")
	}()
	go func() {
		defer wg.Done()
		canceled, cancelErr = engine.CancelDocument(ctx, doc.ID, "supervisor")
	}()
	wg.Wait()

	require.NoError(t, cancelErr)
	if pickErr != nil {
		// Cancel won and deleted the reservation first.
		assert.ErrorIs(t, pickErr, inventory.ErrReservationNotFound)
		picked = false
	}

	gotDoc, err := engine.Store().GetDocument(ctx, doc.ID)
	require.NoError(t, err)

	switch {
	case canceled:
		assert.False(t, picked, "cancel succeeded, so the pick must have lost")
		assert.Equal(t, inventory.StatusCanceled, gotDoc.Status)
		quants, err := engine.Store().ListQuants(ctx, inventory.QuantFilter{Item: "WIDGET"})
		require.NoError(t, err)
		require.Len(t, quants, 1)
		assert.True(t, quants[0].QtyReserved.IsZero())
	default:
		assert.True(t, picked, "cancel refused, so the pick must have won")
		assert.Equal(t, inventory.StatusCompleted, gotDoc.Status)
	}
}
