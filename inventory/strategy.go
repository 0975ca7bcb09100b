/*
strategy.go - Allocation strategies (FIFO / FEFO)

Strategies are a closed enum with an associated comparator, selected at call
time. No plugin mechanism: two strategies is the whole surface.

Lock ordering note: candidates are always LOCKED in the stable global order
(received_at, then id) regardless of strategy. The strategy comparator is
applied to the candidate slice only after all locks are held, so concurrent
reserves over overlapping candidate sets can never deadlock on ordering.
*/
package inventory

import "sort"

// Strategy selects the order in which locked candidate Quants are consumed.
type Strategy string

const (
	// FIFO allocates oldest received stock first.
	FIFO Strategy = "FIFO"
	// FEFO allocates earliest lot expiry first (no-expiry lots last),
	// falling back to received time.
	FEFO Strategy = "FEFO"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	return s == FIFO || s == FEFO
}

// less is the strategy comparator over two candidate Quants.
func (s Strategy) less(a, b *Quant) bool {
	if s == FEFO {
		switch {
		case a.LotExpiry != nil && b.LotExpiry == nil:
			return true
		case a.LotExpiry == nil && b.LotExpiry != nil:
			return false
		case a.LotExpiry != nil && b.LotExpiry != nil && !a.LotExpiry.Equal(*b.LotExpiry):
			return a.LotExpiry.Before(*b.LotExpiry)
		}
	}
	if !a.ReceivedAt.Equal(b.ReceivedAt) {
		return a.ReceivedAt.Before(b.ReceivedAt)
	}
	return a.ID < b.ID
}

// sortCandidates orders an already-locked candidate slice by strategy.
// Stable so equal candidates keep the deterministic lock order.
func (s Strategy) sortCandidates(quants []*Quant) {
	sort.SliceStable(quants, func(i, j int) bool {
		return s.less(quants[i], quants[j])
	})
}
