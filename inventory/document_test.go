package inventory

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func line(requested, allocated, picked string) *DocumentLine {
	return &DocumentLine{
		QtyRequested: decimal.RequireFromString(requested),
		QtyAllocated: decimal.RequireFromString(allocated),
		QtyPicked:    decimal.RequireFromString(picked),
	}
}

func TestComputeStatus(t *testing.T) {
	tests := []struct {
		name    string
		current DocumentStatus
		lines   []*DocumentLine
		want    DocumentStatus
	}{
		{
			name:    "canceled is terminal regardless of lines",
			current: StatusCanceled,
			lines:   []*DocumentLine{line("10", "10", "10")},
			want:    StatusCanceled,
		},
		{
			name:    "no lines keeps draft",
			current: StatusDraft,
			lines:   nil,
			want:    StatusDraft,
		},
		{
			name:    "nothing allocated stays pending",
			current: StatusPending,
			lines:   []*DocumentLine{line("10", "0", "0")},
			want:    StatusPending,
		},
		{
			name:    "first line moves draft to pending",
			current: StatusDraft,
			lines:   []*DocumentLine{line("10", "0", "0")},
			want:    StatusPending,
		},
		{
			name:    "unallocated line dilutes a fully allocated document",
			current: StatusFullyAllocated,
			lines:   []*DocumentLine{line("10", "10", "0"), line("5", "0", "0")},
			want:    StatusPartiallyAllocated,
		},
		{
			name:    "some allocated",
			current: StatusPending,
			lines:   []*DocumentLine{line("10", "4", "0")},
			want:    StatusPartiallyAllocated,
		},
		{
			name:    "one line full one line empty is still partial",
			current: StatusPending,
			lines:   []*DocumentLine{line("10", "10", "0"), line("5", "0", "0")},
			want:    StatusPartiallyAllocated,
		},
		{
			name:    "all allocated",
			current: StatusPending,
			lines:   []*DocumentLine{line("10", "10", "0"), line("5", "5", "0")},
			want:    StatusFullyAllocated,
		},
		{
			name:    "any pick moves to partially picked",
			current: StatusFullyAllocated,
			lines:   []*DocumentLine{line("10", "10", "1")},
			want:    StatusPartiallyPicked,
		},
		{
			name:    "everything picked completes",
			current: StatusPartiallyPicked,
			lines:   []*DocumentLine{line("10", "10", "10"), line("5", "5", "5")},
			want:    StatusCompleted,
		},
		{
			name:    "released allocation falls back to pending",
			current: StatusFullyAllocated,
			lines:   []*DocumentLine{line("10", "0", "0")},
			want:    StatusPending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeStatus(tt.current, tt.lines))
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusCanceled.Terminal())
	assert.False(t, StatusDraft.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusPartiallyPicked.Terminal())
}
