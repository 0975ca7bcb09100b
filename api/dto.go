/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Request bodies are
  decoupled from the domain types; responses reuse the domain types
  directly where their JSON shape already is the API contract (Quant,
  Movement, Document, AllocationResult, PickingGroup).

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

QUANTITIES:
  All quantities are decimal strings or JSON numbers; shopspring/decimal
  accepts both and never loses precision. Responses always emit strings.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/vlasisgeo/quantwms/inventory"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// ReceiveRequest books stock into a bin.
type ReceiveRequest struct {
	Item      string          `json:"item"`
	Bin       string          `json:"bin"`
	Warehouse string          `json:"warehouse"`
	LotCode   string          `json:"lot_code,omitempty"`
	LotExpiry string          `json:"lot_expiry,omitempty"` // YYYY-MM-DD
	Category  string          `json:"category,omitempty"`
	Owner     string          `json:"owner"`
	Qty       decimal.Decimal `json:"qty"`
	Reference string          `json:"reference,omitempty"`
}

// TransferRequest moves quantity from a quant to another bin.
type TransferRequest struct {
	FromQuant   string          `json:"from_quant"`
	ToBin       string          `json:"to_bin"`
	ToWarehouse string          `json:"to_warehouse,omitempty"`
	Qty         decimal.Decimal `json:"qty"`
	Reference   string          `json:"reference,omitempty"`
}

// AdjustRequest applies a signed manual correction to a quant.
type AdjustRequest struct {
	Delta  decimal.Decimal `json:"delta"`
	Reason string          `json:"reason,omitempty"`
}

// CreateDocumentRequest opens a new document in DRAFT.
type CreateDocumentRequest struct {
	Number    string `json:"doc_number"`
	Type      string `json:"doc_type,omitempty"`
	Warehouse string `json:"warehouse"`
	Owner     string `json:"owner"`
	Notes     string `json:"notes,omitempty"`
}

// AddLineRequest appends an item line to a document.
type AddLineRequest struct {
	Item string          `json:"item"`
	Qty  decimal.Decimal `json:"qty"`
}

// ReserveRequest allocates a document's lines against available stock.
type ReserveRequest struct {
	Strategy string `json:"strategy,omitempty"` // FIFO (default) or FEFO
}

// PickRequest confirms a physical pick against a reservation.
type PickRequest struct {
	Qty decimal.Decimal `json:"qty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// DocumentResponse is a document header with its lines and derived totals.
type DocumentResponse struct {
	Document *inventory.Document       `json:"document"`
	Lines    []*inventory.DocumentLine `json:"lines"`
	Totals   inventory.DocumentTotals  `json:"totals"`
}

// PickResponse reports the outcome of a pick attempt. Rejections (over-pick)
// are reported here, not as HTTP errors.
type PickResponse struct {
	Picked bool   `json:"picked"`
	Reason string `json:"reason,omitempty"`
}

// CancelResponse reports the outcome of a cancel attempt.
type CancelResponse struct {
	Canceled bool   `json:"canceled"`
	Reason   string `json:"reason,omitempty"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
