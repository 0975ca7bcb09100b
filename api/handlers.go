/*
handlers.go - HTTP API handlers for the inventory engine

PURPOSE:
  Exposes the allocation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Quants:
    GET    /api/quants                     List quants (filterable)
    GET    /api/quants/{id}                Get one quant
    DELETE /api/quants/{id}                Delete an empty quant
    POST   /api/quants/receive             Receive stock
    POST   /api/quants/transfer            Transfer between bins
    POST   /api/quants/{id}/adjust         Manual correction

  Items:
    GET    /api/items/{item}/inventory     Aggregate stock snapshot

  Movements:
    GET    /api/movements                  Audit log (filterable)

  Documents:
    POST   /api/documents                  Create document (DRAFT)
    GET    /api/documents/{id}             Header + lines + totals
    POST   /api/documents/{id}/lines       Add a line
    POST   /api/documents/{id}/reserve     Allocate all lines
    POST   /api/documents/{id}/cancel      Cancel (refused after picks)
    GET    /api/documents/{id}/picking-list Open picks grouped by bin

  Reservations:
    POST   /api/reservations/{id}/pick      Confirm a pick
    POST   /api/reservations/{id}/unreserve Release the remainder

ERROR HANDLING:
  Domain errors map to HTTP status via the inventory error helpers:
  - 400: invalid input, insufficient availability, closed documents
  - 404: missing quant/reservation/document/line
  - 503: lock timeouts (whole operation is retryable)
  - 500: everything else
  Over-pick and cancel-after-pick are business outcomes, not errors:
  they return 200 with picked/canceled=false.

ACTOR ATTRIBUTION:
  The X-Actor header, when present, is recorded on movements.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/vlasisgeo/quantwms/inventory"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *inventory.Engine
	Log    *zap.Logger
}

// NewHandler creates a new handler around the engine.
func NewHandler(engine *inventory.Engine, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Engine: engine, Log: log}
}

func actor(r *http.Request) string {
	return r.Header.Get("X-Actor")
}

// =============================================================================
// QUANT HANDLERS
// =============================================================================

// ListQuants returns quants matching the query filters.
func (h *Handler) ListQuants(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	quants, err := h.Engine.Store().ListQuants(r.Context(), inventory.QuantFilter{
		Item:      inventory.ItemID(q.Get("item")),
		Bin:       inventory.BinID(q.Get("bin")),
		Warehouse: inventory.WarehouseID(q.Get("warehouse")),
		Owner:     inventory.OwnerID(q.Get("owner")),
	})
	if err != nil {
		h.writeDomainError(w, "Failed to list quants", err)
		return
	}
	if quants == nil {
		quants = []*inventory.Quant{}
	}
	writeJSON(w, http.StatusOK, quants)
}

// GetQuant returns a single quant by ID.
func (h *Handler) GetQuant(w http.ResponseWriter, r *http.Request) {
	quant, err := h.Engine.Store().GetQuant(r.Context(), inventory.QuantID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, "Failed to get quant", err)
		return
	}
	writeJSON(w, http.StatusOK, quant)
}

// DeleteQuant removes an empty quant.
func (h *Handler) DeleteQuant(w http.ResponseWriter, r *http.Request) {
	err := h.Engine.DeleteQuant(r.Context(), inventory.QuantID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, "Failed to delete quant", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Receive books stock into a bin, creating or incrementing the quant.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	var req ReceiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	in := inventory.ReceiveInput{
		Item:      inventory.ItemID(req.Item),
		Bin:       inventory.BinID(req.Bin),
		Warehouse: inventory.WarehouseID(req.Warehouse),
		LotCode:   req.LotCode,
		Category:  inventory.StockCategory(req.Category),
		Owner:     inventory.OwnerID(req.Owner),
		Qty:       req.Qty,
		Actor:     actor(r),
		Reference: req.Reference,
	}
	if req.Category != "" && !in.Category.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown stock category", nil)
		return
	}
	if req.LotExpiry != "" {
		expiry, err := time.Parse("2006-01-02", req.LotExpiry)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid lot_expiry format (use YYYY-MM-DD)", err)
			return
		}
		in.LotExpiry = &expiry
	}

	quant, err := h.Engine.Receive(r.Context(), in)
	if err != nil {
		h.writeDomainError(w, "Failed to receive stock", err)
		return
	}
	writeJSON(w, http.StatusCreated, quant)
}

// Transfer moves quantity between bins atomically.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	dest, err := h.Engine.Transfer(r.Context(), inventory.TransferInput{
		FromQuant:   inventory.QuantID(req.FromQuant),
		ToBin:       inventory.BinID(req.ToBin),
		ToWarehouse: inventory.WarehouseID(req.ToWarehouse),
		Qty:         req.Qty,
		Actor:       actor(r),
		Reference:   req.Reference,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to transfer stock", err)
		return
	}
	writeJSON(w, http.StatusOK, dest)
}

// Adjust applies a signed manual correction.
func (h *Handler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	quant, err := h.Engine.Adjust(r.Context(),
		inventory.QuantID(chi.URLParam(r, "id")), req.Delta, actor(r), req.Reason)
	if err != nil {
		h.writeDomainError(w, "Failed to adjust quant", err)
		return
	}
	writeJSON(w, http.StatusOK, quant)
}

// ItemInventory returns the aggregate snapshot for one item.
func (h *Handler) ItemInventory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	inv, err := h.Engine.InventoryByItem(r.Context(),
		inventory.ItemID(chi.URLParam(r, "item")),
		inventory.WarehouseID(q.Get("warehouse")),
		inventory.OwnerID(q.Get("owner")))
	if err != nil {
		h.writeDomainError(w, "Failed to build inventory snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// =============================================================================
// MOVEMENT HANDLERS
// =============================================================================

// ListMovements returns the audit log, newest first.
func (h *Handler) ListMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := inventory.MovementFilter{
		Item:      inventory.ItemID(q.Get("item")),
		Warehouse: inventory.WarehouseID(q.Get("warehouse")),
		Type:      inventory.MovementType(q.Get("type")),
		Limit:     100,
	}

	movements, err := h.Engine.Store().Movements(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, "Failed to list movements", err)
		return
	}
	if movements == nil {
		movements = []*inventory.Movement{}
	}
	writeJSON(w, http.StatusOK, movements)
}

// =============================================================================
// DOCUMENT HANDLERS
// =============================================================================

// CreateDocument opens a new document in DRAFT.
func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var req CreateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Number == "" {
		writeError(w, http.StatusBadRequest, "doc_number is required", nil)
		return
	}

	doc, err := h.Engine.CreateDocument(r.Context(), inventory.DocumentInput{
		Number:    req.Number,
		Type:      inventory.DocumentType(req.Type),
		Warehouse: inventory.WarehouseID(req.Warehouse),
		Owner:     inventory.OwnerID(req.Owner),
		Notes:     req.Notes,
		CreatedBy: actor(r),
	})
	if err != nil {
		h.writeDomainError(w, "Failed to create document", err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// GetDocument returns the header, lines, and derived totals.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	docID := inventory.DocumentID(chi.URLParam(r, "id"))

	doc, err := h.Engine.Store().GetDocument(r.Context(), docID)
	if err != nil {
		h.writeDomainError(w, "Failed to get document", err)
		return
	}
	lines, err := h.Engine.Store().LinesForDocument(r.Context(), docID)
	if err != nil {
		h.writeDomainError(w, "Failed to get document lines", err)
		return
	}
	if lines == nil {
		lines = []*inventory.DocumentLine{}
	}

	writeJSON(w, http.StatusOK, DocumentResponse{
		Document: doc,
		Lines:    lines,
		Totals:   inventory.Totals(lines),
	})
}

// AddLine appends an item line to a document.
func (h *Handler) AddLine(w http.ResponseWriter, r *http.Request) {
	var req AddLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	line, err := h.Engine.AddLine(r.Context(),
		inventory.DocumentID(chi.URLParam(r, "id")),
		inventory.ItemID(req.Item), req.Qty)
	if err != nil {
		h.writeDomainError(w, "Failed to add line", err)
		return
	}
	writeJSON(w, http.StatusCreated, line)
}

// Reserve allocates every line of the document.
func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req ReserveRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	strategy := inventory.Strategy(req.Strategy)
	if req.Strategy != "" && !strategy.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown strategy (use FIFO or FEFO)", nil)
		return
	}

	result, err := h.Engine.ReserveDocument(r.Context(),
		inventory.DocumentID(chi.URLParam(r, "id")), strategy, actor(r))
	if err != nil {
		h.writeDomainError(w, "Failed to reserve document", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Cancel releases the document's open reservations and sets CANCELED.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	canceled, err := h.Engine.CancelDocument(r.Context(),
		inventory.DocumentID(chi.URLParam(r, "id")), actor(r))
	if err != nil {
		h.writeDomainError(w, "Failed to cancel document", err)
		return
	}

	resp := CancelResponse{Canceled: canceled}
	if !canceled {
		resp.Reason = "document has picked lines or is completed; use an adjustment instead"
	}
	writeJSON(w, http.StatusOK, resp)
}

// PickingList returns open reservations grouped by bin for the picker walk.
func (h *Handler) PickingList(w http.ResponseWriter, r *http.Request) {
	list, err := h.Engine.PickingList(r.Context(), inventory.DocumentID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, "Failed to build picking list", err)
		return
	}
	if list == nil {
		list = []inventory.PickingGroup{}
	}
	writeJSON(w, http.StatusOK, list)
}

// =============================================================================
// RESERVATION HANDLERS
// =============================================================================

// Pick confirms a physical pick against a reservation.
func (h *Handler) Pick(w http.ResponseWriter, r *http.Request) {
	var req PickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	picked, err := h.Engine.Pick(r.Context(),
		inventory.ReservationID(chi.URLParam(r, "id")), req.Qty, actor(r))
	if err != nil {
		h.writeDomainError(w, "Failed to pick", err)
		return
	}

	resp := PickResponse{Picked: picked}
	if !picked {
		resp.Reason = "requested quantity exceeds the unpicked remainder"
	}
	writeJSON(w, http.StatusOK, resp)
}

// Unreserve releases a reservation's unpicked remainder.
func (h *Handler) Unreserve(w http.ResponseWriter, r *http.Request) {
	err := h.Engine.Unreserve(r.Context(),
		inventory.ReservationID(chi.URLParam(r, "id")), actor(r))
	if err != nil {
		h.writeDomainError(w, "Failed to unreserve", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

// Health is the liveness probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// writeDomainError maps inventory errors onto HTTP status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case inventory.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case inventory.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case inventory.IsRetryable(err):
		writeError(w, http.StatusServiceUnavailable, message, err)
	default:
		h.Log.Error(message, zap.Error(err))
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
