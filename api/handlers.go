/*
handlers.go - HTTP API handlers for the smart bin loyalty system

PURPOSE:
  Exposes the points engine and bin registry via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Users:
    POST   /api/v1/users                      Register user
    GET    /api/v1/users/{id}                 Get user details

  Transactions:
    POST   /api/v1/transactions/deposit       Record a bottle deposit
    POST   /api/v1/transactions/redeem        Redeem points to an e-wallet
    GET    /api/v1/transactions               Transaction history
    GET    /api/v1/transactions/points        Detailed points history
    GET    /api/v1/transactions/total-points  Balance summary
    GET    /api/v1/transactions/{id}          Single transaction
    POST   /api/v1/transactions/calculate     Points-to-cash quote
    GET    /api/v1/transactions/options       E-wallet providers
    GET    /api/v1/transactions/packages      Redemption packages

  Smart bins:
    GET    /api/v1/smart-bins                 List bins (optional ?status=)
    POST   /api/v1/smart-bins                 Register bin
    GET    /api/v1/smart-bins/{id}            Get bin
    POST   /api/v1/smart-bins/{id}/status     Device status report
    POST   /api/v1/smart-bins/{id}/heartbeat  Liveness ping

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (engine, registry)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Domain errors map to HTTP status via writeDomainError:
  - 400: validation, insufficient balance
  - 404: unknown user/bin/entry
  - 409: lost concurrency race after retries, terminal entry
  - 422: deposit rejected by bin serviceability policy
  - 502: payout gateway failure
  - 500: everything else

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rofiuddin15/smartbin-api/bin"
	"github.com/rofiuddin15/smartbin-api/ledger"
	"github.com/rofiuddin15/smartbin-api/payout"
	"github.com/rofiuddin15/smartbin-api/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    *sqlite.Store
	Engine   *ledger.Engine
	Registry *bin.Registry
}

// NewHandler creates a new handler.
func NewHandler(store *sqlite.Store, engine *ledger.Engine, registry *bin.Registry) *Handler {
	return &Handler{Store: store, Engine: engine, Registry: registry}
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// CreateUser registers a user.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}

	u := ledger.User{ID: ledger.UserID(req.ID), Name: req.Name, CreatedAt: time.Now().UTC()}
	if err := h.Store.SaveUser(r.Context(), u); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create user", err)
		return
	}

	writeJSON(w, http.StatusCreated, toUserDTO(u))
}

// GetUser returns a single user.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	u, err := h.Store.GetUser(r.Context(), ledger.UserID(id))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get user", err)
		return
	}
	if u == nil {
		writeError(w, http.StatusNotFound, "User not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toUserDTO(*u))
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// Deposit records a bottle deposit and awards points.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	entry, err := h.Engine.Deposit(r.Context(), ledger.DepositInput{
		UserID:          ledger.UserID(req.UserID),
		BinID:           bin.ID(req.BinID),
		BottlesCount:    req.BottlesCount,
		PointsPerBottle: ledger.Points(req.PointsPerBottle),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toEntryDTO(*entry))
}

// Redeem converts points into an e-wallet payout.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	entry, err := h.Engine.Redeem(r.Context(), ledger.RedeemInput{
		UserID:  ledger.UserID(req.UserID),
		Points:  ledger.Points(req.Points),
		Method:  ledger.PayoutMethod(req.WalletType),
		Account: req.WalletAccount,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toEntryDTO(*entry))
}

// ListTransactions returns the caller's transaction history, newest-first.
// Query params: user_id (required), type, from, to, page, per_page.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, filter, err := historyQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	entries, err := h.Engine.Entries(r.Context(), userID, filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetTransaction returns a single ledger entry.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	entry, err := h.Engine.Entry(r.Context(), ledger.EntryID(id))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "Transaction not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toEntryDTO(*entry))
}

// PointsHistory returns the detailed before/after audit chain.
func (h *Handler) PointsHistory(w http.ResponseWriter, r *http.Request) {
	userID, filter, err := historyQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	audits, err := h.Engine.Audits(r.Context(), userID, filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]AuditDTO, len(audits))
	for i, a := range audits {
		dtos[i] = toAuditDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// TotalPoints returns the balance summary with its cash value.
func (h *Handler) TotalPoints(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}

	points, err := h.Engine.Balance(r.Context(), ledger.UserID(userID))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{
		UserID:      userID,
		TotalPoints: int64(points),
		CashValue:   h.Engine.Quote(points).StringFixed(2),
		Currency:    "IDR",
	})
}

// Calculate quotes the cash value of a point amount.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	var req CalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Points < 0 {
		writeError(w, http.StatusBadRequest, "points must be >= 0", nil)
		return
	}

	policy := h.Engine.Policy()
	points := ledger.Points(req.Points)
	writeJSON(w, http.StatusOK, CalculateDTO{
		Points:        req.Points,
		Amount:        h.Engine.Quote(points).StringFixed(2),
		Currency:      "IDR",
		MinimumPoints: int64(policy.MinimumRedeemPoints),
		Redeemable:    points >= policy.MinimumRedeemPoints,
	})
}

// WalletOptions lists the supported e-wallet providers.
func (h *Handler) WalletOptions(w http.ResponseWriter, r *http.Request) {
	options := payout.Options()
	dtos := make([]WalletOptionDTO, len(options))
	for i, o := range options {
		dtos[i] = toWalletOptionDTO(o)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Packages lists the predefined redemption amounts with cash values.
func (h *Handler) Packages(w http.ResponseWriter, r *http.Request) {
	packages := payout.Packages()
	dtos := make([]PackageDTO, len(packages))
	for i, p := range packages {
		dtos[i] = PackageDTO{
			ID:     p.ID,
			Points: int64(p.Points),
			Amount: h.Engine.Quote(p.Points).StringFixed(2),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// SMART BIN HANDLERS
// =============================================================================

// ListBins returns all bins, optionally filtered by ?status=.
func (h *Handler) ListBins(w http.ResponseWriter, r *http.Request) {
	status := bin.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid status filter", nil)
		return
	}

	bins, err := h.Registry.List(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list smart bins", err)
		return
	}

	dtos := make([]BinDTO, len(bins))
	for i, b := range bins {
		dtos[i] = toBinDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateBin registers a smart bin.
func (h *Handler) CreateBin(w http.ResponseWriter, r *http.Request) {
	var req CreateBinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Code == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id, bin_code and name are required", nil)
		return
	}

	now := time.Now().UTC()
	b := bin.SmartBin{
		ID:        bin.ID(req.ID),
		Code:      req.Code,
		Name:      req.Name,
		Location:  req.Location,
		Status:    bin.StatusOffline,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.Store.SaveBin(r.Context(), b); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create smart bin", err)
		return
	}

	writeJSON(w, http.StatusCreated, toBinDTO(b))
}

// GetBin returns a single bin.
func (h *Handler) GetBin(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	b, err := h.Registry.Get(r.Context(), bin.ID(id))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toBinDTO(*b))
}

// UpdateBinStatus applies a device status report.
func (h *Handler) UpdateBinStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req BinStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	b, err := h.Registry.SetStatus(r.Context(), bin.ID(id), bin.StatusUpdate{
		Status:             bin.Status(req.Status),
		CapacityPercentage: req.CapacityPercentage,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toBinDTO(*b))
}

// Heartbeat marks a bin online and refreshes its last-seen time.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	b, err := h.Registry.Heartbeat(r.Context(), bin.ID(id))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toBinDTO(*b))
}

// =============================================================================
// HEALTH
// =============================================================================

// Health is a liveness probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func historyQuery(r *http.Request) (ledger.UserID, ledger.EntryFilter, error) {
	q := r.URL.Query()

	userID := q.Get("user_id")
	if userID == "" {
		return "", ledger.EntryFilter{}, errors.New("user_id is required")
	}

	var filter ledger.EntryFilter
	if t := q.Get("type"); t != "" {
		kind := ledger.EntryKind(t)
		if kind != ledger.KindDeposit && kind != ledger.KindRedeem {
			return "", ledger.EntryFilter{}, errors.New("type must be deposit or redeem")
		}
		filter.Kind = &kind
	}
	if from := q.Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return "", ledger.EntryFilter{}, errors.New("from must be RFC3339")
		}
		filter.From = &t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return "", ledger.EntryFilter{}, errors.New("to must be RFC3339")
		}
		filter.To = &t
	}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PerPage, _ = strconv.Atoi(q.Get("per_page"))

	return ledger.UserID(userID), filter, nil
}

// writeDomainError maps domain errors to HTTP responses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case ledger.IsNotFound(err) || errors.Is(err, bin.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeError(w, http.StatusBadRequest, "Insufficient balance", err)
	case errors.Is(err, ledger.ErrInvalidInput) || errors.Is(err, bin.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, "Invalid input", err)
	case errors.Is(err, ledger.ErrBinUnserviceable):
		writeError(w, http.StatusUnprocessableEntity, "Smart bin cannot accept deposits", err)
	case errors.Is(err, ledger.ErrConcurrencyConflict) || errors.Is(err, ledger.ErrEntryFinalized):
		writeError(w, http.StatusConflict, "Conflict", err)
	case errors.Is(err, ledger.ErrPayoutFailed):
		writeError(w, http.StatusBadGateway, "Payout failed", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
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
