/*
handlers.go - HTTP API handlers for the reseller hierarchy engine

PURPOSE:
  Exposes the hierarchy core via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Accounts:
    GET    /api/accounts                    List visible accounts
    POST   /api/accounts                    Create distributor/reseller
    GET    /api/accounts/{id}               Account details
    PUT    /api/accounts/{id}               Admin edit
    DELETE /api/accounts/{id}               Admin delete
    POST   /api/accounts/{id}/deactivate    Manual cascade
    POST   /api/accounts/{id}/reactivate    Explicit reactivation
    GET    /api/accounts/{id}/transactions  Scoped history
    GET    /api/accounts/{id}/subscribers   Reseller's subscribers

  Transactions:
    GET    /api/transactions                Scoped history
    POST   /api/transactions                Execute transfer
    DELETE /api/transactions/{id}           Admin reversal

  Capping:
    GET    /api/capping                     Current floors
    PUT    /api/capping                     Admin update

  Subscribers:
    POST   /api/subscribers                 Create Fresh subscriber
    GET    /api/subscribers/{id}            Subscriber details
    POST   /api/subscribers/{id}/activate   Paid activation/renewal
    DELETE /api/subscribers/{id}            Release / purge

  Catalog:
    GET    /api/packages                    List packages

  Scenarios:
    GET    /api/scenarios                   List demo scenarios
    POST   /api/scenarios/load              Seed a demo hierarchy

ERROR HANDLING:
  Domain errors map onto HTTP status by kind:
  - 400: validation errors, invalid input
  - 403: hierarchy authorization failures
  - 404: missing account/subscriber/entry/package
  - 409: insufficient funds, capping violations, unresolved conflicts,
         immutable-parent and outstanding-subordinate rejections
  - 500: everything else

SEE ALSO:
  - dto.go: request/response data structures
  - auth.go: caller resolution
  - server.go: router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/skycast/reseller-engine/catalog"
	"github.com/skycast/reseller-engine/hierarchy"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   hierarchy.Store
	Catalog catalog.Catalog

	Accounts    *hierarchy.AccountService
	Subscribers *hierarchy.SubscriberService
	Ledger      *hierarchy.LedgerService
	Capping     *hierarchy.CappingPolicy
	Cascade     *hierarchy.CascadeEngine

	Log zerolog.Logger

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler wires the domain services around one store.
func NewHandler(store hierarchy.Store, cat catalog.Catalog, log zerolog.Logger) *Handler {
	capping := hierarchy.NewCappingPolicy(store)
	cascade := hierarchy.NewCascadeEngine(store)
	return &Handler{
		Store:       store,
		Catalog:     cat,
		Accounts:    hierarchy.NewAccountService(store, cascade),
		Subscribers: hierarchy.NewSubscriberService(store, cat, capping, cascade),
		Ledger:      hierarchy.NewLedgerService(store, capping),
		Capping:     capping,
		Cascade:     cascade,
		Log:         log,
	}
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// ListAccounts returns the accounts visible to the caller.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Accounts.List(r.Context(), callerFrom(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]AccountDTO, len(accounts))
	for i := range accounts {
		dtos[i] = toAccountDTO(&accounts[i])
	}
	writeData(w, http.StatusOK, dtos)
}

// CreateAccount creates a distributor or reseller.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	validUntil, err := parseTimePtr(req.ValidUntil)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid valid_until (use RFC3339)", err)
		return
	}

	account, err := h.Accounts.Create(r.Context(), callerFrom(r.Context()), hierarchy.CreateAccountRequest{
		Name:          req.Name,
		Tier:          hierarchy.Tier(req.Tier),
		ParentID:      req.ParentID,
		ValidUntil:    validUntil,
		SubscriberCap: req.SubscriberCap,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusCreated, toAccountDTO(account))
}

// GetAccount returns one account after the lazy validity check.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.Accounts.Get(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, toAccountDTO(account))
}

// UpdateAccount applies an administrative edit.
func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	var req UpdateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	validUntil, err := parseTimePtr(req.ValidUntil)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid valid_until (use RFC3339)", err)
		return
	}

	account, err := h.Accounts.Update(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "id"), hierarchy.UpdateAccountRequest{
		Name:            req.Name,
		ValidUntil:      validUntil,
		ClearValidUntil: req.ClearValidUntil,
		SubscriberCap:   req.SubscriberCap,
		ParentID:        req.ParentID,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, toAccountDTO(account))
}

// DeleteAccount hard-removes an account (admin only).
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.Accounts.Delete(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "account deleted")
}

// DeactivateAccount runs the manual downward cascade.
func (h *Handler) DeactivateAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.Cascade.Deactivate(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "account deactivated")
}

// ReactivateAccount flips an account back to Active, optionally with a new
// validity window. Never cascades.
func (h *Handler) ReactivateAccount(w http.ResponseWriter, r *http.Request) {
	var req ReactivateRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", err)
			return
		}
	}

	validUntil, err := parseTimePtr(req.ValidUntil)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid valid_until (use RFC3339)", err)
		return
	}

	if err := h.Cascade.Reactivate(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "id"), validUntil); err != nil {
		writeDomainError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "account reactivated")
}

// GetAccountTransactions returns one account's history, visibility-scoped.
func (h *Handler) GetAccountTransactions(w http.ResponseWriter, r *http.Request) {
	h.writeHistory(w, r, hierarchy.HistoryFilter{
		AccountID: chi.URLParam(r, "id"),
		Type:      hierarchy.EntryType(r.URL.Query().Get("type")),
	})
}

// ListAccountSubscribers returns a reseller's subscribers.
func (h *Handler) ListAccountSubscribers(w http.ResponseWriter, r *http.Request) {
	subs, err := h.Subscribers.ListByReseller(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]SubscriberDTO, len(subs))
	for i := range subs {
		dtos[i] = toSubscriberDTO(&subs[i])
	}
	writeData(w, http.StatusOK, dtos)
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// ListTransactions returns the caller-scoped history. Optional query
// filters: account_id, type.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	h.writeHistory(w, r, hierarchy.HistoryFilter{
		AccountID: r.URL.Query().Get("account_id"),
		Type:      hierarchy.EntryType(r.URL.Query().Get("type")),
	})
}

// CreateTransaction executes a transfer and returns the recorded entry with
// its balance-after snapshots.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	entryType, err := hierarchy.ParseEntryType(req.Type)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	entry, err := h.Ledger.Transfer(r.Context(), callerFrom(r.Context()), hierarchy.TransferRequest{
		Type:     entryType,
		Amount:   decimal.NewFromFloat(req.Amount),
		SenderID: req.SenderID,
		TargetID: req.TargetID,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	names := h.participantNames(r.Context(), []hierarchy.LedgerEntry{*entry})
	writeData(w, http.StatusCreated, toTransactionDTO(entry, names))
}

// ReverseTransaction undoes a recorded entry (admin only, no capping
// re-check).
func (h *Handler) ReverseTransaction(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.Reverse(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "transaction reversed")
}

func (h *Handler) writeHistory(w http.ResponseWriter, r *http.Request, f hierarchy.HistoryFilter) {
	if f.Type != "" {
		if _, err := hierarchy.ParseEntryType(string(f.Type)); err != nil {
			writeDomainError(w, err)
			return
		}
	}

	entries, err := h.Ledger.History(r.Context(), callerFrom(r.Context()), f)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	names := h.participantNames(r.Context(), entries)
	dtos := make([]TransactionDTO, len(entries))
	for i := range entries {
		dtos[i] = toTransactionDTO(&entries[i], names)
	}
	writeData(w, http.StatusOK, dtos)
}

// participantNames resolves account names for display. Missing accounts
// (deleted participants) simply have no name.
func (h *Handler) participantNames(ctx context.Context, entries []hierarchy.LedgerEntry) map[string]string {
	names := make(map[string]string)
	for _, e := range entries {
		for _, id := range []string{e.SenderID, e.TargetID} {
			if id == "" {
				continue
			}
			if _, ok := names[id]; ok {
				continue
			}
			account, err := h.Store.GetAccount(ctx, id)
			if err != nil || account == nil {
				names[id] = ""
				continue
			}
			names[id] = account.Name
		}
	}
	return names
}

// =============================================================================
// CAPPING HANDLERS
// =============================================================================

// GetCapping returns the current floors (stored or defaults).
func (h *Handler) GetCapping(w http.ResponseWriter, r *http.Request) {
	settings, err := h.Capping.Current(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read capping settings", err)
		return
	}

	dto := CappingDTO{
		DistributorFloor: settings.DistributorFloor.InexactFloat64(),
		ResellerFloor:    settings.ResellerFloor.InexactFloat64(),
	}
	if !settings.UpdatedAt.IsZero() {
		dto.UpdatedAt = settings.UpdatedAt.Format(time.RFC3339)
	}
	writeData(w, http.StatusOK, dto)
}

// UpdateCapping replaces the floors (admin only).
func (h *Handler) UpdateCapping(w http.ResponseWriter, r *http.Request) {
	var req UpdateCappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	settings := hierarchy.CappingSettings{
		DistributorFloor: decimal.NewFromFloat(req.DistributorFloor),
		ResellerFloor:    decimal.NewFromFloat(req.ResellerFloor),
		UpdatedAt:        time.Now().UTC(),
	}
	if err := h.Capping.Update(r.Context(), callerFrom(r.Context()), settings); err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, CappingDTO{
		DistributorFloor: settings.DistributorFloor.InexactFloat64(),
		ResellerFloor:    settings.ResellerFloor.InexactFloat64(),
		UpdatedAt:        settings.UpdatedAt.Format(time.RFC3339),
	})
}

// =============================================================================
// SUBSCRIBER HANDLERS
// =============================================================================

// CreateSubscriber creates a Fresh subscriber under a reseller.
func (h *Handler) CreateSubscriber(w http.ResponseWriter, r *http.Request) {
	var req CreateSubscriberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	sub, err := h.Subscribers.Create(r.Context(), callerFrom(r.Context()), hierarchy.CreateSubscriberRequest{
		Name:       req.Name,
		ResellerID: req.ResellerID,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusCreated, toSubscriberDTO(sub))
}

// GetSubscriber returns one subscriber (after the owning reseller's
// validity check).
func (h *Handler) GetSubscriber(w http.ResponseWriter, r *http.Request) {
	sub, err := h.Subscribers.Get(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, toSubscriberDTO(sub))
}

// ActivateSubscriber performs a paid activation or renewal.
func (h *Handler) ActivateSubscriber(w http.ResponseWriter, r *http.Request) {
	var req ActivateSubscriberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	sub, err := h.Subscribers.Activate(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "id"), req.PackageID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, toSubscriberDTO(sub))
}

// DeleteSubscriber releases (reseller/distributor) or purges (admin) a
// subscriber.
func (h *Handler) DeleteSubscriber(w http.ResponseWriter, r *http.Request) {
	if err := h.Subscribers.Delete(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "subscriber deleted")
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// ListPackages returns the package catalog.
func (h *Handler) ListPackages(w http.ResponseWriter, r *http.Request) {
	packages, err := h.Catalog.ListPackages(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list packages", err)
		return
	}

	dtos := make([]PackageDTO, len(packages))
	for i, p := range packages {
		dtos[i] = toPackageDTO(p)
	}
	writeData(w, http.StatusOK, dtos)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Envelope{Success: true, Data: data})
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Envelope{Success: true, Message: message})
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	if err != nil {
		message = message + ": " + err.Error()
	}
	writeJSON(w, status, Envelope{Success: false, Message: message})
}

// writeDomainError maps a domain error onto its HTTP status by kind.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case hierarchy.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	case hierarchy.IsClientError(err):
		status := http.StatusBadRequest
		if !isValidationError(err) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error(), nil)
	case isUnauthorized(err):
		writeError(w, http.StatusForbidden, err.Error(), nil)
	case hierarchy.IsRetryable(err):
		writeError(w, http.StatusConflict, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, "internal error", err)
	}
}

func isValidationError(err error) bool {
	return errors.Is(err, hierarchy.ErrInvalidInput)
}

func isUnauthorized(err error) bool {
	return errors.Is(err, hierarchy.ErrUnauthorized)
}

func parseTimePtr(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
