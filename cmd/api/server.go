package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"custodia/access"
	"custodia/custody"
	"custodia/identity"
	"custodia/ledger"
)

type ctxKey string

const ctxKeyPrincipal ctxKey = "principal"

// identityService is the authentication surface the server needs.
type identityService interface {
	Register(ctx context.Context, req identity.RegisterRequest) (*identity.Principal, error)
	Token(ctx context.Context, req identity.TokenRequest) (identity.TokenResult, error)
	VerifyToken(token string) (string, error)
}

// accessService is the ledger ownership and membership surface.
type accessService interface {
	CreateLedger(ctx context.Context, ownerID, name string) (access.Ledger, error)
	TransferOwnership(ctx context.Context, ledgerID, callerID, newOwner string) error
	AddMember(ctx context.Context, ledgerID, callerID, principalID string) error
	RemoveMember(ctx context.Context, ledgerID, callerID, principalID string) error
}

// custodyEngine is the subset of engine operations exposed over HTTP.
type custodyEngine interface {
	Create(ctx context.Context, ledgerID string, caller identity.Caller, params custody.CreateParams) (ledger.Record, error)
	Transfer(ctx context.Context, ledgerID string, caller identity.Caller, key, newBeneficiary string) error
	Void(ctx context.Context, ledgerID string, caller identity.Caller, key, reason string) error
	Redeem(ctx context.Context, ledgerID string, caller identity.Caller, params custody.RedeemParams) error
	Cancel(ctx context.Context, ledgerID string, caller identity.Caller, params custody.RedeemParams) error
	Admit(ctx context.Context, ledgerID string, caller identity.Caller, eventKey string) (ledger.Record, error)
	CheckIn(ctx context.Context, ledgerID string, caller identity.Caller, eventKey, attendee string) error
	Inspect(ctx context.Context, ledgerID, key string) (custody.RecordView, error)
	RecentHistory(ctx context.Context, ledgerID string, n int) ([]ledger.HistoryEntry, error)
	ListRecords(ctx context.Context, ledgerID string, filters ledger.ListFilters) ([]ledger.Record, int, error)
}

// Server exposes the custody engine as a JSON API.
type Server struct {
	identityService identityService
	accessService   accessService
	engine          custodyEngine
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/principals", s.handleRegister)
	mux.HandleFunc("POST /api/tokens", s.handleToken)
	mux.HandleFunc("POST /api/ledgers", s.withAuth(s.handleCreateLedger))
	mux.HandleFunc("POST /api/ledgers/{id}/owner", s.withAuth(s.handleTransferOwnership))
	mux.HandleFunc("POST /api/ledgers/{id}/members", s.withAuth(s.handleAddMember))
	mux.HandleFunc("DELETE /api/ledgers/{id}/members/{principal}", s.withAuth(s.handleRemoveMember))
	mux.HandleFunc("POST /api/ledgers/{id}/records", s.withAuth(s.handleCreateRecord))
	mux.HandleFunc("GET /api/ledgers/{id}/records", s.handleListRecords)
	mux.HandleFunc("GET /api/ledgers/{id}/records/{key}", s.handleInspect)
	mux.HandleFunc("POST /api/ledgers/{id}/records/{key}/transfer", s.withAuth(s.handleTransfer))
	mux.HandleFunc("POST /api/ledgers/{id}/records/{key}/void", s.withAuth(s.handleVoid))
	mux.HandleFunc("POST /api/ledgers/{id}/records/{key}/redeem", s.withAuth(s.handleRedeemByKey))
	mux.HandleFunc("POST /api/ledgers/{id}/records/{key}/cancel", s.withAuth(s.handleCancel))
	mux.HandleFunc("POST /api/ledgers/{id}/redeem", s.withAuth(s.handleRedeemBySecret))
	mux.HandleFunc("POST /api/ledgers/{id}/events/{key}/rsvp", s.withAuth(s.handleRSVP))
	mux.HandleFunc("POST /api/ledgers/{id}/events/{key}/checkin", s.withAuth(s.handleCheckIn))
	mux.HandleFunc("GET /api/ledgers/{id}/history", s.handleHistory)
	return mux
}

// withAuth resolves the bearer token to a principal before the handler runs.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		principalID, err := s.identityService.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxKeyPrincipal, principalID)))
	}
}

func callerFrom(r *http.Request, attach int64) identity.Caller {
	principal, _ := r.Context().Value(ctxKeyPrincipal).(string)
	return identity.Caller{Principal: principal, AttachedValue: attach}
}

type principalResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"createdAt"`
}

type recordResponse struct {
	Key         string `json:"key"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	Valid       bool   `json:"valid"`
	Value       int64  `json:"value"`
	Beneficiary string `json:"beneficiary,omitempty"`
	ExpiresAt   string `json:"expiresAt,omitempty"`
	Payload     string `json:"payload,omitempty"`
}

type historyResponse struct {
	RecordKey    string `json:"recordKey"`
	Actor        string `json:"actor,omitempty"`
	Counterparty string `json:"counterparty,omitempty"`
	Amount       int64  `json:"amount,omitempty"`
	Reason       string `json:"reason"`
	CreatedAt    string `json:"createdAt"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req identity.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	p, err := s.identityService.Register(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, principalResponse{
		ID:        p.ID,
		Name:      p.Name,
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
	})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req identity.TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result, err := s.identityService.Token(r.Context(), req)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":     result.Token,
		"principal": result.Principal.ID,
	})
}

func (s *Server) handleCreateLedger(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	caller := callerFrom(r, 0)
	led, err := s.accessService.CreateLedger(r.Context(), caller.Principal, req.Name)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": led.ID, "name": led.Name})
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner string `json:"owner"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	caller := callerFrom(r, 0)
	if err := s.accessService.TransferOwnership(r.Context(), r.PathValue("id"), caller.Principal, req.Owner); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Principal string `json:"principal"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	caller := callerFrom(r, 0)
	if err := s.accessService.AddMember(r.Context(), r.PathValue("id"), caller.Principal, req.Principal); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r, 0)
	if err := s.accessService.RemoveMember(r.Context(), r.PathValue("id"), caller.Principal, r.PathValue("principal")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key         string `json:"key"`
		Kind        string `json:"kind"`
		Beneficiary string `json:"beneficiary"`
		TTLSeconds  int64  `json:"ttlSeconds"`
		Capacity    int    `json:"capacity"`
		Price       int64  `json:"price"`
		Payload     string `json:"payload"`
		Attach      int64  `json:"attach"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rec, err := s.engine.Create(r.Context(), r.PathValue("id"), callerFrom(r, req.Attach), custody.CreateParams{
		Key:         req.Key,
		Kind:        ledger.Kind(req.Kind),
		Beneficiary: req.Beneficiary,
		TTL:         time.Duration(req.TTLSeconds) * time.Second,
		Capacity:    req.Capacity,
		Price:       req.Price,
		Payload:     req.Payload,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, recordFromLedger(rec))
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := ledger.ListFilters{Kind: ledger.Kind(q.Get("kind"))}
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid page")
			return
		}
		filters.Page = n
	}
	if raw := q.Get("pageSize"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid pageSize")
			return
		}
		filters.PageSize = n
	}

	records, total, err := s.engine.ListRecords(r.Context(), r.PathValue("id"), filters)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	items := make([]recordResponse, 0, len(records))
	for _, rec := range records {
		items = append(items, recordFromLedger(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": total})
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	view, err := s.engine.Inspect(r.Context(), r.PathValue("id"), r.PathValue("key"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	resp := recordResponse{
		Key:         view.Key,
		Kind:        string(view.Kind),
		Status:      view.Status,
		Valid:       view.Valid,
		Value:       view.Value,
		Beneficiary: view.Beneficiary,
		Payload:     view.Payload,
	}
	if view.ExpiresAt != nil {
		resp.ExpiresAt = view.ExpiresAt.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Beneficiary string `json:"beneficiary"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.engine.Transfer(r.Context(), r.PathValue("id"), callerFrom(r, 0), r.PathValue("key"), req.Beneficiary); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVoid(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.engine.Void(r.Context(), r.PathValue("id"), callerFrom(r, 0), r.PathValue("key"), req.Reason); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRedeemByKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	err := s.engine.Redeem(r.Context(), r.PathValue("id"), callerFrom(r, 0), custody.RedeemParams{
		Key:     r.PathValue("key"),
		Message: req.Message,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRedeemBySecret settles a hash-locked record; the key is derived from
// the presented secret and never appears in the URL.
func (s *Server) handleRedeemBySecret(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Secret  string `json:"secret"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	err := s.engine.Redeem(r.Context(), r.PathValue("id"), callerFrom(r, 0), custody.RedeemParams{
		Secret:  req.Secret,
		Message: req.Message,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	err := s.engine.Cancel(r.Context(), r.PathValue("id"), callerFrom(r, 0), custody.RedeemParams{
		Key: r.PathValue("key"),
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRSVP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Attach int64 `json:"attach"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rec, err := s.engine.Admit(r.Context(), r.PathValue("id"), callerFrom(r, req.Attach), r.PathValue("key"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, recordFromLedger(rec))
}

func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Attendee string `json:"attendee"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.engine.CheckIn(r.Context(), r.PathValue("id"), callerFrom(r, 0), r.PathValue("key"), req.Attendee); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	entries, err := s.engine.RecentHistory(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	items := make([]historyResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, historyResponse{
			RecordKey:    e.RecordKey,
			Actor:        e.Actor,
			Counterparty: e.Counterparty,
			Amount:       e.Amount,
			Reason:       e.Reason,
			CreatedAt:    e.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

func recordFromLedger(rec ledger.Record) recordResponse {
	resp := recordResponse{
		Key:         rec.Key,
		Kind:        string(rec.Kind),
		Status:      string(rec.Status),
		Valid:       rec.Status == ledger.StatusActive,
		Value:       rec.Value,
		Beneficiary: rec.Beneficiary,
		Payload:     rec.Payload,
	}
	if rec.ExpiresAt != nil {
		resp.ExpiresAt = rec.ExpiresAt.Format(time.RFC3339)
	}
	return resp
}

// writeDomainError maps the engine's error taxonomy onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, ledger.ErrAlreadyExists), errors.Is(err, identity.ErrDuplicateName),
		errors.Is(err, access.ErrAlreadyMember):
		writeError(w, http.StatusConflict, "already exists")
	case errors.Is(err, access.ErrNotMember):
		writeError(w, http.StatusNotFound, "not a member")
	case errors.Is(err, ledger.ErrInvalidInput), errors.Is(err, identity.ErrWeakSecret):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrInvalidState):
		writeError(w, http.StatusConflict, "invalid state")
	case errors.Is(err, ledger.ErrExpired):
		writeError(w, http.StatusGone, "expired")
	case errors.Is(err, ledger.ErrCapacityExceeded):
		writeError(w, http.StatusConflict, "capacity exceeded")
	case errors.Is(err, ledger.ErrTransferFailed):
		writeError(w, http.StatusBadGateway, "transfer failed")
	default:
		log.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
