package rest

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	assessmentdom "github.com/orderlane/fraud-engine/internal/domain/assessment"
	"github.com/orderlane/fraud-engine/internal/domain/attempt"
	denylistdom "github.com/orderlane/fraud-engine/internal/domain/denylist"
	"github.com/orderlane/fraud-engine/internal/domain/errors"
	"github.com/orderlane/fraud-engine/internal/domain/rule"
	"github.com/orderlane/fraud-engine/internal/service/attemptlog"
	"github.com/orderlane/fraud-engine/internal/service/evaluator"
	"github.com/orderlane/fraud-engine/internal/service/velocity"

	assessmentsvc "github.com/orderlane/fraud-engine/internal/service/assessment"
	denylistsvc "github.com/orderlane/fraud-engine/internal/service/denylist"
)

const maxBodySize = 1 << 20 // 1MB

// DenylistInvalidator drops any cached miss for an identifier after the
// denylist changes underneath it.
type DenylistInvalidator interface {
	Invalidate(ctx context.Context, entryType denylistdom.EntryType, rawValue string)
}

// FraudHandler exposes the fraud engine over HTTP.
type FraudHandler struct {
	assessments *assessmentsvc.Service
	denylist    *denylistsvc.Service
	attempts    *attemptlog.Logger
	velocity    *velocity.Tracker
	rules       assessmentsvc.RuleRepository
	cache       DenylistInvalidator
	logger      *slog.Logger
	validator   *validator.Validate
}

// NewFraudHandler creates the handler. cache may be nil when Redis is
// disabled.
func NewFraudHandler(
	assessments *assessmentsvc.Service,
	dl *denylistsvc.Service,
	attempts *attemptlog.Logger,
	tracker *velocity.Tracker,
	rules assessmentsvc.RuleRepository,
	cache DenylistInvalidator,
	logger *slog.Logger,
) *FraudHandler {
	return &FraudHandler{
		assessments: assessments,
		denylist:    dl,
		attempts:    attempts,
		velocity:    tracker,
		rules:       rules,
		cache:       cache,
		logger:      logger,
		validator:   validator.New(),
	}
}

// RegisterRoutes wires all fraud endpoints onto the mux.
func (h *FraudHandler) RegisterRoutes(mux *http.ServeMux, rl *RateLimiter) {
	chain := NewMiddlewareChain(
		RecoverMiddleware(h.logger),
		SecurityHeadersMiddleware(),
		RequestIDMiddleware(),
		RequestLoggingMiddleware(h.logger),
		rl.Middleware(),
	)

	mux.Handle("POST /api/v1/fraud/assess", chain.Then(http.HandlerFunc(h.handleAssess)))
	mux.Handle("GET /api/v1/fraud/assessments", chain.Then(http.HandlerFunc(h.handleListAssessments)))
	mux.Handle("GET /api/v1/fraud/assessments/{id}", chain.Then(http.HandlerFunc(h.handleGetAssessment)))
	mux.Handle("GET /api/v1/fraud/assessments/order/{order_id}", chain.Then(http.HandlerFunc(h.handleGetAssessmentByOrder)))
	mux.Handle("POST /api/v1/fraud/assessments/{id}/decision", chain.Then(http.HandlerFunc(h.handleDecision)))

	mux.Handle("POST /api/v1/fraud/denylist/check", chain.Then(http.HandlerFunc(h.handleDenylistCheck)))
	mux.Handle("POST /api/v1/fraud/denylist", chain.Then(http.HandlerFunc(h.handleDenylistAdd)))
	mux.Handle("DELETE /api/v1/fraud/denylist", chain.Then(http.HandlerFunc(h.handleDenylistRemove)))
	mux.Handle("GET /api/v1/fraud/denylist", chain.Then(http.HandlerFunc(h.handleDenylistList)))

	mux.Handle("POST /api/v1/fraud/attempts", chain.Then(http.HandlerFunc(h.handleLogAttempt)))
	mux.Handle("GET /api/v1/fraud/attempts", chain.Then(http.HandlerFunc(h.handleListAttempts)))

	mux.Handle("POST /api/v1/fraud/velocity/track", chain.Then(http.HandlerFunc(h.handleVelocityTrack)))
	mux.Handle("POST /api/v1/fraud/velocity/check", chain.Then(http.HandlerFunc(h.handleVelocityCheck)))

	mux.Handle("GET /api/v1/fraud/rules", chain.Then(http.HandlerFunc(h.handleListRules)))
	mux.Handle("POST /api/v1/fraud/rules", chain.Then(http.HandlerFunc(h.handleCreateRule)))
	mux.Handle("PATCH /api/v1/fraud/rules/{id}", chain.Then(http.HandlerFunc(h.handleUpdateRule)))
}

// Assessment endpoints

func (h *FraudHandler) handleAssess(w http.ResponseWriter, r *http.Request) {
	var req AssessRequest
	if !h.decode(w, r, &req) {
		return
	}

	amount, err := decimal.NewFromString(req.OrderAmount)
	if err != nil {
		h.writeError(w, r, errors.NewValidationError("INVALID_AMOUNT", "order_amount must be a decimal string"))
		return
	}

	orderCtx := map[string]any{
		evaluator.KeyOrderID:     req.OrderID,
		evaluator.KeyOrderAmount: amount,
	}
	setIfPresent(orderCtx, evaluator.KeyUserID, req.UserID)
	setIfPresent(orderCtx, evaluator.KeyIPAddress, req.IPAddress)
	setIfPresent(orderCtx, evaluator.KeyIPCountry, strings.ToUpper(req.IPCountry))
	setIfPresent(orderCtx, evaluator.KeyBillingCountry, strings.ToUpper(req.BillingCountry))
	setIfPresent(orderCtx, evaluator.KeyEmail, req.Email)
	setIfPresent(orderCtx, evaluator.KeyDeviceFingerprint, req.DeviceFingerprint)
	setIfPresent(orderCtx, evaluator.KeyCardLast4, req.CardLast4)
	for k, v := range req.Extra {
		if _, taken := orderCtx[k]; !taken {
			orderCtx[k] = v
		}
	}

	result, err := h.assessments.Assess(r.Context(), orderCtx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

func (h *FraudHandler) handleGetAssessment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}
	result, err := h.assessments.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *FraudHandler) handleGetAssessmentByOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.pathUUID(w, r, "order_id")
	if !ok {
		return
	}
	result, err := h.assessments.GetByOrder(r.Context(), orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *FraudHandler) handleListAssessments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	status := assessmentdom.Status(q.Get("status"))
	var levels []assessmentdom.RiskLevel
	if raw := q.Get("risk_level"); raw != "" {
		for _, l := range strings.Split(raw, ",") {
			l = strings.TrimSpace(l)
			if l != "" {
				levels = append(levels, assessmentdom.RiskLevel(l))
			}
		}
	}
	limit, offset := pagination(q.Get("limit"), q.Get("offset"))

	results, err := h.assessments.ReviewQueue(r.Context(), status, levels, limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"assessments": results,
		"count":       len(results),
	})
}

func (h *FraudHandler) handleDecision(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req DecisionRequest
	if !h.decode(w, r, &req) {
		return
	}
	reviewer, err := uuid.Parse(req.ReviewerID)
	if err != nil {
		h.writeError(w, r, errors.NewValidationError("INVALID_REVIEWER_ID", "reviewer_id must be a UUID"))
		return
	}

	result, err := h.assessments.ApplyDecision(r.Context(), id, assessmentsvc.Decision(req.Decision), reviewer, req.Notes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// Denylist endpoints

func (h *FraudHandler) handleDenylistCheck(w http.ResponseWriter, r *http.Request) {
	var req DenylistCheckRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.denylist.Check(r.Context(), denylistdom.EntryType(req.Type), req.Value)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *FraudHandler) handleDenylistAdd(w http.ResponseWriter, r *http.Request) {
	var req DenylistAddRequest
	if !h.decode(w, r, &req) {
		return
	}

	opts := denylistsvc.AddOptions{
		Severity:  denylistdom.Severity(req.Severity),
		ExpiresAt: req.ExpiresAt,
	}
	if req.Notes != "" {
		opts.Notes = &req.Notes
	}
	if req.AddedBy != "" {
		addedBy, err := uuid.Parse(req.AddedBy)
		if err != nil {
			h.writeError(w, r, errors.NewValidationError("INVALID_ADDED_BY", "added_by must be a UUID"))
			return
		}
		opts.AddedBy = &addedBy
	}

	entryType := denylistdom.EntryType(req.Type)
	entry, err := h.denylist.Add(r.Context(), entryType, req.Value, req.Reason, opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.cache != nil {
		h.cache.Invalidate(r.Context(), entryType, req.Value)
	}
	h.writeJSON(w, http.StatusCreated, entry)
}

func (h *FraudHandler) handleDenylistRemove(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entryType := denylistdom.EntryType(q.Get("type"))
	value := q.Get("value")
	if value == "" {
		h.writeError(w, r, errors.NewValidationError("MISSING_VALUE", "value query parameter is required"))
		return
	}

	if err := h.denylist.Remove(r.Context(), entryType, value); err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.cache != nil {
		h.cache.Invalidate(r.Context(), entryType, value)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *FraudHandler) handleDenylistList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var entryType *denylistdom.EntryType
	if raw := q.Get("type"); raw != "" {
		t := denylistdom.EntryType(raw)
		entryType = &t
	}
	activeOnly := q.Get("active") != "false"
	limit, offset := pagination(q.Get("limit"), q.Get("offset"))

	entries, err := h.denylist.List(r.Context(), entryType, activeOnly, limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// Attempt endpoints

func (h *FraudHandler) handleLogAttempt(w http.ResponseWriter, r *http.Request) {
	var req AttemptLogRequest
	if !h.decode(w, r, &req) {
		return
	}

	data := attempt.Data{
		IPAddress:         req.IPAddress,
		DeviceFingerprint: req.DeviceFingerprint,
		RepeatOffender:    req.RepeatOffender,
		Blocked:           req.Blocked,
		BlockReason:       req.BlockReason,
	}
	if req.UserID != "" {
		userID, err := uuid.Parse(req.UserID)
		if err != nil {
			h.writeError(w, r, errors.NewValidationError("INVALID_USER_ID", "user_id must be a UUID"))
			return
		}
		data.UserID = &userID
	}
	if req.OrderID != "" {
		orderID, err := uuid.Parse(req.OrderID)
		if err != nil {
			h.writeError(w, r, errors.NewValidationError("INVALID_ORDER_ID", "order_id must be a UUID"))
			return
		}
		data.OrderID = &orderID
	}
	if req.Amount != "" {
		amount, err := decimal.NewFromString(req.Amount)
		if err != nil {
			h.writeError(w, r, errors.NewValidationError("INVALID_AMOUNT", "amount must be a decimal string"))
			return
		}
		data.Amount = amount
	}

	record, err := h.attempts.Log(r.Context(), attempt.Type(req.AttemptType), data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	escalations := h.escalate(r.Context(), record, data)

	h.writeJSON(w, http.StatusCreated, map[string]any{
		"attempt":     record,
		"escalations": escalations,
	})
}

// escalate auto-denylists identifiers that crossed the severe-attempt
// threshold. Escalation failures are logged, never surfaced to the caller;
// the attempt itself is already recorded.
func (h *FraudHandler) escalate(ctx context.Context, record *attempt.Record, data attempt.Data) []string {
	var escalations []string

	if should, err := h.attempts.ShouldDenylistIP(ctx, data.IPAddress); err == nil && should {
		if _, err := h.denylist.AutoDenylist(ctx, denylistdom.TypeIP, data.IPAddress, "repeated severe fraud attempts"); err != nil {
			h.logger.ErrorContext(ctx, "auto-denylist ip failed", "ip", data.IPAddress, "error", err)
		} else {
			if h.cache != nil {
				h.cache.Invalidate(ctx, denylistdom.TypeIP, data.IPAddress)
			}
			escalations = append(escalations, "ip_denylisted")
		}
	}

	if data.UserID != nil {
		if should, err := h.attempts.ShouldDenylistUser(ctx, *data.UserID); err == nil && should {
			if _, err := h.denylist.AutoDenylist(ctx, denylistdom.TypeUser, data.UserID.String(), "repeated severe fraud attempts"); err != nil {
				h.logger.ErrorContext(ctx, "auto-denylist user failed", "user_id", *data.UserID, "error", err)
			} else {
				if h.cache != nil {
					h.cache.Invalidate(ctx, denylistdom.TypeUser, data.UserID.String())
				}
				escalations = append(escalations, "user_denylisted")
			}
		}
	}

	if len(escalations) > 0 {
		h.logger.WarnContext(ctx, "attempt triggered auto-denylist",
			"attempt_id", record.ID,
			"attempt_type", record.AttemptType,
			"escalations", escalations)
	}
	return escalations
}

func (h *FraudHandler) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	limit, _ := pagination(r.URL.Query().Get("limit"), "")
	records, err := h.attempts.ListRecent(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"attempts": records,
		"count":    len(records),
	})
}

// Velocity endpoints

func (h *FraudHandler) handleVelocityTrack(w http.ResponseWriter, r *http.Request) {
	var req VelocityTrackRequest
	if !h.decode(w, r, &req) {
		return
	}
	window, err := h.velocity.Track(r.Context(), req.Identifier, req.Action, req.WindowMinutes, req.Metadata)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, window)
}

func (h *FraudHandler) handleVelocityCheck(w http.ResponseWriter, r *http.Request) {
	var req VelocityCheckRequest
	if !h.decode(w, r, &req) {
		return
	}
	result := h.velocity.CheckLimit(r.Context(), req.Identifier, req.Action, req.Limit, req.WindowMinutes)
	h.writeJSON(w, http.StatusOK, result)
}

// Rule management endpoints

func (h *FraudHandler) handleListRules(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r.URL.Query().Get("limit"), r.URL.Query().Get("offset"))
	rules, err := h.rules.List(r.Context(), limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"rules": rules,
		"count": len(rules),
	})
}

func (h *FraudHandler) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req RuleCreateRequest
	if !h.decode(w, r, &req) {
		return
	}
	created, err := rule.NewRiskRule(req.Name, rule.Type(req.RuleType), req.Conditions, req.RiskScore, rule.Action(req.Action))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	created.SetPriority(req.Priority)

	if err := h.rules.Create(r.Context(), created); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

func (h *FraudHandler) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req RuleUpdateRequest
	if !h.decode(w, r, &req) {
		return
	}

	existing, err := h.rules.GetByID(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.IsActive != nil {
		if *req.IsActive {
			existing.Activate()
		} else {
			existing.Deactivate()
		}
	}
	if req.Priority != nil {
		existing.SetPriority(*req.Priority)
	}

	if err := h.rules.Update(r.Context(), existing); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, existing)
}

// Helpers

// decode reads, unmarshals and validates a JSON body. It writes the error
// response itself and reports whether the caller should proceed.
func (h *FraudHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.writeError(w, r, errors.NewValidationError("INVALID_JSON", "request body is not valid JSON: "+err.Error()))
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		h.writeError(w, r, errors.NewValidationError("VALIDATION_FAILED", err.Error()))
		return false
	}
	return true
}

func (h *FraudHandler) pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		h.writeError(w, r, errors.NewValidationError("INVALID_ID", name+" must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}

func (h *FraudHandler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *FraudHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.GetStatusCode(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", RequestID(r.Context()),
			"error", err)
	}

	var appErr *errors.AppError
	if !stderrors.As(err, &appErr) {
		appErr = errors.NewInternalError("internal error").WithCause(err)
	}
	h.writeJSON(w, status, map[string]any{"error": appErr})
}

func setIfPresent(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

func pagination(rawLimit, rawOffset string) (int, int) {
	limit := 50
	if v, err := strconv.Atoi(rawLimit); err == nil && v > 0 && v <= 500 {
		limit = v
	}
	offset := 0
	if v, err := strconv.Atoi(rawOffset); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}
