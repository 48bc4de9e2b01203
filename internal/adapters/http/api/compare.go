package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	service "github.com/okian/divergence/internal/app"
	"github.com/okian/divergence/internal/domain/model"
	"github.com/okian/divergence/internal/domain/scope"
	"github.com/okian/divergence/pkg/logger"
)

// CompareDependencies defines the interface for comparison operations.
type CompareDependencies interface {
	Compare(ctx context.Context, req service.Request) (model.ComparisonResult, error)
	Limits() (defaultLimit, maxLimit int)
}

// CompareHandler handles comparison requests.
type CompareHandler struct {
	deps   CompareDependencies
	logger logger.Logger
}

// NewCompareHandler creates a new compare handler.
func NewCompareHandler(deps CompareDependencies) *CompareHandler {
	return &CompareHandler{deps: deps, logger: logger.Get().Named("api")}
}

// HandleCompare handles GET /compare/{scope}/{id} requests.
//
// Query parameters: userId (required), requestingUserId (defaults to userId),
// snapDay (YYYY-MM-DD, defaults to today) and limit (1..max).
func (h *CompareHandler) HandleCompare(w http.ResponseWriter, r *http.Request) {
	const op = "api.compare"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	req, err := h.parse(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	res, err := h.deps.Compare(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, service.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
	case errors.Is(err, service.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, "unavailable", WrapKind(op, ErrUnavailable, err))
	default:
		h.logger.Error(r.Context(), "comparison failed",
			logger.String("scope", string(req.Scope)),
			logger.String("scope_id", req.ScopeID),
			logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
	}
}

func (h *CompareHandler) parse(r *http.Request) (service.Request, error) {
	rest := strings.TrimPrefix(r.URL.Path, "/compare/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return service.Request{}, errors.New("path must be /compare/{scope}/{id}")
	}
	kind, err := scope.ParseKind(parts[0])
	if err != nil {
		return service.Request{}, err
	}

	q := r.URL.Query()
	req := service.Request{
		Scope:            kind,
		ScopeID:          parts[1],
		ReferenceUserID:  strings.TrimSpace(q.Get("userId")),
		RequestingUserID: strings.TrimSpace(q.Get("requestingUserId")),
	}
	if req.ReferenceUserID == "" {
		return service.Request{}, errors.New("missing userId")
	}
	if req.RequestingUserID == "" {
		req.RequestingUserID = req.ReferenceUserID
	}

	if req.SnapDay, err = model.ParseDay(q.Get("snapDay")); err != nil {
		return service.Request{}, err
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return service.Request{}, fmt.Errorf("invalid limit %q", raw)
		}
		_, maxLimit := h.deps.Limits()
		if limit < 1 || limit > maxLimit {
			return service.Request{}, fmt.Errorf("limit must be between 1 and %d", maxLimit)
		}
		req.Limit = limit
	}
	return req, nil
}
