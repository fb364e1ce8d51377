package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/alegny-health/api/internal/platform/auth"
	"github.com/alegny-health/api/internal/platform/httpx"
	"github.com/alegny-health/api/internal/platform/requestctx"
	"github.com/alegny-health/api/internal/services"

	"go.uber.org/zap"
)

const maxRequestBodySize = 64 * 1024

var (
	errEmptyBody    = errors.New("request body required")
	errBodyTooLarge = errors.New("request body too large")
)

// writeServiceError maps the service error taxonomy onto the HTTP envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	message := "unexpected error"
	var svcErr *services.Error
	if errors.As(err, &svcErr) && strings.TrimSpace(svcErr.Message) != "" {
		message = svcErr.Message
	}

	switch services.KindOf(err) {
	case services.ErrorKindNotFound:
		httpx.WriteError(ctx, w, httpx.NewError(string(services.ErrorKindNotFound), message, http.StatusNotFound))
	case services.ErrorKindInvalidInput:
		httpx.WriteError(ctx, w, httpx.NewError(string(services.ErrorKindInvalidInput), message, http.StatusBadRequest))
	default:
		requestctx.Logger(ctx).Error("request failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError(string(services.ErrorKindUnhandled), message, http.StatusInternalServerError))
	}
}

func writeInvalidInput(ctx context.Context, w http.ResponseWriter, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(string(services.ErrorKindInvalidInput), message, http.StatusBadRequest))
}

func writeServiceUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", name+" service unavailable", http.StatusServiceUnavailable))
}

// requireIdentity returns the Firebase identity placed on the context by RequireFirebaseAuth.
func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

// requireActor allows administrators and the account that owns recordID under role.
func requireActor(ctx context.Context, w http.ResponseWriter, role, recordID string) (*auth.Identity, bool) {
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return nil, false
	}
	if !identity.CanActAs(role, recordID) {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", fmt.Sprintf("not allowed to act on %s %s", role, recordID), http.StatusForbidden))
		return nil, false
	}
	return identity, true
}

// requireAnyRole allows identities carrying one of the roles, or admin.
func requireAnyRole(ctx context.Context, w http.ResponseWriter, roles ...string) (*auth.Identity, bool) {
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return nil, false
	}
	if !identity.IsAdmin() && !identity.HasAnyRole(roles...) {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "insufficient role", http.StatusForbidden))
		return nil, false
	}
	return identity, true
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxRequestBodySize
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeJSONBody decodes a bounded JSON body, rejecting unknown fields.
func decodeJSONBody(r *http.Request, dst any) error {
	data, err := readLimitedBody(r, maxRequestBodySize)
	if err != nil {
		return err
	}
	decoder := json.NewDecoder(strings.NewReader(string(data)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func urlParam(r *http.Request, name string) string {
	return strings.TrimSpace(chi.URLParam(r, name))
}
