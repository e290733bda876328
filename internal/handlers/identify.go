package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"contactlink/internal/models"
	"contactlink/internal/service"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/mux"
)

const maxBodyBytes = 16 * 1024

// IdentityResolver is the part of service.Resolver the handlers use.
type IdentityResolver interface {
	Resolve(ctx context.Context, email, phoneNumber *string) (*models.Identity, error)
	Lookup(ctx context.Context, contactID int64) (*models.Identity, error)
}

// RetryRecorder counts retried resolutions.
type RetryRecorder interface {
	RecordRetry()
}

// IdentifyHandler handles the /identify and /contacts/{id} endpoints
type IdentifyHandler struct {
	resolver    IdentityResolver
	maxAttempts int
	retries     RetryRecorder
	backoff     func() backoff.BackOff
	logger      *slog.Logger
}

// NewIdentifyHandler creates a new identify handler. Conflicting resolutions
// are retried up to maxAttempts times in total.
func NewIdentifyHandler(resolver IdentityResolver, maxAttempts int, retries RetryRecorder, logger *slog.Logger) *IdentifyHandler {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &IdentifyHandler{
		resolver:    resolver,
		maxAttempts: maxAttempts,
		retries:     retries,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 20 * time.Millisecond
			b.MaxInterval = 500 * time.Millisecond
			return b
		},
		logger: logger,
	}
}

// Handle processes the identify request
func (h *IdentifyHandler) Handle(w http.ResponseWriter, r *http.Request) {
	var req models.IdentifyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.logger.Debug("error decoding request", "error", err, "request_id", RequestID(r.Context()))
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if err := validateRequest(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var phone *string
	if req.PhoneNumber != nil {
		p := string(*req.PhoneNumber)
		phone = &p
	}

	identity, err := h.resolve(r.Context(), req.Email, phone)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, identity.Response())
}

// Lookup returns the identity of the cluster containing a contact
func (h *IdentifyHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid contact id")
		return
	}

	identity, err := h.resolver.Lookup(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if identity == nil {
		writeError(w, http.StatusNotFound, "Contact not found")
		return
	}

	writeJSON(w, http.StatusOK, identity.Response())
}

// resolve retries the whole resolution while the store reports conflicts.
func (h *IdentifyHandler) resolve(ctx context.Context, email, phone *string) (*models.Identity, error) {
	operation := func() (*models.Identity, error) {
		identity, err := h.resolver.Resolve(ctx, email, phone)
		if err != nil && !service.IsRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		return identity, err
	}
	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(h.backoff()),
		backoff.WithMaxTries(uint(h.maxAttempts)),
		backoff.WithNotify(func(err error, d time.Duration) {
			h.retries.RecordRetry()
			h.logger.Warn("retrying resolution", "error", err, "delay", d, "request_id", RequestID(ctx))
		}),
	)
}

// fail maps resolver errors to HTTP statuses
func (h *IdentifyHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		invalid   *service.InvalidInputError
		integrity *service.DataIntegrityError
		store     *service.StoreError
	)
	switch {
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, invalid.Reason)
	case errors.As(err, &integrity):
		writeError(w, http.StatusInternalServerError, "Internal server error")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "Request timed out")
	case errors.As(err, &store) && store.Retryable():
		writeError(w, http.StatusServiceUnavailable, "Please retry")
	default:
		h.logger.Error("error processing identify request", "error", err, "request_id", RequestID(r.Context()))
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.ErrorResponse{Error: message})
}
