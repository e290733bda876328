package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"contactlink/internal/models"
	"contactlink/internal/service"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Setup
// =============================================================================

type resolveCall struct {
	email, phone *string
}

// fakeResolver returns queued errors before succeeding with identity.
type fakeResolver struct {
	mu       sync.Mutex
	calls    []resolveCall
	errs     []error
	identity *models.Identity
	lookups  map[int64]*models.Identity
}

func (f *fakeResolver) Resolve(_ context.Context, email, phone *string) (*models.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, resolveCall{email: email, phone: phone})
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return f.identity, nil
}

func (f *fakeResolver) Lookup(_ context.Context, id int64) (*models.Identity, error) {
	return f.lookups[id], nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	retries  int
	requests map[string]int
}

func (r *fakeRecorder) RecordRetry() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries++
}

func (r *fakeRecorder) RecordRequest(route string, code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.requests == nil {
		r.requests = map[string]int{}
	}
	r.requests[route]++
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func sp(s string) *string { return &s }

var testIdentity = &models.Identity{
	Primary: models.NewPrimaryContact(1, sp("lorraine@hillvalley.edu"), sp("123456"), time.Time{}, time.Time{}),
	Secondaries: []models.Contact{
		models.NewSecondaryContact(23, sp("mcfly@hillvalley.edu"), sp("123456"), 1, time.Time{}, time.Time{}),
	},
}

func newTestRouter(res *fakeResolver, rec *fakeRecorder, db Pinger) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewIdentifyHandler(res, 3, rec, logger)
	h.backoff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return NewRouter(h, db, rec, http.NotFoundHandler(), logger)
}

func postIdentify(t *testing.T, router http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/identify", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

// =============================================================================
// /identify
// =============================================================================

func TestIdentify_ReturnsConsolidatedContact(t *testing.T) {
	res := &fakeResolver{identity: testIdentity}
	router := newTestRouter(res, &fakeRecorder{}, fakePinger{})

	rr := postIdentify(t, router, `{"email":" McFly@HillValley.edu ","phoneNumber":123456}`)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.NotEmpty(t, rr.Header().Get(requestIDHeader))
	assert.JSONEq(t, `{"contact":{
		"primaryContactId":1,
		"emails":["lorraine@hillvalley.edu","mcfly@hillvalley.edu"],
		"phoneNumbers":["123456"],
		"secondaryContactIds":[23]}}`, rr.Body.String())

	require.Len(t, res.calls, 1)
	assert.Equal(t, "mcfly@hillvalley.edu", *res.calls[0].email)
	assert.Equal(t, "123456", *res.calls[0].phone)
}

func TestIdentify_NormalizesPhone(t *testing.T) {
	res := &fakeResolver{identity: testIdentity}
	router := newTestRouter(res, &fakeRecorder{}, fakePinger{})

	rr := postIdentify(t, router, `{"phoneNumber":"+1 (555) 010-0000"}`)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, res.calls, 1)
	assert.Nil(t, res.calls[0].email)
	assert.Equal(t, "+15550100000", *res.calls[0].phone)
}

func TestIdentify_RejectsBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"email":`},
		{"empty body", `{}`},
		{"blank values", `{"email":"  ","phoneNumber":""}`},
		{"null values", `{"email":null,"phoneNumber":null}`},
		{"invalid email", `{"email":"not-an-email"}`},
		{"letters in phone", `{"phoneNumber":"12ab34"}`},
		{"short phone", `{"phoneNumber":"12"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := &fakeResolver{identity: testIdentity}
			router := newTestRouter(res, &fakeRecorder{}, fakePinger{})

			rr := postIdentify(t, router, tt.body)

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			var body models.ErrorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Error)
			assert.Empty(t, res.calls)
		})
	}
}

func TestIdentify_MethodNotAllowed(t *testing.T) {
	router := newTestRouter(&fakeResolver{}, &fakeRecorder{}, fakePinger{})

	req := httptest.NewRequest(http.MethodGet, "/identify", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestIdentify_RetriesConflicts(t *testing.T) {
	conflict := &service.StoreError{Op: "resolve", Err: service.ErrConflict}
	res := &fakeResolver{identity: testIdentity, errs: []error{conflict, conflict}}
	rec := &fakeRecorder{}
	router := newTestRouter(res, rec, fakePinger{})

	rr := postIdentify(t, router, `{"email":"a@x.com"}`)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, res.calls, 3)
	assert.Equal(t, 2, rec.retries)
}

func TestIdentify_GivesUpAfterMaxAttempts(t *testing.T) {
	conflict := &service.StoreError{Op: "resolve", Err: service.ErrConflict}
	res := &fakeResolver{identity: testIdentity, errs: []error{conflict, conflict, conflict, conflict}}
	router := newTestRouter(res, &fakeRecorder{}, fakePinger{})

	rr := postIdentify(t, router, `{"email":"a@x.com"}`)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Len(t, res.calls, 3)
}

func TestIdentify_MapsErrors(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		code  int
		calls int
	}{
		{"invalid input", &service.InvalidInputError{Reason: "missing"}, http.StatusBadRequest, 1},
		{"data integrity", &service.DataIntegrityError{ContactID: 3, Reason: "chain"}, http.StatusInternalServerError, 1},
		{"store failure", &service.StoreError{Op: "resolve", Err: errors.New("disk full")}, http.StatusInternalServerError, 1},
		{"timeout", &service.StoreError{Op: "resolve", Err: context.DeadlineExceeded}, http.StatusGatewayTimeout, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := &fakeResolver{errs: []error{tt.err}}
			router := newTestRouter(res, &fakeRecorder{}, fakePinger{})

			rr := postIdentify(t, router, `{"email":"a@x.com"}`)

			assert.Equal(t, tt.code, rr.Code)
			assert.Len(t, res.calls, tt.calls)
		})
	}
}

// =============================================================================
// /contacts/{id}, /health and instrumentation
// =============================================================================

func TestLookup(t *testing.T) {
	res := &fakeResolver{lookups: map[int64]*models.Identity{23: testIdentity}}
	router := newTestRouter(res, &fakeRecorder{}, fakePinger{})

	for _, tc := range []struct {
		path string
		code int
	}{
		{"/contacts/23", http.StatusOK},
		{"/contacts/24", http.StatusNotFound},
		{"/contacts/abc", http.StatusBadRequest},
		{"/contacts/0", http.StatusBadRequest},
	} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tc.path, nil))
		assert.Equal(t, tc.code, rr.Code, tc.path)
	}
}

func TestHealth(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestRouter(&fakeResolver{}, &fakeRecorder{}, fakePinger{}).
		ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"ok"`)

	rr = httptest.NewRecorder()
	newTestRouter(&fakeResolver{}, &fakeRecorder{}, fakePinger{err: errors.New(`pq: password authentication failed for user "contacts"`)}).
		ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), `"db":"unavailable"`)
	assert.NotContains(t, rr.Body.String(), "password authentication failed")
}

func TestInstrument_PropagatesRequestID(t *testing.T) {
	rec := &fakeRecorder{}
	router := newTestRouter(&fakeResolver{identity: testIdentity}, rec, fakePinger{})

	req := httptest.NewRequest(http.MethodPost, "/identify", bytes.NewBufferString(`{"email":"a@x.com"}`))
	req.Header.Set(requestIDHeader, "req-123")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, "req-123", rr.Header().Get(requestIDHeader))
	assert.Equal(t, 1, rec.requests["/identify"])
}
