package account

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-account-go/internal/account/entity"
)

func newTestMux(t *testing.T) (*http.ServeMux, *Service, *prometheus.CounterVec) {
	t.Helper()
	svc, _ := newTestService(t)
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_account_operations_total"}, []string{"operation", "outcome"})
	h := NewHandler(svc, nil, outcomes)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /accounts", h.Register)
	mux.HandleFunc("GET /accounts", h.List)
	mux.HandleFunc("GET /accounts/count", h.Count)
	mux.HandleFunc("GET /accounts/by-email", h.GetByEmail)
	mux.HandleFunc("GET /accounts/email-taken", h.EmailTaken)
	mux.HandleFunc("GET /accounts/{id}", h.Get)
	mux.HandleFunc("PUT /accounts/{id}/credential", h.ChangeCredential)
	mux.HandleFunc("PUT /accounts/{id}/status", h.ChangeStatus)
	mux.HandleFunc("PUT /accounts/{id}/email", h.ChangeEmail)
	mux.HandleFunc("POST /login", h.Login)
	return mux, svc, outcomes
}

func do(mux http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeAccount(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHandlerRegisterAndGet(t *testing.T) {
	mux, _, outcomes := newTestMux(t)

	rec := do(mux, http.MethodPost, "/accounts", `{"email":"a@x.com","password":"pw"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeAccount(t, rec)
	id := body["id"].(string)
	assert.Equal(t, "a@x.com", body["email"])
	assert.Equal(t, "active", body["status"])
	assert.NotContains(t, rec.Body.String(), "credential")

	rec = do(mux, http.MethodGet, "/accounts/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, decodeAccount(t, rec)["id"])

	rec = do(mux, http.MethodPost, "/accounts", `{"email":"a@x.com","password":"pw"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(outcomes.WithLabelValues("register", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(outcomes.WithLabelValues("register", "rejected")))
}

func TestHandlerValidation(t *testing.T) {
	mux, _, _ := newTestMux(t)

	assert.Equal(t, http.StatusBadRequest, do(mux, http.MethodPost, "/accounts", `{`).Code)
	assert.Equal(t, http.StatusBadRequest, do(mux, http.MethodPost, "/accounts", `{"email":"not-an-email","password":"pw"}`).Code)
	rec := do(mux, http.MethodPost, "/accounts", `{"email":"a@x.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "password")

	assert.Equal(t, http.StatusBadRequest, do(mux, http.MethodPut, "/accounts/1/status", `{"status":"archived"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(mux, http.MethodGet, "/accounts/count", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(mux, http.MethodGet, "/accounts?status=bogus", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(mux, http.MethodGet, "/accounts?created_after=yesterday", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(mux, http.MethodGet, "/accounts/by-email", "").Code)
}

func TestHandlerNotFound(t *testing.T) {
	mux, _, _ := newTestMux(t)
	rec := do(mux, http.MethodGet, "/accounts/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"account not found"}`, rec.Body.String())
	assert.Equal(t, http.StatusNotFound, do(mux, http.MethodPut, "/accounts/missing/status", `{"status":"active"}`).Code)
}

func TestHandlerMutations(t *testing.T) {
	mux, svc, _ := newTestMux(t)
	a, err := svc.Register(t.Context(), "a@x.com", "pw")
	require.NoError(t, err)

	assert.Equal(t, http.StatusNoContent, do(mux, http.MethodPut, "/accounts/"+a.ID+"/credential", `{"password":"new"}`).Code)
	assert.Equal(t, http.StatusNoContent, do(mux, http.MethodPut, "/accounts/"+a.ID+"/email", `{"email":"b@x.com"}`).Code)
	assert.Equal(t, http.StatusNoContent, do(mux, http.MethodPut, "/accounts/"+a.ID+"/status", `{"status":"SUSPENDED"}`).Code)
	assert.Equal(t, http.StatusConflict, do(mux, http.MethodPut, "/accounts/"+a.ID+"/status", `{"status":"inactive"}`).Code)

	got, err := svc.FindByID(t.Context(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, "b@x.com", got.Email)
	assert.Equal(t, entity.StatusSuspended, got.Status)

	rec := do(mux, http.MethodGet, "/accounts/by-email?email=b@x.com", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, a.ID, decodeAccount(t, rec)["id"])

	rec = do(mux, http.MethodGet, "/accounts/email-taken?email=a@x.com", "")
	assert.JSONEq(t, `{"taken":false}`, rec.Body.String())
}

func TestHandlerLogin(t *testing.T) {
	mux, svc, _ := newTestMux(t)
	a, err := svc.Register(t.Context(), "a@x.com", "pw")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, do(mux, http.MethodPost, "/login", `{"email":"a@x.com","password":"pw"}`).Code)
	assert.Equal(t, http.StatusUnauthorized, do(mux, http.MethodPost, "/login", `{"email":"a@x.com","password":"no"}`).Code)
	assert.Equal(t, http.StatusUnauthorized, do(mux, http.MethodPost, "/login", `{"email":"b@x.com","password":"pw"}`).Code)

	require.NoError(t, svc.ChangeStatus(t.Context(), a.ID, entity.StatusSuspended))
	assert.Equal(t, http.StatusForbidden, do(mux, http.MethodPost, "/login", `{"email":"a@x.com","password":"pw"}`).Code)
}

func TestHandlerListAndCount(t *testing.T) {
	mux, svc, _ := newTestMux(t)
	rec := do(mux, http.MethodGet, "/accounts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	a, _ := svc.Register(t.Context(), "a@x.com", "pw")
	_, _ = svc.Register(t.Context(), "b@x.com", "pw")
	require.NoError(t, svc.ChangeStatus(t.Context(), a.ID, entity.StatusInactive))

	var list []map[string]any
	rec = do(mux, http.MethodGet, "/accounts?status=inactive,suspended", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = do(mux, http.MethodGet, "/accounts?created_after=2000-01-01T00:00:00Z&status=active", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	assert.Equal(t, http.StatusBadRequest,
		do(mux, http.MethodGet, "/accounts?created_after=2000-01-01T00:00:00Z&status=active,inactive", "").Code)

	rec = do(mux, http.MethodGet, "/accounts/count?status=active", "")
	assert.JSONEq(t, `{"status":"active","count":1}`, rec.Body.String())
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusCode(ErrInvalidArgument))
	assert.Equal(t, http.StatusConflict, StatusCode(ErrInvalidTransition))
	assert.Equal(t, http.StatusConflict, StatusCode(ErrConflict))
	assert.Equal(t, http.StatusForbidden, StatusCode(ErrLoginNotAllowed))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(ErrStorage))
}
