package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/italolelis/segment_recovery/internal/recovery"
	"github.com/italolelis/segment_recovery/internal/storage"
	"github.com/italolelis/segment_recovery/internal/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockStarter implements BatchStarter for testing.
type mockStarter struct {
	startFunc func(ctx context.Context, req recovery.Request) (string, error)
	lastReq   recovery.Request
	called    bool
}

func (m *mockStarter) Start(ctx context.Context, req recovery.Request) (string, error) {
	m.called = true
	m.lastReq = req

	if m.startFunc != nil {
		return m.startFunc(ctx, req)
	}

	return "batch-1", nil
}

func newLedger(t *testing.T) storage.RecoveryRepository {
	t.Helper()

	db, err := sqlite.InitDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return sqlite.NewRecoveryRepository(db)
}

func TestRecoveryHandler_Start(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		startErr   error
		wantStatus int
		wantCalled bool
	}{
		{"explicit files", `{"files":["_0.cfs","_0.si"]}`, nil, http.StatusAccepted, true},
		{"prefix", `{"prefix":"idx/"}`, nil, http.StatusAccepted, true},
		{"invalid body", `{"files":`, nil, http.StatusBadRequest, false},
		{"nothing to recover", `{"prefix":"none/"}`, recovery.ErrNothingToRecover, http.StatusUnprocessableEntity, true},
		{"start failure", `{}`, errors.New("ledger down"), http.StatusInternalServerError, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			starter := &mockStarter{}
			if tt.startErr != nil {
				starter.startFunc = func(context.Context, recovery.Request) (string, error) { return "", tt.startErr }
			}

			h := NewRecoveryHandler("", "", starter, newLedger(t))

			rec := httptest.NewRecorder()
			h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/recoveries", strings.NewReader(tt.body)))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCalled, starter.called)

			if tt.wantStatus == http.StatusAccepted {
				var resp map[string]string
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
				assert.Equal(t, "batch-1", resp["id"])
			}
		})
	}
}

func TestRecoveryHandler_StartPassesRequest(t *testing.T) {
	starter := &mockStarter{}
	h := NewRecoveryHandler("", "", starter, newLedger(t))

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/recoveries",
		strings.NewReader(`{"files":["a"],"prefix":"p/"}`)))

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, recovery.Request{Files: []string{"a"}, Prefix: "p/"}, starter.lastReq)
}

func TestRecoveryHandler_ListAndGet(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)

	require.NoError(t, ledger.StartBatch(ctx, "b1", 2))
	require.NoError(t, ledger.RecordFile(ctx, "b1", "_0.cfs"))
	require.NoError(t, ledger.FinishBatch(ctx, "b1", errors.New("failed to download _0.si")))

	h := NewRecoveryHandler("", "", &mockStarter{}, ledger)

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/recoveries", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var list []BatchResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, "b1", list[0].ID)
	assert.Equal(t, storage.StatusFailed, list[0].Status)
	assert.Equal(t, 1, list[0].Completed)

	rec = httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/recoveries/b1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var batch BatchResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&batch))
	assert.Equal(t, "failed to download _0.si", batch.Error)
	require.Len(t, batch.Recovered, 1)
	assert.Equal(t, "_0.cfs", batch.Recovered[0].Name)
	assert.NotNil(t, batch.FinishedAt)

	rec = httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/recoveries/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecoveryHandler_ListLimit(t *testing.T) {
	h := NewRecoveryHandler("", "", &mockStarter{}, newLedger(t))

	for _, limit := range []string{"0", "-1", "abc"} {
		rec := httptest.NewRecorder()
		h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/recoveries?limit="+limit, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, limit)
	}

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/recoveries?limit=10", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestRecoveryHandler_BasicAuth(t *testing.T) {
	h := NewRecoveryHandler("admin", "secret", &mockStarter{}, newLedger(t)).Routes()

	tests := []struct {
		name       string
		user, pass string
		setAuth    bool
		wantStatus int
	}{
		{"missing credentials", "", "", false, http.StatusUnauthorized},
		{"wrong password", "admin", "nope", true, http.StatusUnauthorized},
		{"valid credentials", "admin", "secret", true, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/recoveries", nil)
			if tt.setAuth {
				req.SetBasicAuth(tt.user, tt.pass)
			}

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}

	// Health stays open.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
