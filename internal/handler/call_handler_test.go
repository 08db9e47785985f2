package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voicedesk/voicequote/internal/domain"
)

// newManagementRouter mirrors the production wiring: call routes on the
// /api/acs subrouter behind the middleware chain.
func newManagementRouter(svc CallEventService, secretKey string) *mux.Router {
	router := mux.NewRouter()
	mgmtRouter := router.PathPrefix("/api/acs").Subrouter()
	mgmtRouter.Use(LoggingMiddleware)
	mgmtRouter.Use(ValidationMiddleware)
	mgmtRouter.Use(APIKeyMiddleware(secretKey))
	NewCallHandler(svc, nil).SetupCallRoutes(mgmtRouter)
	return router
}

func signOperatorKey(t *testing.T, secret, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"role": role})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestManagementEndpoints(t *testing.T) {
	svc := newRecordingService()
	svc.calls["call-1"] = &domain.CallRecord{
		CallID:      "call-1",
		CallerPhone: "+15550100",
		Status:      domain.CallStatusConnected,
	}
	router := newManagementRouter(svc, "")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/acs/calls", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var listResp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &listResp))
	assert.Equal(t, 1, listResp.Count)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/acs/calls/call-1", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/acs/calls/call-1", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/acs/calls/call-1", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestManagementRoutesRequireAPIKey(t *testing.T) {
	svc := newRecordingService()
	svc.calls["call-1"] = &domain.CallRecord{CallID: "call-1"}
	router := newManagementRouter(svc, "super-secret")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/acs/calls", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodDelete, "/api/acs/calls/call-1", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, 1, svc.GetConnectionCount())
}

func TestManagementAPIKeyValidation(t *testing.T) {
	svc := newRecordingService()
	router := newManagementRouter(svc, "super-secret")

	cases := []struct {
		name string
		key  string
		want int
	}{
		{"operator role accepted", signOperatorKey(t, "super-secret", "operator"), http.StatusOK},
		{"wrong role rejected", signOperatorKey(t, "super-secret", "viewer"), http.StatusUnauthorized},
		{"wrong secret rejected", signOperatorKey(t, "other-secret", "operator"), http.StatusUnauthorized},
		{"garbage rejected", "not-a-jwt", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/acs/calls", nil)
			req.Header.Set("X-API-Key", tc.key)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			assert.Equal(t, tc.want, rr.Code)
		})
	}
}
