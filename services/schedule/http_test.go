package schedule

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedInitData() string {
	fields := url.Values{}
	fields.Set("user", `{"id":123456789,"first_name":"Test"}`)
	fields.Set("auth_date", "1772000000")
	fields.Set("hash", "abcdef")
	return fields.Encode()
}

func TestIdentityFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/schedule/day", nil)
	r.Header.Set("Authorization", "tma "+signedInitData())

	userId, initData, err := identityFromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "123456789", userId)
	assert.Equal(t, signedInitData(), initData)
}

func TestIdentityFromRequestRejectsBadHeaders(t *testing.T) {
	for name, header := range map[string]string{
		"missing":     "",
		"wrongScheme": "Bearer " + signedInitData(),
		"noUser":      "tma auth_date=1772000000&hash=abcdef",
		"emptyValue":  "tma ",
	} {
		t.Run(name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/api/schedule/day", nil)
			if header != "" {
				r.Header.Set("Authorization", header)
			}
			_, _, err := identityFromRequest(r)
			require.Error(t, err)
		})
	}
}

func TestServerRejectsUnauthenticatedRequests(t *testing.T) {
	server := NewServer(ServerOptions{})
	mux := http.NewServeMux()
	server.Register(mux)

	for _, req := range []*http.Request{
		httptest.NewRequest("GET", "/api/schedule/day", nil),
		httptest.NewRequest("GET", "/api/schedule/week", nil),
		httptest.NewRequest("POST", "/api/schedule/preload", nil),
		httptest.NewRequest("DELETE", "/api/schedule/cache", nil),
		httptest.NewRequest("GET", "/api/auth/check", nil),
		httptest.NewRequest("POST", "/api/auth/credentials", nil),
		httptest.NewRequest("DELETE", "/api/auth/credentials", nil),
	} {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code, req.URL.Path)
	}
}

// the server is a thin proxy in front of the credential storage
// backend for the check/store/delete contract
func TestAuthProxyRoutes(t *testing.T) {
	var stored string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tma "+signedInitData(), r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/auth/check":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"has_credentials":false}`))
		case r.Method == http.MethodPost && r.URL.Path == "/api/auth/credentials":
			body, _ := io.ReadAll(r.Body)
			stored = string(body)
		case r.Method == http.MethodDelete && r.URL.Path == "/api/auth/credentials":
			stored = ""
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}))
	defer backend.Close()

	server := NewServer(ServerOptions{AuthBaseUrl: backend.URL})
	mux := http.NewServeMux()
	server.Register(mux)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		var reader io.Reader
		if body != "" {
			reader = strings.NewReader(body)
		}
		r := httptest.NewRequest(method, path, reader)
		r.Header.Set("Authorization", "tma "+signedInitData())
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, r)
		return w
	}

	w := do("GET", "/api/auth/check", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"has_credentials":false}`, w.Body.String())

	w = do("POST", "/api/auth/credentials", `{"username":"student","password":"hunter2","base_plan_id":"3417"}`)
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.JSONEq(t, `{"username":"student","password":"hunter2","base_plan_id":"3417"}`, stored)

	// an incomplete pair never reaches the backend
	w = do("POST", "/api/auth/credentials", `{"username":"student"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do("DELETE", "/api/auth/credentials", "")
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "", stored)
}

func TestHandleGetDayRejectsMalformedDate(t *testing.T) {
	server := NewServer(ServerOptions{})
	mux := http.NewServeMux()
	server.Register(mux)

	r := httptest.NewRequest("GET", "/api/schedule/day?date=06.03.2026", nil)
	r.Header.Set("Authorization", "tma "+signedInitData())
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
