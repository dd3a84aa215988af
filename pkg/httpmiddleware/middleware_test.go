package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWrap_Order(t *testing.T) {
	var calls []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls = append(calls, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Wrap(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		calls = append(calls, "handler")
	}), mark("outer"), mark("inner"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"outer", "inner", "handler"}, calls)
}

func TestLogRequests_RoutePattern(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)

	r := chi.NewRouter()
	r.Get("/api/orders/{number}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := Wrap(r, RequestID(), InjectLogger(zap.New(core)), LogRequests())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders/ORD20260101-000001", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	entries := logs.FilterMessage("Request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/api/orders/{number}", fields["route"])
	assert.EqualValues(t, http.StatusTeapot, fields["status"])
	assert.Equal(t, rec.Header().Get("X-Request-ID"), fields["request_id"])
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	for _, tt := range []struct {
		name     string
		incoming string
		keep     bool
	}{
		{name: "Generated"},
		{name: "Echoed", incoming: "custom-request-id-12345", keep: true},
		{name: "ControlChars", incoming: "bad\nid"},
		{name: "TooLong", incoming: strings.Repeat("x", maxRequestIDLen+1)},
	} {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			got := w.Header().Get(RequestIDHeader)
			assert.Equal(t, seen, got)
			if tt.keep {
				assert.Equal(t, tt.incoming, got)
				return
			}
			_, err := uuid.Parse(got)
			assert.NoError(t, err)
		})
	}
}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	h := Wrap(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), InjectLogger(zap.New(core)), Recovery())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/checkout/order", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"code":500,"message":"internal error"}`, w.Body.String())
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "/api/checkout/order", logs.All()[0].ContextMap()["path"])
}

func TestRecovery_AbortHandler(t *testing.T) {
	h := Recovery()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for _, tt := range []struct {
		name      string
		cfg       CORSConfig
		method    string
		origin    string
		preflight bool
		status    int
		allow     string
		vary      bool
	}{
		{name: "WildcardSimple", cfg: CORSConfig{AllowOrigins: []string{"*"}}, method: http.MethodGet, origin: "http://shop.test", status: http.StatusOK, allow: "*"},
		{name: "WildcardPreflight", cfg: CORSConfig{}, method: http.MethodOptions, origin: "http://shop.test", preflight: true, status: http.StatusNoContent, allow: "*", vary: true},
		{name: "ListedOriginCaseInsensitive", cfg: CORSConfig{AllowOrigins: []string{"https://Shop.Example"}}, method: http.MethodGet, origin: "https://shop.example", status: http.StatusOK, allow: "https://Shop.Example", vary: true},
		{name: "UnlistedOrigin", cfg: CORSConfig{AllowOrigins: []string{"https://shop.example"}}, method: http.MethodGet, origin: "https://evil.example", status: http.StatusOK, vary: true},
		{name: "UnlistedPreflight", cfg: CORSConfig{AllowOrigins: []string{"https://shop.example"}}, method: http.MethodOptions, origin: "https://evil.example", preflight: true, status: http.StatusNoContent, vary: true},
		{name: "CredentialsEchoOrigin", cfg: CORSConfig{AllowCredentials: true}, method: http.MethodGet, origin: "https://shop.example", status: http.StatusOK, allow: "https://shop.example", vary: true},
		{name: "NoOrigin", cfg: CORSConfig{}, method: http.MethodGet, status: http.StatusOK},
	} {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/cart", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPut)
				req.Header.Set("Access-Control-Request-Headers", "api_key")
			}
			w := httptest.NewRecorder()
			CORS(tt.cfg)(next).ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.allow, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.vary, slices.Contains(w.Header().Values("Vary"), "Origin"))
			if tt.preflight && tt.allow != "" {
				assert.Equal(t, "api_key", w.Header().Get("Access-Control-Allow-Headers"))
				assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Methods"))
			}
		})
	}
}
