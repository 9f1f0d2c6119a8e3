package middleware

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	models "github.com/apimgr/devrestore/src/server/model"
	"github.com/apimgr/devrestore/src/server/service"
	"github.com/apimgr/devrestore/src/server/store"
)

const testCookie = "devrestore_session"

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	router *gin.Engine
	store  *store.MemoryStore
	audit  *bytes.Buffer
	hits   int
}

func newTestEnv(t *testing.T, min models.PrivilegeLevel) *testEnv {
	t.Helper()
	env := &testEnv{store: store.NewMemoryStore(time.Minute), audit: &bytes.Buffer{}}
	t.Cleanup(func() { env.store.Close() })

	rep := Reporter{Security: zerolog.Nop(), Audit: service.NewWriterAuditLogger(env.audit)}
	csrf := CSRF{TokenLength: 32, Reporter: rep}

	r := gin.New()
	r.Use(RequestID())
	r.Use(LoadSession(env.store, CookieConfig{Name: testCookie}, zerolog.Nop()))

	guarded := r.Group("/tools", RequirePrivilege(min, "/login", rep), csrf.RequireCSRF("/login"))
	handler := func(c *gin.Context) {
		env.hits++
		c.String(http.StatusOK, "ok")
	}
	guarded.GET("/restore", handler)
	guarded.POST("/restore", handler)

	env.router = r
	return env
}

func (env *testEnv) login(t *testing.T, privilege models.PrivilegeLevel) *models.Session {
	t.Helper()
	sess, err := models.NewSession("operator", privilege, time.Hour, 32)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.store.Create(context.Background(), sess); err != nil {
		t.Fatal(err)
	}
	return sess
}

func (env *testEnv) do(method, target string, sess *models.Session, form url.Values) *httptest.ResponseRecorder {
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if sess != nil {
		req.AddCookie(&http.Cookie{Name: testCookie, Value: sess.ID})
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func TestResolvePrivilege(t *testing.T) {
	tests := []struct {
		name string
		sess *models.Session
		want models.PrivilegeLevel
	}{
		{"nil session", nil, models.PrivilegeNone},
		{"expired", &models.Session{Privilege: models.PrivilegeAdmin, ExpiresAt: time.Now().Add(-time.Second)}, models.PrivilegeNone},
		{"invalid level", &models.Session{Privilege: models.PrivilegeLevel(42), ExpiresAt: time.Now().Add(time.Hour)}, models.PrivilegeNone},
		{"guest", &models.Session{Privilege: models.PrivilegeGuest, ExpiresAt: time.Now().Add(time.Hour)}, models.PrivilegeGuest},
		{"admin", &models.Session{Privilege: models.PrivilegeAdmin, ExpiresAt: time.Now().Add(time.Hour)}, models.PrivilegeAdmin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolvePrivilege(tt.sess); got != tt.want {
				t.Errorf("ResolvePrivilege() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRequirePrivilege(t *testing.T) {
	t.Run("anonymous GET keeps target", func(t *testing.T) {
		env := newTestEnv(t, models.PrivilegeAdmin)
		w := env.do(http.MethodGet, "/tools/restore", nil, nil)
		if w.Code != http.StatusFound {
			t.Fatalf("status = %d, want 302", w.Code)
		}
		if loc := w.Header().Get("Location"); loc != "/login?next=%2Ftools%2Frestore" {
			t.Errorf("Location = %q", loc)
		}
		if env.hits != 0 {
			t.Errorf("handler ran for anonymous caller")
		}
	})

	t.Run("guest POST is discarded", func(t *testing.T) {
		env := newTestEnv(t, models.PrivilegeAdmin)
		sess := env.login(t, models.PrivilegeGuest)
		form := url.Values{"btn_yes": {"YES"}, CSRFFieldName: {sess.CSRFToken}}
		w := env.do(http.MethodPost, "/tools/restore", sess, form)
		if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/login" {
			t.Fatalf("got %d %q, want 303 /login", w.Code, w.Header().Get("Location"))
		}
		if env.hits != 0 {
			t.Errorf("handler ran for under-privileged caller")
		}
		if !strings.Contains(env.audit.String(), string(service.EventSecurityUnauthorized)) {
			t.Errorf("no unauthorized audit event: %s", env.audit.String())
		}
	})

	t.Run("unknown session cookie is cleared", func(t *testing.T) {
		env := newTestEnv(t, models.PrivilegeAdmin)
		w := env.do(http.MethodGet, "/tools/restore", &models.Session{ID: "forged"}, nil)
		if w.Code != http.StatusFound {
			t.Fatalf("status = %d, want 302", w.Code)
		}
		if !strings.Contains(w.Header().Get("Set-Cookie"), testCookie+"=;") {
			t.Errorf("cookie not cleared: %q", w.Header().Get("Set-Cookie"))
		}
	})

	t.Run("admin passes", func(t *testing.T) {
		env := newTestEnv(t, models.PrivilegeAdmin)
		sess := env.login(t, models.PrivilegeAdmin)
		w := env.do(http.MethodGet, "/tools/restore", sess, nil)
		if w.Code != http.StatusOK || env.hits != 1 {
			t.Errorf("status = %d, hits = %d", w.Code, env.hits)
		}
	})
}

func TestRequireCSRF(t *testing.T) {
	tests := []struct {
		name   string
		token  func(s *models.Session) string
		passes bool
	}{
		{"matching token", func(s *models.Session) string { return s.CSRFToken }, true},
		{"wrong token", func(s *models.Session) string { return "wrong" }, false},
		{"empty token", func(s *models.Session) string { return "" }, false},
		{"token prefix", func(s *models.Session) string { return s.CSRFToken[:8] }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, models.PrivilegeAdmin)
			sess := env.login(t, models.PrivilegeAdmin)

			form := url.Values{"btn_keep_ip": {"YES"}}
			if tok := tt.token(sess); tok != "" {
				form.Set(CSRFFieldName, tok)
			}
			w := env.do(http.MethodPost, "/tools/restore", sess, form)

			if tt.passes {
				if w.Code != http.StatusOK || env.hits != 1 {
					t.Errorf("status = %d, hits = %d, want 200 and 1", w.Code, env.hits)
				}
				return
			}
			if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/login" {
				t.Errorf("got %d %q, want 303 /login", w.Code, w.Header().Get("Location"))
			}
			if env.hits != 0 {
				t.Errorf("handler ran with a bad token")
			}
			if !strings.Contains(env.audit.String(), string(service.EventSecurityCSRFDetected)) {
				t.Errorf("no CSRF audit event")
			}

			// The session token is unchanged by the rejection
			got, err := env.store.Get(context.Background(), sess.ID)
			if err != nil {
				t.Fatal(err)
			}
			if got.CSRFToken != sess.CSRFToken {
				t.Errorf("token rotated on failure")
			}
		})
	}
}

func TestCSRFHeaderToken(t *testing.T) {
	env := newTestEnv(t, models.PrivilegeAdmin)
	sess := env.login(t, models.PrivilegeAdmin)

	req := httptest.NewRequest(http.MethodPost, "/tools/restore", nil)
	req.Header.Set(CSRFHeaderName, sess.CSRFToken)
	req.AddCookie(&http.Cookie{Name: testCookie, Value: sess.ID})
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestCSRFCurrentToken(t *testing.T) {
	v := CSRF{TokenLength: 32}

	sess := &models.Session{CSRFToken: "abc123"}
	tok, generated, err := v.CurrentToken(sess)
	if err != nil || tok != "abc123" || generated {
		t.Errorf("CurrentToken() = %q, %v, %v", tok, generated, err)
	}

	empty := &models.Session{}
	tok, generated, err = v.CurrentToken(empty)
	if err != nil || tok == "" || !generated || empty.CSRFToken != tok {
		t.Errorf("CurrentToken(empty) = %q, %v, %v", tok, generated, err)
	}
	again, generated, _ := v.CurrentToken(empty)
	if again != tok || generated {
		t.Errorf("CurrentToken() not idempotent")
	}

	if v.Validate(&models.Session{}, "") {
		t.Errorf("empty tokens validated")
	}
	if !v.Validate(&models.Session{CSRFToken: "abc123"}, "abc123") {
		t.Errorf("matching token rejected")
	}
	if v.Validate(nil, "abc123") {
		t.Errorf("nil session validated")
	}
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, GetRequestID(c)) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderXCorrelationID, "corr-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Body.String() != "corr-1" || w.Header().Get(HeaderXRequestID) != "corr-1" {
		t.Errorf("request ID not propagated: body %q header %q", w.Body.String(), w.Header().Get(HeaderXRequestID))
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if len(w.Body.String()) != 36 {
		t.Errorf("generated request ID %q is not a UUID", w.Body.String())
	}
}

func TestRateLimit(t *testing.T) {
	r := gin.New()
	r.POST("/login", RateLimit(2, time.Minute), func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = "192.0.2.10:1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 200 429]", codes)
	}
}
