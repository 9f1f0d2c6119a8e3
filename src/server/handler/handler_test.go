package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog"

	"github.com/apimgr/devrestore/src/config"
	"github.com/apimgr/devrestore/src/database"
	"github.com/apimgr/devrestore/src/server"
	"github.com/apimgr/devrestore/src/server/middleware"
	models "github.com/apimgr/devrestore/src/server/model"
	"github.com/apimgr/devrestore/src/server/restore"
	"github.com/apimgr/devrestore/src/server/service"
	"github.com/apimgr/devrestore/src/server/store"
	"github.com/apimgr/devrestore/src/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeInvoker struct {
	mu    sync.Mutex
	calls []restore.Action
	err   error
}

func (f *fakeInvoker) Invoke(ctx context.Context, action restore.Action) (restore.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, action)
	now := time.Now()
	res := restore.Result{Action: action, StartedAt: now, FinishedAt: now, Stdout: []string{"done"}}
	if f.err != nil {
		res.ExitCode = 1
	}
	return res, f.err
}

func (f *fakeInvoker) Calls() []restore.Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]restore.Action(nil), f.calls...)
}

type fakeDevice struct {
	mu      sync.Mutex
	reboots int
}

func (d *fakeDevice) Mode(ctx context.Context) string { return "Access point" }

func (d *fakeDevice) ScheduleReboot() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reboots++
	return true
}

type testServer struct {
	t        *testing.T
	router   *gin.Engine
	handler  *Handler
	sessions *store.MemoryStore
	admins   *models.AdminModel
	invoker  *fakeInvoker
	device   *fakeDevice
	audit    *bytes.Buffer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, err := database.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	cfg.Server.Title = "Test Device"
	cfg.RateLimit.LoginRequests = 0
	cfg.RateLimit.RestoreRequests = 0

	sessions := store.NewMemoryStore(time.Minute)
	t.Cleanup(func() { sessions.Close() })

	var auditBuf bytes.Buffer
	audit := service.NewWriterAuditLogger(&auditBuf)
	logger := utils.NewNopLogger()
	rep := middleware.Reporter{Security: zerolog.Nop(), Audit: audit}

	inv := &fakeInvoker{}
	dev := &fakeDevice{}
	history := &models.OperationModel{DB: db}
	admins := &models.AdminModel{DB: db}

	h := &Handler{
		Config:   cfg,
		Sessions: sessions,
		Admins:   admins,
		History:  history,
		Restore: &restore.Service{
			Invoker: inv,
			Guard:   &restore.Guard{},
			History: history,
			Audit:   audit,
			Logger:  zerolog.Nop(),
		},
		Device:  dev,
		CSRF:    middleware.CSRF{TokenLength: cfg.Session.CSRFTokenLength, Reporter: rep},
		Audit:   audit,
		Logger:  logger,
		Version: "test",
	}

	tmpl, err := server.LoadTemplates()
	if err != nil {
		t.Fatalf("LoadTemplates() error = %v", err)
	}

	r := gin.New()
	r.SetHTMLTemplate(tmpl)
	r.Use(middleware.RequestID())
	r.Use(middleware.LoadSession(sessions, h.Cookie(), zerolog.Nop()))
	if err := h.Register(r, rep); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	return &testServer{
		t:        t,
		router:   r,
		handler:  h,
		sessions: sessions,
		admins:   admins,
		invoker:  inv,
		device:   dev,
		audit:    &auditBuf,
	}
}

// session stores a logged-in session with the given privilege and token
func (ts *testServer) session(privilege models.PrivilegeLevel, token string) *models.Session {
	ts.t.Helper()
	sess, err := models.NewSession("operator", privilege, time.Hour, 32)
	if err != nil {
		ts.t.Fatal(err)
	}
	if token != "" {
		sess.CSRFToken = token
	}
	if err := ts.sessions.Create(context.Background(), sess); err != nil {
		ts.t.Fatal(err)
	}
	return sess
}

func (ts *testServer) reload(sess *models.Session) *models.Session {
	ts.t.Helper()
	got, err := ts.sessions.Get(context.Background(), sess.ID)
	if err != nil {
		ts.t.Fatalf("session lookup: %v", err)
	}
	return got
}

func (ts *testServer) get(path string, sess *models.Session) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if sess != nil {
		req.AddCookie(&http.Cookie{Name: ts.handler.Config.Session.CookieName, Value: sess.ID})
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) post(path string, sess *models.Session, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if sess != nil {
		req.AddCookie(&http.Cookie{Name: ts.handler.Config.Session.CookieName, Value: sess.ID})
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func TestRestorePageRendersForm(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.session(models.PrivilegeAdmin, "")

	w := ts.get("/tools/restore", sess)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{`name="btn_keep_ip"`, `name="btn_yes"`, `value="` + sess.CSRFToken + `"`, "Access point"} {
		if !strings.Contains(body, want) {
			t.Errorf("page lacks %q", want)
		}
	}
}

func TestUnauthorizedNeverInvokes(t *testing.T) {
	tests := []struct {
		name      string
		privilege models.PrivilegeLevel
		anonymous bool
	}{
		{"anonymous", models.PrivilegeNone, true},
		{"guest", models.PrivilegeGuest, false},
		{"operator", models.PrivilegeOperator, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			var sess *models.Session
			token := ""
			if !tt.anonymous {
				sess = ts.session(tt.privilege, "")
				token = sess.CSRFToken
			}

			w := ts.get("/tools/restore", sess)
			if w.Code != http.StatusFound || !strings.HasPrefix(w.Header().Get("Location"), "/login?next=") {
				t.Errorf("GET: got %d %q", w.Code, w.Header().Get("Location"))
			}

			form := url.Values{"btn_yes": {"YES"}, "csrf_token": {token}}
			w = ts.post("/tools/restore", sess, form)
			if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/login" {
				t.Errorf("POST: got %d %q", w.Code, w.Header().Get("Location"))
			}

			if calls := ts.invoker.Calls(); len(calls) != 0 {
				t.Errorf("invoker called: %v", calls)
			}
			if sess != nil && ts.reload(sess).RebootPending() {
				t.Errorf("pending set for unauthorized caller")
			}
		})
	}
}

func TestRestoreScenario(t *testing.T) {
	t.Run("valid token keeps identity", func(t *testing.T) {
		ts := newTestServer(t)
		sess := ts.session(models.PrivilegeAdmin, "abc123")

		w := ts.post("/tools/restore", sess, url.Values{"btn_keep_ip": {"YES"}, "csrf_token": {"abc123"}})
		if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/system/rebooted" {
			t.Fatalf("got %d %q, want 303 /system/rebooted", w.Code, w.Header().Get("Location"))
		}
		calls := ts.invoker.Calls()
		if len(calls) != 1 || calls[0] != restore.ActionRestoreKeepingIdentity {
			t.Errorf("calls = %v, want [RestoreKeepingIdentity]", calls)
		}
		got := ts.reload(sess)
		if !got.RebootPending() || got.Pending.Kind != models.PendingRestoreKeepIdentity {
			t.Errorf("pending = %+v", got.Pending)
		}
		if got.CSRFToken != "abc123" {
			t.Errorf("token rotated to %q", got.CSRFToken)
		}
	})

	t.Run("wrong token", func(t *testing.T) {
		ts := newTestServer(t)
		sess := ts.session(models.PrivilegeAdmin, "abc123")

		w := ts.post("/tools/restore", sess, url.Values{"btn_keep_ip": {"YES"}, "csrf_token": {"wrong"}})
		if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/login" {
			t.Fatalf("got %d %q, want 303 /login", w.Code, w.Header().Get("Location"))
		}
		if calls := ts.invoker.Calls(); len(calls) != 0 {
			t.Errorf("invoker called: %v", calls)
		}
		got := ts.reload(sess)
		if got.RebootPending() {
			t.Errorf("pending set after forged submission")
		}
		if got.CSRFToken != "abc123" {
			t.Errorf("token rotated to %q", got.CSRFToken)
		}
		if !strings.Contains(ts.audit.String(), string(service.EventSecurityCSRFDetected)) {
			t.Errorf("no CSRF audit event")
		}
	})
}

func TestRestoreDispatch(t *testing.T) {
	tests := []struct {
		name      string
		form      url.Values
		wantCalls []restore.Action
		wantKind  string
	}{
		{"full restore", url.Values{"btn_yes": {"YES"}}, []restore.Action{restore.ActionRestoreFull}, models.PendingRestoreFull},
		{"keep identity", url.Values{"btn_keep_ip": {"YES"}}, []restore.Action{restore.ActionRestoreKeepingIdentity}, models.PendingRestoreKeepIdentity},
		{"both buttons", url.Values{"btn_yes": {"YES"}, "btn_keep_ip": {"YES"}}, []restore.Action{restore.ActionRestoreKeepingIdentity}, models.PendingRestoreKeepIdentity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			sess := ts.session(models.PrivilegeAdmin, "")
			tt.form.Set("csrf_token", sess.CSRFToken)

			w := ts.post("/tools/restore", sess, tt.form)
			if w.Code != http.StatusSeeOther {
				t.Fatalf("status = %d, want 303", w.Code)
			}
			calls := ts.invoker.Calls()
			if len(calls) != len(tt.wantCalls) || calls[0] != tt.wantCalls[0] {
				t.Errorf("calls = %v, want %v", calls, tt.wantCalls)
			}
			if got := ts.reload(sess); !got.RebootPending() || got.Pending.Kind != tt.wantKind {
				t.Errorf("pending = %+v, want kind %s", got.Pending, tt.wantKind)
			}
		})
	}
}

func TestRestoreNeitherButtonRerenders(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.session(models.PrivilegeAdmin, "")

	w := ts.post("/tools/restore", sess, url.Values{"csrf_token": {sess.CSRFToken}})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `value="`+sess.CSRFToken+`"`) {
		t.Errorf("re-rendered form lacks the unchanged token")
	}
	if calls := ts.invoker.Calls(); len(calls) != 0 {
		t.Errorf("invoker called: %v", calls)
	}
	got := ts.reload(sess)
	if got.RebootPending() || got.CSRFToken != sess.CSRFToken {
		t.Errorf("session mutated: %+v", got)
	}
}

func TestRestoreFailureIsVisible(t *testing.T) {
	ts := newTestServer(t)
	ts.invoker.err = &restore.ExternalOperationError{Action: restore.ActionRestoreFull, ExitCode: 1, Err: errors.New("exit status 1")}
	sess := ts.session(models.PrivilegeAdmin, "")

	w := ts.post("/tools/restore", sess, url.Values{"btn_yes": {"YES"}, "csrf_token": {sess.CSRFToken}})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Restore Failed") {
		t.Errorf("failure page not rendered")
	}
	if ts.reload(sess).RebootPending() {
		t.Errorf("pending set after failed restore")
	}
	if len(ts.invoker.Calls()) != 1 {
		t.Errorf("failed restore was retried")
	}

	// The confirmation page is not reachable without a real success
	w = ts.get("/system/rebooted", sess)
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/tools/restore" {
		t.Errorf("confirmation: got %d %q", w.Code, w.Header().Get("Location"))
	}
}

func TestRestoreBusy(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.session(models.PrivilegeAdmin, "")

	ts.handler.Restore.Guard.TryAcquire()
	defer ts.handler.Restore.Guard.Release()

	w := ts.post("/tools/restore", sess, url.Values{"btn_yes": {"YES"}, "csrf_token": {sess.CSRFToken}})
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	if calls := ts.invoker.Calls(); len(calls) != 0 {
		t.Errorf("invoker called while busy: %v", calls)
	}
	if ts.reload(sess).RebootPending() {
		t.Errorf("pending set while busy")
	}
}

func TestRebootedConsumesPending(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.session(models.PrivilegeAdmin, "")

	w := ts.post("/tools/restore", sess, url.Values{"btn_yes": {"YES"}, "csrf_token": {sess.CSRFToken}})
	if w.Code != http.StatusSeeOther {
		t.Fatalf("restore status = %d", w.Code)
	}

	w = ts.get("/system/rebooted", sess)
	if w.Code != http.StatusOK {
		t.Fatalf("confirmation status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "System Rebooting") {
		t.Errorf("confirmation page not rendered")
	}
	if ts.reload(sess).RebootPending() {
		t.Errorf("pending not cleared")
	}
	if ts.device.reboots != 1 {
		t.Errorf("reboots = %d, want 1", ts.device.reboots)
	}

	w = ts.get("/system/rebooted", sess)
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/tools/restore" {
		t.Errorf("second visit: got %d %q", w.Code, w.Header().Get("Location"))
	}
	if ts.device.reboots != 1 {
		t.Errorf("second visit scheduled another reboot")
	}
}

func TestLogin(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	if _, err := ts.admins.Create(ctx, "operator", "s3cretpass", models.PrivilegeAdmin, ""); err != nil {
		t.Fatal(err)
	}

	w := ts.post("/login", nil, url.Values{"username": {"operator"}, "password": {"wrong-pass"}})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad password status = %d, want 401", w.Code)
	}
	if !strings.Contains(ts.audit.String(), string(service.EventAdminLoginFailed)) {
		t.Errorf("no failed login audit event")
	}

	w = ts.post("/login", nil, url.Values{"username": {"operator"}, "password": {"s3cretpass"}, "next": {"/system/rebooted"}})
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/system/rebooted" {
		t.Fatalf("login: got %d %q", w.Code, w.Header().Get("Location"))
	}

	var sessionID string
	for _, c := range w.Result().Cookies() {
		if c.Name == ts.handler.Config.Session.CookieName {
			sessionID = c.Value
			if !c.HttpOnly {
				t.Errorf("session cookie is not HttpOnly")
			}
		}
	}
	sess, err := ts.sessions.Get(ctx, sessionID)
	if err != nil {
		t.Fatalf("session not stored: %v", err)
	}
	if sess.Privilege != models.PrivilegeAdmin || sess.CSRFToken == "" {
		t.Errorf("session = %+v", sess)
	}

	w = ts.get("/tools/restore", sess)
	if w.Code != http.StatusOK {
		t.Errorf("restore page after login status = %d", w.Code)
	}
}

func TestLoginRejectsOffsiteNext(t *testing.T) {
	ts := newTestServer(t)
	if _, err := ts.admins.Create(context.Background(), "operator", "s3cretpass", models.PrivilegeAdmin, ""); err != nil {
		t.Fatal(err)
	}

	for _, next := range []string{"https://evil.example/", "//evil.example/x", "/\\evil.example"} {
		w := ts.post("/login", nil, url.Values{"username": {"operator"}, "password": {"s3cretpass"}, "next": {next}})
		if loc := w.Header().Get("Location"); loc != "/tools/restore" {
			t.Errorf("next %q redirected to %q", next, loc)
		}
	}
}

func TestLoginWithTOTP(t *testing.T) {
	ts := newTestServer(t)
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "devrestore", AccountName: "operator"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ts.admins.Create(context.Background(), "operator", "s3cretpass", models.PrivilegeAdmin, key.Secret()); err != nil {
		t.Fatal(err)
	}

	w := ts.post("/login", nil, url.Values{"username": {"operator"}, "password": {"s3cretpass"}})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("missing code status = %d, want 401", w.Code)
	}

	code, err := totp.GenerateCode(key.Secret(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	w = ts.post("/login", nil, url.Values{"username": {"operator"}, "password": {"s3cretpass"}, "totp": {code}})
	if w.Code != http.StatusSeeOther {
		t.Errorf("valid code status = %d, want 303", w.Code)
	}
}

func TestLogout(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.session(models.PrivilegeAdmin, "")

	w := ts.post("/logout", sess, url.Values{"csrf_token": {"wrong"}})
	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d", w.Code)
	}
	if _, err := ts.sessions.Get(context.Background(), sess.ID); err != nil {
		t.Errorf("forged logout deleted the session")
	}

	w = ts.post("/logout", sess, url.Values{"csrf_token": {sess.CSRFToken}})
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/login" {
		t.Fatalf("got %d %q", w.Code, w.Header().Get("Location"))
	}
	if _, err := ts.sessions.Get(context.Background(), sess.ID); !errors.Is(err, store.ErrSessionNotFound) {
		t.Errorf("session still present: %v", err)
	}
}

func TestGraphQL(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.session(models.PrivilegeAdmin, "")

	ts.post("/tools/restore", sess, url.Values{"btn_keep_ip": {"YES"}, "csrf_token": {sess.CSRFToken}})

	query := url.QueryEscape(`{ operations(limit: 5) { id action success } pendingOperation { kind } deviceMode restoreInProgress }`)
	w := ts.get("/api/graphql?query="+query, sess)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		Data struct {
			Operations []struct {
				ID      string `json:"id"`
				Action  string `json:"action"`
				Success bool   `json:"success"`
			} `json:"operations"`
			PendingOperation *struct {
				Kind string `json:"kind"`
			} `json:"pendingOperation"`
			DeviceMode        string `json:"deviceMode"`
			RestoreInProgress bool   `json:"restoreInProgress"`
		} `json:"data"`
		Errors []interface{} `json:"errors"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(resp.Errors) > 0 {
		t.Fatalf("errors: %v", resp.Errors)
	}
	if len(resp.Data.Operations) != 1 || resp.Data.Operations[0].Action != models.PendingRestoreKeepIdentity || !resp.Data.Operations[0].Success {
		t.Errorf("operations = %+v", resp.Data.Operations)
	}
	if resp.Data.PendingOperation == nil || resp.Data.PendingOperation.Kind != models.PendingRestoreKeepIdentity {
		t.Errorf("pendingOperation = %+v", resp.Data.PendingOperation)
	}
	if resp.Data.DeviceMode != "Access point" || resp.Data.RestoreInProgress {
		t.Errorf("deviceMode = %q, restoreInProgress = %v", resp.Data.DeviceMode, resp.Data.RestoreInProgress)
	}

	if w := ts.get("/api/graphql?query="+query, nil); w.Code != http.StatusFound {
		t.Errorf("anonymous API status = %d, want 302", w.Code)
	}
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t)
	w := ts.get("/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "OK" || body["session_store"] != "ok" {
		t.Errorf("health = %v", body)
	}
}

func TestSafeNext(t *testing.T) {
	tests := map[string]string{
		"":                     "",
		"/system/rebooted":     "/system/rebooted",
		"/tools/restore?x=1":   "/tools/restore?x=1",
		"relative":             "",
		"//evil.example":       "",
		"https://evil.example": "",
		"/\\evil":              "",
	}
	for in, want := range tests {
		if got := safeNext(in); got != want {
			t.Errorf("safeNext(%q) = %q, want %q", in, got, want)
		}
	}
}
