package restore

import (
	"net/url"
	"testing"
	"time"

	models "github.com/apimgr/devrestore/src/server/model"
)

func TestDispatch(t *testing.T) {
	tests := []struct {
		name string
		form url.Values
		want Action
	}{
		{"neither button", url.Values{"csrf_token": {"abc123"}}, ActionNone},
		{"keep identity", url.Values{"btn_keep_ip": {"YES"}}, ActionRestoreKeepingIdentity},
		{"restore all", url.Values{"btn_yes": {"YES"}}, ActionRestoreFull},
		{"both buttons prefer keep identity", url.Values{"btn_yes": {"YES"}, "btn_keep_ip": {"YES"}}, ActionRestoreKeepingIdentity},
		{"empty value still counts", url.Values{"btn_yes": {""}}, ActionRestoreFull},
		{"unrelated field", url.Values{"btn_no": {"YES"}}, ActionNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Dispatch(ParseRequest(tt.form)); got != tt.want {
				t.Errorf("Dispatch() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseRequestToken(t *testing.T) {
	req := ParseRequest(url.Values{"csrf_token": {"abc123"}, "btn_keep_ip": {"YES"}})
	if req.CSRFToken != "abc123" || !req.KeepIdentity || req.RestoreAll {
		t.Errorf("ParseRequest() = %+v", req)
	}
}

func TestActionString(t *testing.T) {
	if ActionNone.Destructive() {
		t.Errorf("ActionNone is destructive")
	}
	if ActionRestoreFull.String() != models.PendingRestoreFull || ActionRestoreKeepingIdentity.String() != models.PendingRestoreKeepIdentity {
		t.Errorf("action names do not match pending kinds")
	}
}

func TestOnSuccess(t *testing.T) {
	sess := &models.Session{ID: "s1", CSRFToken: "abc123"}
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	target := OnSuccess(sess, ActionRestoreKeepingIdentity, "op1", now, "/system/rebooted")
	if target != "/system/rebooted" {
		t.Errorf("target = %q", target)
	}
	if !sess.RebootPending() {
		t.Fatalf("pending not set")
	}
	if sess.Pending.ID != "op1" || sess.Pending.Kind != models.PendingRestoreKeepIdentity || !sess.Pending.CreatedAt.Equal(now) {
		t.Errorf("pending = %+v", sess.Pending)
	}
	if sess.CSRFToken != "abc123" {
		t.Errorf("token changed")
	}
}

func TestGuard(t *testing.T) {
	var g Guard
	if !g.TryAcquire() {
		t.Fatal("first TryAcquire() failed")
	}
	if g.TryAcquire() {
		t.Fatal("second TryAcquire() succeeded while held")
	}
	if !g.Busy() {
		t.Errorf("Busy() = false while held")
	}
	g.Release()
	if !g.TryAcquire() {
		t.Errorf("TryAcquire() after Release() failed")
	}
}
