// Package restore runs the factory-reset operation on behalf of an operator:
// form intent to action, action to external invocation, invocation to the
// pending-reboot handoff.
package restore

import (
	"net/url"

	models "github.com/apimgr/devrestore/src/server/model"
)

// Form fields of the restore page
const (
	FieldRestoreFull         = "btn_yes"
	FieldRestoreKeepIdentity = "btn_keep_ip"
	FieldCSRFToken           = "csrf_token"
)

// Action is the closed set of things a restore submission can ask for
type Action int

const (
	// ActionNone re-renders the form
	ActionNone Action = iota
	// ActionRestoreKeepingIdentity resets configuration but keeps the network identity
	ActionRestoreKeepingIdentity
	// ActionRestoreFull resets configuration including the network identity
	ActionRestoreFull
)

// String returns the action name used in logs, metrics and history
func (a Action) String() string {
	switch a {
	case ActionRestoreKeepingIdentity:
		return models.PendingRestoreKeepIdentity
	case ActionRestoreFull:
		return models.PendingRestoreFull
	default:
		return "none"
	}
}

// Destructive reports whether the action invokes the restore operation
func (a Action) Destructive() bool {
	return a == ActionRestoreKeepingIdentity || a == ActionRestoreFull
}

// Request is one parsed submission of the restore form
type Request struct {
	KeepIdentity bool
	RestoreAll   bool
	CSRFToken    string
}

// ParseRequest reads the submission. A button counts as pressed when its
// field is present, whatever its value.
func ParseRequest(form url.Values) Request {
	_, keep := form[FieldRestoreKeepIdentity]
	_, all := form[FieldRestoreFull]
	return Request{
		KeepIdentity: keep,
		RestoreAll:   all,
		CSRFToken:    form.Get(FieldCSRFToken),
	}
}

// Dispatch picks exactly one action. Keeping the identity wins when both
// buttons arrive in one submission.
func Dispatch(req Request) Action {
	switch {
	case req.KeepIdentity:
		return ActionRestoreKeepingIdentity
	case req.RestoreAll:
		return ActionRestoreFull
	default:
		return ActionNone
	}
}
