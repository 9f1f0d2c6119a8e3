package restore

import (
	"time"

	models "github.com/apimgr/devrestore/src/server/model"
)

// OnSuccess hands the finished operation over to the confirmation page: it
// records the pending operation on the session and returns where to send the
// client. The caller persists the session.
func OnSuccess(sess *models.Session, action Action, operationID string, now time.Time, confirmPath string) string {
	sess.Pending = &models.PendingOperation{
		ID:        operationID,
		Kind:      action.String(),
		CreatedAt: now.UTC(),
	}
	return confirmPath
}
