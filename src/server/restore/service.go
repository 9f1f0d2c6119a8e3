package restore

import (
	"context"
	"crypto/rand"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/apimgr/devrestore/src/server/metrics"
	models "github.com/apimgr/devrestore/src/server/model"
	"github.com/apimgr/devrestore/src/server/service"
)

// History persists finished operations
type History interface {
	Record(ctx context.Context, rec *models.OperationRecord) error
}

// Caller identifies who asked for an operation
type Caller struct {
	Actor     service.Actor
	RequestID string
}

// Service runs restore actions one at a time and keeps the record of each
type Service struct {
	Invoker Invoker
	Guard   *Guard
	History History
	Audit   *service.AuditLogger
	Logger  zerolog.Logger
}

// Execute invokes action once. The returned record is nil only when nothing
// ran (ErrNoAction, ErrBusy). A non-nil error with a record means the
// operation ran and failed.
func (s *Service) Execute(ctx context.Context, action Action, caller Caller) (*models.OperationRecord, error) {
	if !action.Destructive() {
		return nil, ErrNoAction
	}

	if !s.Guard.TryAcquire() {
		s.audit(service.EventSystemRestoreBusy, caller, "", action, ErrBusy)
		metrics.RecordRestore(action.String(), "busy", 0)
		return nil, ErrBusy
	}
	defer s.Guard.Release()

	id := ulid.MustNew(ulid.Now(), rand.Reader).String()
	log := s.Logger.With().Str("operation_id", id).Str("action", action.String()).
		Str("user", caller.Actor.ID).Str("request_id", caller.RequestID).Logger()

	log.Warn().Msg("starting restore operation")
	s.audit(service.EventSystemRestoreStarted, caller, id, action, nil)

	started := time.Now()
	res, err := s.Invoker.Invoke(ctx, action)
	if res.StartedAt.IsZero() {
		res.StartedAt = started
	}
	if res.FinishedAt.IsZero() {
		res.FinishedAt = time.Now()
	}

	rec := &models.OperationRecord{
		ID:         id,
		Username:   caller.Actor.ID,
		Action:     action.String(),
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		ExitCode:   res.ExitCode,
		Success:    err == nil,
		Output:     res.Output(),
	}
	if err != nil {
		rec.ErrorMessage = err.Error()
	}

	// The device has already changed; a history write failure must not hide that
	if s.History != nil {
		if herr := s.History.Record(context.WithoutCancel(ctx), rec); herr != nil {
			log.Error().Err(herr).Msg("failed to record restore operation")
		}
	}

	result := "success"
	switch {
	case errors.Is(err, ErrTimeout):
		result = "timeout"
	case err != nil:
		result = "failure"
	}
	metrics.RecordRestore(action.String(), result, rec.Duration())

	if err != nil {
		log.Error().Err(err).Int("exit_code", res.ExitCode).Dur("duration", rec.Duration()).Msg("restore operation failed")
		s.audit(service.EventSystemRestoreFailed, caller, id, action, err)
		return rec, err
	}

	log.Warn().Dur("duration", rec.Duration()).Msg("restore operation completed, reboot pending")
	s.audit(service.EventSystemRestoreCompleted, caller, id, action, nil)
	return rec, nil
}

func (s *Service) audit(event service.EventType, caller Caller, operationID string, action Action, err error) {
	ev := service.AuditEvent{
		RequestID: caller.RequestID,
		Event:     event,
		Category:  service.CategorySystem,
		Actor:     caller.Actor,
		Details:   map[string]interface{}{"action": action.String()},
		Result:    "success",
	}
	if operationID != "" {
		ev.Target = &service.Target{Type: "operation", ID: operationID}
	}
	if err != nil {
		ev.Result = "failure"
		ev.Reason = err.Error()
	}
	if aerr := s.Audit.Log(ev); aerr != nil {
		s.Logger.Error().Err(aerr).Msg("failed to write audit event")
	}
}
