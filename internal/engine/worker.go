package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/entitle/internal/models"
	"github.com/ternarybob/entitle/internal/remote"
	"github.com/ternarybob/entitle/internal/session"
)

// SessionFactory builds a validated session for one credential.
type SessionFactory interface {
	Create(ctx context.Context, credential string, class models.DurationClass, unitID int) (*session.Context, error)
}

// Worker drives one work unit through
// acquire -> establish session -> join -> grant -> customize, retrying on a fresh credential.
type Worker struct {
	unit          models.WorkUnit
	class         models.DurationClass
	customization *models.Customization
	source        CredentialSource
	sessions      SessionFactory
	customizer    *Customizer
	recorder      Recorder
	policy        *RetryPolicy
	logger        arbor.ILogger

	state     models.UnitState
	current   string // credential in hand, released on every path out of a pass
	completed int
	used      int
}

// NewWorker creates a worker for unit. Every collaborator is passed explicitly.
func NewWorker(
	unit models.WorkUnit,
	req *models.WorkRequest,
	source CredentialSource,
	sessions SessionFactory,
	customizer *Customizer,
	recorder Recorder,
	policy *RetryPolicy,
	logger arbor.ILogger,
) *Worker {
	return &Worker{
		unit:          unit,
		class:         req.DurationClass,
		customization: req.Customization,
		source:        source,
		sessions:      sessions,
		customizer:    customizer,
		recorder:      recorder,
		policy:        policy,
		logger:        logger,
	}
}

// Run executes the unit until its operations are complete, the retry budget is
// spent, no credential is available, or ctx is done.
func (w *Worker) Run(ctx context.Context) models.UnitStatus {
	defer func() {
		// Unwinding from a panic with a credential in hand: park it for release at Close
		if w.current != "" {
			w.source.Hold(w.current, models.FailureTransport)
			w.current = ""
		}
	}()

	for w.completed < w.unit.Operations && !w.policy.Exhausted() {
		if ctx.Err() != nil || w.recorder.Remaining() <= 0 {
			break
		}
		if !w.pass(ctx) {
			break
		}
	}

	w.state = models.StateDone
	return w.status()
}

// pass makes one attempt with one credential. It returns false when the unit must stop.
func (w *Worker) pass(ctx context.Context) bool {
	w.state = models.StateAcquireCredential
	cred, err := w.source.Acquire(ctx)
	if err != nil {
		w.logger.Warn().Err(err).Int("unit_id", w.unit.ID).Msg("No credential available, unit ends")
		return false
	}
	w.current = cred
	w.used++
	masked := models.MaskCredential(cred)

	w.state = models.StateEstablishSession
	sc, err := w.sessions.Create(ctx, cred, w.class, w.unit.ID)
	if err != nil {
		w.fail(cred, classify(err), err)
		return true
	}

	w.state = models.StateJoinResource
	if err := sc.Session.Join(ctx, w.unit.InviteCode); err != nil {
		kind := classify(err)
		if kind == models.FailureTransport {
			var apiErr *remote.APIError
			if errors.As(err, &apiErr) {
				kind = models.FailureJoin
			}
		}
		w.fail(cred, kind, err)
		return true
	}

	w.state = models.StateGrantEntitlement
	granted := w.grant(ctx, sc)
	if granted == 0 {
		w.fail(cred, models.FailureGrant, errors.New("no grant succeeded"))
		return true
	}
	w.completed += granted
	w.policy.Progress()

	w.state = models.StateCustomize
	if w.customizer != nil {
		w.customizer.Apply(ctx, sc.Session, w.unit.ResourceID, w.customization, w.logger)
	}

	unused := len(sc.Slots) - granted
	if unused > 0 {
		w.source.Return(cred, fmt.Sprintf("remaining slots: %d", unused))
	} else {
		w.source.Remove(cred, "capacity consumed")
	}
	w.current = ""

	w.logger.Info().
		Int("unit_id", w.unit.ID).
		Str("credential", masked).
		Int("granted", granted).
		Int("unused", unused).
		Int("completed", w.completed).
		Int("expected", w.unit.Operations).
		Msg("Grant pass complete")
	return true
}

// grant issues one call per available slot until the unit's need is met
func (w *Worker) grant(ctx context.Context, sc *session.Context) int {
	need := w.unit.Operations - w.completed
	granted := 0

	for _, slot := range sc.Slots {
		if granted >= need || w.recorder.Remaining() <= 0 || ctx.Err() != nil {
			break
		}

		err := sc.Session.Grant(ctx, w.unit.ResourceID, slot.ID)
		if err == nil {
			granted++
			w.recorder.RecordGrant(sc.Credential)
			continue
		}

		if rl, ok := remote.IsRateLimited(err); ok {
			w.recorder.RecordRateLimit(models.RateLimitHint{
				Credential: sc.Credential,
				SlotID:     slot.ID,
				RetryAfter: rl.RetryAfter,
			})
			w.logger.Warn().
				Int("unit_id", w.unit.ID).
				Str("slot_id", slot.ID).
				Dur("retry_after", rl.RetryAfter).
				Msg("Grant rate limited")
			continue
		}

		w.logger.Warn().Err(err).Int("unit_id", w.unit.ID).Str("slot_id", slot.ID).Msg("Grant failed")
	}
	return granted
}

// fail records a failed pass, settles the credential and charges the retry budget
func (w *Worker) fail(cred string, kind models.FailureKind, err error) {
	w.recorder.RecordFailure(cred, kind)

	if kind == models.FailureInvalid {
		w.source.Remove(cred, "invalid")
	} else {
		w.source.Hold(cred, kind)
	}
	w.current = ""

	exhausted := w.policy.Failure()
	w.logger.Warn().
		Err(err).
		Int("unit_id", w.unit.ID).
		Str("credential", models.MaskCredential(cred)).
		Str("state", string(w.state)).
		Str("failure", string(kind)).
		Int("retry", w.policy.Failures()).
		Bool("exhausted", exhausted).
		Msg("Unit pass failed")
}

func (w *Worker) status() models.UnitStatus {
	outcome := models.UnitFailed
	switch {
	case w.completed >= w.unit.Operations:
		outcome = models.UnitSuccess
	case w.completed > 0:
		outcome = models.UnitPartial
	}
	return models.UnitStatus{
		Status:     outcome,
		Operations: w.completed,
		Expected:   w.unit.Operations,
		TokensUsed: w.used,
		LastState:  w.state,
	}
}

// classify maps a session or join error onto the failure taxonomy
func classify(err error) models.FailureKind {
	switch {
	case errors.Is(err, remote.ErrInvalidCredential):
		return models.FailureInvalid
	case errors.Is(err, remote.ErrNoCapacity):
		return models.FailureNoCapacity
	case errors.Is(err, remote.ErrChallengeRequired):
		return models.FailureChallenge
	default:
		return models.FailureTransport
	}
}

// panickedStatus is recorded for a unit whose worker panicked
func panickedStatus(unit models.WorkUnit) models.UnitStatus {
	return models.UnitStatus{
		Status:    models.UnitFailed,
		Expected:  unit.Operations,
		LastState: models.StateDone,
	}
}
