// Package session turns a credential into a validated, ready-to-use remote session.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/entitle/internal/models"
	"github.com/ternarybob/entitle/internal/remote"
)

// Context is one worker's exclusive session state. Never shared between workers.
type Context struct {
	Credential    string
	DurationClass models.DurationClass
	Session       *remote.Session
	Slots         []models.Slot // available at creation time
	UnitID        int
}

// Factory builds session contexts.
type Factory struct {
	client *remote.Client
	logger arbor.ILogger
	now    func() time.Time
}

// NewFactory creates a session factory over client.
func NewFactory(client *remote.Client, logger arbor.ILogger) *Factory {
	return &Factory{
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

// Create validates credential, warms cookies and attaches the available slots.
//
// Errors: remote.ErrInvalidCredential on a rejected identity, remote.ErrNoCapacity
// when no slot is available, remote.ErrChallengeRequired when slot listing is
// challenged, anything else is a transport failure.
func (f *Factory) Create(ctx context.Context, credential string, class models.DurationClass, unitID int) (*Context, error) {
	masked := models.MaskCredential(credential)

	sess, err := f.client.Open(credential)
	if err != nil {
		return nil, err
	}

	if _, err := sess.Identity(ctx); err != nil {
		return nil, err
	}

	if err := sess.WarmCookies(ctx); err != nil {
		f.logger.Warn().Err(err).Str("credential", masked).Int("unit_id", unitID).Msg("Cookie warm-up failed, continuing")
	}

	slots, err := sess.Slots(ctx)
	if err != nil {
		return nil, err
	}

	available := models.AvailableSlots(slots, f.now())
	if len(available) == 0 {
		return nil, fmt.Errorf("%w: %d slots, none available", remote.ErrNoCapacity, len(slots))
	}

	f.logger.Debug().
		Str("credential", masked).
		Int("unit_id", unitID).
		Int("slots", len(slots)).
		Int("available", len(available)).
		Msg("Session established")

	return &Context{
		Credential:    credential,
		DurationClass: class,
		Session:       sess,
		Slots:         available,
		UnitID:        unitID,
	}, nil
}
