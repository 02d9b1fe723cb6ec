package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/entitle/internal/models"
	"github.com/ternarybob/entitle/internal/remote"
	"github.com/ternarybob/entitle/internal/remote/remotetest"
)

func TestFactoryCreate(t *testing.T) {
	srv := remotetest.NewServer()
	defer srv.Close()

	future := time.Now().Add(time.Hour)
	srv.AddAccount("ready", remotetest.Account{Slots: remotetest.FreshSlots("r", 2)})
	srv.AddAccount("cooling", remotetest.Account{Slots: []models.Slot{
		{ID: "c-0", SubscriptionID: "sub", CooldownEndsAt: &future},
		{ID: "c-1", Canceled: true},
	}})
	srv.AddAccount("dead", remotetest.Account{Invalid: true})
	srv.AddAccount("challenged", remotetest.Account{SlotsChallenge: true})

	client := remote.NewClient(srv.URL, remote.WithRateLimit(0))
	factory := NewFactory(client, arbor.NewLogger())
	ctx := context.Background()

	tests := []struct {
		credential string
		wantErr    error
		wantSlots  int
	}{
		{"ready", nil, 2},
		{"cooling", remote.ErrNoCapacity, 0},
		{"dead", remote.ErrInvalidCredential, 0},
		{"challenged", remote.ErrChallengeRequired, 0},
	}

	for _, tt := range tests {
		t.Run(tt.credential, func(t *testing.T) {
			sc, err := factory.Create(ctx, tt.credential, models.DurationOneMonth, 7)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, sc)
				return
			}
			require.NoError(t, err)
			assert.Len(t, sc.Slots, tt.wantSlots)
			assert.Equal(t, 7, sc.UnitID)
			assert.Equal(t, tt.credential, sc.Credential)
			assert.NotNil(t, sc.Session)
		})
	}

	assert.Equal(t, 0, srv.CountersFor("dead").Slots)
}
