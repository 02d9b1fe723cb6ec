package engine

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/entitle/internal/models"
	"github.com/ternarybob/entitle/internal/remote"
	"github.com/ternarybob/entitle/internal/remote/remotetest"
)

func newReleaseClient(t *testing.T) (*remotetest.Server, *remote.Client) {
	t.Helper()
	srv := remotetest.NewServer()
	transport := &http.Transport{}
	t.Cleanup(func() {
		srv.Close()
		transport.CloseIdleConnections()
	})
	client := remote.NewClient(srv.URL,
		remote.WithHTTPClient(&http.Client{Transport: transport, Timeout: 5 * time.Second}),
		remote.WithRateLimit(0),
		remote.WithLogger(arbor.NewLogger()),
	)
	return srv, client
}

func TestReleaser_SplitsOutcomes(t *testing.T) {
	srv, client := newReleaseClient(t)
	srv.AddAccount("tok-a", remotetest.Account{})
	srv.AddAccount("tok-b", remotetest.Account{LeaveStatus: http.StatusOK})
	srv.AddAccount("tok-c", remotetest.Account{LeaveStatus: http.StatusForbidden})
	srv.AddAccount("tok-d", remotetest.Account{Invalid: true})

	releaser := NewReleaser(client, 4, arbor.NewLogger())
	report := releaser.Run(context.Background(), "res-1",
		[]string{"mail:pw:tok-a", "tok-b", "tok-c", "tok-d", "tok-a", " "})

	assert.True(t, report.Success)
	assert.Empty(t, report.Error)
	assert.Equal(t, "res-1", report.ResourceID)
	assert.Equal(t, []string{"mail:pw:tok-a", "tok-b"}, report.Released.Tokens)
	assert.Equal(t, 2, report.Released.Count)
	assert.Equal(t, []string{"tok-c", "tok-d"}, report.Failed.Tokens)
	assert.Equal(t, 2, report.Failed.Count)
	assert.False(t, report.EndedAt.Before(report.StartedAt))
	assert.GreaterOrEqual(t, report.TimeTaken, 0.0)

	// Duplicates and blanks never reach the platform
	assert.Equal(t, 4, srv.Counters().Leaves)
	assert.Equal(t, 1, srv.CountersFor("tok-a").Leaves)
}

func TestReleaser_RejectsEmptyInput(t *testing.T) {
	srv, client := newReleaseClient(t)
	releaser := NewReleaser(client, 0, arbor.NewLogger())

	report := releaser.Run(context.Background(), "", []string{"tok-a"})
	assert.False(t, report.Success)
	assert.Contains(t, report.Error, "resource id is required")

	report = releaser.Run(context.Background(), "res-1", nil)
	assert.False(t, report.Success)
	assert.Contains(t, report.Error, "no credentials")
	assert.Equal(t, 0, report.Released.Count)
	assert.Equal(t, 0, report.Failed.Count)

	assert.Equal(t, 0, srv.Counters().Leaves)
}

type countingOpener struct {
	inner   SessionOpener
	fail    string
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (o *countingOpener) Open(credential string) (*remote.Session, error) {
	if credential == o.fail {
		return nil, errors.New("cannot open session")
	}
	n := o.active.Add(1)
	for {
		seen := o.maxSeen.Load()
		if n <= seen || o.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	o.active.Add(-1)
	return o.inner.Open(credential)
}

func TestReleaser_BoundedWorkers(t *testing.T) {
	srv, client := newReleaseClient(t)
	creds := make([]string, 0, 12)
	for i := 0; i < 12; i++ {
		cred := "tok-" + string(rune('a'+i))
		srv.AddAccount(cred, remotetest.Account{})
		creds = append(creds, cred)
	}

	opener := &countingOpener{inner: client, fail: "tok-a"}
	report := NewReleaser(opener, 3, arbor.NewLogger()).Run(context.Background(), "res-1", creds)

	assert.True(t, report.Success)
	assert.Equal(t, 11, report.Released.Count)
	assert.Equal(t, []string{"tok-a"}, report.Failed.Tokens)
	assert.LessOrEqual(t, int(opener.maxSeen.Load()), 3)
	assert.Equal(t, 11, srv.Counters().Leaves)
}

func TestReleaser_CancelledContext(t *testing.T) {
	srv, client := newReleaseClient(t)
	srv.AddAccount("tok-a", remotetest.Account{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := NewReleaser(client, 1, arbor.NewLogger()).Run(ctx, "res-1", []string{"tok-a"})
	assert.True(t, report.Success)
	assert.Equal(t, []string{"tok-a"}, report.Failed.Tokens)
	assert.Equal(t, 0, report.Released.Count)
	assert.Equal(t, models.ReleaseOutcome{Tokens: []string{"tok-a"}, Count: 1}, report.Failed)
}
