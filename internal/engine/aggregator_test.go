package engine

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/entitle/internal/common"
	"github.com/ternarybob/entitle/internal/models"
)

func TestRetryPolicy(t *testing.T) {
	p := NewRetryPolicy(3)
	assert.False(t, p.Failure())
	assert.False(t, p.Failure())
	p.Progress()
	assert.Equal(t, 0, p.Failures())
	assert.False(t, p.Failure())
	assert.False(t, p.Failure())
	assert.True(t, p.Failure())
	assert.True(t, p.Exhausted())

	single := NewRetryPolicy(0)
	assert.Equal(t, 1, single.MaxAttempts())
	assert.True(t, single.Failure())
}

func TestAggregator_ConcurrentMerge(t *testing.T) {
	req := &models.WorkRequest{Target: "abc", DurationClass: models.DurationThreeMonths, Operations: 50}
	start := time.Now()
	agg := NewAggregator(req, "ORDER1", start)
	agg.SetThreads(25)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cred := "cred-" + string(rune('a'+i))
			agg.RecordGrant(cred)
			agg.RecordGrant(cred)
			agg.RecordFailure("bad", models.FailureChallenge)
			agg.UnitFinished(i, models.UnitStatus{Status: models.UnitSuccess, Operations: 2, Expected: 2})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, agg.Remaining())
	report := agg.Finalize(start.Add(time.Second))
	assert.True(t, report.Success)
	assert.Equal(t, 50, report.TotalOperations)
	assert.Len(t, report.Tokens.Success, 25)
	assert.Equal(t, []string{"bad"}, report.Tokens.Challenge)
	assert.Equal(t, []string{"bad"}, report.Tokens.Failed)
	assert.Equal(t, models.ThreadStats{Total: 25, Completed: 25, Succeeded: 25}, report.Threads)
	assert.Equal(t, time.Second, report.Duration())

	// Finalize happens once
	agg.RecordGrant("late")
	again := agg.Finalize(start.Add(time.Hour))
	assert.Equal(t, report.EndedAt, again.EndedAt)
}

func TestAggregator_Fail(t *testing.T) {
	req := &models.WorkRequest{Target: "abc", DurationClass: models.DurationOneMonth, Operations: 3}
	agg := NewAggregator(req, "ORDER2", time.Now())

	report := agg.Fail(time.Now(), errors.New("boom"), []string{"detail"})
	assert.False(t, report.Success)
	assert.Equal(t, "boom", report.Error)
	assert.Equal(t, []string{"detail"}, report.Details)
	assert.Equal(t, 3, report.ExpectedOperations)
}

func TestCustomizer_Plan(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), []byte{0x89, 'P', 'N', 'G'}, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	c := NewCustomizer(common.CustomizationConfig{
		EnableNickname:  true,
		DefaultNickname: "default-nick",
		EnableAvatar:    true,
		AvatarDir:       dir,
	}, arbor.NewLogger())

	plan := c.Plan(nil)
	assert.Equal(t, "default-nick", plan.Nickname)
	assert.Equal(t, filepath.Join(dir, "a.png"), plan.Avatar)
	assert.Empty(t, plan.Bio)

	plan = c.Plan(&models.Customization{Nickname: "mine"})
	assert.Equal(t, "mine", plan.Nickname)

	uri, err := dataURI(filepath.Join(dir, "a.png"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "data:image/png;base64,"))

	_, err = dataURI(filepath.Join(dir, "notes.txt"))
	assert.Error(t, err)
}
