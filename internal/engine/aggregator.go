package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/entitle/internal/models"
)

// Recorder is the slice of the aggregator a worker writes to.
type Recorder interface {
	RecordGrant(credential string) int
	RecordFailure(credential string, kind models.FailureKind)
	RecordRateLimit(hint models.RateLimitHint)
	Remaining() int
}

// Aggregator accumulates one request's report under a single lock.
type Aggregator struct {
	mu        sync.Mutex
	report    models.ResultReport
	remaining int
	seen      map[string]map[string]struct{} // list name -> credentials already listed
	finalized bool
}

// NewAggregator starts a report for req
func NewAggregator(req *models.WorkRequest, orderID string, startedAt time.Time) *Aggregator {
	return &Aggregator{
		report: models.ResultReport{
			ExpectedOperations: req.Operations,
			OrderID:            orderID,
			Request: models.RequestSummary{
				Target:        req.Target,
				ResourceID:    req.ResourceID,
				DurationClass: req.DurationClass,
				Operations:    req.Operations,
				Customization: req.Customization,
			},
			Units:     make(map[int]models.UnitStatus),
			StartedAt: startedAt,
			Tokens: models.TokenReport{
				Success:    []string{},
				Failed:     []string{},
				Challenge:  []string{},
				Invalid:    []string{},
				NoCapacity: []string{},
			},
		},
		remaining: req.Operations,
		seen:      make(map[string]map[string]struct{}),
	}
}

// appendOnce adds credential to list unless already present. Caller holds mu.
func (a *Aggregator) appendOnce(name string, list *[]string, credential string) {
	set, ok := a.seen[name]
	if !ok {
		set = make(map[string]struct{})
		a.seen[name] = set
	}
	if _, dup := set[credential]; dup {
		return
	}
	set[credential] = struct{}{}
	*list = append(*list, credential)
}

// SetResourceID records the resolved target
func (a *Aggregator) SetResourceID(resourceID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.report.Request.ResourceID = resourceID
}

// SetThreads records how many units will run
func (a *Aggregator) SetThreads(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.report.Threads.Total = n
}

// RecordGrant counts one completed operation and returns what is still needed
func (a *Aggregator) RecordGrant(credential string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.report.TotalOperations++
	if a.remaining > 0 {
		a.remaining--
	}
	a.appendOnce("success", &a.report.Tokens.Success, credential)
	return a.remaining
}

// RecordFailure files credential under kind and under the failed union
func (a *Aggregator) RecordFailure(credential string, kind models.FailureKind) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch kind {
	case models.FailureChallenge:
		a.appendOnce("challenge", &a.report.Tokens.Challenge, credential)
	case models.FailureInvalid:
		a.appendOnce("invalid", &a.report.Tokens.Invalid, credential)
	case models.FailureNoCapacity:
		a.appendOnce("no_capacity", &a.report.Tokens.NoCapacity, credential)
	}
	a.appendOnce("failed", &a.report.Tokens.Failed, credential)
}

// RecordRateLimit surfaces an advisory wait
func (a *Aggregator) RecordRateLimit(hint models.RateLimitHint) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.report.RateLimits = append(a.report.RateLimits, hint)
}

// Remaining is the number of operations still needed across all units
func (a *Aggregator) Remaining() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.remaining
}

// UnitFinished records a unit's terminal status and updates thread stats
func (a *Aggregator) UnitFinished(unitID int, status models.UnitStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.report.Units[unitID] = status
	a.report.Threads.Completed++
	if status.Status == models.UnitSuccess {
		a.report.Threads.Succeeded++
	} else {
		a.report.Threads.Failed++
	}
}

// Fail finalizes the report as a pre-flight failure
func (a *Aggregator) Fail(endedAt time.Time, err error, details []string) *models.ResultReport {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finalized {
		r := a.report
		return &r
	}
	a.finalized = true
	a.report.Success = false
	a.report.Error = err.Error()
	a.report.Message = err.Error()
	a.report.Details = details
	a.report.EndedAt = endedAt

	r := a.report
	return &r
}

// Finalize closes the report once; later calls return the same snapshot
func (a *Aggregator) Finalize(endedAt time.Time) *models.ResultReport {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finalized {
		r := a.report
		return &r
	}
	a.finalized = true

	r := &a.report
	r.EndedAt = endedAt
	r.Success = r.TotalOperations >= r.ExpectedOperations
	r.Message = fmt.Sprintf("Completed %d/%d operations", r.TotalOperations, r.ExpectedOperations)
	if !r.Success {
		r.Error = fmt.Sprintf("Failed to complete all operations (%d remaining)", r.ExpectedOperations-r.TotalOperations)
	}

	out := *r
	return &out
}
