// Package audit checks stored credentials against the platform and purges the unusable ones.
package audit

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"

	"github.com/ternarybob/entitle/internal/models"
	"github.com/ternarybob/entitle/internal/remote"
	"github.com/ternarybob/entitle/internal/session"
)

// Verdict is the outcome of checking one credential
type Verdict string

const (
	VerdictUsable     Verdict = "usable"      // valid with at least one available slot
	VerdictNoCapacity Verdict = "no_capacity" // valid, every slot on cooldown
	VerdictInvalid    Verdict = "invalid"     // identity rejected
	VerdictUnknown    Verdict = "unknown"     // transport error, rate limit or challenge
)

// Prober establishes a session for one credential. session.Factory satisfies it.
type Prober interface {
	Create(ctx context.Context, credential string, class models.DurationClass, unitID int) (*session.Context, error)
}

// Result is one credential's verdict
type Result struct {
	Credential string  `json:"credential"`
	Verdict    Verdict `json:"verdict"`
	Slots      int     `json:"available_slots"`
	Error      string  `json:"error,omitempty"`
}

// Report groups check results by verdict
type Report struct {
	Results    map[string]Result `json:"-"`
	Usable     []string          `json:"usable"`
	NoCapacity []string          `json:"no_capacity"`
	Invalid    []string          `json:"invalid"`
	Unknown    []string          `json:"unknown"`
}

// Bad reports whether credential was positively identified as unusable
func (r *Report) Bad(credential string) bool {
	res, ok := r.Results[credential]
	if !ok {
		return false
	}
	return res.Verdict == VerdictInvalid || res.Verdict == VerdictNoCapacity
}

// Checker validates credentials concurrently
type Checker struct {
	prober      Prober
	concurrency int
	logger      arbor.ILogger
}

// NewChecker creates a checker running at most concurrency probes at once
func NewChecker(prober Prober, concurrency int, logger arbor.ILogger) *Checker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Checker{prober: prober, concurrency: concurrency, logger: logger}
}

// Check probes every credential. Duplicates are checked once.
// A cancelled ctx leaves the remaining credentials as VerdictUnknown.
func (c *Checker) Check(ctx context.Context, class models.DurationClass, credentials []string) *Report {
	seen := make(map[string]bool, len(credentials))
	var unique []string
	for _, cred := range credentials {
		cred = models.NormalizeCredential(cred)
		if cred == "" || seen[cred] {
			continue
		}
		seen[cred] = true
		unique = append(unique, cred)
	}

	var (
		mu      sync.Mutex
		results = make(map[string]Result, len(unique))
	)

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, cred := range unique {
		g.Go(func() error {
			res := c.probe(ctx, class, cred, i)
			mu.Lock()
			results[cred] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report := &Report{Results: results}
	for cred, res := range results {
		switch res.Verdict {
		case VerdictUsable:
			report.Usable = append(report.Usable, cred)
		case VerdictNoCapacity:
			report.NoCapacity = append(report.NoCapacity, cred)
		case VerdictInvalid:
			report.Invalid = append(report.Invalid, cred)
		default:
			report.Unknown = append(report.Unknown, cred)
		}
	}
	sort.Strings(report.Usable)
	sort.Strings(report.NoCapacity)
	sort.Strings(report.Invalid)
	sort.Strings(report.Unknown)

	c.logger.Info().
		Str("duration_class", class.String()).
		Int("checked", len(unique)).
		Int("usable", len(report.Usable)).
		Int("no_capacity", len(report.NoCapacity)).
		Int("invalid", len(report.Invalid)).
		Int("unknown", len(report.Unknown)).
		Msg("Credential check complete")
	return report
}

func (c *Checker) probe(ctx context.Context, class models.DurationClass, cred string, id int) Result {
	res := Result{Credential: cred}
	if ctx.Err() != nil {
		res.Verdict = VerdictUnknown
		res.Error = ctx.Err().Error()
		return res
	}

	sc, err := c.prober.Create(ctx, cred, class, id)
	switch {
	case err == nil:
		res.Verdict = VerdictUsable
		res.Slots = len(sc.Slots)
	case errors.Is(err, remote.ErrInvalidCredential):
		res.Verdict = VerdictInvalid
	case errors.Is(err, remote.ErrNoCapacity):
		res.Verdict = VerdictNoCapacity
	default:
		res.Verdict = VerdictUnknown
	}
	if err != nil {
		res.Error = err.Error()
		c.logger.Debug().Err(err).Str("credential", models.MaskCredential(cred)).Str("verdict", string(res.Verdict)).Msg("Credential check failed")
	}
	return res
}
