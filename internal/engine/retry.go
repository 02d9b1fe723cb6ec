package engine

// RetryPolicy bounds the failed attempts one work unit may make.
// A pass that grants at least one operation resets the count.
type RetryPolicy struct {
	maxAttempts int
	failures    int
}

// NewRetryPolicy creates a policy allowing maxAttempts consecutive failures (minimum 1)
func NewRetryPolicy(maxAttempts int) *RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RetryPolicy{maxAttempts: maxAttempts}
}

// Failure charges one attempt and reports whether the budget is now spent
func (p *RetryPolicy) Failure() bool {
	p.failures++
	return p.Exhausted()
}

// Progress resets the failure count after a pass with at least one grant
func (p *RetryPolicy) Progress() {
	p.failures = 0
}

// Exhausted reports whether no attempts remain
func (p *RetryPolicy) Exhausted() bool {
	return p.failures >= p.maxAttempts
}

// Failures is the current consecutive failure count
func (p *RetryPolicy) Failures() int {
	return p.failures
}

// MaxAttempts is the configured budget
func (p *RetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}
