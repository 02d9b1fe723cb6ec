// -----------------------------------------------------------------------
// Work requests and work units
// -----------------------------------------------------------------------

package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DefaultOperationsPerCredential is the number of entitlement grants one credential is assumed to carry.
const DefaultOperationsPerCredential = 2

var requestValidator = validator.New()

// Customization is the optional per-order profile payload applied after a successful grant.
type Customization struct {
	Nickname string `json:"nickname,omitempty" toml:"nickname"`
	Bio      string `json:"bio,omitempty" toml:"bio"`
	Pronouns string `json:"pronouns,omitempty" toml:"pronouns"`
	Avatar   string `json:"avatar,omitempty" toml:"avatar"` // local image path
	Banner   string `json:"banner,omitempty" toml:"banner"` // local image path
}

// IsEmpty reports whether no field is set.
func (c *Customization) IsEmpty() bool {
	return c == nil || (c.Nickname == "" && c.Bio == "" && c.Pronouns == "" && c.Avatar == "" && c.Banner == "")
}

// WorkRequest is one bulk order.
type WorkRequest struct {
	Target        string         `json:"target" validate:"required"`                     // invite code or invite URL
	ResourceID    string         `json:"resource_id,omitempty"`                          // skips target resolution when set
	DurationClass DurationClass  `json:"duration_class" validate:"oneof=1 3"`            // entitlement duration in months
	Operations    int            `json:"operations" validate:"min=1"`                    // number of grants requested
	Credentials   []string       `json:"credentials,omitempty" validate:"dive,required"` // explicit credential list
	Customization *Customization `json:"customization,omitempty"`
	OrderID       string         `json:"order_id,omitempty"`
}

// Validate checks the request invariants and returns every violation as one error wrapping ErrInvalidParameters.
func (r *WorkRequest) Validate() error {
	details := r.ValidationDetails()
	if len(details) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidParameters, strings.Join(details, "; "))
}

// ValidationDetails lists human-readable violations, empty when the request is valid.
func (r *WorkRequest) ValidationDetails() []string {
	err := requestValidator.Struct(r)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []string{err.Error()}
	}

	details := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.StructField() {
		case "DurationClass":
			details = append(details, fmt.Sprintf("Invalid duration: %d months. Must be either 1 or 3 months", int(r.DurationClass)))
		case "Operations":
			details = append(details, fmt.Sprintf("Invalid operation count: %d. Must be at least 1", r.Operations))
		case "Target":
			details = append(details, "No target provided")
		default:
			details = append(details, fmt.Sprintf("Invalid %s", fe.Namespace()))
		}
	}
	return details
}

// UsesExplicitCredentials reports whether the request carries its own credential list.
func (r *WorkRequest) UsesExplicitCredentials() bool {
	return len(r.Credentials) > 0
}

// RequiredCredentials is ceil(operations / perCredential).
func RequiredCredentials(operations, perCredential int) int {
	if operations <= 0 {
		return 0
	}
	if perCredential <= 0 {
		perCredential = DefaultOperationsPerCredential
	}
	return (operations + perCredential - 1) / perCredential
}

// InviteCode reduces an invite URL to its trailing code.
func InviteCode(target string) string {
	target = strings.TrimRight(strings.TrimSpace(target), "/")
	if i := strings.LastIndex(target, "/"); i >= 0 {
		return target[i+1:]
	}
	return target
}

// WorkUnit is the smallest schedulable chunk of a request: one credential, at most perCredential operations.
type WorkUnit struct {
	ID         int    `json:"id"`
	ResourceID string `json:"resource_id"`
	InviteCode string `json:"invite_code"`
	Operations int    `json:"operations"`
}

// SplitUnits partitions operations into sequentially numbered units of at most perCredential each.
func SplitUnits(resourceID, inviteCode string, operations, perCredential int) []WorkUnit {
	if perCredential <= 0 {
		perCredential = DefaultOperationsPerCredential
	}
	units := make([]WorkUnit, 0, RequiredCredentials(operations, perCredential))
	for remaining, id := operations, 0; remaining > 0; id++ {
		n := min(perCredential, remaining)
		units = append(units, WorkUnit{
			ID:         id,
			ResourceID: resourceID,
			InviteCode: inviteCode,
			Operations: n,
		})
		remaining -= n
	}
	return units
}
