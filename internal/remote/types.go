// Package remote is the client for the entitlement platform's HTTP API.
package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidCredential is returned when the identity endpoint rejects a credential.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrNoCapacity is returned when a credential has no grantable slot.
	ErrNoCapacity = errors.New("no available entitlement slots")

	// ErrChallengeRequired is returned when the platform demands an anti-automation challenge.
	ErrChallengeRequired = errors.New("challenge required")

	// ErrUnknownInvite is returned when an invite code does not resolve.
	ErrUnknownInvite = errors.New("unknown invite")
)

// DefaultRetryAfter is used when a 429 carries no usable Retry-After header.
const DefaultRetryAfter = 5 * time.Second

// challengeMarkers are body keys the platform uses to demand a challenge.
var challengeMarkers = []string{"challenge_key", "challenge_site_key", "captcha_key", "captcha_sitekey"}

// APIError represents a non-success response from the platform.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("remote API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// RateLimitError represents a 429 with its advisory wait.
type RateLimitError struct {
	RetryAfter time.Duration
	Endpoint   string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("remote rate limit exceeded on %s, retry after %v", e.Endpoint, e.RetryAfter)
}

// Profile is the identity endpoint's response.
type Profile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Invite is a resolved invite code.
type Invite struct {
	Code         string `json:"code"`
	ResourceID   string `json:"resource_id"`
	ResourceName string `json:"resource_name,omitempty"`
}

// ProfilePatch carries the account-level customization fields. Empty fields are omitted.
type ProfilePatch struct {
	Bio      string `json:"bio,omitempty"`
	Pronouns string `json:"pronouns,omitempty"`
	Avatar   string `json:"avatar,omitempty"` // data URI
	Banner   string `json:"banner,omitempty"` // data URI
}

// IsEmpty reports whether the patch carries nothing.
func (p ProfilePatch) IsEmpty() bool {
	return p.Bio == "" && p.Pronouns == "" && p.Avatar == "" && p.Banner == ""
}

type joinRequest struct {
	SessionID string `json:"session_id"`
}

type grantRequest struct {
	SlotIDs []string `json:"slot_ids"`
}

type memberPatch struct {
	Nick string `json:"nick"`
}

type errorBody struct {
	Message string `json:"message"`
}

// errorMessage extracts {message} from an error body, falling back to the raw text.
func errorMessage(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Message != "" {
		return eb.Message
	}
	return strings.TrimSpace(string(body))
}

// isChallenge reports whether an error body demands a challenge.
func isChallenge(body []byte) bool {
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err == nil {
		for _, marker := range challengeMarkers {
			if _, ok := fields[marker]; ok {
				return true
			}
		}
	}
	msg := strings.ToLower(errorMessage(body))
	return strings.Contains(msg, "captcha") || strings.Contains(msg, "challenge")
}
