package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ternarybob/entitle/internal/models"
)

// Session is one credential's authenticated view of the platform. It is owned by a single worker.
type Session struct {
	client     *Client
	credential string
	sessionID  string
	httpClient *http.Client
}

// SessionID is the client-generated id sent with joins.
func (s *Session) SessionID() string {
	return s.sessionID
}

func (s *Session) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	return s.client.do(ctx, s.httpClient, method, path, s.credential, payload)
}

// Identity checks the credential is live. Any non-200 other than 429 is ErrInvalidCredential.
func (s *Session) Identity(ctx context.Context) (*Profile, error) {
	status, body, err := s.do(ctx, http.MethodGet, "/identity", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: identity returned %d", ErrInvalidCredential, status)
	}

	var profile Profile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("failed to decode identity: %w", err)
	}
	return &profile, nil
}

// WarmCookies fetches the baseline cookies into the session jar.
func (s *Session) WarmCookies(ctx context.Context) error {
	status, body, err := s.do(ctx, http.MethodGet, "/cookies", nil)
	if err != nil {
		return err
	}
	if status >= 300 {
		return &APIError{StatusCode: status, Message: errorMessage(body), Endpoint: "/cookies"}
	}
	return nil
}

// Slots lists the credential's entitlement slots.
func (s *Session) Slots(ctx context.Context) ([]models.Slot, error) {
	const path = "/entitlement-slots"
	status, body, err := s.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		if isChallenge(body) {
			return nil, fmt.Errorf("%w: %s", ErrChallengeRequired, errorMessage(body))
		}
		return nil, &APIError{StatusCode: status, Message: errorMessage(body), Endpoint: path}
	}

	var slots []models.Slot
	if err := json.Unmarshal(body, &slots); err != nil {
		return nil, fmt.Errorf("failed to decode slots: %w", err)
	}
	return slots, nil
}

// Join joins the resource behind an invite code. A challenge marker in the
// response is ErrChallengeRequired.
func (s *Session) Join(ctx context.Context, inviteCode string) error {
	path := "/invites/" + url.PathEscape(inviteCode)
	status, body, err := s.do(ctx, http.MethodPost, path, joinRequest{SessionID: s.sessionID})
	if err != nil {
		return err
	}
	if status == http.StatusOK {
		return nil
	}
	if isChallenge(body) {
		return fmt.Errorf("%w: join %s", ErrChallengeRequired, inviteCode)
	}
	return &APIError{StatusCode: status, Message: errorMessage(body), Endpoint: path}
}

// Grant applies one slot to a resource. 201 is success; a 429 is returned as
// *RateLimitError without waiting.
func (s *Session) Grant(ctx context.Context, resourceID, slotID string) error {
	path := "/resources/" + url.PathEscape(resourceID) + "/entitlement"
	status, body, err := s.do(ctx, http.MethodPut, path, grantRequest{SlotIDs: []string{slotID}})
	if err != nil {
		return err
	}
	if status != http.StatusCreated {
		return &APIError{StatusCode: status, Message: errorMessage(body), Endpoint: path}
	}
	return nil
}

// PatchMember sets the credential's nickname inside a resource.
func (s *Session) PatchMember(ctx context.Context, resourceID, nickname string) error {
	path := "/resources/" + url.PathEscape(resourceID) + "/members/me"
	return s.patch(ctx, path, memberPatch{Nick: nickname})
}

// Leave removes the credential from a resource, dropping whatever it had granted there.
// 200 and 204 are success.
func (s *Session) Leave(ctx context.Context, resourceID string) error {
	path := "/resources/" + url.PathEscape(resourceID) + "/members/me"
	status, body, err := s.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return &APIError{StatusCode: status, Message: errorMessage(body), Endpoint: path}
	}
	return nil
}

// PatchProfile updates account-level customization.
func (s *Session) PatchProfile(ctx context.Context, patch ProfilePatch) error {
	return s.patch(ctx, "/identity/profile", patch)
}

func (s *Session) patch(ctx context.Context, path string, payload any) error {
	status, body, err := s.do(ctx, http.MethodPatch, path, payload)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return &APIError{StatusCode: status, Message: errorMessage(body), Endpoint: path}
	}
	return nil
}
