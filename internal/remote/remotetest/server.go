// Package remotetest provides an in-process fake of the entitlement platform API for tests.
package remotetest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/ternarybob/entitle/internal/models"
)

// Account describes how the fake treats one credential.
type Account struct {
	Invalid        bool
	Slots          []models.Slot
	SlotsChallenge bool  // entitlement-slots answers with a challenge
	JoinChallenge  bool  // join answers with a challenge marker
	JoinStatus     int   // non-zero overrides join status
	GrantStatuses  []int // consumed per grant call; 201 once exhausted
	RetryAfter     string
	LeaveStatus    int // non-zero overrides the leave status
}

// Counters are observed call counts.
type Counters struct {
	Identity int
	Slots    int
	Joins    int
	Grants   int
	Granted  int
	Patches  int
	Leaves   int
}

// Server is a fake platform API backed by httptest.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	accounts map[string]*Account
	invites  map[string]string
	counters Counters
	perCred  map[string]*Counters
}

// NewServer starts a fake with no accounts or invites.
func NewServer() *Server {
	s := &Server{
		accounts: make(map[string]*Account),
		invites:  make(map[string]string),
		perCred:  make(map[string]*Counters),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /identity", s.handleIdentity)
	mux.HandleFunc("GET /cookies", s.handleCookies)
	mux.HandleFunc("GET /entitlement-slots", s.handleSlots)
	mux.HandleFunc("GET /invites/{code}", s.handleResolve)
	mux.HandleFunc("POST /invites/{code}", s.handleJoin)
	mux.HandleFunc("PUT /resources/{id}/entitlement", s.handleGrant)
	mux.HandleFunc("PATCH /resources/{id}/members/me", s.handlePatch)
	mux.HandleFunc("PATCH /identity/profile", s.handlePatch)
	mux.HandleFunc("DELETE /resources/{id}/members/me", s.handleLeave)

	s.Server = httptest.NewServer(mux)
	return s
}

// AddAccount registers a credential.
func (s *Server) AddAccount(credential string, account Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := account
	s.accounts[credential] = &a
}

// AddInvite maps an invite code to a resource id.
func (s *Server) AddInvite(code, resourceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invites[code] = resourceID
}

// FreshSlots builds n available slots with ids prefixed by prefix.
func FreshSlots(prefix string, n int) []models.Slot {
	slots := make([]models.Slot, n)
	for i := range slots {
		slots[i] = models.Slot{ID: prefix + "-" + strconv.Itoa(i)}
	}
	return slots
}

// Counters returns a copy of the totals.
func (s *Server) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// CountersFor returns a copy of one credential's counts.
func (s *Server) CountersFor(credential string) Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.perCred[credential]; ok {
		return *c
	}
	return Counters{}
}

// account looks up the caller. Caller holds mu.
func (s *Server) account(r *http.Request) (string, *Account, *Counters) {
	cred := r.Header.Get("Authorization")
	c, ok := s.perCred[cred]
	if !ok {
		c = &Counters{}
		s.perCred[cred] = c
	}
	return cred, s.accounts[cred], c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, acct, c := s.account(r)
	s.counters.Identity++
	c.Identity++
	if acct == nil || acct.Invalid {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "401: Unauthorized"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": "user-" + models.MaskCredential(cred), "username": "tester"})
}

func (s *Server) handleCookies(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: "__session", Value: "warm", Path: "/"})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, acct, c := s.account(r)
	s.counters.Slots++
	c.Slots++
	if acct == nil || acct.Invalid {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "401: Unauthorized"})
		return
	}
	if acct.SlotsChallenge {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "Captcha required"})
		return
	}
	writeJSON(w, http.StatusOK, acct.Slots)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code := r.PathValue("code")
	resourceID, ok := s.invites[code]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "Unknown Invite"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"code": code, "resource_id": resourceID})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, acct, c := s.account(r)
	s.counters.Joins++
	c.Joins++

	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "session_id required"})
		return
	}
	if _, ok := s.invites[r.PathValue("code")]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "Unknown Invite"})
		return
	}
	if acct == nil || acct.Invalid {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "401: Unauthorized"})
		return
	}
	if acct.JoinChallenge {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"captcha_key":     []string{"captcha-required"},
			"captcha_sitekey": "site-key",
		})
		return
	}
	if acct.JoinStatus != 0 && acct.JoinStatus != http.StatusOK {
		writeJSON(w, acct.JoinStatus, map[string]any{"message": "join refused"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"code": r.PathValue("code")})
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, acct, c := s.account(r)
	s.counters.Grants++
	c.Grants++
	if acct == nil || acct.Invalid {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "401: Unauthorized"})
		return
	}

	var req struct {
		SlotIDs []string `json:"slot_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.SlotIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "slot_ids required"})
		return
	}

	status := http.StatusCreated
	if len(acct.GrantStatuses) > 0 {
		status = acct.GrantStatuses[0]
		acct.GrantStatuses = acct.GrantStatuses[1:]
	}

	switch status {
	case http.StatusCreated:
		now := time.Now().Add(7 * 24 * time.Hour)
		for i := range acct.Slots {
			for _, id := range req.SlotIDs {
				if acct.Slots[i].ID == id {
					acct.Slots[i].SubscriptionID = "sub-" + id
					acct.Slots[i].CooldownEndsAt = &now
				}
			}
		}
		s.counters.Granted++
		c.Granted++
		writeJSON(w, http.StatusCreated, map[string]any{"slot_ids": req.SlotIDs})
	case http.StatusTooManyRequests:
		if acct.RetryAfter != "" {
			w.Header().Set("Retry-After", acct.RetryAfter)
		}
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"message": "You are being rate limited."})
	default:
		writeJSON(w, status, map[string]any{"message": "grant failed"})
	}
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, acct, c := s.account(r)
	s.counters.Patches++
	c.Patches++
	if acct == nil || acct.Invalid {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "401: Unauthorized"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, acct, c := s.account(r)
	s.counters.Leaves++
	c.Leaves++
	if acct == nil || acct.Invalid {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "401: Unauthorized"})
		return
	}
	if acct.LeaveStatus != 0 && acct.LeaveStatus != http.StatusNoContent {
		writeJSON(w, acct.LeaveStatus, map[string]any{"message": "leave refused"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
