package flow

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrSessionNotFound is returned when no durable record exists for a token.
var ErrSessionNotFound = errors.New("checkout session not found")

// Phase is the orchestrator's state machine phase.
type Phase string

const (
	PhaseIdle                   Phase = "idle"
	PhaseTokenizing             Phase = "tokenizing"
	PhaseSubmitting             Phase = "submitting"
	PhaseAwaitingAuthentication Phase = "awaiting_authentication"
	PhaseSucceeded              Phase = "succeeded"
	PhaseDeclined               Phase = "declined"
	PhaseError                  Phase = "error"
)

// Terminal reports whether the phase ends the attempt. A new attempt starts
// from Idle.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseSucceeded, PhaseDeclined, PhaseError:
		return true
	}
	return false
}

// SessionState is the durable record of one checkout attempt, keyed by the
// session token. It is what survives the full-page 3DS navigation: the
// in-memory session is gone afterwards, and resumption rehydrates from here.
type SessionState struct {
	Token           string    `json:"token"`
	Phase           Phase     `json:"phase"`
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	PaymentIntentID string    `json:"paymentIntentId,omitempty"`
	ClientSecret    string    `json:"clientSecret,omitempty"`
	ReturnURI       string    `json:"returnUri,omitempty"`
	Message         string    `json:"message,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Store persists session state across navigations. Implementations must
// return the saved values unchanged.
type Store interface {
	Save(ctx context.Context, state *SessionState) error
	Load(ctx context.Context, token string) (*SessionState, error)
	Delete(ctx context.Context, token string) error
}

// MemoryStore is an in-process Store for tests and single-page flows.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]SessionState
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]SessionState)}
}

func (s *MemoryStore) Save(ctx context.Context, state *SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.Token] = *state
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, token string) (*SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[token]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &state, nil
}

func (s *MemoryStore) Delete(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, token)
	return nil
}
