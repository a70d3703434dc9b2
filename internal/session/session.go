// Package session resolves which role a connected account plays and keeps
// the per-connection state (contract handle, role, roster) explicit.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chainattend/internal/chain"
	"chainattend/pkg/logger"
)

// Role is the part an account plays for the contract.
type Role string

const (
	RoleUnknown Role = ""
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// State tracks whether role and roster have been determined.
type State string

const (
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateClosed  State = "closed"
)

var (
	ErrNotConfigured   = errors.New("contract address not configured: set CONTRACT_ADDRESS in .env.local")
	ErrNoAccount       = errors.New("no account connected")
	ErrSessionNotFound = errors.New("session not found")
)

// Session is one account's connection to the contract. It is created by
// Resolver and invalidated by Manager when the account changes or
// disconnects.
type Session struct {
	ID        string
	Account   string
	Contract  chain.Contract
	CreatedAt time.Time

	mu      sync.RWMutex
	role    Role
	state   State
	roster  []string
	loadErr error
}

// Snapshot is a copy of the session's mutable fields.
type Snapshot struct {
	ID      string    `json:"session_id"`
	Account string    `json:"account"`
	Role    Role      `json:"role"`
	State   State     `json:"state"`
	Roster  []string  `json:"students"`
	Error   string    `json:"error,omitempty"`
	Since   time.Time `json:"connected_at"`
}

func (s *Session) Role() Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Roster returns a copy of the last fetched student list.
func (s *Session) Roster() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.roster...)
}

func (s *Session) Closed() bool {
	return s.State() == StateClosed
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		ID:      s.ID,
		Account: s.Account,
		Role:    s.role,
		State:   s.state,
		Roster:  append([]string{}, s.roster...),
		Since:   s.CreatedAt,
	}
	if s.loadErr != nil {
		snap.Error = chain.ErrorMessage(s.loadErr)
	}
	return snap
}

// RefreshRoster re-queries the student list and replaces the held copy.
func (s *Session) RefreshRoster(ctx context.Context) ([]string, error) {
	roster, err := s.Contract.StudentList(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.state != StateClosed {
		s.roster = roster
	}
	s.mu.Unlock()
	return append([]string(nil), roster...), nil
}

func (s *Session) close() {
	s.mu.Lock()
	s.state = StateClosed
	s.roster = nil
	s.mu.Unlock()
}

// Resolver builds sessions for connecting accounts.
type Resolver struct {
	dialer          chain.Dialer
	contractAddress string
	log             *zap.Logger
	nowFunc         func() time.Time
}

// NewResolver creates a resolver. An empty contractAddress makes every
// Resolve fail with ErrNotConfigured.
func NewResolver(dialer chain.Dialer, contractAddress string, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{
		dialer:          dialer,
		contractAddress: strings.TrimSpace(contractAddress),
		log:             log,
		nowFunc:         time.Now,
	}
}

// Configured reports whether a contract address is set.
func (r *Resolver) Configured() bool {
	return r.contractAddress != ""
}

// Resolve binds the contract to account and determines role and roster.
// Query failures are logged and leave the session in StateLoading; they are
// not returned.
func (r *Resolver) Resolve(ctx context.Context, account string) (*Session, error) {
	if !r.Configured() {
		return nil, ErrNotConfigured
	}
	account = strings.TrimSpace(account)
	if account == "" {
		return nil, ErrNoAccount
	}
	c, err := r.dialer.Dial(account)
	if err != nil {
		return nil, err
	}
	s := &Session{
		ID:        uuid.NewString(),
		Account:   account,
		Contract:  c,
		CreatedAt: r.nowFunc().UTC(),
		state:     StateLoading,
	}
	r.load(ctx, s)
	return s, nil
}

// load queries teacher and roster. Safe to call again on a Loading session.
func (r *Resolver) load(ctx context.Context, s *Session) {
	log := r.log.With(zap.String(logger.FieldSession, s.ID), zap.String(logger.FieldAccount, s.Account))

	teacher, err := s.Contract.Teacher(ctx)
	if err != nil {
		log.Error("contract load failed", zap.String(logger.FieldOperation, "teacher"), zap.Error(err))
		s.setLoadErr(err)
		return
	}
	roster, err := s.Contract.StudentList(ctx)
	if err != nil {
		log.Error("contract load failed", zap.String(logger.FieldOperation, "getStudentList"), zap.Error(err))
		s.setLoadErr(err)
		return
	}

	role := RoleStudent
	if strings.EqualFold(teacher, s.Account) {
		role = RoleTeacher
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.role = role
	s.roster = roster
	s.state = StateReady
	s.loadErr = nil
	log.Info("session resolved", zap.String(logger.FieldRole, string(role)), zap.Int("students", len(roster)))
}

func (s *Session) setLoadErr(err error) {
	s.mu.Lock()
	s.loadErr = err
	s.mu.Unlock()
}
