package services

import (
	"context"
	"sync"
	"time"

	"github.com/zootopia/storefront/internal/models"
)

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	GetByIDFunc        func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc     func(ctx context.Context, email string) (*models.User, error)
	CreateFunc         func(ctx context.Context, user *models.User) (*models.User, error)
	UpdateMFAStateFunc func(ctx context.Context, id string, state *models.MFAState) error
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	return nil, models.ErrInternalServer
}

func (m *MockUserRepository) UpdateMFAState(ctx context.Context, id string, state *models.MFAState) error {
	if m.UpdateMFAStateFunc != nil {
		return m.UpdateMFAStateFunc(ctx, id, state)
	}
	return nil
}

// SentCode records one SendMFACode call
type SentCode struct {
	Email    string
	Code     string
	ValidFor time.Duration
}

// MockNotifier implements Notifier for testing and records every dispatch
type MockNotifier struct {
	SendMFACodeFunc func(ctx context.Context, email, code string, validFor time.Duration) error

	mu   sync.Mutex
	Sent []SentCode
}

func (m *MockNotifier) SendMFACode(ctx context.Context, email, code string, validFor time.Duration) error {
	m.mu.Lock()
	m.Sent = append(m.Sent, SentCode{Email: email, Code: code, ValidFor: validFor})
	m.mu.Unlock()

	if m.SendMFACodeFunc != nil {
		return m.SendMFACodeFunc(ctx, email, code, validFor)
	}
	return nil
}

// LastCode returns the most recently dispatched code
func (m *MockNotifier) LastCode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Sent) == 0 {
		return ""
	}
	return m.Sent[len(m.Sent)-1].Code
}

// MockTimingDelay implements TimingDelay for testing
type MockTimingDelay struct {
	WaitFromFunc func(ctx context.Context, start time.Time, success bool)
}

func (m *MockTimingDelay) WaitFrom(ctx context.Context, start time.Time, success bool) {
	if m.WaitFromFunc != nil {
		m.WaitFromFunc(ctx, start, success)
	}
}

// MemoryUserStore backs a MockUserRepository with a single in-memory user table.
// Reads return copies so callers only observe state they persisted.
type MemoryUserStore struct {
	mu      sync.Mutex
	byID    map[string]*models.User
	updates int
}

// NewMemoryUserStore seeds a store with users
func NewMemoryUserStore(users ...*models.User) *MemoryUserStore {
	s := &MemoryUserStore{byID: make(map[string]*models.User)}
	for _, u := range users {
		s.byID[u.ID] = cloneUser(u)
	}
	return s
}

// Repository returns a MockUserRepository wired to the store
func (s *MemoryUserStore) Repository() *MockUserRepository {
	return &MockUserRepository{
		GetByIDFunc: func(_ context.Context, id string) (*models.User, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if u, ok := s.byID[id]; ok {
				return cloneUser(u), nil
			}
			return nil, models.ErrNotFound
		},
		GetByEmailFunc: func(_ context.Context, email string) (*models.User, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			for _, u := range s.byID {
				if u.Email == email {
					return cloneUser(u), nil
				}
			}
			return nil, models.ErrNotFound
		},
		CreateFunc: func(_ context.Context, user *models.User) (*models.User, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			for _, u := range s.byID {
				if u.Email == user.Email {
					return nil, models.ErrConflict
				}
			}
			created := cloneUser(user)
			if created.ID == "" {
				created.ID = "user-" + created.Email
			}
			s.byID[created.ID] = created
			return cloneUser(created), nil
		},
		UpdateMFAStateFunc: func(_ context.Context, id string, state *models.MFAState) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			u, ok := s.byID[id]
			if !ok {
				return models.ErrNotFound
			}
			u.MFA = cloneMFAState(*state)
			s.updates++
			return nil
		},
	}
}

// MFAState returns a copy of the stored MFA state for id
func (s *MemoryUserStore) MFAState(id string) models.MFAState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.byID[id]; ok {
		return cloneMFAState(u.MFA)
	}
	return models.MFAState{}
}

// Updates returns how many times UpdateMFAState succeeded
func (s *MemoryUserStore) Updates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}

func cloneUser(u *models.User) *models.User {
	c := *u
	c.MFA = cloneMFAState(u.MFA)
	return &c
}

func cloneMFAState(m models.MFAState) models.MFAState {
	c := m
	if m.Challenge != nil {
		ch := *m.Challenge
		c.Challenge = &ch
	}
	if m.LastSentAt != nil {
		t := *m.LastSentAt
		c.LastSentAt = &t
	}
	return c
}

// FakeClock is a settable time source shared by the service and token manager
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
