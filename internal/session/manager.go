package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrClosed   = errors.New("session manager closed")
)

// Info is a snapshot of session bookkeeping, safe to hand out.
type Info struct {
	ID             string    `json:"session_id"`
	Key            string    `json:"key"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	Leased         bool      `json:"leased"`
}

type entry[T any] struct {
	info    Info
	state   T
	sem     chan struct{}
	waiters int
}

// Manager keeps one state value per session key and serializes access to
// it. Different keys never block each other.
type Manager[T any] struct {
	mu                sync.Mutex
	sessions          map[string]*entry[T]
	inactivityTimeout time.Duration
	onExpire          func(Info)
	closed            bool
	now               func() time.Time
}

func NewManager[T any](inactivityTimeout time.Duration) *Manager[T] {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	return &Manager[T]{
		sessions:          make(map[string]*entry[T]),
		inactivityTimeout: inactivityTimeout,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager[T]) SetExpireHook(hook func(Info)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Acquire blocks until the caller holds the only lease on key, creating the
// session on first use. It returns ctx.Err() if ctx ends while waiting.
func (m *Manager[T]) Acquire(ctx context.Context, key string) (*Lease[T], error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	e, ok := m.sessions[key]
	if !ok {
		now := m.now()
		e = &entry[T]{
			info: Info{
				ID:             uuid.NewString(),
				Key:            key,
				StartedAt:      now,
				LastActivityAt: now,
			},
			sem: make(chan struct{}, 1),
		}
		m.sessions[key] = e
	}
	e.waiters++
	m.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		m.mu.Lock()
		e.waiters--
		m.mu.Unlock()
		return nil, ctx.Err()
	}

	m.mu.Lock()
	e.waiters--
	e.info.Leased = true
	e.info.LastActivityAt = m.now()
	m.mu.Unlock()
	return &Lease[T]{m: m, e: e}, nil
}

func (m *Manager[T]) Get(key string) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[key]
	if !ok {
		return Info{}, ErrNotFound
	}
	return e.info, nil
}

func (m *Manager[T]) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager[T]) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close rejects further Acquire calls. Held leases stay valid until released.
func (m *Manager[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

// expireInactive drops idle sessions. Sessions that are leased or have
// callers waiting for a lease are never dropped.
func (m *Manager[T]) expireInactive() {
	now := m.now()
	var expired []Info

	m.mu.Lock()
	for key, e := range m.sessions {
		if e.info.Leased || e.waiters > 0 {
			continue
		}
		if now.Sub(e.info.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		delete(m.sessions, key)
		expired = append(expired, e.info)
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, info := range expired {
			hook(info)
		}
	}
}

// Lease grants exclusive access to one session's state until Release.
type Lease[T any] struct {
	m    *Manager[T]
	e    *entry[T]
	once sync.Once
}

// State returns the session state. It must not be used after Release.
func (l *Lease[T]) State() *T {
	return &l.e.state
}

func (l *Lease[T]) Info() Info {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	return l.e.info
}

func (l *Lease[T]) Release() {
	l.once.Do(func() {
		l.m.mu.Lock()
		l.e.info.Leased = false
		l.e.info.LastActivityAt = l.m.now()
		l.m.mu.Unlock()
		<-l.e.sem
	})
}
