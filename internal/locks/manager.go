package locks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jun/gophdav/internal/adapter"
	"github.com/jun/gophdav/internal/logger"
	"github.com/jun/gophdav/internal/resolver"
)

// Options configures a Manager.
type Options struct {
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	Metrics        *Metrics
	// Now overrides the clock. Tests only.
	Now func() time.Time
}

// Manager is the in-memory lock table. All methods are safe for concurrent use;
// the mutex is held only for in-memory work.
type Manager struct {
	mu    sync.Mutex
	locks map[string]*Lock

	defaultTimeout time.Duration
	maxTimeout     time.Duration
	metrics        *Metrics
	now            func() time.Time
}

// NewManager creates an empty lock table.
func NewManager(opts Options) *Manager {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 10 * time.Minute
	}
	if opts.MaxTimeout < opts.DefaultTimeout {
		opts.MaxTimeout = opts.DefaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		locks:          make(map[string]*Lock),
		defaultTimeout: opts.DefaultTimeout,
		maxTimeout:     opts.MaxTimeout,
		metrics:        opts.Metrics,
		now:            opts.Now,
	}
}

// Acquire grants req unless it conflicts with a live lock on the resource, on
// an ancestor with depth infinity, or (for depth infinity) on a descendant.
func (m *Manager) Acquire(req Request) (Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.expireLocked(now)

	for _, l := range m.locks {
		if !l.overlaps(req.Root, req.Depth) {
			continue
		}
		if l.Scope == Exclusive || req.Scope == Exclusive {
			m.metrics.conflict()
			return Lock{}, fmt.Errorf("%w: %s held by %s", ErrLocked, l.Root, l.Token)
		}
	}

	timeout := m.bound(req.Timeout)
	l := &Lock{
		Token:    TokenPrefix + uuid.NewString(),
		Resource: req.Resource,
		Root:     req.Root,
		Owner:    req.Owner,
		Scope:    req.Scope,
		Depth:    req.Depth,
		Timeout:  timeout,
		Expiry:   now.Add(timeout),
	}
	m.locks[l.Token] = l
	m.metrics.acquired(l.Scope)
	m.metrics.setActive(len(m.locks))
	logger.Debug("lock acquired", "token", l.Token, "path", l.Root.String(),
		"scope", l.Scope.String(), "depth", l.Depth.String(), "timeout", timeout)
	return *l, nil
}

// Refresh extends the lock named by token. The lock must be live and either
// be on id or cover p.
func (m *Manager) Refresh(token string, id adapter.Identity, p resolver.Path, timeout time.Duration) (Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.expireLocked(now)

	l, ok := m.locks[token]
	if !ok || (l.Resource != id && !l.Covers(p)) {
		return Lock{}, ErrNoSuchLock
	}
	l.Timeout = m.bound(timeout)
	l.Expiry = now.Add(l.Timeout)
	m.metrics.refreshed()
	return *l, nil
}

// Release removes the lock named by token if it applies to id or p.
func (m *Manager) Release(token string, id adapter.Identity, p resolver.Path) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expireLocked(m.now())

	l, ok := m.locks[token]
	if !ok || (l.Resource != id && !l.Covers(p)) {
		return ErrNoSuchLock
	}
	delete(m.locks, token)
	m.metrics.released(1)
	m.metrics.setActive(len(m.locks))
	return nil
}

// Check returns the live locks rooted on id.
func (m *Manager) Check(id adapter.Identity) []Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expireLocked(m.now())

	var out []Lock
	for _, l := range m.locks {
		if l.Resource == id {
			out = append(out, *l)
		}
	}
	sortLocks(out)
	return out
}

// Covering returns the live locks whose scope includes p.
func (m *Manager) Covering(p resolver.Path) []Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expireLocked(m.now())
	return m.coveringLocked(p)
}

// Confirm reports whether a request presenting tokens may modify the resource
// at p. Every covering exclusive lock must be presented; when only shared locks
// cover p, presenting any one of them is enough.
func (m *Manager) Confirm(p resolver.Path, tokens []string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expireLocked(m.now())
	return m.confirmLocked(p, tokenSet(tokens))
}

// ConfirmTree is Confirm for p and every lock rooted below it, as needed
// before removing or replacing a whole subtree.
func (m *Manager) ConfirmTree(p resolver.Path, tokens []string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expireLocked(m.now())
	held := tokenSet(tokens)
	if !m.confirmLocked(p, held) {
		return false
	}
	for _, l := range m.locks {
		if l.Root.HasPrefix(p) && !held[l.Token] {
			return false
		}
	}
	return true
}

func (m *Manager) confirmLocked(p resolver.Path, held map[string]bool) bool {
	var shared, sharedHeld bool
	for _, l := range m.coveringLocked(p) {
		switch {
		case l.Scope == Exclusive && !held[l.Token]:
			return false
		case l.Scope == Shared:
			shared = true
			sharedHeld = sharedHeld || held[l.Token]
		}
	}
	return !shared || sharedHeld
}

func tokenSet(tokens []string) map[string]bool {
	held := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		held[t] = true
	}
	return held
}

// DropTree removes every lock rooted at or below p and returns how many.
func (m *Manager) DropTree(p resolver.Path) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for token, l := range m.locks {
		if l.Root.HasPrefix(p) {
			delete(m.locks, token)
			n++
		}
	}
	if n > 0 {
		m.metrics.released(n)
		m.metrics.setActive(len(m.locks))
	}
	return n
}

// Len returns the number of live locks.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expireLocked(m.now())
	return len(m.locks)
}

// Sweep drops expired locks and returns how many.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expireLocked(m.now())
}

// Run sweeps every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				logger.Debug("expired locks swept", "count", n)
			}
		}
	}
}

func (m *Manager) bound(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return m.defaultTimeout
	}
	if timeout > m.maxTimeout {
		return m.maxTimeout
	}
	return timeout
}

func (m *Manager) coveringLocked(p resolver.Path) []Lock {
	var out []Lock
	for _, l := range m.locks {
		if l.Covers(p) {
			out = append(out, *l)
		}
	}
	sortLocks(out)
	return out
}

// expireLocked drops expired entries. Callers hold mu.
func (m *Manager) expireLocked(now time.Time) int {
	n := 0
	for token, l := range m.locks {
		if !now.Before(l.Expiry) {
			delete(m.locks, token)
			n++
		}
	}
	if n > 0 {
		m.metrics.expired(n)
		m.metrics.setActive(len(m.locks))
	}
	return n
}

func sortLocks(ls []Lock) {
	sort.Slice(ls, func(i, j int) bool {
		if ls[i].Root.Depth() != ls[j].Root.Depth() {
			return ls[i].Root.Depth() < ls[j].Root.Depth()
		}
		return ls[i].Token < ls[j].Token
	})
}
