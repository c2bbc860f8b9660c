// Package lock implements the distributed lock service of §4.3: keyed
// mutual exclusion with absolute wall-clock leases, a renewing watchdog,
// re-entrant hold counts, fair/unfair acquisition, and local deadlock
// detection.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vectorcommerce/platform/internal/errs"
)

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

const renewScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`

// Handle is the live lease returned by Acquire. Re-entrant acquisitions by
// the same owner share one Handle and increment holdCount; Release
// decrements it and only drops the underlying lease at zero.
type Handle struct {
	svc       *Service
	key       string
	token     string
	watchdog  chan struct{}
	acquiredAt time.Time
}

// Service is the process-level lock service, backed by Redis. One Service
// is constructed at boot and injected into every handler that needs it,
// per §9's process-level-singleton design note.
type Service struct {
	client *redis.Client

	mu      sync.Mutex
	holds   map[string]*ownedLock // key -> this process's current hold
	owner   map[string]string     // key -> caller currently holding it, locally
	waitFor map[string]string     // caller -> key it is currently blocked on
}

type ownedLock struct {
	handle    *Handle
	holdCount int
}

func NewService(client *redis.Client) *Service {
	return &Service{
		client:  client,
		holds:   map[string]*ownedLock{},
		owner:   map[string]string{},
		waitFor: map[string]string{},
	}
}

// AcquireOptions configures one Acquire call.
type AcquireOptions struct {
	WaitTime  time.Duration
	LeaseTime time.Duration
	Fair      bool // polls Redis more often while waiting; no queue is kept, so waiters are not served in arrival order
	Caller    string // identifies the requester for deadlock detection; defaults to a random token
}

// Acquire blocks up to opts.WaitTime to take the lock named key, held for
// opts.LeaseTime unless renewed. A background watchdog renews the lease at
// one-third of its remaining time while the handle is live.
func (s *Service) Acquire(ctx context.Context, key string, opts AcquireOptions) (*Handle, error) {
	if opts.Caller == "" {
		opts.Caller = randomToken()
	}

	s.mu.Lock()
	if owned, ok := s.holds[key]; ok && s.owner[key] == opts.Caller {
		owned.holdCount++
		s.mu.Unlock()
		return owned.handle, nil
	}
	if s.wouldDeadlock(opts.Caller, key) {
		s.mu.Unlock()
		return nil, errs.New(errs.Conflict, errs.CodePotentialDeadlock, "lock: potential deadlock detected for key "+key)
	}
	s.markWaiting(opts.Caller, key)
	s.mu.Unlock()
	defer s.clearWaiting(opts.Caller, key)

	token := randomToken()
	deadline := time.Now().Add(opts.WaitTime)
	backoff := 10 * time.Millisecond
	if opts.Fair {
		backoff = 5 * time.Millisecond // fair mode only polls more aggressively; there is no FIFO queue
	}

	for {
		ok, err := s.client.SetNX(ctx, key, token, opts.LeaseTime).Result()
		if err != nil {
			return nil, errs.Wrap(errs.Transient, "", "lock: redis SetNX", err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, errs.New(errs.Conflict, errs.CodeLockTimeout, "lock: timed out acquiring "+key)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	h := &Handle{svc: s, key: key, token: token, acquiredAt: time.Now(), watchdog: make(chan struct{})}
	go s.watch(h, opts.LeaseTime)

	s.mu.Lock()
	s.holds[key] = &ownedLock{handle: h, holdCount: 1}
	s.owner[key] = opts.Caller
	s.mu.Unlock()

	return h, nil
}

func (s *Service) watch(h *Handle, lease time.Duration) {
	ticker := time.NewTicker(lease / 3)
	defer ticker.Stop()
	for {
		select {
		case <-h.watchdog:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			s.client.Eval(ctx, renewScript, []string{h.key}, h.token, lease.Milliseconds())
			cancel()
		}
	}
}

// Release decrements the handle's hold count, dropping the underlying lease
// once it reaches zero. Uses a compare-and-delete script so a handle never
// releases a lease another owner has since taken after this one expired.
func (h *Handle) Release(ctx context.Context) error {
	h.svc.mu.Lock()
	owned, ok := h.svc.holds[h.key]
	if !ok {
		h.svc.mu.Unlock()
		return nil // already released
	}
	owned.holdCount--
	if owned.holdCount > 0 {
		h.svc.mu.Unlock()
		return nil
	}
	delete(h.svc.holds, h.key)
	delete(h.svc.owner, h.key)
	h.svc.mu.Unlock()

	close(h.watchdog)
	if err := h.svc.client.Eval(ctx, releaseScript, []string{h.key}, h.token).Err(); err != nil {
		return errs.Wrap(errs.Transient, "", "lock: release", err)
	}
	return nil
}

// Renew extends the handle's lease by leaseTime, independent of the
// watchdog's automatic renewal.
func (h *Handle) Renew(ctx context.Context, leaseTime time.Duration) error {
	res, err := h.svc.client.Eval(ctx, renewScript, []string{h.key}, h.token, leaseTime.Milliseconds()).Result()
	if err != nil {
		return errs.Wrap(errs.Transient, "", "lock: renew", err)
	}
	if n, ok := res.(int64); !ok || n == 0 {
		return errs.New(errs.Conflict, errs.CodeLockTimeout, "lock: lease no longer held, cannot renew "+h.key)
	}
	return nil
}

// wouldDeadlock reports whether caller acquiring key would close a cycle in
// the local wait-for graph: key's current local owner is itself (perhaps
// transitively) waiting on a key caller holds. This only catches cycles
// within this process; cross-process deadlock is bounded by waitTime
// instead.
func (s *Service) wouldDeadlock(caller, key string) bool {
	current, ok := s.owner[key]
	visited := map[string]bool{}
	for ok {
		if current == caller {
			return true
		}
		if visited[current] {
			return false
		}
		visited[current] = true
		nextKey, waiting := s.waitFor[current]
		if !waiting {
			return false
		}
		current, ok = s.owner[nextKey]
	}
	return false
}

func (s *Service) markWaiting(caller, key string) {
	s.waitFor[caller] = key
}

func (s *Service) clearWaiting(caller, key string) {
	if s.waitFor[caller] == key {
		delete(s.waitFor, caller)
	}
}

func randomToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// AcquireInOrder acquires locks for every key in ascending order, as §4.1's
// batch reserve requires to avoid lock-cycle deadlock across products. On
// any failure it releases every lock already taken and returns the error.
func (s *Service) AcquireInOrder(ctx context.Context, keys []string, opts AcquireOptions) ([]*Handle, error) {
	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sortStrings(sorted)

	handles := make([]*Handle, 0, len(sorted))
	for _, key := range sorted {
		h, err := s.Acquire(ctx, key, opts)
		if err != nil {
			for _, taken := range handles {
				_ = taken.Release(ctx)
			}
			return nil, fmt.Errorf("lock: acquire %s: %w", key, err)
		}
		handles = append(handles, h)
	}
	return handles, nil
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
