// Package distributedlock provides Redis leases so that only one process trades a given account.
// A lease is a token-guarded key with a TTL; the holder renews it in the background and is told
// through Lost when renewal stops succeeding.
package distributedlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/irfndi/neurastock/internal/database"
	"go.uber.org/zap"
)

var (
	ErrLockHeld = errors.New("lock already held")
	ErrLockLost = errors.New("lock no longer held")
)

// Locker hands out leases under a key prefix.
type Locker struct {
	redis  *database.RedisClient
	prefix string
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*Lock
}

// Lock is an acquired lease. It is safe for concurrent use.
type Lock struct {
	key   string
	token string
	ttl   time.Duration

	mu        sync.Mutex
	expiresAt time.Time

	lost     chan struct{}
	lostOnce sync.Once
	stop     chan struct{}
	stopOnce sync.Once
}

type LockOptions struct {
	TTL time.Duration
	// WaitTimeout of zero makes Lock behave like TryLock
	WaitTimeout   time.Duration
	RetryInterval time.Duration
	AutoRenewal   bool
	// RenewalInterval defaults to a third of the TTL
	RenewalInterval time.Duration
}

func DefaultLockOptions() LockOptions {
	return LockOptions{
		TTL:           30 * time.Second,
		RetryInterval: 100 * time.Millisecond,
	}
}

// TraderLeaseKey names the lease the orchestrator holds while it trades account.
func TraderLeaseKey(account string) string {
	return "trader:" + account
}

func NewLocker(client *database.RedisClient, prefix string, logger *zap.Logger) *Locker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locker{
		redis:  client,
		prefix: prefix,
		logger: logger,
		locks:  make(map[string]*Lock),
	}
}

func (l *Locker) key(name string) string {
	if l.prefix == "" {
		return "lock:" + name
	}
	return l.prefix + ":lock:" + name
}

// TryLock acquires name without waiting. It returns ErrLockHeld when another token owns it.
func (l *Locker) TryLock(ctx context.Context, name string, opts LockOptions) (*Lock, error) {
	if opts.TTL <= 0 {
		opts.TTL = DefaultLockOptions().TTL
	}
	key := l.key(name)

	token, acquired, err := l.redis.AcquireLock(ctx, key, opts.TTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !acquired {
		return nil, ErrLockHeld
	}

	lock := &Lock{
		key:       key,
		token:     token,
		ttl:       opts.TTL,
		expiresAt: time.Now().Add(opts.TTL),
		lost:      make(chan struct{}),
		stop:      make(chan struct{}),
	}

	l.mu.Lock()
	l.locks[key] = lock
	l.mu.Unlock()

	if opts.AutoRenewal {
		interval := opts.RenewalInterval
		if interval <= 0 {
			interval = opts.TTL / 3
		}
		go l.autoRenew(lock, interval)
	}

	l.logger.Debug("lock acquired", zap.String("key", key), zap.Duration("ttl", opts.TTL))
	return lock, nil
}

// Lock retries TryLock until it succeeds or WaitTimeout elapses.
func (l *Locker) Lock(ctx context.Context, name string, opts LockOptions) (*Lock, error) {
	if opts.WaitTimeout <= 0 {
		return l.TryLock(ctx, name, opts)
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultLockOptions().RetryInterval
	}

	ctx, cancel := context.WithTimeout(ctx, opts.WaitTimeout)
	defer cancel()

	ticker := time.NewTicker(opts.RetryInterval)
	defer ticker.Stop()

	for {
		lock, err := l.TryLock(ctx, name, opts)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, ErrLockHeld) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timeout waiting for lock: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Unlock stops renewal and deletes the key if this lock still owns it.
func (l *Locker) Unlock(ctx context.Context, lock *Lock) error {
	if lock == nil {
		return fmt.Errorf("lock is nil")
	}
	lock.stopRenewal()

	l.mu.Lock()
	delete(l.locks, lock.key)
	l.mu.Unlock()

	released, err := l.redis.ReleaseLock(ctx, lock.key, lock.token)
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", lock.key, err)
	}
	if !released {
		return ErrLockLost
	}
	return nil
}

// Extend resets the TTL. It returns ErrLockLost when the key expired or changed owner.
func (l *Locker) Extend(ctx context.Context, lock *Lock, ttl time.Duration) error {
	ok, err := l.redis.RefreshLock(ctx, lock.key, lock.token, ttl)
	if err != nil {
		return fmt.Errorf("failed to extend lock %s: %w", lock.key, err)
	}
	if !ok {
		lock.markLost()
		return ErrLockLost
	}
	lock.mu.Lock()
	lock.expiresAt = time.Now().Add(ttl)
	lock.mu.Unlock()
	return nil
}

func (l *Locker) IsLocked(ctx context.Context, name string) (bool, error) {
	n, err := l.redis.Client.Exists(ctx, l.key(name)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close releases every lock this locker still tracks.
func (l *Locker) Close(ctx context.Context) error {
	l.mu.Lock()
	locks := make([]*Lock, 0, len(l.locks))
	for _, lock := range l.locks {
		locks = append(locks, lock)
	}
	l.mu.Unlock()

	var errs []error
	for _, lock := range locks {
		if err := l.Unlock(ctx, lock); err != nil && !errors.Is(err, ErrLockLost) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// autoRenew refreshes the lease every interval. A refresh that finds another owner, or transport
// errors lasting past the expiry, marks the lock lost.
func (l *Locker) autoRenew(lock *Lock, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-lock.stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), interval)
		err := l.Extend(ctx, lock, lock.ttl)
		cancel()

		switch {
		case err == nil:
		case errors.Is(err, ErrLockLost):
			l.logger.Warn("lock lost", zap.String("key", lock.key))
			return
		default:
			l.logger.Warn("lock renewal failed", zap.String("key", lock.key), zap.Error(err))
			if time.Now().After(lock.ExpiresAt()) {
				lock.markLost()
				return
			}
		}
	}
}

func (l *Lock) Key() string   { return l.key }
func (l *Lock) Token() string { return l.token }

func (l *Lock) ExpiresAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.expiresAt
}

// Lost is closed once the lease is known to be gone.
func (l *Lock) Lost() <-chan struct{} { return l.lost }

func (l *Lock) markLost() {
	l.lostOnce.Do(func() { close(l.lost) })
	l.stopRenewal()
}

func (l *Lock) stopRenewal() {
	l.stopOnce.Do(func() { close(l.stop) })
}
