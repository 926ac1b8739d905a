// Package verification issues and checks short-lived one-time codes per
// phone number. The store is purely in-memory: expiry plus the periodic
// sweep are the only cancellation mechanisms.
package verification

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Failure modes surfaced to the caller. Wrong codes keep the challenge
// alive (with the attempt counted); everything else evicts it.
var (
	ErrNotFoundOrExpired = errors.New("verification code not found or expired")
	ErrInvalidCode       = errors.New("invalid verification code")
	ErrTooManyAttempts   = errors.New("too many verification attempts")
)

// RateLimitError reports how long the caller must wait before a new code
// may be issued for the same phone.
type RateLimitError struct {
	RetryAfter int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("verification code already sent, retry in %ds", e.RetryAfter)
}

const (
	challengeTTL  = 5 * time.Minute
	reissueWindow = 60 * time.Second
	maxAttempts   = 5
	sweepInterval = time.Minute
)

type challenge struct {
	code      string
	attempts  int
	createdAt time.Time
	expiresAt time.Time
	evict     *time.Timer
}

// Store keeps at most one live challenge per normalized phone. All
// check-then-mutate sequences run under a single mutex so concurrent
// issue/verify calls on the same phone cannot corrupt the attempt count
// or leave two codes live at once.
type Store struct {
	mu      sync.Mutex
	entries map[string]*challenge

	now func() time.Time
	log *zap.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

// NewStore constructs a store and starts its background sweep.
func NewStore(log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		entries: make(map[string]*challenge),
		now:     time.Now,
		log:     log,
		stop:    make(chan struct{}),
	}
	go s.sweepLoop(sweepInterval)
	return s
}

// Stop terminates the background sweep. Live entries still expire via
// their per-entry timers.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// NormalizePhone reduces a raw phone string to the canonical digit form
// used as the challenge key: non-digits stripped, a leading 8 on an
// 11-digit number replaced with 7, a 10-digit number prefixed with 7.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 11 && digits[0] == '8' {
		return "7" + digits[1:]
	}
	if len(digits) == 10 {
		return "7" + digits
	}
	return digits
}

// Issue generates a fresh 4-digit code for the phone, replacing any
// prior challenge. Re-issuing within the reissue window fails with a
// RateLimitError carrying the seconds remaining. The code is returned to
// the caller solely so it can be handed to the delivery collaborator; it
// must never reach the client outside a debug channel.
func (s *Store) Issue(rawPhone string) (string, error) {
	phone := NormalizePhone(rawPhone)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[phone]; ok && now.Before(existing.expiresAt) {
		age := now.Sub(existing.createdAt)
		if age < reissueWindow {
			remaining := int((reissueWindow - age + time.Second - 1) / time.Second)
			return "", &RateLimitError{RetryAfter: remaining}
		}
	}

	code, err := generateCode()
	if err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}

	s.replaceLocked(phone, &challenge{
		code:      code,
		createdAt: now,
		expiresAt: now.Add(challengeTTL),
	})
	s.log.Debug("verification challenge issued", zap.String("phone", phone))
	return code, nil
}

// Verify checks a code against the live challenge for the phone. A match
// evicts the challenge unless keepAlive is set, which lets multi-step
// flows re-check the same code before committing.
func (s *Store) Verify(rawPhone, code string, keepAlive bool) error {
	phone := NormalizePhone(rawPhone)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[phone]
	if !ok {
		return ErrNotFoundOrExpired
	}
	if now.After(entry.expiresAt) {
		s.evictLocked(phone)
		return ErrNotFoundOrExpired
	}
	if entry.attempts >= maxAttempts {
		s.evictLocked(phone)
		return ErrTooManyAttempts
	}

	entry.attempts++
	if entry.code != code {
		if entry.attempts >= maxAttempts {
			s.evictLocked(phone)
			return ErrTooManyAttempts
		}
		return ErrInvalidCode
	}

	if !keepAlive {
		s.evictLocked(phone)
	}
	return nil
}

// replaceLocked installs a challenge and schedules its eviction at
// expiry. The caller must hold s.mu.
func (s *Store) replaceLocked(phone string, c *challenge) {
	if prev, ok := s.entries[phone]; ok && prev.evict != nil {
		prev.evict.Stop()
	}
	c.evict = time.AfterFunc(c.expiresAt.Sub(c.createdAt), func() {
		s.evictStale(phone, c.createdAt)
	})
	s.entries[phone] = c
}

func (s *Store) evictLocked(phone string) {
	if entry, ok := s.entries[phone]; ok {
		if entry.evict != nil {
			entry.evict.Stop()
		}
		delete(s.entries, phone)
	}
}

// evictStale removes the entry only if it is still the one the timer was
// armed for; a replacement issued in the meantime stays live.
func (s *Store) evictStale(phone string, createdAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[phone]; ok && entry.createdAt.Equal(createdAt) {
		delete(s.entries, phone)
	}
}

// sweepLoop periodically drops expired entries so abandoned challenges
// cannot grow the map without bound.
func (s *Store) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for phone, entry := range s.entries {
		if now.After(entry.expiresAt) {
			s.evictLocked(phone)
		}
	}
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%04d", n.Int64()), nil
}
