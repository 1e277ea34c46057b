// Package session tracks panel login sessions and failed-login lockouts per
// server. It performs no network I/O; the request executor drives it.
package session

import (
	"sync"
	"time"

	"github.com/kaspernux/1000proxy-sub002/internal/model"
	"github.com/kaspernux/1000proxy-sub002/logger"

	"gorm.io/gorm"
)

// Store guards the session and lockout fields of Server rows. All
// read-modify-write of those fields goes through per-server mutexes so
// concurrent failures cannot slip past the lockout threshold.
type Store struct {
	db        *gorm.DB
	threshold int
	lockout   time.Duration

	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

// NewStore creates a session store. db may be nil for in-memory use; state
// is then kept only on the Server structs passed in.
func NewStore(db *gorm.DB, threshold int, lockout time.Duration) *Store {
	return &Store{
		db:        db,
		threshold: threshold,
		lockout:   lockout,
		locks:     make(map[uint]*sync.Mutex),
	}
}

func (s *Store) lockFor(serverID uint) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[serverID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[serverID] = l
	}
	return l
}

// HasValidSession reports whether the server holds a session token that has
// not expired.
func (s *Store) HasValidSession(srv *model.Server) bool {
	l := s.lockFor(srv.ID)
	l.Lock()
	defer l.Unlock()
	return srv.SessionCookie != "" && srv.SessionExpiresAt != nil && srv.SessionExpiresAt.After(time.Now())
}

// IsLoginLocked reports whether the server is inside its lockout window.
// Once the window elapses the failure counter resets implicitly.
func (s *Store) IsLoginLocked(srv *model.Server) bool {
	l := s.lockFor(srv.ID)
	l.Lock()
	defer l.Unlock()

	if srv.FailedLoginAttempts < s.threshold {
		return false
	}
	if srv.LoginLockedUntil != nil && srv.LoginLockedUntil.After(time.Now()) {
		return true
	}

	// Lockout elapsed: reset so the next login attempt starts clean.
	srv.FailedLoginAttempts = 0
	srv.LoginLockedUntil = nil
	s.persist(srv)
	return false
}

// RecordSuccess stores the session token with its computed expiry and resets
// the failure counter.
func (s *Store) RecordSuccess(srv *model.Server, token string, ttl time.Duration) {
	l := s.lockFor(srv.ID)
	l.Lock()
	defer l.Unlock()

	expiry := time.Now().Add(ttl)
	srv.SessionCookie = token
	srv.SessionExpiresAt = &expiry
	srv.FailedLoginAttempts = 0
	srv.LoginLockedUntil = nil
	s.persist(srv)
}

// RecordFailure increments the failure counter and opens the lockout window
// when the threshold is reached.
func (s *Store) RecordFailure(srv *model.Server) {
	l := s.lockFor(srv.ID)
	l.Lock()
	defer l.Unlock()

	srv.FailedLoginAttempts++
	srv.SessionCookie = ""
	srv.SessionExpiresAt = nil
	if srv.FailedLoginAttempts >= s.threshold && srv.LoginLockedUntil == nil {
		until := time.Now().Add(s.lockout)
		srv.LoginLockedUntil = &until
		logger.Warningf("session: server %d login locked until %s after %d failures", srv.ID, until.Format(time.RFC3339), srv.FailedLoginAttempts)
	}
	s.persist(srv)
}

// Invalidate drops the stored session so the next call logs in again. Used
// when the panel rejects a request with an auth error.
func (s *Store) Invalidate(srv *model.Server) {
	l := s.lockFor(srv.ID)
	l.Lock()
	defer l.Unlock()

	srv.SessionCookie = ""
	srv.SessionExpiresAt = nil
	s.persist(srv)
}

func (s *Store) persist(srv *model.Server) {
	if s.db == nil || srv.ID == 0 {
		return
	}
	err := s.db.Model(&model.Server{}).Where("id = ?", srv.ID).Updates(map[string]interface{}{
		"session_cookie":        srv.SessionCookie,
		"session_expires_at":    srv.SessionExpiresAt,
		"failed_login_attempts": srv.FailedLoginAttempts,
		"login_locked_until":    srv.LoginLockedUntil,
	}).Error
	if err != nil {
		logger.Warningf("session: failed to persist session state for server %d: %v", srv.ID, err)
	}
}
