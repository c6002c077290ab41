// Package session is the single source of truth for who is logged in. It
// wraps the token identity resolver and a persisted token slot, and tells
// interested components when the identity changes.
package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/homefix/messenger/internal/api"
	"github.com/homefix/messenger/internal/identity"
	"github.com/homefix/messenger/internal/logger"
	"github.com/homefix/messenger/internal/model"
	"github.com/homefix/messenger/internal/tokenstore"
)

// Options configures a Store.
type Options struct {
	// OnLogout runs after every logout, including forced ones. It is the
	// hook for sending the user back to the login surface.
	OnLogout func()
}

// Store holds the current Identity for the lifetime of the process.
type Store struct {
	slot tokenstore.Store
	opts Options
	log  *zap.SugaredLogger

	mu        sync.Mutex
	identity  *model.Identity
	loading   bool
	restored  bool
	listeners map[int]func(*model.Identity)
	nextID    int
}

// New creates a Store in the loading state. Call Restore once at startup.
func New(slot tokenstore.Store, opts Options) *Store {
	return &Store{
		slot:      slot,
		opts:      opts,
		log:       logger.Named("session").With("slot", slot.Key()),
		loading:   true,
		listeners: make(map[int]func(*model.Identity)),
	}
}

// Restore reads the persisted token and, if it decodes, establishes the
// session. Any failure degrades silently to logged out. Loading ends
// exactly once; later calls do nothing.
func (s *Store) Restore(ctx context.Context) {
	s.mu.Lock()
	if s.restored {
		s.mu.Unlock()
		return
	}
	s.restored = true
	s.mu.Unlock()

	var id *model.Identity
	token, err := s.slot.Load(ctx)
	switch {
	case err != nil:
		s.log.Warnw("restore: token slot unreadable", "err", err)
	case token == "":
		s.log.Debug("restore: no stored token")
	default:
		if decoded, derr := identity.Decode(token); derr != nil {
			s.log.Debugw("restore: stored token did not decode", "err", derr)
		} else {
			id = decoded
		}
	}

	s.mu.Lock()
	s.identity = id
	s.loading = false
	s.mu.Unlock()

	if id != nil {
		s.log.Infow("session restored", "email", id.Email, "role", id.Role)
		s.notify(id)
	}
}

// Login decodes token and, only if that succeeds, persists it and sets the
// identity. A decode failure is returned as INVALID_TOKEN with no side
// effects.
func (s *Store) Login(ctx context.Context, token string) (*model.Identity, error) {
	id, err := identity.Decode(token)
	if err != nil {
		return nil, err
	}
	// The slot keeps the caller's exact string; id.Token is the normalised
	// bearer value used for requests.
	if err := s.slot.Save(ctx, token); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.identity = id
	s.loading = false
	s.restored = true
	s.mu.Unlock()

	s.log.Infow("logged in", "email", id.Email, "role", id.Role, "user_id", id.UserID)
	s.notify(id)
	return id, nil
}

// Logout clears the slot and the identity, then runs OnLogout. The identity
// is cleared even if the slot cannot be written; that error is returned.
func (s *Store) Logout(ctx context.Context) error {
	err := s.slot.Clear(ctx)
	if err != nil {
		s.log.Warnw("logout: clear token slot", "err", err)
	}

	s.mu.Lock()
	s.identity = nil
	s.loading = false
	s.mu.Unlock()

	s.log.Info("logged out")
	s.notify(nil)
	if s.opts.OnLogout != nil {
		s.opts.OnLogout()
	}
	return err
}

// HandleUnauthorized is the process-wide reaction to an HTTP 401 from the
// API: the session is dropped.
func (s *Store) HandleUnauthorized(ctx context.Context) {
	if s.Identity() == nil {
		return
	}
	s.log.Warn("api rejected credentials, forcing logout")
	_ = s.Logout(ctx)
}

// Identity returns the current identity, or nil when logged out.
func (s *Store) Identity() *model.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return nil
	}
	id := *s.identity
	return &id
}

// Loading reports whether Restore has not completed yet.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Credentials returns the credentials for an outbound API call. They are
// empty when logged out.
func (s *Store) Credentials() api.Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return api.Credentials{}
	}
	return api.Credentials{Token: s.identity.Token}
}

// Subscribe registers fn to be called with the new identity (nil on logout)
// after every change. The returned func removes the subscription.
func (s *Store) Subscribe(fn func(*model.Identity)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// notify calls listeners outside the lock.
func (s *Store) notify(id *model.Identity) {
	s.mu.Lock()
	fns := make([]func(*model.Identity), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		if id == nil {
			fn(nil)
			continue
		}
		cp := *id
		fn(&cp)
	}
}
