package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"autolead.app/crm/common/metrics"
	"autolead.app/crm/internal/model"
	"autolead.app/crm/internal/queue"
	"autolead.app/crm/internal/service"
)

// Listener receives session-change notifications for one session.
type Listener func(ctx context.Context, event model.SessionEvent, as *model.AuthSession)

// Authenticator is the credential side of AuthService the registry drives.
type Authenticator interface {
	SessionSource
	SignIn(ctx context.Context, email, password string) (*model.AuthSession, error)
	SignUp(ctx context.Context, email, password, fullName string) (*model.AuthSession, error)
	SignOut(ctx context.Context, sessionID int64) error
	ResolveToken(ctx context.Context, token string) (int64, error)
}

type RegistryConfig struct {
	Size           int
	IdleTTL        time.Duration
	ResolveTimeout time.Duration
}

// Registry holds the live controllers of this replica, keyed by session id.
type Registry struct {
	auth     Authenticator
	profiles ProfileResolver
	orgs     OrganizationResolver
	cfg      RegistryConfig

	controllers *expirable.LRU[int64, *Controller]
	creating    singleflight.Group
	// tokens maps a token hash to its session id. An entry can outlive the
	// session; the controller it leads to then resolves as anonymous.
	tokens *expirable.LRU[string, int64]

	mu        sync.RWMutex
	listeners map[int64]map[uint64]Listener
	nextID    uint64
}

func NewRegistry(auth Authenticator, profiles ProfileResolver, orgs OrganizationResolver, cfg RegistryConfig) *Registry {
	if cfg.Size <= 0 {
		cfg.Size = 10000
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 30 * time.Minute
	}
	r := &Registry{
		auth:      auth,
		profiles:  profiles,
		orgs:      orgs,
		cfg:       cfg,
		listeners: make(map[int64]map[uint64]Listener),
	}
	r.controllers = expirable.NewLRU[int64, *Controller](cfg.Size, r.onEvict, cfg.IdleTTL)
	r.tokens = expirable.NewLRU[string, int64](cfg.Size, nil, cfg.IdleTTL)
	return r
}

func (r *Registry) onEvict(sessionID int64, c *Controller) {
	c.Close()
	metrics.LiveSessions.Dec()
	slog.Debug("session controller evicted", "session_id", sessionID)
}

// Resolve maps a bearer token to its session id.
func (r *Registry) Resolve(ctx context.Context, token string) (int64, error) {
	key := string(service.HashSessionToken(token))
	if sessionID, ok := r.tokens.Get(key); ok {
		return sessionID, nil
	}

	sessionID, err := r.auth.ResolveToken(ctx, token)
	if err != nil {
		return 0, err
	}
	r.tokens.Add(key, sessionID)
	return sessionID, nil
}

// Get returns the live controller for sessionID, creating and starting it on
// first use. Concurrent first calls share one start. A controller whose start
// could not reach the session store is started again.
func (r *Registry) Get(ctx context.Context, sessionID int64) *Controller {
	if c, ok := r.touch(sessionID); ok {
		if c.startFailed() {
			r.restart(ctx, c)
		}
		return c
	}

	v, _, _ := r.creating.Do(strconv.FormatInt(sessionID, 10), func() (any, error) {
		if c, ok := r.controllers.Peek(sessionID); ok {
			return c, nil
		}
		c := r.attach(sessionID)
		c.Start(ctx)
		return c, nil
	})
	return v.(*Controller)
}

func (r *Registry) restart(ctx context.Context, c *Controller) {
	_, _, _ = r.creating.Do(strconv.FormatInt(c.SessionID(), 10), func() (any, error) {
		if c.startFailed() {
			slog.InfoContext(ctx, "restarting session controller", "session_id", c.SessionID())
			c.Start(ctx)
		}
		return c, nil
	})
}

// Lookup returns the controller only if it is already live.
func (r *Registry) Lookup(sessionID int64) (*Controller, bool) {
	return r.touch(sessionID)
}

// Remove closes and forgets the controller for sessionID.
func (r *Registry) Remove(sessionID int64) {
	r.controllers.Remove(sessionID)
}

// Close closes every live controller.
func (r *Registry) Close() {
	r.controllers.Purge()
}

func (r *Registry) Len() int {
	return r.controllers.Len()
}

// touch re-adds a live controller so its idle timer restarts.
func (r *Registry) touch(sessionID int64) (*Controller, bool) {
	c, ok := r.controllers.Get(sessionID)
	if ok {
		r.controllers.Add(sessionID, c)
	}
	return c, ok
}

func (r *Registry) attach(sessionID int64) *Controller {
	c := NewController(sessionID, r.profiles, r.orgs, r.auth, r.cfg.ResolveTimeout)
	c.setUnsubscribe(r.Subscribe(sessionID, c.Handle))
	r.controllers.Add(sessionID, c)
	metrics.LiveSessions.Inc()
	return c
}

// Subscribe registers fn for events on sessionID and returns the unsubscribe func.
func (r *Registry) Subscribe(sessionID int64, fn Listener) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	if r.listeners[sessionID] == nil {
		r.listeners[sessionID] = make(map[uint64]Listener)
	}
	r.listeners[sessionID][id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.listeners[sessionID], id)
			if len(r.listeners[sessionID]) == 0 {
				delete(r.listeners, sessionID)
			}
		})
	}
}

// Dispatch delivers a stream event to every listener of its session. Sessions
// with no live listener on this replica are ignored.
func (r *Registry) Dispatch(ctx context.Context, msg queue.Message) error {
	listeners := r.listenersFor(msg.SessionID)
	if len(listeners) == 0 {
		return nil
	}

	var as *model.AuthSession
	if msg.Event != model.SessionEventSignedOut {
		var err error
		as, err = r.auth.GetSession(ctx, msg.SessionID)
		if err != nil {
			return fmt.Errorf("loading session %d: %w", msg.SessionID, err)
		}
	}

	r.notify(ctx, listeners, msg.Event, as)
	if msg.Event == model.SessionEventSignedOut {
		r.Remove(msg.SessionID)
	}
	return nil
}

func (r *Registry) listenersFor(sessionID int64) []Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Listener, 0, len(r.listeners[sessionID]))
	for _, l := range r.listeners[sessionID] {
		out = append(out, l)
	}
	return out
}

func (r *Registry) notify(ctx context.Context, listeners []Listener, event model.SessionEvent, as *model.AuthSession) {
	for _, l := range listeners {
		l(ctx, event, as)
	}
}

func (r *Registry) SignIn(ctx context.Context, email, password string) AuthResult {
	as, err := r.auth.SignIn(ctx, email, password)
	if err != nil {
		return failure(err, "Could not sign in")
	}
	return r.open(ctx, as, model.SessionEventSignedIn, "Signed in successfully")
}

func (r *Registry) SignUp(ctx context.Context, email, password, fullName string) AuthResult {
	as, err := r.auth.SignUp(ctx, email, password, fullName)
	if err != nil {
		return failure(err, "Could not create account")
	}
	return r.open(ctx, as, model.SessionEventSignedUp, "Account created successfully")
}

// Adopt attaches a session opened elsewhere (for example by accepting an
// invitation) and applies event to it.
func (r *Registry) Adopt(ctx context.Context, as *model.AuthSession, event model.SessionEvent, message string) AuthResult {
	return r.open(ctx, as, event, message)
}

func (r *Registry) SignOut(ctx context.Context, sessionID int64) AuthResult {
	if err := r.auth.SignOut(ctx, sessionID); err != nil {
		return failure(err, "Could not sign out")
	}

	if c, ok := r.Lookup(sessionID); ok {
		for _, l := range r.listenersFor(sessionID) {
			l(ctx, model.SessionEventSignedOut, nil)
		}
		c.TakeNavigation()
		r.Remove(sessionID)
	}

	return AuthResult{
		Notice:     &Notice{Kind: NoticeSuccess, Message: "Signed out"},
		RedirectTo: routePtr(homeRoute),
	}
}

func (r *Registry) open(ctx context.Context, as *model.AuthSession, event model.SessionEvent, message string) AuthResult {
	c := r.attach(as.Session.ID)
	c.Handle(ctx, event, as)

	snap := c.Snapshot()
	return AuthResult{
		User:       snap.User,
		Session:    snap.Session,
		Token:      as.Session.Token,
		Notice:     &Notice{Kind: NoticeSuccess, Message: message},
		RedirectTo: c.TakeNavigation(),
		Snapshot:   &snap,
	}
}

func failure(err error, fallback string) AuthResult {
	msg := fallback
	var credErr *service.CredentialError
	switch {
	case errors.As(err, &credErr):
		msg = credErr.Message
	case errors.Is(err, service.ErrMissingCredentials):
		msg = err.Error()
	}
	return AuthResult{
		Error:  err,
		Notice: &Notice{Kind: NoticeError, Message: msg},
	}
}
