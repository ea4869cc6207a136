// Package session owns the per-browser-session state: who is signed in, their
// profile and organization, and where they should be sent next.
//
// Ordering: Handle calls on one controller run one at a time, in arrival order,
// each under a fresh epoch. A resolution commits only while its epoch is still
// the newest, so a slow lookup can never overwrite the outcome of a later event.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"autolead.app/crm/common/logger"
	"autolead.app/crm/common/metrics"
	"autolead.app/crm/internal/functions"
	"autolead.app/crm/internal/model"
	"autolead.app/crm/internal/redirect"
	"autolead.app/crm/internal/service"
)

type State string

const (
	StateUninitialized State = "uninitialized"
	StateLoading       State = "loading"
	StateAuthenticated State = "authenticated"
	StateAnonymous     State = "anonymous"
	StateUnreachable   State = "unreachable"
)

const defaultResolveTimeout = 5 * time.Second

type ProfileResolver interface {
	FetchProfile(ctx context.Context, userID string) (*model.Profile, error)
}

type OrganizationResolver interface {
	FetchOrganization(ctx context.Context, orgID string) (*model.Organization, error)
}

type SessionSource interface {
	GetSession(ctx context.Context, sessionID int64) (*model.AuthSession, error)
}

// Snapshot is a copy of a controller's state. Mutating it has no effect.
type Snapshot struct {
	State        State               `json:"state"`
	IsLoading    bool                `json:"is_loading"`
	User         *model.User         `json:"user"`
	Session      *model.Session      `json:"session"`
	Profile      *model.Profile      `json:"profile"`
	Organization *model.Organization `json:"organization"`
	CurrentPath  string              `json:"current_path,omitempty"`
}

type Controller struct {
	sessionID int64
	profiles  ProfileResolver
	orgs      OrganizationResolver
	sessions  SessionSource
	timeout   time.Duration

	handleMu sync.Mutex
	refresh  singleflight.Group

	mu          sync.RWMutex
	epoch       uint64
	state       State
	loading     bool
	user        *model.User
	session     *model.Session
	profile     *model.Profile
	org         *model.Organization
	currentPath string
	pending     *redirect.Route
	closed      bool
	unsubscribe func()
}

func NewController(sessionID int64, profiles ProfileResolver, orgs OrganizationResolver, sessions SessionSource, resolveTimeout time.Duration) *Controller {
	if resolveTimeout <= 0 {
		resolveTimeout = defaultResolveTimeout
	}
	return &Controller{
		sessionID: sessionID,
		profiles:  profiles,
		orgs:      orgs,
		sessions:  sessions,
		timeout:   resolveTimeout,
		state:     StateUninitialized,
	}
}

func (c *Controller) SessionID() int64 {
	return c.sessionID
}

// Start loads the existing session and handles it as the initial event.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	c.loading = true
	c.state = StateLoading
	c.mu.Unlock()

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	as, err := c.sessions.GetSession(rctx, c.sessionID)
	cancel()
	if err != nil {
		slog.WarnContext(ctx, "session lookup failed", "error", err, "session_id", c.sessionID)
		c.markUnreachable()
		return
	}

	c.Handle(ctx, model.SessionEventInitial, as)
}

// startFailed reports whether Start could not load the session at all.
func (c *Controller) startFailed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == StateUnreachable && c.user == nil && !c.closed
}

// Handle applies one session event. It is the only writer of identity state.
func (c *Controller) Handle(ctx context.Context, event model.SessionEvent, as *model.AuthSession) {
	c.handleMu.Lock()
	defer c.handleMu.Unlock()

	ev := string(event)
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		SessionID: logger.Ptr(c.sessionID),
		Event:     &ev,
		Component: "crm.session.controller",
	})
	span := logger.StartSpan(ctx, "session.handle_event")
	defer span.End()
	ctx = span.Context()

	epoch, ok := c.begin()
	if !ok {
		return
	}

	if event == model.SessionEventSignedOut || as == nil || as.User == nil {
		c.clear(epoch)
		if event == model.SessionEventSignedOut {
			c.Navigate(ctx, redirect.RouteHome)
		}
		slog.InfoContext(ctx, "session has no user")
		return
	}

	c.setIdentity(epoch, as)

	if !event.Resolves() {
		return
	}

	res := c.resolve(ctx, as.User.ID)
	if !c.commit(ctx, epoch, res) {
		return
	}
	if res.outcome == outcomeUnreachable {
		return
	}

	switch event {
	case model.SessionEventSignedIn:
		redirect.Redirect(ctx, res.profile, true, c, c.CurrentPath())
	case model.SessionEventSignedUp:
		// A fresh account always starts by creating its organization.
		if !strings.HasPrefix(c.CurrentPath(), string(redirect.RouteCreateOrganization)) {
			metrics.Redirects.WithLabelValues(string(redirect.RouteCreateOrganization)).Inc()
			c.Navigate(ctx, redirect.RouteCreateOrganization)
		}
	}
}

// RefreshProfile re-reads the profile and organization. Concurrent callers share
// one lookup. Failures are logged and yield nil.
func (c *Controller) RefreshProfile(ctx context.Context) (profile *model.Profile) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in profile refresh", "panic", r, "session_id", c.sessionID)
			profile = nil
		}
	}()

	c.mu.RLock()
	epoch := c.epoch
	var userID string
	if c.user != nil {
		userID = c.user.ID
	}
	c.mu.RUnlock()
	if userID == "" {
		return nil
	}

	v, _, _ := c.refresh.Do(userID, func() (any, error) {
		res := c.resolve(ctx, userID)
		c.commit(ctx, epoch, res)
		return res.profile, nil
	})
	p, _ := v.(*model.Profile)
	return p.Clone()
}

// Guard routes an existing session arriving at path. It never navigates while
// the session is still loading or unreachable.
func (c *Controller) Guard(ctx context.Context, path string) (redirect.Route, bool) {
	c.SetCurrentPath(path)

	c.mu.RLock()
	state, profile := c.state, c.profile.Clone()
	c.mu.RUnlock()

	switch state {
	case StateLoading, StateUninitialized, StateUnreachable:
		return "", false
	}
	return redirect.Redirect(ctx, profile, false, c, path)
}

// Navigate records route as the next place the client must go. It satisfies
// redirect.Navigator.
func (c *Controller) Navigate(ctx context.Context, route redirect.Route) {
	c.mu.Lock()
	r := route
	c.pending = &r
	c.mu.Unlock()
	slog.DebugContext(ctx, "navigation recorded", "route", route, "session_id", c.sessionID)
}

// TakeNavigation returns and clears the pending navigation.
func (c *Controller) TakeNavigation() *redirect.Route {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.pending
	c.pending = nil
	return r
}

func (c *Controller) SetCurrentPath(path string) {
	c.mu.Lock()
	c.currentPath = path
	c.mu.Unlock()
}

func (c *Controller) CurrentPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentPath
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		State:       c.state,
		IsLoading:   c.loading,
		Profile:     c.profile.Clone(),
		CurrentPath: c.currentPath,
	}
	if c.user != nil {
		u := *c.user
		snap.User = &u
	}
	if c.session != nil {
		s := *c.session
		snap.Session = &s
	}
	if c.org != nil {
		o := *c.org
		snap.Organization = &o
	}
	return snap
}

func (c *Controller) HasRole(role model.Role) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.profile.HasRole(role)
}

func (c *Controller) IsAdmin() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.profile != nil && c.profile.IsAdmin
}

// Close detaches the controller. Any resolution still in flight is discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	c.epoch++
	c.closed = true
	unsub := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

func (c *Controller) setUnsubscribe(fn func()) {
	c.mu.Lock()
	c.unsubscribe = fn
	c.mu.Unlock()
}

func (c *Controller) begin() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, false
	}
	c.epoch++
	return c.epoch, true
}

func (c *Controller) clear(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return
	}
	c.user, c.session, c.profile, c.org = nil, nil, nil, nil
	c.state = StateAnonymous
	c.loading = false
}

func (c *Controller) setIdentity(epoch uint64, as *model.AuthSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return
	}
	u := *as.User
	c.user = &u
	if as.Session != nil {
		s := *as.Session
		c.session = &s
	}
	if c.state == StateUninitialized || c.state == StateAnonymous {
		c.state = StateLoading
	}
}

func (c *Controller) markUnreachable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateUnreachable
	c.loading = false
	metrics.SessionResolutions.WithLabelValues(string(outcomeUnreachable)).Inc()
}

type outcome string

const (
	outcomeOK          outcome = "ok"
	outcomeError       outcome = "error"
	outcomeUnreachable outcome = "unreachable"
	outcomeStale       outcome = "stale"
)

type resolution struct {
	profile *model.Profile
	org     *model.Organization
	outcome outcome
}

func (c *Controller) resolve(ctx context.Context, userID string) resolution {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	profile, err := c.profiles.FetchProfile(rctx, userID)
	if err != nil {
		if isUnreachable(rctx, err) {
			slog.WarnContext(ctx, "profile lookup timed out", "error", err, "user_id", userID)
			return resolution{outcome: outcomeUnreachable}
		}
		if errors.Is(err, service.ErrProfileNotFound) {
			return resolution{outcome: outcomeOK}
		}
		slog.ErrorContext(ctx, "profile lookup failed", "error", err, "user_id", userID)
		return resolution{outcome: outcomeError}
	}

	res := resolution{profile: profile, outcome: outcomeOK}
	if !profile.HasOrganization() {
		return res
	}

	org, err := c.orgs.FetchOrganization(rctx, *profile.OrganizationID)
	switch {
	case err == nil:
		res.org = org
	case isUnreachable(rctx, err):
		slog.WarnContext(ctx, "organization lookup timed out", "error", err, "organization_id", *profile.OrganizationID)
		res.outcome = outcomeUnreachable
	case errors.Is(err, service.ErrOrganizationNotFound):
	default:
		slog.ErrorContext(ctx, "organization lookup failed", "error", err, "organization_id", *profile.OrganizationID)
	}
	return res
}

func (c *Controller) commit(ctx context.Context, epoch uint64, res resolution) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if epoch != c.epoch || c.closed {
		metrics.SessionResolutions.WithLabelValues(string(outcomeStale)).Inc()
		slog.DebugContext(ctx, "discarding stale resolution", "epoch", epoch, "current_epoch", c.epoch)
		return false
	}

	metrics.SessionResolutions.WithLabelValues(string(res.outcome)).Inc()
	c.loading = false
	if res.outcome == outcomeUnreachable {
		c.state = StateUnreachable
		return true
	}
	c.profile = res.profile
	c.org = res.org
	c.state = StateAuthenticated
	return true
}

func isUnreachable(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, functions.ErrUnreachable)
}
