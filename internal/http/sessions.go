package http

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"livespese/internal/cache"
	applog "livespese/internal/log"
	"livespese/internal/view"
)

const sessionCookie = "spese_session"

// sessionRegistry maps session cookies to view controllers. Each controller
// holds one live subscription; evicted sessions are stopped.
type sessionRegistry struct {
	controllers   *cache.LRUCache[*view.Controller]
	newController func() *view.Controller
	// baseCtx bounds every subscription; request contexts end too early.
	baseCtx context.Context
	logger  *applog.Logger
}

func newSessionRegistry(baseCtx context.Context, maxSessions int, ttl time.Duration, newController func() *view.Controller, logger *applog.Logger) *sessionRegistry {
	logger = logger.WithComponent(applog.ComponentSession)
	reg := &sessionRegistry{
		newController: newController,
		baseCtx:       baseCtx,
		logger:        logger,
	}
	reg.controllers = cache.NewLRUCache[*view.Controller](maxSessions, ttl,
		cache.WithSlidingExpiration[*view.Controller](),
		cache.WithEvict(func(id string, c *view.Controller) {
			c.Stop()
			logger.Debug("Session closed", applog.FieldSessionID, id)
		}),
	)
	return reg
}

// lookup returns the live controller for id and refreshes its idle timer.
func (reg *sessionRegistry) lookup(id string) (*view.Controller, bool) {
	if id == "" {
		return nil, false
	}
	return reg.controllers.Get(id)
}

// open creates and starts a controller for a new session. A failed
// subscription is not an error here: the controller raises its alert and the
// page shows it.
func (reg *sessionRegistry) open(ctx context.Context) (string, *view.Controller) {
	id := uuid.NewString()
	c := reg.newController()
	if err := c.Start(reg.baseCtx); err != nil {
		reg.logger.WarnContext(ctx, "Session started without live updates",
			applog.FieldSessionID, id,
			applog.FieldError, err)
	}
	reg.controllers.Set(id, c)
	reg.logger.DebugContext(ctx, "Session opened", applog.FieldSessionID, id)
	return id, c
}

// session returns the caller's controller, opening a session and setting the
// cookie when the request has none or it has expired.
func (reg *sessionRegistry) session(w http.ResponseWriter, r *http.Request) (string, *view.Controller) {
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		if c, ok := reg.lookup(cookie.Value); ok {
			return cookie.Value, c
		}
	}

	id, c := reg.open(r.Context())
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return id, c
}

func (reg *sessionRegistry) size() int {
	return reg.controllers.Size()
}

// closeAll stops every controller.
func (reg *sessionRegistry) closeAll() int {
	return reg.controllers.Purge()
}

// awaitLoaded waits until c has applied its first snapshot, the alert is
// raised, or timeout elapses.
func awaitLoaded(ctx context.Context, c *view.Controller, timeout time.Duration) view.State {
	st := c.State()
	if st.Loaded || st.Alert != "" {
		return st
	}

	ch, cancel := c.Watch()
	defer cancel()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		// Re-check after registering so a snapshot applied in between is not missed.
		st = c.State()
		if st.Loaded || st.Alert != "" {
			return st
		}
		select {
		case _, ok := <-ch:
			if !ok {
				return c.State()
			}
		case <-timer.C:
			return c.State()
		case <-ctx.Done():
			return c.State()
		}
	}
}
