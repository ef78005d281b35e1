package chat

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-chat-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-chat-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-chat-go/pkg/utilities"
)

// TokenVerifier resolves a session token to the username it was issued for.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// Presence mirrors connection lifecycle into the durable online flag.
type Presence interface {
	MarkOnline(ctx context.Context, username string) error
	MarkOffline(ctx context.Context, username string) error
	IsOnline(ctx context.Context, username string) (bool, error)
}

type Options struct {
	AllowedOrigins  []string
	SendQueue       int
	MaxMessageBytes int64
	PingInterval    time.Duration
}

type Handler struct {
	registry *Registry
	router   *Router
	presence Presence
	verifier TokenVerifier
	cookies  session.Cookies
	metrics  *Metrics
	logger   *zap.SugaredLogger
	upgrader websocket.Upgrader
	opts     Options

	mu      sync.Mutex
	closing bool
	active  sync.WaitGroup
}

func NewHandler(
	registry *Registry,
	router *Router,
	presence Presence,
	verifier TokenVerifier,
	cookies session.Cookies,
	metrics *Metrics,
	logger *zap.SugaredLogger,
	opts Options,
) *Handler {
	return &Handler{
		registry: registry,
		router:   router,
		presence: presence,
		verifier: verifier,
		cookies:  cookies,
		metrics:  metrics,
		logger:   logger,
		upgrader: makeUpgrader(opts.AllowedOrigins),
		opts:     opts,
	}
}

// makeUpgrader accepts any origin when the list is empty or holds "*".
// Requests without an Origin header come from non-browser clients and pass.
func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*") {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return slices.Contains(allowedOrigins, origin)
		},
	}
}

// ServeWS authenticates the caller, upgrades the request and serves the
// connection until it closes. The identity always comes from the session
// token; a {clientID} path segment must agree with it.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = h.cookies.TokenFromRequest(r)
	}
	identity, err := h.verifier.Verify(r.Context(), token)
	if err != nil {
		status := session.VerifyStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Errorw("websocket auth failed", "err", err)
		}
		utilities.Respond(w, status, nil, apperr.Message(err, "unauthorized"))
		return
	}
	if claimed := r.PathValue("clientID"); claimed != "" && claimed != identity {
		utilities.Respond(w, http.StatusForbidden, nil, "client id does not match session")
		return
	}

	if !h.enter() {
		utilities.Respond(w, http.StatusServiceUnavailable, nil, CloseShutdown)
		return
	}
	defer h.active.Done()

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debugw("websocket upgrade failed", "identity", identity, "err", err)
		return
	}

	conn := newWSConn(ws, identity, h.opts.SendQueue, h.opts.PingInterval, h.logger)
	go conn.writeLoop()
	h.serve(context.WithoutCancel(r.Context()), conn)
}

func (h *Handler) serve(ctx context.Context, conn *wsConn) {
	gen, superseded := h.registry.Register(conn.identity, conn)
	h.metrics.connOpened(superseded)
	conn.logger.Infow("connected", "superseded", superseded)
	if h.isClosing() {
		// registered after Shutdown took its snapshot
		conn.Close(CloseShutdown)
	}
	h.markOnline(ctx, conn.identity, gen)

	conn.readLoop(h.opts.MaxMessageBytes, func(msg []byte) {
		h.router.Route(conn.identity, conn, msg)
	})

	conn.Close("")
	h.disconnect(ctx, conn.identity, gen)
	conn.logger.Infow("disconnected")
}

// markOnline sets the presence flag for a new connection. When the connection
// was replaced and its successor already left while the write was in flight,
// the flag is cleared again so it does not outlive every connection.
func (h *Handler) markOnline(ctx context.Context, identity string, gen uint64) {
	_ = h.presence.MarkOnline(ctx, identity)
	if h.registry.Holds(identity, gen) {
		return
	}
	if _, ok := h.registry.Lookup(identity); !ok {
		_ = h.presence.MarkOffline(ctx, identity)
	}
}

// disconnect clears the presence flag only when this connection was still the
// registered one. A newer connection that slipped in between the unregister
// and the offline write gets its flag restored.
func (h *Handler) disconnect(ctx context.Context, identity string, gen uint64) {
	if !h.registry.Unregister(identity, gen) {
		return
	}
	h.metrics.connClosed()
	_ = h.presence.MarkOffline(ctx, identity)
	if _, ok := h.registry.Lookup(identity); ok {
		_ = h.presence.MarkOnline(ctx, identity)
	}
}

// enter admits one connection unless Shutdown has begun. Callers that get
// true must call h.active.Done when the connection ends.
func (h *Handler) enter() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.active.Add(1)
	return true
}

func (h *Handler) isClosing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closing
}

// Shutdown closes every live connection and waits until their disconnect
// handling has finished or ctx ends. Upgrades arriving afterwards are refused
// with 503.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	n := h.registry.CloseAll(CloseShutdown)
	h.logger.Infow("closing websocket connections", "count", n)

	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
