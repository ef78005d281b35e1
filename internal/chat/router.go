package chat

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// Envelope is one inbound chat message.
type Envelope struct {
	Type    string `json:"type"`
	From    string `json:"from"`
	To      string `json:"to"`
	Message string `json:"message"`
}

// OfflineNotice is returned to a sender whose recipient has no live connection.
type OfflineNotice struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

const (
	TypeMessage = "message"
	TypeOffline = "offline"
)

// Outcome is what happened to one inbound envelope.
type Outcome uint8

const (
	Delivered Outcome = iota
	Offline
	Dropped
	Malformed
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Offline:
		return "offline"
	case Dropped:
		return "dropped"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

const presenceTimeout = 2 * time.Second

// Router decides between relaying an envelope and answering the sender with
// an offline notice. The registry, not the durable presence flag, decides
// whether a recipient is reachable. presence may be nil.
type Router struct {
	registry *Registry
	presence Presence
	metrics  *Metrics
	logger   *zap.SugaredLogger
	nowFn    func() time.Time
}

func NewRouter(registry *Registry, presence Presence, metrics *Metrics, logger *zap.SugaredLogger) *Router {
	return &Router{registry: registry, presence: presence, metrics: metrics, logger: logger, nowFn: time.Now}
}

// Route handles raw as sent by senderID over reply. Delivery is
// fire-and-forget; malformed input is dropped and the session stays open.
func (r *Router) Route(senderID string, reply Handle, raw []byte) Outcome {
	start := r.nowFn()
	outcome := r.route(senderID, reply, raw)
	r.metrics.observeRoute(outcome, r.nowFn().Sub(start))
	return outcome
}

func (r *Router) route(senderID string, reply Handle, raw []byte) Outcome {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		r.logger.Debugw("drop unparsable envelope", "sender", senderID, "err", err)
		return Malformed
	}
	switch {
	case env.To == "":
		r.logger.Debugw("drop envelope without recipient", "sender", senderID)
		return Malformed
	case env.Type != "" && env.Type != TypeMessage:
		r.logger.Debugw("drop envelope of unknown type", "sender", senderID, "type", env.Type)
		return Malformed
	case env.From != "" && env.From != senderID:
		r.logger.Warnw("drop envelope with spoofed sender", "sender", senderID, "from", env.From)
		return Malformed
	}

	if target, ok := r.registry.Lookup(env.To); ok {
		if !target.Send(raw) {
			r.logger.Warnw("relay failed, message dropped", "sender", senderID, "recipient", env.To)
			return Dropped
		}
		return Delivered
	}

	notice, err := json.Marshal(OfflineNotice{Type: TypeOffline, Message: env.To + " is offline"})
	if err != nil {
		r.logger.Errorw("encode offline notice", "err", err)
		return Dropped
	}
	if !reply.Send(notice) {
		r.logger.Debugw("offline notice not delivered", "sender", senderID, "recipient", env.To)
	}
	r.clearStaleFlag(env.To)
	return Offline
}

// clearStaleFlag resets a durable online flag that no live connection backs,
// such as one left set by a crashed process. A connection that registers
// meanwhile gets its flag written back.
func (r *Router) clearStaleFlag(username string) {
	if r.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()

	online, err := r.presence.IsOnline(ctx, username)
	if err != nil || !online {
		return
	}
	if _, ok := r.registry.Lookup(username); ok {
		return
	}
	r.logger.Infow("clearing stale online flag", "username", username)
	_ = r.presence.MarkOffline(ctx, username)
	if _, ok := r.registry.Lookup(username); ok {
		_ = r.presence.MarkOnline(ctx, username)
	}
}
