package notifier

import (
	"context"
	"fmt"

	"github.com/mossy-p/call-signaling/internal/models"
	"github.com/mossy-p/call-signaling/internal/registry"
	"github.com/mossy-p/call-signaling/internal/relay"
	"github.com/mossy-p/call-signaling/internal/session"
	"github.com/rs/zerolog/log"
)

// Presence publishes which node owns an identity. Optional.
type Presence interface {
	Claim(ctx context.Context, id models.ClientID) error
	Release(ctx context.Context, id models.ClientID) error
}

// Notifier assigns identities on connect and announces disconnects.
type Notifier struct {
	reg      *registry.Registry
	sessions *session.Tracker
	relay    *relay.Relay
	scope    relay.CallEndedScope
	presence Presence
}

// New creates a notifier. presence may be nil.
func New(reg *registry.Registry, sessions *session.Tracker, r *relay.Relay, scope relay.CallEndedScope, presence Presence) *Notifier {
	return &Notifier{
		reg:      reg,
		sessions: sessions,
		relay:    r,
		scope:    scope,
		presence: presence,
	}
}

// Connect registers ch and queues the identity-assigned frame on it ahead of
// anything else that may be addressed to the new identity.
func (n *Notifier) Connect(ctx context.Context, ch registry.Channel) (models.ClientID, error) {
	id, err := n.reg.Register(ch, func(id models.ClientID) error {
		frame, err := models.Encode(models.SignalMessage{
			Type:     models.SignalTypeIdentity,
			Identity: id,
		})
		if err != nil {
			return fmt.Errorf("marshal identity: %w", err)
		}
		return ch.TrySend(frame)
	})
	if err != nil {
		return "", fmt.Errorf("register client: %w", err)
	}

	if n.presence != nil {
		if err := n.presence.Claim(ctx, id); err != nil {
			log.Error().Err(err).Str("module", "notifier").Str("client", string(id)).Msg("failed to claim presence")
		}
	}

	log.Info().Str("module", "notifier").Str("client", string(id)).Msg("client connected")
	return id, nil
}

// Disconnect releases id and emits call-ended. Repeated calls for the same
// identity are no-ops.
func (n *Notifier) Disconnect(ctx context.Context, id models.ClientID) {
	if !n.reg.Unregister(id) {
		return
	}
	if n.presence != nil {
		if err := n.presence.Release(ctx, id); err != nil {
			log.Error().Err(err).Str("module", "notifier").Str("client", string(id)).Msg("failed to release presence")
		}
	}

	peers := n.sessions.EndAll(id)

	switch n.scope {
	case relay.ScopeSession:
		frame := relay.CallEndedFrame(id)
		for _, peer := range peers {
			if err := n.relay.Deliver(ctx, models.SignalTypeCallEnd, id, peer, frame); err != nil {
				log.Debug().Err(err).Str("module", "notifier").Str("target", string(peer)).Msg("call-ended not delivered")
			}
		}
	default:
		n.relay.Broadcast(ctx, id, relay.CallEndedFrame(""))
	}

	log.Info().Str("module", "notifier").Str("client", string(id)).Int("sessions", len(peers)).Msg("client disconnected")
}
