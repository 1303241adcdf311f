package relay

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/mossy-p/call-signaling/internal/models"
	"github.com/mossy-p/call-signaling/internal/registry"
	"github.com/mossy-p/call-signaling/internal/session"
	"github.com/rs/zerolog/log"
)

// Remote reaches identities owned by other signaling nodes.
type Remote interface {
	NodeID() string
	// Forward hands env to the node owning env.Target. It returns false when
	// no node owns the target.
	Forward(ctx context.Context, env models.Envelope) (bool, error)
	Broadcast(ctx context.Context, env models.Envelope) error
}

// Stats counts relay outcomes since process start.
type Stats struct {
	Relayed uint64 `json:"relayed"`
	Dropped uint64 `json:"dropped"`
}

// Relay forwards addressed frames to whichever connection owns the target
// identity. It never inspects signal payloads.
type Relay struct {
	reg      *registry.Registry
	sessions *session.Tracker
	policy   TargetMissingPolicy
	remote   Remote

	relayed atomic.Uint64
	dropped atomic.Uint64
}

// New creates a relay. remote may be nil for a single-node deployment.
func New(reg *registry.Registry, sessions *session.Tracker, policy TargetMissingPolicy, remote Remote) *Relay {
	return &Relay{
		reg:      reg,
		sessions: sessions,
		policy:   policy,
		remote:   remote,
	}
}

// RelayCallInvitation rings inv.Target on behalf of inv.From.
func (r *Relay) RelayCallInvitation(ctx context.Context, inv models.CallInvitation) error {
	if inv.Target == "" {
		return ErrMissingTarget
	}
	frame, err := models.Encode(models.SignalMessage{
		Type:   models.SignalTypeCallInvite,
		Signal: inv.Signal,
		From:   inv.From,
		Name:   inv.Name,
	})
	if err != nil {
		return fmt.Errorf("marshal invite: %w", err)
	}
	if err := r.Deliver(ctx, models.SignalTypeCallInvite, inv.From, inv.Target, frame); err != nil {
		return err
	}
	r.sessions.Ring(inv.From, inv.Target)
	return nil
}

// RelayCallAcceptance returns the callee's payload to the caller.
func (r *Relay) RelayCallAcceptance(ctx context.Context, sender models.ClientID, acc models.CallAcceptance) error {
	if acc.Target == "" {
		return ErrMissingTarget
	}
	frame, err := models.Encode(models.SignalMessage{
		Type:   models.SignalTypeCallAccept,
		Signal: acc.Signal,
	})
	if err != nil {
		return fmt.Errorf("marshal accept: %w", err)
	}
	if err := r.Deliver(ctx, models.SignalTypeCallAccept, sender, acc.Target, frame); err != nil {
		return err
	}
	r.sessions.Accept(sender, acc.Target)
	return nil
}

// RelayCallEnd tells target that sender hung up.
func (r *Relay) RelayCallEnd(ctx context.Context, sender, target models.ClientID) error {
	if target == "" {
		return ErrMissingTarget
	}
	r.sessions.Hangup(sender, target)
	return r.Deliver(ctx, models.SignalTypeCallEnd, sender, target, CallEndedFrame(sender))
}

// Deliver sends frame to target, locally when possible and through the remote
// otherwise. A missing target is reported per the configured policy.
func (r *Relay) Deliver(ctx context.Context, event models.SignalType, sender, target models.ClientID, frame []byte) error {
	err := r.deliver(ctx, event, sender, target, frame)
	switch {
	case err == nil:
		r.relayed.Add(1)
		return nil
	case errors.Is(err, ErrTargetNotFound):
		r.dropped.Add(1)
		r.targetMissing(sender, target)
	default:
		r.dropped.Add(1)
	}
	return err
}

func (r *Relay) deliver(ctx context.Context, event models.SignalType, sender, target models.ClientID, frame []byte) error {
	if ch, ok := r.reg.Lookup(target); ok {
		if err := ch.TrySend(frame); err != nil {
			return fmt.Errorf("send to %s: %w", target, err)
		}
		return nil
	}
	if r.remote == nil {
		return ErrTargetNotFound
	}

	found, err := r.remote.Forward(ctx, models.Envelope{
		Kind:   models.EnvelopeDeliver,
		Event:  event,
		Origin: r.remote.NodeID(),
		From:   sender,
		Target: target,
		Frame:  frame,
	})
	if err != nil {
		return fmt.Errorf("forward to %s: %w", target, err)
	}
	if !found {
		return ErrTargetNotFound
	}
	return nil
}

func (r *Relay) targetMissing(sender, target models.ClientID) {
	log.Debug().Str("module", "relay").Str("client", string(sender)).Str("target", string(target)).Msg("target not found")
	if r.policy != TargetMissingNotifySender || sender == "" {
		return
	}
	ch, ok := r.reg.Lookup(sender)
	if !ok {
		return
	}
	frame, err := models.Encode(models.SignalMessage{Type: models.SignalTypeCallUnavailable, To: target})
	if err != nil {
		return
	}
	if err := ch.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "relay").Str("client", string(sender)).Msg("failed to notify sender")
	}
}

// Broadcast sends frame to every connected client except exclude, on this
// node and, when configured, on every other node.
func (r *Relay) Broadcast(ctx context.Context, exclude models.ClientID, frame []byte) {
	r.broadcastLocal(exclude, frame)
	if r.remote == nil {
		return
	}
	err := r.remote.Broadcast(ctx, models.Envelope{
		Kind:    models.EnvelopeBroadcast,
		Event:   models.SignalTypeCallEnded,
		Origin:  r.remote.NodeID(),
		Exclude: exclude,
		Frame:   frame,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("remote broadcast failed")
	}
}

func (r *Relay) broadcastLocal(exclude models.ClientID, frame []byte) {
	for _, e := range r.reg.Others(exclude) {
		if err := e.Channel.TrySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "relay").Str("target", string(e.ID)).Msg("broadcast send failed")
		}
	}
}

// HandleEnvelope delivers a frame that another node routed here.
func (r *Relay) HandleEnvelope(env models.Envelope) {
	if r.remote != nil && env.Origin == r.remote.NodeID() {
		return
	}
	switch env.Kind {
	case models.EnvelopeBroadcast:
		if env.Event == models.SignalTypeCallEnded && env.Exclude != "" {
			r.sessions.EndAll(env.Exclude)
		}
		r.broadcastLocal(env.Exclude, env.Frame)
	case models.EnvelopeDeliver:
		ch, ok := r.reg.Lookup(env.Target)
		if !ok {
			log.Debug().Str("module", "relay").Str("target", string(env.Target)).Msg("remote target gone")
			return
		}
		if err := ch.TrySend(env.Frame); err != nil {
			log.Warn().Err(err).Str("module", "relay").Str("target", string(env.Target)).Msg("remote delivery failed")
			return
		}
		switch env.Event {
		case models.SignalTypeCallInvite:
			r.sessions.Ring(env.From, env.Target)
		case models.SignalTypeCallAccept:
			r.sessions.Accept(env.From, env.Target)
		case models.SignalTypeCallEnd:
			r.sessions.Hangup(env.From, env.Target)
		}
	default:
		log.Warn().Str("module", "relay").Str("kind", string(env.Kind)).Msg("unknown envelope")
	}
}

func (r *Relay) Stats() Stats {
	return Stats{Relayed: r.relayed.Load(), Dropped: r.dropped.Load()}
}

// CallEndedFrame builds the lifecycle frame. An empty from yields the bare
// broadcast form.
func CallEndedFrame(from models.ClientID) []byte {
	b, _ := models.Encode(models.SignalMessage{Type: models.SignalTypeCallEnded, From: from})
	return b
}
