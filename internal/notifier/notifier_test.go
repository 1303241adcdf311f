package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/mossy-p/call-signaling/internal/models"
	"github.com/mossy-p/call-signaling/internal/registry"
	"github.com/mossy-p/call-signaling/internal/relay"
	"github.com/mossy-p/call-signaling/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	frames []models.SignalMessage
	err    error
}

func (r *recorder) TrySend(frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	var msg models.SignalMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		return err
	}
	r.frames = append(r.frames, msg)
	return nil
}

func (r *recorder) messages() []models.SignalMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.SignalMessage(nil), r.frames...)
}

func (r *recorder) count(t models.SignalType) int {
	n := 0
	for _, m := range r.messages() {
		if m.Type == t {
			n++
		}
	}
	return n
}

type fakePresence struct {
	mu       sync.Mutex
	claimed  []models.ClientID
	released []models.ClientID
}

func (p *fakePresence) Claim(_ context.Context, id models.ClientID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.claimed = append(p.claimed, id)
	return nil
}

func (p *fakePresence) Release(_ context.Context, id models.ClientID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = append(p.released, id)
	return nil
}

type fixture struct {
	reg      *registry.Registry
	sessions *session.Tracker
	relay    *relay.Relay
	notifier *Notifier
}

func newFixture(scope relay.CallEndedScope, presence Presence) *fixture {
	reg := registry.New()
	sessions := session.NewTracker()
	r := relay.New(reg, sessions, relay.TargetMissingSilent, nil)
	return &fixture{
		reg:      reg,
		sessions: sessions,
		relay:    r,
		notifier: New(reg, sessions, r, scope, presence),
	}
}

func (f *fixture) connect(t *testing.T) (models.ClientID, *recorder) {
	t.Helper()
	rec := &recorder{}
	id, err := f.notifier.Connect(context.Background(), rec)
	require.NoError(t, err)
	return id, rec
}

func TestConnectSendsIdentityFirst(t *testing.T) {
	presence := &fakePresence{}
	f := newFixture(relay.ScopeBroadcast, presence)

	id, rec := f.connect(t)

	got := rec.messages()
	require.Len(t, got, 1)
	assert.Equal(t, models.SignalTypeIdentity, got[0].Type)
	assert.Equal(t, id, got[0].Identity)
	assert.Equal(t, []models.ClientID{id}, presence.claimed)
}

func TestConnectFailsWhenIdentityCannotBeQueued(t *testing.T) {
	f := newFixture(relay.ScopeBroadcast, nil)
	rec := &recorder{err: errors.New("closed")}

	_, err := f.notifier.Connect(context.Background(), rec)
	assert.Error(t, err)
	assert.Equal(t, 0, f.reg.Len())
}

func TestDisconnectBroadcastsToEveryoneElse(t *testing.T) {
	presence := &fakePresence{}
	f := newFixture(relay.ScopeBroadcast, presence)
	a, aRec := f.connect(t)
	_, bRec := f.connect(t)
	_, cRec := f.connect(t)

	f.notifier.Disconnect(context.Background(), a)

	assert.Equal(t, 1, bRec.count(models.SignalTypeCallEnded))
	assert.Equal(t, 1, cRec.count(models.SignalTypeCallEnded))
	assert.Equal(t, 0, aRec.count(models.SignalTypeCallEnded))
	assert.Equal(t, []models.ClientID{a}, presence.released)

	_, ok := f.reg.Lookup(a)
	assert.False(t, ok)
	err := f.relay.RelayCallInvitation(context.Background(), models.CallInvitation{Target: a, From: "x"})
	assert.ErrorIs(t, err, relay.ErrTargetNotFound)
}

func TestDisconnectTwiceBroadcastsOnce(t *testing.T) {
	f := newFixture(relay.ScopeBroadcast, nil)
	a, _ := f.connect(t)
	_, bRec := f.connect(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.notifier.Disconnect(context.Background(), a)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, bRec.count(models.SignalTypeCallEnded))
}

func TestDisconnectSessionScope(t *testing.T) {
	f := newFixture(relay.ScopeSession, nil)
	a, _ := f.connect(t)
	b, bRec := f.connect(t)
	_, cRec := f.connect(t)

	ctx := context.Background()
	require.NoError(t, f.relay.RelayCallInvitation(ctx, models.CallInvitation{Target: b, From: a}))
	require.NoError(t, f.relay.RelayCallAcceptance(ctx, b, models.CallAcceptance{Target: a}))

	f.notifier.Disconnect(ctx, a)

	ended := 0
	for _, m := range bRec.messages() {
		if m.Type == models.SignalTypeCallEnded {
			ended++
			assert.Equal(t, a, m.From)
		}
	}
	assert.Equal(t, 1, ended)
	assert.Equal(t, 0, cRec.count(models.SignalTypeCallEnded))
	assert.Equal(t, 0, f.sessions.Count())
}
