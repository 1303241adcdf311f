package redis

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mossy-p/call-signaling/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

type inbox struct {
	mu   sync.Mutex
	envs []models.Envelope
}

func (i *inbox) handle(env models.Envelope) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.envs = append(i.envs, env)
}

func (i *inbox) snapshot() []models.Envelope {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]models.Envelope(nil), i.envs...)
}

func runBus(t *testing.T, client *redis.Client, bus *Bus) *inbox {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	in := &inbox{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = bus.Run(ctx, in.handle)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(context.Background(), nodeChannel(bus.NodeID())).Result()
		return err == nil && n[nodeChannel(bus.NodeID())] > 0
	}, 2*time.Second, 10*time.Millisecond)
	return in
}

func TestClaimAndRelease(t *testing.T) {
	mr, client := newTestClient(t)
	ctx := context.Background()
	a := NewBus(client, "node-a", time.Hour)
	b := NewBus(client, "node-b", time.Hour)

	require.NoError(t, a.Claim(ctx, "alice"))
	owner, err := mr.Get(presenceKey("alice"))
	require.NoError(t, err)
	assert.Equal(t, "node-a", owner)
	assert.Equal(t, time.Hour, mr.TTL(presenceKey("alice")))

	// Another node never removes a key it does not own.
	require.NoError(t, b.Release(ctx, "alice"))
	assert.True(t, mr.Exists(presenceKey("alice")))

	require.NoError(t, a.Release(ctx, "alice"))
	assert.False(t, mr.Exists(presenceKey("alice")))

	require.NoError(t, a.Release(ctx, "alice"))
}

func TestForwardReachesOwner(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()
	a := NewBus(client, "node-a", time.Hour)
	b := NewBus(client, "node-b", time.Hour)
	bInbox := runBus(t, client, b)

	require.NoError(t, b.Claim(ctx, "bob"))

	for _, p := range []string{`"M1"`, `"M2"`} {
		found, err := a.Forward(ctx, models.Envelope{
			Kind:   models.EnvelopeDeliver,
			Event:  models.SignalTypeCallInvite,
			Origin: a.NodeID(),
			From:   "alice",
			Target: "bob",
			Frame:  json.RawMessage(p),
		})
		require.NoError(t, err)
		assert.True(t, found)
	}

	require.Eventually(t, func() bool { return len(bInbox.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	got := bInbox.snapshot()
	assert.Equal(t, models.ClientID("bob"), got[0].Target)
	assert.JSONEq(t, `"M1"`, string(got[0].Frame))
	assert.JSONEq(t, `"M2"`, string(got[1].Frame))
}

func TestForwardWithoutOwner(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()
	a := NewBus(client, "node-a", time.Hour)

	found, err := a.Forward(ctx, models.Envelope{Target: "nobody"})
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, a.Claim(ctx, "stale"))
	found, err = a.Forward(ctx, models.Envelope{Target: "stale"})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestForwardDropsStalePresence(t *testing.T) {
	tests := []struct {
		name  string
		owner string
	}{
		{name: "owner never subscribed", owner: "dead-node"},
		{name: "owner crashed after claiming", owner: "node-b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mr, client := newTestClient(t)
			ctx := context.Background()
			a := NewBus(client, "node-a", time.Hour)
			require.NoError(t, mr.Set(presenceKey("ghost"), tt.owner))

			found, err := a.Forward(ctx, models.Envelope{
				Kind:   models.EnvelopeDeliver,
				Origin: a.NodeID(),
				From:   "alice",
				Target: "ghost",
				Frame:  json.RawMessage(`{"type":"call-invite"}`),
			})
			require.NoError(t, err)
			assert.False(t, found)
			assert.False(t, mr.Exists(presenceKey("ghost")))
		})
	}
}

func TestBroadcastReachesAllNodes(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()
	a := NewBus(client, "node-a", time.Hour)
	b := NewBus(client, "node-b", time.Hour)
	aInbox := runBus(t, client, a)
	bInbox := runBus(t, client, b)

	require.NoError(t, a.Broadcast(ctx, models.Envelope{
		Kind:    models.EnvelopeBroadcast,
		Origin:  a.NodeID(),
		Exclude: "alice",
		Frame:   json.RawMessage(`{"type":"call-ended"}`),
	}))

	for _, in := range []*inbox{aInbox, bInbox} {
		require.Eventually(t, func() bool { return len(in.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
		assert.Equal(t, models.ClientID("alice"), in.snapshot()[0].Exclude)
	}
}
