package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mossy-p/call-signaling/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	broadcastChannel = "signal:broadcast"
	presencePrefix   = "signal:client:"
	nodePrefix       = "signal:node:"
)

// Bus links signaling nodes through Redis: presence keys record which node
// owns an identity, and pub/sub channels carry frames between nodes.
type Bus struct {
	client *redis.Client
	nodeID string
	ttl    time.Duration
}

func NewBus(client *redis.Client, nodeID string, ttl time.Duration) *Bus {
	return &Bus{
		client: client,
		nodeID: nodeID,
		ttl:    ttl,
	}
}

func (b *Bus) NodeID() string { return b.nodeID }

func presenceKey(id models.ClientID) string { return presencePrefix + string(id) }

func nodeChannel(nodeID string) string { return nodePrefix + nodeID }

// Claim records this node as the owner of id.
func (b *Bus) Claim(ctx context.Context, id models.ClientID) error {
	if err := b.client.Set(ctx, presenceKey(id), b.nodeID, b.ttl).Err(); err != nil {
		return fmt.Errorf("claim %s: %w", id, err)
	}
	return nil
}

// Release drops the presence key if this node still owns it.
func (b *Bus) Release(ctx context.Context, id models.ClientID) error {
	owner, err := b.client.Get(ctx, presenceKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("release %s: %w", id, err)
	}
	if owner != b.nodeID {
		return nil
	}
	if err := b.client.Del(ctx, presenceKey(id)).Err(); err != nil {
		return fmt.Errorf("release %s: %w", id, err)
	}
	return nil
}

// Forward publishes env to the node that owns env.Target and reports whether
// a live subscriber received it.
func (b *Bus) Forward(ctx context.Context, env models.Envelope) (bool, error) {
	owner, err := b.client.Get(ctx, presenceKey(env.Target)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup owner of %s: %w", env.Target, err)
	}
	// A key naming this node is stale: the local registry already missed.
	if owner == b.nodeID {
		return false, nil
	}
	receivers, err := b.publish(ctx, nodeChannel(owner), env)
	if err != nil {
		return false, err
	}
	if receivers == 0 {
		// The owner is gone without releasing its keys.
		if err := b.client.Del(ctx, presenceKey(env.Target)).Err(); err != nil {
			log.Warn().Err(err).Str("module", "redis").Str("target", string(env.Target)).Msg("failed to drop stale presence")
		}
		return false, nil
	}
	return true, nil
}

// Broadcast publishes env to every node.
func (b *Bus) Broadcast(ctx context.Context, env models.Envelope) error {
	_, err := b.publish(ctx, broadcastChannel, env)
	return err
}

// publish returns the number of subscribers that received env.
func (b *Bus) publish(ctx context.Context, channel string, env models.Envelope) (int64, error) {
	data, err := models.Encode(env)
	if err != nil {
		return 0, fmt.Errorf("marshal envelope: %w", err)
	}
	receivers, err := b.client.Publish(ctx, channel, data).Result()
	if err != nil {
		return 0, fmt.Errorf("publish to %s: %w", channel, err)
	}
	return receivers, nil
}

// Run subscribes to this node's channel and the broadcast channel and hands
// every envelope to handle, in arrival order, until ctx is done.
func (b *Bus) Run(ctx context.Context, handle func(models.Envelope)) error {
	sub := b.client.Subscribe(ctx, nodeChannel(b.nodeID), broadcastChannel)
	defer sub.Close()

	// Wait for the subscription to be confirmed before consuming.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	log.Info().Str("module", "redis").Str("node", b.nodeID).Msg("bus subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env models.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Warn().Err(err).Str("module", "redis").Str("channel", msg.Channel).Msg("bad envelope")
				continue
			}
			handle(env)
		}
	}
}
