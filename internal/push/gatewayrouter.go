package push

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/flare152/flare-im/internal/metrics"
	"github.com/flare152/flare-im/internal/rpcjson"
)

// pooledChannel is one bounded-pool entry: a gRPC connection plus its last
// use time for idle eviction.
type pooledChannel struct {
	gatewayID string
	conn      *grpc.ClientConn
	lastUsed  time.Time
	elem      *list.Element
}

// AddressBook maps a gateway_id to its dialable address.
type AddressBook interface {
	Address(gatewayID string) (string, error)
}

// ChannelPoolConfig configures the bounded gRPC channel pool.
type ChannelPoolConfig struct {
	Addresses    AddressBook
	MaxChannels  int
	IdleTimeout  time.Duration
	DeploymentMode string // "local" | "distributed"
	LocalGatewayID string
	LocalDispatch func(ctx context.Context, userIDs []string, payload []byte) (map[string]PushOutcome, error)
	Metrics      *metrics.Registry
	Logger       zerolog.Logger
}

// ChannelPool is a bounded, idle-evicting pool of gRPC channels to access
// gateway instances, one per gateway_id, grounded on the bounded-resource
// shape of ws/internal/multi/kafka_pool.go adapted from a Kafka consumer
// pool to a per-destination connection cache (§4.8 step 4).
type ChannelPool struct {
	cfg ChannelPoolConfig

	mu      sync.Mutex
	entries map[string]*pooledChannel
	lru     *list.List
}

// NewChannelPool constructs a ChannelPool.
func NewChannelPool(cfg ChannelPoolConfig) *ChannelPool {
	return &ChannelPool{
		cfg:     cfg,
		entries: map[string]*pooledChannel{},
		lru:     list.New(),
	}
}

// RoutePushMessage implements GatewayRouter, dispatching locally when
// gatewayID matches the configured local instance, else over a pooled gRPC
// channel (§4.8 step 4).
func (c *ChannelPool) RoutePushMessage(ctx context.Context, gatewayID string, userIDs []string, payload []byte) (map[string]PushOutcome, error) {
	if c.cfg.DeploymentMode == "local" && gatewayID == c.cfg.LocalGatewayID && c.cfg.LocalDispatch != nil {
		return c.cfg.LocalDispatch(ctx, userIDs, payload)
	}

	conn, err := c.acquire(gatewayID)
	if err != nil {
		return nil, err
	}

	var resp pushResponse
	req := pushRequest{UserIDs: userIDs, Payload: payload}
	if err := rpcjson.Invoke(ctx, conn, "/flare.im.v1.AccessGatewayService/PushMessage", &req, &resp); err != nil {
		return nil, fmt.Errorf("push: gateway router: %w", err)
	}
	return resp.Outcomes, nil
}

type pushRequest struct {
	UserIDs []string `json:"user_ids"`
	Payload []byte   `json:"payload"`
}

type pushResponse struct {
	Outcomes map[string]PushOutcome `json:"outcomes"`
}

func (c *ChannelPool) acquire(gatewayID string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	if e, ok := c.entries[gatewayID]; ok {
		e.lastUsed = time.Now()
		c.lru.MoveToFront(e.elem)
		c.mu.Unlock()
		return e.conn, nil
	}
	c.mu.Unlock()

	addr, err := c.cfg.Addresses.Address(gatewayID)
	if err != nil {
		return nil, fmt.Errorf("push: no address for gateway %s: %w", gatewayID, err)
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("push: dial gateway %s: %w", gatewayID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[gatewayID]; ok {
		// Lost the race; keep the winner, discard this connection.
		conn.Close()
		e.lastUsed = time.Now()
		c.lru.MoveToFront(e.elem)
		return e.conn, nil
	}

	if c.cfg.MaxChannels > 0 && len(c.entries) >= c.cfg.MaxChannels {
		c.evictOldestLocked()
	}

	entry := &pooledChannel{gatewayID: gatewayID, conn: conn, lastUsed: time.Now()}
	entry.elem = c.lru.PushFront(entry)
	c.entries[gatewayID] = entry
	c.cfg.Metrics.GatewayPoolSize.Set(float64(len(c.entries)))
	return conn, nil
}

func (c *ChannelPool) evictOldestLocked() {
	oldest := c.lru.Back()
	if oldest == nil {
		return
	}
	entry := oldest.Value.(*pooledChannel)
	c.removeLocked(entry)
}

func (c *ChannelPool) removeLocked(entry *pooledChannel) {
	c.lru.Remove(entry.elem)
	delete(c.entries, entry.gatewayID)
	entry.conn.Close()
	c.cfg.Metrics.GatewayPoolSize.Set(float64(len(c.entries)))
}

// SweepIdle closes channels unused for longer than IdleTimeout; call
// periodically from a background ticker.
func (c *ChannelPool) SweepIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := time.Now().Add(-c.cfg.IdleTimeout)
	for elem := c.lru.Back(); elem != nil; {
		prev := elem.Prev()
		entry := elem.Value.(*pooledChannel)
		if entry.lastUsed.After(cutoff) {
			break
		}
		c.removeLocked(entry)
		elem = prev
	}
}
