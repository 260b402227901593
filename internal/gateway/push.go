package gateway

import (
	"context"

	"github.com/flare152/flare-im/internal/router"
)

func routeContextFor(sessionID, userID, businessTag string) router.RouteContext {
	return router.RouteContext{
		SVID:      "svid." + businessTag,
		SessionID: sessionID,
		UserID:    userID,
	}
}

// PushOutcome is one user's result from a push call.
type PushOutcome string

const (
	PushSuccess PushOutcome = "success"
	PushFailed  PushOutcome = "failed"
	PushUserOffline PushOutcome = "user_offline"
)

// PushResult aggregates per-user outcomes plus counts (§4.7 "Pushing into
// the gateway").
type PushResult struct {
	PerUser map[string]PushOutcome
	Success int
	Failed  int
	Offline int
}

func newPushResult() *PushResult {
	return &PushResult{PerUser: map[string]PushOutcome{}}
}

func (r *PushResult) record(userID string, outcome PushOutcome) {
	r.PerUser[userID] = outcome
	switch outcome {
	case PushSuccess:
		r.Success++
	case PushFailed:
		r.Failed++
	case PushUserOffline:
		r.Offline++
	}
}

// PushMessage writes frame to every local connection held for each target
// user; callers must re-query online status for any user reported offline.
func (g *Gateway) PushMessage(ctx context.Context, targetUserIDs []string, frame []byte) *PushResult {
	result := newPushResult()
	for _, userID := range targetUserIDs {
		g.pushToUser(userID, frame, result)
	}
	return result
}

// PushAck wraps an ack payload in a server-packet frame and dispatches it
// via the same per-user path as PushMessage.
func (g *Gateway) PushAck(ctx context.Context, targetUserIDs []string, payload []byte) *PushResult {
	return g.PushMessage(ctx, targetUserIDs, serverPacket("ack", payload))
}

// PushCustom wraps an arbitrary payload in a server-packet frame.
func (g *Gateway) PushCustom(ctx context.Context, targetUserIDs []string, kind string, payload []byte) *PushResult {
	return g.PushMessage(ctx, targetUserIDs, serverPacket(kind, payload))
}

func (g *Gateway) pushToUser(userID string, frame []byte, result *PushResult) {
	g.mu.RLock()
	entries := g.connsByUser[userID]
	g.mu.RUnlock()

	if len(entries) == 0 {
		result.record(userID, PushUserOffline)
		return
	}
	var lastErr error
	for _, e := range entries {
		if err := e.conn.WriteFrame(frame); err != nil {
			lastErr = err
			g.metrics.PushWriteErrors.Inc()
		}
	}
	if lastErr != nil {
		result.record(userID, PushFailed)
		return
	}
	result.record(userID, PushSuccess)
}

func serverPacket(kind string, payload []byte) []byte {
	out := make([]byte, 0, len(payload)+len(kind)+2)
	out = append(out, []byte(kind)...)
	out = append(out, ':')
	out = append(out, payload...)
	return out
}

// Subscribe mutates the per-user subscription set and returns the
// actually-granted topics (ACL narrowing happens in grantedTopics).
func (g *Gateway) Subscribe(userID string, topics []string) []string {
	granted := grantedTopics(userID, topics)

	g.mu.Lock()
	set, ok := g.subscriptions[userID]
	if !ok {
		set = map[string]struct{}{}
		g.subscriptions[userID] = set
	}
	for _, t := range granted {
		set[t] = struct{}{}
	}
	g.metrics.SubscriptionsActive.Set(float64(g.subscriptionCountLocked()))
	g.mu.Unlock()

	return granted
}

// Unsubscribe removes topics from a user's subscription set.
func (g *Gateway) Unsubscribe(userID string, topics []string) {
	g.mu.Lock()
	if set, ok := g.subscriptions[userID]; ok {
		for _, t := range topics {
			delete(set, t)
		}
		if len(set) == 0 {
			delete(g.subscriptions, userID)
		}
	}
	g.metrics.SubscriptionsActive.Set(float64(g.subscriptionCountLocked()))
	g.mu.Unlock()
}

func (g *Gateway) subscriptionCountLocked() int {
	n := 0
	for _, set := range g.subscriptions {
		n += len(set)
	}
	return n
}

// grantedTopics narrows the requested topic set per ACL; no ACL authority
// is wired yet, so every requested topic is granted.
func grantedTopics(userID string, requested []string) []string {
	out := make([]string, len(requested))
	copy(out, requested)
	return out
}

// SignalEnvelope is one signalling-service message to fan out to local
// subscribers.
type SignalEnvelope struct {
	Topic   string
	Targets []string
	Payload []byte
}

// PublishSignal delivers envelope to its subscribers, intersected with
// Targets when present (§4.7).
func (g *Gateway) PublishSignal(ctx context.Context, env SignalEnvelope) *PushResult {
	subscribers := g.subscribersOf(env.Topic)
	targets := subscribers
	if len(env.Targets) > 0 {
		targets = intersect(subscribers, env.Targets)
	}
	return g.PushMessage(ctx, targets, env.Payload)
}

func (g *Gateway) subscribersOf(topic string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []string
	for userID, set := range g.subscriptions {
		if _, ok := set[topic]; ok {
			out = append(out, userID)
		}
	}
	return out
}

func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, v := range b {
		set[v] = struct{}{}
	}
	var out []string
	for _, v := range a {
		if _, ok := set[v]; ok {
			out = append(out, v)
		}
	}
	return out
}
