// Package router implements the Router/Dispatcher (C6): resolves a route
// context (SVID, optional session/user/tenant, client geo, login gateway)
// to a concrete orchestrator endpoint, per §4.6. Shard selection is
// grounded on ws/internal/multi/loadbalancer.go's FNV hashing; the router
// returns the chosen endpoint and does no WebSocket forwarding itself. AZ
// parsing and load-balancing policy are new to this spec.
package router

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/flare152/flare-im/internal/apierr"
	"github.com/flare152/flare-im/internal/metrics"
)

// Policy is the load-balancing policy applied to surviving candidates.
type Policy string

const (
	PolicyRoundRobin       Policy = "round_robin"
	PolicyLeastConnections Policy = "least_connections"
	PolicyLatencyAware     Policy = "latency_aware"
)

// Candidate is one routable endpoint for an SVID.
type Candidate struct {
	Endpoint string
	ShardID  uint32
	AZ       string
}

// RouteContext is the input to Resolve.
type RouteContext struct {
	SVID        string
	SessionID   string
	UserID      string
	TenantID    string
	ClientGeo   string // AZ derived from client geo, pre-resolved by the caller
	LoginGateway string // format gw-{az}-{n}
	TraceID     string
}

// FlowController gates a route resolution on session QPS, group-fanout
// quota, and system backpressure before any routing work happens.
type FlowController interface {
	Check(ctx context.Context, rc RouteContext) error
}

// ConnMetrics supplies out-of-band per-candidate connection/latency data for
// LeastConnections/LatencyAware; when unavailable those policies degrade to
// "first candidate, trace log" (§4.6 step 7).
type ConnMetrics interface {
	Connections(endpoint string) (count int, ok bool)
	LatencyMillis(endpoint string) (ms float64, ok bool)
}

// CandidateSource loads route-table/service-discovery candidates for an
// SVID. Business systems other than svid.im additionally consult a
// persistent route repository; the IM orchestrator resolves directly via
// service discovery (§4.6 final paragraph) — callers choose the
// implementation per SVID.
type CandidateSource interface {
	Candidates(ctx context.Context, svid string) ([]Candidate, error)
}

// Config assembles a Router's collaborators.
type Config struct {
	FlowControl   FlowController
	Candidates    CandidateSource
	ConnMetrics   ConnMetrics
	ShardCount    uint32
	DefaultAZ     string
	DefaultPolicy Policy
	Metrics       *metrics.Registry
	Logger        zerolog.Logger
}

// Router implements §4.6's resolve_endpoint operation.
type Router struct {
	flowControl   FlowController
	candidates    CandidateSource
	connMetrics   ConnMetrics
	shardCount    uint32
	defaultAZ     string
	defaultPolicy Policy
	metrics       *metrics.Registry
	logger        zerolog.Logger

	mu  sync.Mutex
	rr  map[string]int // per-SVID round-robin cursor
}

// New constructs a Router.
func New(cfg Config) *Router {
	policy := cfg.DefaultPolicy
	if policy == "" {
		policy = PolicyRoundRobin
	}
	return &Router{
		flowControl:   cfg.FlowControl,
		candidates:    cfg.Candidates,
		connMetrics:   cfg.ConnMetrics,
		shardCount:    cfg.ShardCount,
		defaultAZ:     cfg.DefaultAZ,
		defaultPolicy: policy,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		rr:            map[string]int{},
	}
}

// Resolve implements §4.6 steps 1-8.
func (r *Router) Resolve(ctx context.Context, rc RouteContext, tenantPreferredAZ string) (Candidate, error) {
	if rc.TraceID == "" {
		rc.TraceID = uuid.NewString()
	}
	start := time.Now()
	defer func() {
		r.metrics.RouteResolveDuration.WithLabelValues(rc.SVID).Observe(time.Since(start).Seconds())
	}()

	if err := r.flowControl.Check(ctx, rc); err != nil {
		r.metrics.FlowControlRejected.Inc()
		return Candidate{}, apierr.New(apierr.KindResourceExhausted, rc.TraceID,
			fmt.Errorf("resource exhausted: %w", err))
	}

	shard := r.selectShard(rc)
	az := r.selectAZ(rc, tenantPreferredAZ)

	all, err := r.candidates.Candidates(ctx, rc.SVID)
	if err != nil {
		return Candidate{}, apierr.New(apierr.KindServiceUnavailable, rc.TraceID,
			fmt.Errorf("router: load candidates: %w", err))
	}
	if len(all) == 0 {
		return Candidate{}, apierr.New(apierr.KindServiceUnavailable, rc.TraceID,
			fmt.Errorf("router: no candidates for svid %s", rc.SVID))
	}

	bySh := filterByShard(all, shard)
	if len(bySh) == 0 {
		r.logger.Warn().Str("svid", rc.SVID).Uint32("shard", shard).Msg("router: no shard match, degrading to all candidates")
		r.metrics.RouteDegraded.WithLabelValues("shard").Inc()
		bySh = all
	}

	byAZ := filterByAZ(bySh, az)
	if len(byAZ) == 0 {
		r.logger.Warn().Str("svid", rc.SVID).Str("az", az).Msg("router: no az match, degrading to shard-only")
		r.metrics.RouteDegraded.WithLabelValues("az").Inc()
		byAZ = bySh
	}

	chosen := r.applyPolicy(rc.SVID, byAZ)
	r.metrics.ShardDistribution.WithLabelValues(strconv.FormatUint(uint64(chosen.ShardID), 10)).Inc()
	return chosen, nil
}

func (r *Router) selectShard(rc RouteContext) uint32 {
	key := rc.SessionID
	if key == "" {
		key = rc.UserID
	}
	if key == "" {
		key = "default"
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	if r.shardCount == 0 {
		return 0
	}
	return h.Sum32() % r.shardCount
}

// selectAZ implements §4.6 step 4's fallback chain.
func (r *Router) selectAZ(rc RouteContext, tenantPreferredAZ string) string {
	if rc.ClientGeo != "" {
		return rc.ClientGeo
	}
	if az, ok := azFromGatewayID(rc.LoginGateway); ok {
		return az
	}
	if tenantPreferredAZ != "" {
		return tenantPreferredAZ
	}
	return r.defaultAZ
}

// azFromGatewayID parses the gw-{az}-{n} login gateway id format.
func azFromGatewayID(gatewayID string) (string, bool) {
	parts := strings.Split(gatewayID, "-")
	if len(parts) < 3 || parts[0] != "gw" {
		return "", false
	}
	return parts[1], true
}

func filterByShard(cs []Candidate, shard uint32) []Candidate {
	var out []Candidate
	for _, c := range cs {
		if c.ShardID == shard {
			out = append(out, c)
		}
	}
	return out
}

func filterByAZ(cs []Candidate, az string) []Candidate {
	var out []Candidate
	for _, c := range cs {
		if c.AZ == az {
			out = append(out, c)
		}
	}
	return out
}

func (r *Router) applyPolicy(svid string, cs []Candidate) Candidate {
	switch r.defaultPolicy {
	case PolicyLeastConnections:
		if best, ok := r.leastConnections(cs); ok {
			return best
		}
		r.logger.Trace().Str("svid", svid).Msg("router: least_connections unavailable, degrading to first candidate")
		return cs[0]
	case PolicyLatencyAware:
		if best, ok := r.lowestLatency(cs); ok {
			return best
		}
		r.logger.Trace().Str("svid", svid).Msg("router: latency_aware unavailable, degrading to first candidate")
		return cs[0]
	default:
		return r.roundRobin(svid, cs)
	}
}

func (r *Router) roundRobin(svid string, cs []Candidate) Candidate {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.rr[svid] % len(cs)
	r.rr[svid] = idx + 1
	return cs[idx]
}

func (r *Router) leastConnections(cs []Candidate) (Candidate, bool) {
	if r.connMetrics == nil {
		return Candidate{}, false
	}
	var best Candidate
	bestCount := -1
	for _, c := range cs {
		count, ok := r.connMetrics.Connections(c.Endpoint)
		if !ok {
			continue
		}
		if bestCount == -1 || count < bestCount {
			best, bestCount = c, count
		}
	}
	return best, bestCount != -1
}

func (r *Router) lowestLatency(cs []Candidate) (Candidate, bool) {
	if r.connMetrics == nil {
		return Candidate{}, false
	}
	var best Candidate
	bestMs := -1.0
	for _, c := range cs {
		ms, ok := r.connMetrics.LatencyMillis(c.Endpoint)
		if !ok {
			continue
		}
		if bestMs < 0 || ms < bestMs {
			best, bestMs = c, ms
		}
	}
	return best, bestMs >= 0
}
