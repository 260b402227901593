package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"golang.org/x/time/rate"
)

// FlowControlConfig configures the three checks §4.6 step 2 performs:
// per-session QPS, per-conversation group-fanout quota, and system
// backpressure, grounded on ws/internal/shared/limits' token-bucket and
// cgroup-aware CPU-sampling shape.
type FlowControlConfig struct {
	SessionRate  float64
	SessionBurst int
	GroupRate    float64
	GroupBurst   int
	MaxCPUPercent float64
	SampleInterval time.Duration
}

// TokenBucketFlowController implements FlowController with per-session and
// per-group token buckets plus a sampled CPU backpressure gate.
type TokenBucketFlowController struct {
	cfg FlowControlConfig

	mu       sync.Mutex
	sessions map[string]*rate.Limiter
	groups   map[string]*rate.Limiter

	cpuMu      sync.RWMutex
	lastCPU    float64
	lastSample time.Time
}

// NewTokenBucketFlowController constructs a TokenBucketFlowController and
// starts its background CPU sampler.
func NewTokenBucketFlowController(ctx context.Context, cfg FlowControlConfig) *TokenBucketFlowController {
	if cfg.SampleInterval == 0 {
		cfg.SampleInterval = 5 * time.Second
	}
	c := &TokenBucketFlowController{
		cfg: cfg, sessions: map[string]*rate.Limiter{}, groups: map[string]*rate.Limiter{},
	}
	go c.sampleLoop(ctx)
	return c
}

func (c *TokenBucketFlowController) sampleLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			percents, err := cpu.PercentWithContext(ctx, 0, false)
			if err != nil || len(percents) == 0 {
				continue
			}
			c.cpuMu.Lock()
			c.lastCPU = percents[0]
			c.lastSample = time.Now()
			c.cpuMu.Unlock()
		}
	}
}

// Check implements FlowController (§4.6 step 2).
func (c *TokenBucketFlowController) Check(ctx context.Context, rc RouteContext) error {
	if c.cfg.MaxCPUPercent > 0 {
		c.cpuMu.RLock()
		cpuPct, sampled := c.lastCPU, !c.lastSample.IsZero()
		c.cpuMu.RUnlock()
		if sampled && cpuPct > c.cfg.MaxCPUPercent {
			return fmt.Errorf("router: system backpressure, cpu at %.1f%%", cpuPct)
		}
	}

	if rc.SessionID != "" && c.cfg.SessionRate > 0 {
		if !c.sessionLimiter(rc.SessionID).Allow() {
			return fmt.Errorf("router: session %s exceeded qps", rc.SessionID)
		}
	}
	if isGroupSVID(rc) && c.cfg.GroupRate > 0 {
		if !c.groupLimiter(rc.SVID).Allow() {
			return fmt.Errorf("router: group fanout quota exceeded for %s", rc.SVID)
		}
	}
	return nil
}

func isGroupSVID(rc RouteContext) bool {
	return rc.SessionID == "" && rc.UserID == ""
}

func (c *TokenBucketFlowController) sessionLimiter(sessionID string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.sessions[sessionID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(c.cfg.SessionRate), c.cfg.SessionBurst)
		c.sessions[sessionID] = l
	}
	return l
}

func (c *TokenBucketFlowController) groupLimiter(svid string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.groups[svid]
	if !ok {
		l = rate.NewLimiter(rate.Limit(c.cfg.GroupRate), c.cfg.GroupBurst)
		c.groups[svid] = l
	}
	return l
}
