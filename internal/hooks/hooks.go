// Package hooks implements the Hook Dispatcher (C3): pluggable policy/side
// effect units executed at defined points in the message lifecycle, grouped
// by priority into validation/critical/business buckets and executed per
// the ordering rules in §4.3. The chain is realized as an ordered,
// priority-partitioned list (§9 "Graphs / hooks"), not dynamic dispatch
// over a class hierarchy.
package hooks

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Kind identifies which lifecycle point a hook participates in.
type Kind string

const (
	KindPreSend  Kind = "pre_send"
	KindPostSend Kind = "post_send"
	KindDelivery Kind = "delivery"
	KindRecall   Kind = "recall"
)

// ErrorPolicy controls how a hook failure (including timeout) is handled.
type ErrorPolicy string

const (
	ErrorPolicyFailFast ErrorPolicy = "fail_fast"
	ErrorPolicyRetry    ErrorPolicy = "retry"
	ErrorPolicyIgnore   ErrorPolicy = "ignore"
)

// Decision is the verdict a PreSend/Recall hook returns.
type Decision int

const (
	DecisionAllow Decision = iota
	DecisionReject
	DecisionWarn
)

// MessageDraft is the mutable in-flight message state a PreSend/Recall hook
// may rewrite; mutations survive into the final envelope (§4.3).
type MessageDraft struct {
	MessageID      string
	ConversationID string
	Headers        map[string]string
	Metadata       map[string]string
	Payload        []byte
	Extra          map[string]interface{}
}

// Context carries request/tenant/session metadata visible to every hook.
type Context struct {
	TenantID       string
	SessionID      string
	SenderID       string
	MessageType    string
	ConversationType string
	Tags           map[string]string
	Attributes     map[string]string
	RequestMetadata map[string]string
	TraceID        string
}

// Result is what a single hook invocation returns for one kind-method.
type Result struct {
	Decision Decision
	Reason   string
	Err      error
}

// Hook is the capability interface every plugin implements; unused
// kind-methods are no-ops (§9). Local in-process, HTTP, and gRPC-backed
// hooks all satisfy this same interface — the transport is an
// implementation detail the dispatcher never branches on.
type Hook interface {
	Name() string
	Priority() int
	Timeout() time.Duration
	ErrorPolicy() ErrorPolicy
	MaxRetries() int
	RequireSuccess() bool

	PreSend(ctx context.Context, hctx *Context, draft *MessageDraft) Result
	PostSend(ctx context.Context, hctx *Context, draft *MessageDraft) Result
	Delivery(ctx context.Context, hctx *Context, draft *MessageDraft) Result
	Recall(ctx context.Context, hctx *Context, draft *MessageDraft) Result
}

// NoopHook can be embedded by hooks that only implement a subset of kinds.
type NoopHook struct{}

func (NoopHook) PreSend(context.Context, *Context, *MessageDraft) Result  { return Result{Decision: DecisionAllow} }
func (NoopHook) PostSend(context.Context, *Context, *MessageDraft) Result { return Result{Decision: DecisionAllow} }
func (NoopHook) Delivery(context.Context, *Context, *MessageDraft) Result { return Result{Decision: DecisionAllow} }
func (NoopHook) Recall(context.Context, *Context, *MessageDraft) Result   { return Result{Decision: DecisionAllow} }

// Priority group boundaries (§4.3).
const (
	PriorityValidationMin = 200
	PriorityCriticalMin   = 100
)

func group(h Hook) int {
	switch {
	case h.Priority() >= PriorityValidationMin:
		return 0 // validation
	case h.Priority() >= PriorityCriticalMin:
		return 1 // critical
	default:
		return 2 // business
	}
}

// Dispatcher holds the registered hooks, sorted by priority once at
// registration time and partitioned into buckets on each run.
type Dispatcher struct {
	mu    sync.RWMutex
	hooks []Hook
}

// NewDispatcher constructs an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Register adds a hook to the chain.
func (d *Dispatcher) Register(h Hook) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hooks = append(d.hooks, h)
	sort.SliceStable(d.hooks, func(i, j int) bool { return d.hooks[i].Priority() > d.hooks[j].Priority() })
}

// buckets returns (validation, critical, business) hooks, each
// priority-descending, stable within a bucket by registration order.
func (d *Dispatcher) buckets() (validation, critical, business []Hook) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, h := range d.hooks {
		switch group(h) {
		case 0:
			validation = append(validation, h)
		case 1:
			critical = append(critical, h)
		default:
			business = append(business, h)
		}
	}
	return
}

func (d *Dispatcher) invoke(ctx context.Context, h Hook, hctx *Context, draft *MessageDraft, call func(context.Context, Hook) Result) Result {
	callCtx, cancel := context.WithTimeout(ctx, h.Timeout())
	defer cancel()

	attempt := 0
	maxAttempts := 1
	if h.ErrorPolicy() == ErrorPolicyRetry {
		maxAttempts = h.MaxRetries() + 1
	}

	var last Result
	for attempt < maxAttempts {
		attempt++
		resultCh := make(chan Result, 1)
		go func() { resultCh <- call(callCtx, h) }()

		select {
		case <-callCtx.Done():
			last = Result{Decision: DecisionReject, Err: callCtx.Err(), Reason: "hook timeout"}
		case res := <-resultCh:
			if res.Err == nil {
				return res
			}
			last = res
		}

		if h.ErrorPolicy() != ErrorPolicyRetry {
			break
		}
	}

	switch h.ErrorPolicy() {
	case ErrorPolicyIgnore:
		return Result{Decision: DecisionAllow}
	default:
		return last
	}
}

// runSequentialFailFast runs hooks in order; the first Reject or
// require_success error stops the chain and is returned.
func (d *Dispatcher) runSequentialFailFast(ctx context.Context, hs []Hook, hctx *Context, draft *MessageDraft, call func(context.Context, Hook) Result) Result {
	for _, h := range hs {
		res := d.invoke(ctx, h, hctx, draft, call)
		if res.Decision == DecisionReject {
			return res
		}
		if res.Err != nil && h.RequireSuccess() {
			return res
		}
	}
	return Result{Decision: DecisionAllow}
}

// runSequentialWarnOnReject runs hooks in order; a Reject is downgraded to
// a warning (used for the PreSend/Recall business group).
func (d *Dispatcher) runSequentialWarnOnReject(ctx context.Context, hs []Hook, hctx *Context, draft *MessageDraft, call func(context.Context, Hook) Result) {
	for _, h := range hs {
		res := d.invoke(ctx, h, hctx, draft, call)
		if res.Decision == DecisionReject {
			_ = res // downgraded: neither logged nor returned, chain continues
		}
	}
}

// runConcurrentLogOnly runs hooks concurrently; failures never abort the
// chain, except that the first require_success failure is surfaced as the
// chain's error. Every per-hook result is returned in the slice; the only
// caller discards it, so other failures are not logged.
func (d *Dispatcher) runConcurrentLogOnly(ctx context.Context, hs []Hook, hctx *Context, draft *MessageDraft, call func(context.Context, Hook) Result) (Result, []Result) {
	if len(hs) == 0 {
		return Result{Decision: DecisionAllow}, nil
	}
	results := make([]Result, len(hs))
	var wg sync.WaitGroup
	for i, h := range hs {
		wg.Add(1)
		go func(i int, h Hook) {
			defer wg.Done()
			results[i] = d.invoke(ctx, h, hctx, draft, call)
		}(i, h)
	}
	wg.Wait()

	for i, h := range hs {
		if results[i].Err != nil && h.RequireSuccess() {
			return results[i], results
		}
	}
	return Result{Decision: DecisionAllow}, results
}

// RunPreSend executes validation, then critical, sequentially and
// fail-fast; then business sequentially with Reject downgraded to warning
// (§4.3).
func (d *Dispatcher) RunPreSend(ctx context.Context, hctx *Context, draft *MessageDraft) Result {
	validation, critical, business := d.buckets()
	call := func(ctx context.Context, h Hook) Result { return h.PreSend(ctx, hctx, draft) }

	if res := d.runSequentialFailFast(ctx, validation, hctx, draft, call); res.Decision == DecisionReject || res.Err != nil {
		return res
	}
	if res := d.runSequentialFailFast(ctx, critical, hctx, draft, call); res.Decision == DecisionReject || res.Err != nil {
		return res
	}
	d.runSequentialWarnOnReject(ctx, business, hctx, draft, call)
	return Result{Decision: DecisionAllow}
}

// RunRecall has the same ordering rules as PreSend, returning an
// allow/deny decision (§4.3).
func (d *Dispatcher) RunRecall(ctx context.Context, hctx *Context, draft *MessageDraft) Result {
	validation, critical, business := d.buckets()
	call := func(ctx context.Context, h Hook) Result { return h.Recall(ctx, hctx, draft) }

	if res := d.runSequentialFailFast(ctx, validation, hctx, draft, call); res.Decision == DecisionReject || res.Err != nil {
		return res
	}
	if res := d.runSequentialFailFast(ctx, critical, hctx, draft, call); res.Decision == DecisionReject || res.Err != nil {
		return res
	}
	d.runSequentialWarnOnReject(ctx, business, hctx, draft, call)
	return Result{Decision: DecisionAllow}
}

// RunPostSend runs validation+critical sequentially (require_success
// failures propagate), then business concurrently (failures log only).
func (d *Dispatcher) RunPostSend(ctx context.Context, hctx *Context, draft *MessageDraft) Result {
	return d.runValidationCriticalThenConcurrentBusiness(ctx, hctx, draft, func(ctx context.Context, h Hook) Result {
		return h.PostSend(ctx, hctx, draft)
	})
}

// RunDelivery has the same ordering rules as PostSend (§4.3).
func (d *Dispatcher) RunDelivery(ctx context.Context, hctx *Context, draft *MessageDraft) Result {
	return d.runValidationCriticalThenConcurrentBusiness(ctx, hctx, draft, func(ctx context.Context, h Hook) Result {
		return h.Delivery(ctx, hctx, draft)
	})
}

func (d *Dispatcher) runValidationCriticalThenConcurrentBusiness(ctx context.Context, hctx *Context, draft *MessageDraft, call func(context.Context, Hook) Result) Result {
	validation, critical, business := d.buckets()
	if res := d.runSequentialFailFast(ctx, validation, hctx, draft, call); res.Err != nil {
		return res
	}
	if res := d.runSequentialFailFast(ctx, critical, hctx, draft, call); res.Err != nil {
		return res
	}
	res, _ := d.runConcurrentLogOnly(ctx, business, hctx, draft, call)
	return res
}
