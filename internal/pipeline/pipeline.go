// Package pipeline turns a user message into an assistant reply: cache
// lookup, intent classification, context assembly and a single bounded call
// to the generator behind a circuit breaker, with pre-authored fallbacks.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/guiIerme/JobFinder-sub003/internal/adapter/llm"
	"github.com/guiIerme/JobFinder-sub003/internal/assembler"
	"github.com/guiIerme/JobFinder-sub003/internal/domain"
	"github.com/guiIerme/JobFinder-sub003/internal/logging"
	"golang.org/x/sync/singleflight"
)

// Reply is the outcome of one pipeline run.
type Reply struct {
	Text           string        `json:"text"`
	Intent         domain.Intent `json:"intent"`
	Links          []string      `json:"links,omitempty"`
	Cached         bool          `json:"cached"`
	Fallback       bool          `json:"fallback"`
	FallbackReason string        `json:"fallback_reason,omitempty"`
}

// Action maps the reply to its analytics action.
func (r Reply) Action() domain.ReplyAction {
	switch {
	case r.Fallback:
		return domain.ActionFallback
	case r.Cached:
		return domain.ActionCached
	default:
		return domain.ActionGenerated
	}
}

// Request is the input of Prepare.
type Request struct {
	Session *domain.Session
	Text    string
	History []domain.Message
}

// Plan is the result of Prepare. A cache hit carries the reply directly.
type Plan struct {
	Key    string
	Intent domain.Intent
	Prompt *assembler.Prompt
	Hit    *Reply
	user   string
}

// Metrics receives pipeline measurements.
type Metrics interface {
	CacheHit()
	CacheMiss()
	FallbackServed(intent domain.Intent, reason string)
	BreakerChanged(state string)
	GeneratorDuration(d time.Duration, ok bool)
}

type nopMetrics struct{}

func (nopMetrics) CacheHit() {}
func (nopMetrics) CacheMiss() {}
func (nopMetrics) FallbackServed(domain.Intent, string) {}
func (nopMetrics) BreakerChanged(string) {}
func (nopMetrics) GeneratorDuration(time.Duration, bool) {}

// Config holds pipeline settings.
type Config struct {
	Model              string
	Timeout            time.Duration
	CacheTTL           time.Duration
	CacheMaxEntries    int
	BreakerThreshold   int
	BreakerCooldown    time.Duration
	BreakerMaxCooldown time.Duration
}

// Pipeline produces assistant replies.
type Pipeline struct {
	gen       llm.Generator
	asm       *assembler.Assembler
	cache     *Cache
	breaker   *Breaker
	fallbacks Fallbacks
	flights   singleflight.Group
	metrics   Metrics
	model     string
	timeout   time.Duration
}

// New creates a pipeline. metrics may be nil.
func New(gen llm.Generator, asm *assembler.Assembler, cfg Config, metrics Metrics) *Pipeline {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	p := &Pipeline{
		gen:     gen,
		asm:     asm,
		cache:   NewCache(cfg.CacheTTL, cfg.CacheMaxEntries),
		breaker: NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown, cfg.BreakerMaxCooldown),
		metrics: metrics,
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}
	p.breaker.OnStateChange(func(s BreakerState) {
		metrics.BreakerChanged(s.String())
		logging.Warn().Str("state", s.String()).Msg("generator circuit breaker changed state")
	})
	return p
}

// Cache exposes the response cache.
func (p *Pipeline) Cache() *Cache { return p.cache }

// Breaker exposes the circuit breaker.
func (p *Pipeline) Breaker() *Breaker { return p.breaker }

// Prepare runs the cheap, local steps: cache lookup, classification and
// prompt assembly. It is meant to run under the session lock.
func (p *Pipeline) Prepare(req Request) *Plan {
	var role domain.Role
	var topic, user string
	if req.Session != nil {
		role = req.Session.Role
		topic = req.Session.Topic()
		user = req.Session.Owner().Key()
	}
	key := CacheKey(req.Text, role, topic)

	if hit, ok := p.cache.Get(key); ok {
		p.metrics.CacheHit()
		hit.Cached = true
		return &Plan{Key: key, Intent: hit.Intent, Hit: &hit}
	}
	p.metrics.CacheMiss()

	intent := Classify(req.Text)
	prompt := p.asm.Build(assembler.Input{
		Session: req.Session,
		Message: req.Text,
		Intent:  intent,
		History: req.History,
	})
	return &Plan{Key: key, Intent: intent, Prompt: prompt, user: user}
}

// Execute produces the reply for plan. It calls the generator at most once
// per cache key at a time; concurrent callers with the same key share the
// result. It never returns an error: failures become fallback replies.
func (p *Pipeline) Execute(ctx context.Context, plan *Plan) Reply {
	if plan.Hit != nil {
		return *plan.Hit
	}

	v, _, _ := p.flights.Do(plan.Key, func() (any, error) {
		if hit, ok := p.cache.Get(plan.Key); ok {
			hit.Cached = true
			return hit, nil
		}
		return p.generate(context.WithoutCancel(ctx), plan), nil
	})
	reply := v.(Reply)
	reply.Links = append([]string(nil), reply.Links...)
	return reply
}

// Respond runs Prepare and Execute back to back.
func (p *Pipeline) Respond(ctx context.Context, req Request) Reply {
	return p.Execute(ctx, p.Prepare(req))
}

func (p *Pipeline) generate(ctx context.Context, plan *Plan) Reply {
	if !p.breaker.Allow() {
		return p.fallback(plan, ReasonBreakerOpen, domain.ErrBreakerOpen)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	text, err := p.call(callCtx, plan)
	p.metrics.GeneratorDuration(time.Since(start), err == nil)
	if err != nil {
		p.breaker.Failure()
		return p.fallback(plan, reasonFor(err), err)
	}
	p.breaker.Success()

	reply := Reply{Text: text, Intent: plan.Intent, Links: plan.Prompt.Links()}
	p.cache.Set(plan.Key, reply)
	return reply
}

func (p *Pipeline) call(ctx context.Context, plan *Plan) (string, error) {
	msgs := make([]llm.ChatMessage, 0, len(plan.Prompt.Messages)+1)
	msgs = append(msgs, llm.ChatMessage{Role: "system", Content: plan.Prompt.System})
	for _, t := range plan.Prompt.Messages {
		msgs = append(msgs, llm.ChatMessage{Role: t.Role, Content: t.Content})
	}

	resp, err := p.gen.CreateChatCompletion(ctx, &llm.ChatCompletionRequest{
		Model:    p.model,
		Messages: msgs,
		User:     plan.user,
	})
	if err != nil {
		return "", &domain.ExternalServiceError{Op: "chat_completion", Err: err}
	}
	text, err := resp.Text()
	if err != nil {
		return "", &domain.ExternalServiceError{Op: "chat_completion", Err: err}
	}
	return text, nil
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, llm.ErrEmptyCompletion):
		return ReasonEmpty
	default:
		return ReasonTransport
	}
}

func (p *Pipeline) fallback(plan *Plan, reason string, err error) Reply {
	p.metrics.FallbackServed(plan.Intent, reason)
	ev := logging.Warn().Str("intent", string(plan.Intent)).Str("reason", reason)
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("serving fallback reply")

	return Reply{
		Text:           p.fallbacks.Pick(plan.Intent),
		Intent:         plan.Intent,
		Fallback:       true,
		FallbackReason: reason,
	}
}
