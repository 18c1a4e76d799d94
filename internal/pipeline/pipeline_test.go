package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/guiIerme/JobFinder-sub003/internal/adapter/llm"
	"github.com/guiIerme/JobFinder-sub003/internal/assembler"
	"github.com/guiIerme/JobFinder-sub003/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	calls   atomic.Int32
	delay   time.Duration
	err     error
	content string
	gate    chan struct{}
}

func (f *fakeGenerator) CreateChatCompletion(ctx context.Context, req *llm.ChatCompletionRequest) (*llm.ChatCompletionResponse, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatCompletionResponse{Choices: []llm.Choice{{Message: &llm.ChatMessage{Role: "assistant", Content: f.content}}}}, nil
}

type emptySearch struct{}

func (emptySearch) SearchIn(string, []domain.Category, int) []domain.KnowledgeEntry { return nil }

type countingMetrics struct {
	nopMetrics
	hits, misses, fallbacks atomic.Int32
}

func (m *countingMetrics) CacheHit()                            { m.hits.Add(1) }
func (m *countingMetrics) CacheMiss()                           { m.misses.Add(1) }
func (m *countingMetrics) FallbackServed(domain.Intent, string) { m.fallbacks.Add(1) }

func newTestPipeline(gen llm.Generator, metrics Metrics) *Pipeline {
	return New(gen, assembler.New(emptySearch{}, 3, 5), Config{
		Model:              "test",
		Timeout:            50 * time.Millisecond,
		CacheTTL:           time.Hour,
		BreakerThreshold:   3,
		BreakerCooldown:    time.Minute,
		BreakerMaxCooldown: 5 * time.Minute,
	}, metrics)
}

var client = &domain.Session{Role: domain.RoleClient, UserID: "u1", Context: map[string]any{"topic": "plumbing"}}

func TestIdenticalMessagesHitCache(t *testing.T) {
	gen := &fakeGenerator{content: "Encanadores cobram de R$ 80 a R$ 250."}
	metrics := &countingMetrics{}
	p := newTestPipeline(gen, metrics)
	ctx := context.Background()

	first := p.Respond(ctx, Request{Session: client, Text: "Quanto custa um encanador?"})
	second := p.Respond(ctx, Request{Session: client, Text: "  quanto CUSTA um encanador!! "})

	assert.Equal(t, int32(1), gen.calls.Load())
	assert.Equal(t, first.Text, second.Text)
	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, domain.ActionCached, second.Action())
	assert.Equal(t, int32(1), metrics.hits.Load())
}

func TestCacheKeyIncludesFingerprint(t *testing.T) {
	gen := &fakeGenerator{content: "ok"}
	p := newTestPipeline(gen, nil)
	ctx := context.Background()

	provider := &domain.Session{Role: domain.RoleProvider, UserID: "u2"}
	p.Respond(ctx, Request{Session: client, Text: "como funciona"})
	p.Respond(ctx, Request{Session: provider, Text: "como funciona"})

	assert.Equal(t, int32(2), gen.calls.Load())
	assert.NotEqual(t,
		CacheKey("x", domain.RoleClient, "plumbing"),
		CacheKey("x", domain.RoleClient, "electrical"))
}

func TestConcurrentMissesCoalesce(t *testing.T) {
	gen := &fakeGenerator{content: "resposta", gate: make(chan struct{})}
	p := newTestPipeline(gen, nil)
	ctx := context.Background()

	plans := make([]*Plan, 5)
	for i := range plans {
		plans[i] = p.Prepare(Request{Session: client, Text: "preciso de um eletricista"})
	}

	replies := make([]Reply, len(plans))
	var wg sync.WaitGroup
	for i, plan := range plans {
		wg.Add(1)
		go func(i int, plan *Plan) {
			defer wg.Done()
			replies[i] = p.Execute(ctx, plan)
		}(i, plan)
	}
	require.Eventually(t, func() bool { return gen.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(gen.gate)
	wg.Wait()

	assert.LessOrEqual(t, gen.calls.Load(), int32(2))
	for _, r := range replies {
		assert.Equal(t, "resposta", r.Text)
	}
}

func TestBreakerShortCircuitsAfterThreeFailures(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("connection refused")}
	metrics := &countingMetrics{}
	p := newTestPipeline(gen, metrics)
	ctx := context.Background()

	texts := []string{"erro no login", "quanto custa pintor", "onde fica meu perfil"}
	for _, text := range texts {
		r := p.Respond(ctx, Request{Session: client, Text: text})
		assert.True(t, r.Fallback)
		assert.Equal(t, ReasonTransport, r.FallbackReason)
	}
	require.Equal(t, BreakerOpen, p.Breaker().State())

	r := p.Respond(ctx, Request{Session: client, Text: "quanto custa um encanador?"})
	assert.Equal(t, int32(3), gen.calls.Load(), "open breaker must skip the generator")
	assert.True(t, r.Fallback)
	assert.Equal(t, ReasonBreakerOpen, r.FallbackReason)
	assert.NotEmpty(t, r.Text)
	assert.True(t, IsFallbackText(r.Text))
	assert.Equal(t, domain.IntentServiceInquiry, r.Intent)
	assert.Equal(t, int32(4), metrics.fallbacks.Load())
}

func TestFallbackRepliesAreNotCached(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("boom")}
	p := newTestPipeline(gen, nil)
	ctx := context.Background()

	p.Respond(ctx, Request{Session: client, Text: "oi"})
	assert.Zero(t, p.Cache().Len())

	gen.err = nil
	gen.content = "Olá! Como posso ajudar?"
	r := p.Respond(ctx, Request{Session: client, Text: "oi"})
	assert.False(t, r.Fallback)
	assert.Equal(t, "Olá! Como posso ajudar?", r.Text)
}

func TestTimeoutFallsBack(t *testing.T) {
	gen := &fakeGenerator{content: "tarde demais", delay: time.Second}
	p := newTestPipeline(gen, nil)

	start := time.Now()
	r := p.Respond(context.Background(), Request{Session: client, Text: "minha senha não funciona"})

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.True(t, r.Fallback)
	assert.Equal(t, ReasonTimeout, r.FallbackReason)
	assert.Equal(t, domain.IntentTroubleshooting, r.Intent)
	assert.Equal(t, int32(1), gen.calls.Load(), "no retry")
}

func TestEmptyCompletionFallsBack(t *testing.T) {
	gen := &fakeGenerator{content: "   "}
	p := newTestPipeline(gen, nil)

	r := p.Respond(context.Background(), Request{Session: client, Text: "olá"})
	assert.True(t, r.Fallback)
	assert.Equal(t, ReasonEmpty, r.FallbackReason)
}

func TestCallerCancellationDoesNotAbortGeneration(t *testing.T) {
	gen := &fakeGenerator{content: "pronto", delay: 10 * time.Millisecond}
	p := newTestPipeline(gen, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := p.Respond(ctx, Request{Session: client, Text: "olá"})
	assert.False(t, r.Fallback)
	assert.Equal(t, "pronto", r.Text)
}
