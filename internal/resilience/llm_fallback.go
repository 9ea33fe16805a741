package resilience

import (
	"context"

	"github.com/MrWong99/speakwell/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with failover across several LLM
// backends, each behind its own circuit breaker. The assistant uses it when
// fallback backends are configured (for example a local model behind a
// hosted one).
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional LLM provider as a fallback.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete sends the request to the first healthy provider.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// Capabilities returns the capabilities of the primary. JSON mode is only
// reported when every backend supports it, since any of them may answer.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	caps := f.group.Primary().Capabilities()
	for _, e := range f.group.entries[1:] {
		if !e.value.Capabilities().SupportsJSONMode {
			caps.SupportsJSONMode = false
		}
	}
	return caps
}

// Healthy reports whether any backend is currently accepting calls.
func (f *LLMFallback) Healthy() bool {
	return f.group.Healthy()
}

// States returns the breaker state of every backend keyed by name.
func (f *LLMFallback) States() map[string]State {
	return f.group.States()
}
