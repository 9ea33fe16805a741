package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/speakwell/pkg/provider/tts"
	ttsmock "github.com/MrWong99/speakwell/pkg/provider/tts/mock"
)

func drain(ch <-chan []byte) int {
	n := 0
	for c := range ch {
		n += len(c)
	}
	return n
}

func TestTTSFallback_Synthesize_PrimarySuccess(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{Chunks: [][]byte{{1, 2}, {3}}}
	secondary := &ttsmock.Provider{Chunks: [][]byte{{9}}}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	ch, err := fb.Synthesize(context.Background(), "Excellent! Keep going.", tts.Voice{ID: "v1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := drain(ch); n != 3 {
		t.Errorf("got %d bytes, want 3", n)
	}
	if len(secondary.Texts()) != 0 {
		t.Error("secondary should not be called")
	}
}

func TestTTSFallback_Synthesize_Failover(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("primary down")}
	secondary := &ttsmock.Provider{Chunks: [][]byte{{9}}}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	ch, err := fb.Synthesize(context.Background(), "hello", tts.Voice{ID: "v1", Rate: 0.9})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := drain(ch); n != 1 {
		t.Errorf("got %d bytes, want 1", n)
	}
	if got := secondary.Calls[0].Voice.Rate; got != 0.9 {
		t.Errorf("forwarded rate = %v, want 0.9", got)
	}
}

func TestTTSFallback_Synthesize_AllFail(t *testing.T) {
	t.Parallel()
	fb := NewTTSFallback(&ttsmock.Provider{SynthesizeErr: errors.New("a")}, "primary", FallbackConfig{})
	fb.AddFallback("secondary", &ttsmock.Provider{SynthesizeErr: errors.New("b")})

	if _, err := fb.Synthesize(context.Background(), "hello", tts.Voice{ID: "v"}); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("expected ErrAllFailed, got %v", err)
	}
}

func TestTTSFallback_Synthesize_BlankText(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{Chunks: [][]byte{{1}}}
	fb := NewTTSFallback(primary, "primary", FallbackConfig{})

	ch, err := fb.Synthesize(context.Background(), "  \n", tts.Voice{ID: "v"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := drain(ch); n != 0 {
		t.Errorf("got %d bytes, want 0", n)
	}
	if len(primary.Texts()) != 0 {
		t.Error("blank text should not reach a backend")
	}
}

func TestTTSFallback_Healthy(t *testing.T) {
	t.Parallel()
	fb := NewTTSFallback(&ttsmock.Provider{SynthesizeErr: errors.New("down")}, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
	})
	if !fb.Healthy() {
		t.Fatal("fresh group should be healthy")
	}
	_, _ = fb.Synthesize(context.Background(), "hello", tts.Voice{ID: "v"})
	if fb.Healthy() {
		t.Error("group with its only breaker open should not be healthy")
	}
	if got := fb.States()["primary"]; got != StateOpen {
		t.Errorf("primary state = %v, want open", got)
	}
}
