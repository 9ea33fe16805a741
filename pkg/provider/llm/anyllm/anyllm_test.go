package anyllm

import (
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/speakwell/pkg/provider/llm"
)

// ── buildParams ───────────────────────────────────────────────────────────────

func TestBuildParams_SystemPromptFirst(t *testing.T) {
	p := &Provider{model: "llama3.1"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You are an English teacher.",
		Messages:     []llm.Message{llm.UserMessage("He go to school.")},
		Temperature:  0.3,
		MaxTokens:    500,
	})

	if params.Model != "llama3.1" {
		t.Errorf("model = %q, want llama3.1", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("first role = %q, want system", params.Messages[0].Role)
	}
	if got := params.Messages[1].ContentString(); got != "He go to school." {
		t.Errorf("user content = %q", got)
	}
	if params.Temperature == nil || *params.Temperature != 0.3 {
		t.Errorf("temperature = %v, want 0.3", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 500 {
		t.Errorf("max tokens = %v, want 500", params.MaxTokens)
	}
}

func TestBuildParams_JSONModeAppendsInstruction(t *testing.T) {
	p := &Provider{model: "llama3.1"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "Review the sentence.",
		Messages:     []llm.Message{llm.UserMessage("hi")},
		JSONMode:     true,
	})
	sys := params.Messages[0].ContentString()
	if !strings.HasPrefix(sys, "Review the sentence.") || !strings.HasSuffix(sys, jsonInstruction) {
		t.Errorf("system prompt = %q", sys)
	}
}

func TestBuildParams_NoSystemPrompt(t *testing.T) {
	p := &Provider{model: "llama3.1"}
	params := p.buildParams(llm.CompletionRequest{Messages: []llm.Message{llm.UserMessage("hi")}})
	if len(params.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(params.Messages))
	}
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Error("zero temperature and max tokens must stay unset")
	}
}

// ── modelCapabilities ─────────────────────────────────────────────────────────

func TestModelCapabilities(t *testing.T) {
	tests := []struct {
		model    string
		window   int
		jsonMode bool
	}{
		{"gpt-4o-mini", 128_000, true},
		{"GPT-4o", 128_000, true},
		{"claude-3-5-haiku-latest", 200_000, false},
		{"gemini-2.0-flash", 1_048_576, true},
		{"llama3.1", 32_768, false},
		{"some-local-model", 8_192, false},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			caps := modelCapabilities(tt.model)
			if caps.ContextWindow != tt.window {
				t.Errorf("context window = %d, want %d", caps.ContextWindow, tt.window)
			}
			if caps.SupportsJSONMode != tt.jsonMode {
				t.Errorf("json mode = %v, want %v", caps.SupportsJSONMode, tt.jsonMode)
			}
		})
	}
}

// ── Constructor ───────────────────────────────────────────────────────────────

func TestNew_EmptyProviderName(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Fatal("expected error for empty providerName")
	}
}

func TestNew_EmptyModel(t *testing.T) {
	if _, err := New("openai", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestNew_UnsupportedProvider(t *testing.T) {
	_, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy"))
	if err == nil {
		t.Fatal("expected error for unsupported provider")
	}
	if !strings.Contains(err.Error(), "ollama") {
		t.Errorf("error should list supported backends: %v", err)
	}
}

func TestNew_OpenAI_WithAPIKey(t *testing.T) {
	p, err := New("openai", "gpt-4o", anyllmlib.WithAPIKey("sk-test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.model != "gpt-4o" || p.name != "openai" {
		t.Errorf("provider = %s/%s", p.name, p.model)
	}
}

func TestNew_OpenAI_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestNew_LocalBackendsNeedNoKey(t *testing.T) {
	for _, name := range []string{"ollama", "llamacpp", "llamafile"} {
		t.Run(name, func(t *testing.T) {
			if _, err := New(name, "llama3"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
