package deepgram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/speakwell/pkg/provider/stt"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cfg := stt.StreamConfig{
		SampleRate: 16000,
		Channels:   1,
		Language:   "en",
	}

	rawURL, err := p.buildURL(cfg)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	assertEqual(t, "smart_format", "true", q.Get("smart_format"))
	assertEqual(t, "interim_results", "true", q.Get("interim_results"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
	if q.Has("endpointing") {
		t.Error("expected no endpointing param by default")
	}
}

func TestBuildURL_CustomModel(t *testing.T) {
	p, err := New("key", WithModel("nova-2"), WithLanguage("en-GB"), WithSampleRate(48000))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	q := u.Query()

	assertEqual(t, "model", "nova-2", q.Get("model"))
	assertEqual(t, "language", "en-GB", q.Get("language"))
	assertEqual(t, "sample_rate", "48000", q.Get("sample_rate"))
}

func TestBuildURL_LanguageOverridenByCfg(t *testing.T) {
	p, err := New("key", WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{Language: "en-AU", SampleRate: 16000})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	assertEqual(t, "language", "en-AU", u.Query().Get("language"))
}

func TestBuildURL_Endpointing(t *testing.T) {
	p, _ := New("key")
	rawURL, err := p.buildURL(stt.StreamConfig{Endpointing: 2 * time.Second})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(rawURL)
	assertEqual(t, "endpointing", "2000", u.Query().Get("endpointing"))
}

func TestBuildURL_KeytermsNova3(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{Keyterms: []string{"would have", " ", "fewer"}})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	q, _ := url.ParseQuery(strings.SplitN(rawURL, "?", 2)[1])
	terms := q["keyterm"]
	if len(terms) != 2 {
		t.Fatalf("expected 2 keyterms, got %d: %v", len(terms), terms)
	}
	assertEqual(t, "keyterm[0]", "would have", terms[0])
	assertEqual(t, "keyterm[1]", "fewer", terms[1])
	if q.Has("keywords") {
		t.Error("nova-3 must not use the keywords param")
	}
}

func TestBuildURL_KeywordsOlderModel(t *testing.T) {
	p, _ := New("key", WithModel("nova-2"))

	rawURL, err := p.buildURL(stt.StreamConfig{Keyterms: []string{"fewer"}})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	assertEqual(t, "keywords", "fewer", u.Query().Get("keywords"))
	if u.Query().Has("keyterm") {
		t.Error("nova-2 must not use the keyterm param")
	}
}

func TestBuildURL_NoKeyterms(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{SampleRate: 16000})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	if u.Query().Has("keyterm") || u.Query().Has("keywords") {
		t.Error("expected no vocabulary params when none provided")
	}
}

// ---- JSON parsing tests ----

func TestParseDeepgramResponse_Final(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": true,
		"speech_final": true,
		"channel": {
			"alternatives": [{
				"transcript": "She don't like apples",
				"confidence": 0.95,
				"words": [
					{"word": "she", "start": 0.1, "end": 0.3, "confidence": 0.97},
					{"word": "don't", "start": 0.3, "end": 0.6, "confidence": 0.93}
				]
			}]
		}
	}`)

	tr, ok := parseDeepgramResponse(raw)
	if !ok {
		t.Fatal("expected ok=true for valid Results message")
	}

	if !tr.IsFinal || !tr.SpeechFinal {
		t.Errorf("IsFinal=%v SpeechFinal=%v, want both true", tr.IsFinal, tr.SpeechFinal)
	}
	assertEqual(t, "text", "She don't like apples", tr.Text)
	if tr.Confidence != 0.95 {
		t.Errorf("expected confidence 0.95, got %f", tr.Confidence)
	}
	if len(tr.Words) != 2 {
		t.Fatalf("expected 2 words, got %d", len(tr.Words))
	}
	assertEqual(t, "word[1]", "don't", tr.Words[1].Word)
	if tr.Words[0].Start != time.Duration(0.1*float64(time.Second)) {
		t.Errorf("unexpected start: %v", tr.Words[0].Start)
	}
}

func TestParseDeepgramResponse_Partial(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": false,
		"speech_final": true,
		"channel": {"alternatives": [{"transcript": "She", "confidence": 0.7, "words": []}]}
	}`)

	tr, ok := parseDeepgramResponse(raw)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if tr.IsFinal || tr.SpeechFinal {
		t.Error("expected IsFinal=false and SpeechFinal=false for partial result")
	}
	assertEqual(t, "text", "She", tr.Text)
}

func TestParseDeepgramResponse_EmptyPartialSkipped(t *testing.T) {
	raw := []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":""}]}}`)
	if _, ok := parseDeepgramResponse(raw); ok {
		t.Error("expected ok=false for an empty interim result")
	}
}

func TestParseDeepgramResponse_Ignored(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"metadata", `{"type":"Metadata","request_id":"abc"}`},
		{"empty alternatives", `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`},
		{"invalid json", `{invalid`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := parseDeepgramResponse([]byte(tt.raw)); ok {
				t.Error("expected ok=false")
			}
		})
	}
}

// ---- Constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	_, err := New("")
	if err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	assertEqual(t, "model", defaultModel, p.model)
	assertEqual(t, "language", defaultLanguage, p.language)
	assertEqual(t, "endpoint", deepgramEndpoint, p.endpoint)
	if p.sampleRate != defaultSampleRate {
		t.Errorf("expected sampleRate %d, got %d", defaultSampleRate, p.sampleRate)
	}
}

// ---- Session tests ----

// fakeDeepgram accepts one connection, answers the first audio frame with a
// final transcript, and closes normally after CloseStream.
func fakeDeepgram(t *testing.T, gotAuth chan<- string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		for {
			typ, msg, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				_ = conn.Write(ctx, websocket.MessageText, []byte(
					`{"type":"Results","is_final":true,"speech_final":true,"channel":{"alternatives":[{"transcript":"I goed home","confidence":0.9}]}}`))
				continue
			}
			if string(msg) == closeStreamMessage {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSession_RoundTrip(t *testing.T) {
	gotAuth := make(chan string, 1)
	srv := fakeDeepgram(t, gotAuth)

	p, err := New("secret", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := p.StartStream(ctx, stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	assertEqual(t, "authorization", "Token secret", <-gotAuth)

	if err := sess.SendAudio(make([]byte, 320)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case tr := <-sess.Transcripts():
		assertEqual(t, "text", "I goed home", tr.Text)
		if !tr.IsFinal {
			t.Error("expected a final transcript")
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for transcript")
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := sess.SendAudio([]byte{0, 0}); err == nil {
		t.Error("expected SendAudio after Close to fail")
	}
	if _, open := <-sess.Transcripts(); open {
		t.Error("expected transcripts channel to be closed")
	}
	if err := sess.Err(); err != nil {
		t.Errorf("Err() = %v, want nil after a clean close", err)
	}
}

// ---- helpers ----

func assertEqual(t *testing.T, label, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %q, got %q", label, want, got)
	}
}
