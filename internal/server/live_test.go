package server_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/speakwell/internal/analysis"
	"github.com/MrWong99/speakwell/internal/coach"
	"github.com/MrWong99/speakwell/internal/server"
	"github.com/MrWong99/speakwell/pkg/provider/stt"
	sttmock "github.com/MrWong99/speakwell/pkg/provider/stt/mock"
)

// fakeSessions runs real coaches with test timings and records stops.
type fakeSessions struct {
	mu      sync.Mutex
	coaches map[string]*coach.Coach
	levels  []string
	stopped []string
}

var _ server.LiveSessions = (*fakeSessions)(nil)

func (f *fakeSessions) Start(ctx context.Context, capture coach.Capture, synth coach.Synthesizer, level, _ string) (string, *coach.Coach, error) {
	if level == "" {
		level = "B1"
	}
	c := coach.New(analysis.New(), capture, synth, coach.Config{
		Level:         level,
		AutoCorrect:   true,
		SpeakFeedback: true,
		SettleDelay:   10 * time.Millisecond,
	})
	if err := c.Start(ctx); err != nil {
		return "", nil, err
	}
	id := c.Stats().SessionID

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.coaches == nil {
		f.coaches = make(map[string]*coach.Coach)
	}
	f.coaches[id] = c
	f.levels = append(f.levels, level)
	return id, c, nil
}

func (f *fakeSessions) Stop(id string) (coach.SessionStats, error) {
	f.mu.Lock()
	c, ok := f.coaches[id]
	delete(f.coaches, id)
	f.stopped = append(f.stopped, id)
	f.mu.Unlock()
	if !ok {
		return coach.SessionStats{}, coach.ErrNotRunning
	}
	return c.Stop(), nil
}

func (f *fakeSessions) stoppedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stopped...)
}

type liveMsg struct {
	Type      string              `json:"type"`
	SessionID string              `json:"sessionId"`
	State     string              `json:"state"`
	Analysis  *analysis.Analysis  `json:"analysis"`
	Stats     *coach.SessionStats `json:"stats"`
	ID        string              `json:"id"`
	Text      string              `json:"text"`
	Action    string              `json:"action"`
	Message   string              `json:"message"`
}

func dialLive(t *testing.T, sessions server.LiveSessions) (*websocket.Conn, context.Context) {
	t.Helper()
	ts := httptest.NewServer(server.New(analysis.New(), server.WithLiveSessions(sessions)).Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/live", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn, ctx
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, v any) {
	t.Helper()
	if err := wsjson.Write(ctx, conn, v); err != nil {
		t.Fatalf("write %v: %v", v, err)
	}
}

// readUntil reads messages until match returns true.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, match func(liveMsg) bool) liveMsg {
	t.Helper()
	for {
		var m liveMsg
		if err := wsjson.Read(ctx, conn, &m); err != nil {
			t.Fatalf("read: %v", err)
		}
		if match(m) {
			return m
		}
	}
}

func ofType(typ string) func(liveMsg) bool {
	return func(m liveMsg) bool { return m.Type == typ }
}

func TestLive_CoachingRoundTrip(t *testing.T) {
	t.Parallel()
	sessions := &fakeSessions{}
	conn, ctx := dialLive(t, sessions)

	send(t, ctx, conn, map[string]any{"type": "start", "level": "A2"})
	sess := readUntil(t, ctx, conn, ofType("session"))
	if sess.SessionID == "" {
		t.Fatal("session message without id")
	}
	readUntil(t, ctx, conn, func(m liveMsg) bool { return m.Type == "state" && m.State == "listening" })

	send(t, ctx, conn, map[string]any{"type": "transcript", "text": "He go to school.", "confidence": 0.9, "final": true})

	an := readUntil(t, ctx, conn, ofType("analysis"))
	if an.Analysis == nil || an.Analysis.CorrectedSentence != "He goes to school." {
		t.Fatalf("analysis = %+v", an.Analysis)
	}
	if an.Analysis.Level != "A2" {
		t.Errorf("level = %q, want A2", an.Analysis.Level)
	}

	speak := readUntil(t, ctx, conn, ofType("speak"))
	if speak.ID == "" || !strings.Contains(speak.Text, "goes") {
		t.Fatalf("speak = %+v", speak)
	}
	send(t, ctx, conn, map[string]any{"type": "spoken", "id": speak.ID})

	send(t, ctx, conn, map[string]any{"type": "stop"})
	readUntil(t, ctx, conn, func(m liveMsg) bool { return m.Type == "state" && m.State == "idle" })
	stats := readUntil(t, ctx, conn, ofType("stats"))
	if stats.Stats == nil || stats.Stats.TotalSentences != 1 {
		t.Fatalf("stats = %+v, want one sentence", stats.Stats)
	}
	if stats.Stats.SessionID != sess.SessionID {
		t.Errorf("stats session = %q, want %q", stats.Stats.SessionID, sess.SessionID)
	}
	if got := sessions.stoppedIDs(); len(got) != 1 || got[0] != sess.SessionID {
		t.Errorf("stopped = %v", got)
	}
}

func TestLive_CorrectionFollowsItsAnalysis(t *testing.T) {
	t.Parallel()
	conn, ctx := dialLive(t, &fakeSessions{})

	send(t, ctx, conn, map[string]any{"type": "start"})
	readUntil(t, ctx, conn, func(m liveMsg) bool { return m.Type == "state" && m.State == "listening" })
	send(t, ctx, conn, map[string]any{"type": "transcript", "text": "He go to school.", "final": true})

	var seen []string
	readUntil(t, ctx, conn, func(m liveMsg) bool {
		tag := m.Type
		if m.Type == "state" {
			tag += ":" + m.State
		}
		seen = append(seen, tag)
		return m.Type == "speak"
	})

	at := func(tag string) int {
		for i, s := range seen {
			if s == tag {
				return i
			}
		}
		return -1
	}
	analyzing, an, speak := at("state:analyzing"), at("analysis"), at("speak")
	if analyzing < 0 || an < 0 || !(analyzing < an && an < speak) {
		t.Fatalf("message order = %v, want state:analyzing, analysis, then speak", seen)
	}
}

func TestLive_ProtocolErrors(t *testing.T) {
	t.Parallel()
	conn, ctx := dialLive(t, &fakeSessions{})

	send(t, ctx, conn, map[string]any{"type": "pause"})
	if m := readUntil(t, ctx, conn, ofType("error")); !strings.Contains(m.Message, "not running") {
		t.Errorf("pause without session: %q", m.Message)
	}

	send(t, ctx, conn, map[string]any{"type": "dance"})
	if m := readUntil(t, ctx, conn, ofType("error")); !strings.Contains(m.Message, "unknown message type") {
		t.Errorf("unknown type: %q", m.Message)
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte("{nope")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if m := readUntil(t, ctx, conn, ofType("error")); m.Message != "malformed message" {
		t.Errorf("malformed: %q", m.Message)
	}

	send(t, ctx, conn, map[string]any{"type": "start", "audio": true})
	if m := readUntil(t, ctx, conn, ofType("error")); !strings.Contains(m.Message, "audio streaming") {
		t.Errorf("audio without recognizer: %q", m.Message)
	}
}

func TestLive_PauseAndDisconnectStopsSession(t *testing.T) {
	t.Parallel()
	sessions := &fakeSessions{}
	conn, ctx := dialLive(t, sessions)

	send(t, ctx, conn, map[string]any{"type": "start"})
	sess := readUntil(t, ctx, conn, ofType("session"))

	send(t, ctx, conn, map[string]any{"type": "pause"})
	readUntil(t, ctx, conn, func(m liveMsg) bool { return m.Type == "state" && m.State == "paused" })
	send(t, ctx, conn, map[string]any{"type": "resume"})
	readUntil(t, ctx, conn, func(m liveMsg) bool { return m.Type == "state" && m.State == "listening" })

	conn.Close(websocket.StatusNormalClosure, "bye")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := sessions.stoppedIDs(); len(got) == 1 && got[0] == sess.SessionID {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("session was not stopped after disconnect")
}

func TestLive_AudioIsConvertedToRecognizerFormat(t *testing.T) {
	t.Parallel()
	sess := sttmock.NewSession()
	recognizer := &sttmock.Provider{Session: sess}
	ts := httptest.NewServer(server.New(analysis.New(),
		server.WithLiveSessions(&fakeSessions{}),
		server.WithSpeechRecognizer("mock", recognizer, stt.StreamConfig{SampleRate: 16000, Channels: 1}),
	).Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/live", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })

	send(t, ctx, conn, map[string]any{"type": "start", "audio": true, "sampleRate": 32000, "channels": 2})
	readUntil(t, ctx, conn, func(m liveMsg) bool { return m.Type == "state" && m.State == "listening" })

	// Two stereo frames (100,300) and (500,700), split mid-frame.
	frames := []byte{100, 0, 44, 1, 244, 1, 188, 2}
	for _, chunk := range [][]byte{frames[:3], frames[3:]} {
		if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
			t.Fatalf("write audio: %v", err)
		}
	}

	want := []byte{200, 0}
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := sess.Audio()
		if len(got) == len(want) && got[0] == want[0] && got[1] == want[1] {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("recognizer audio = %v, want %v", got, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestLive_AudioRejectsUnsupportedFormat(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(server.New(analysis.New(),
		server.WithLiveSessions(&fakeSessions{}),
		server.WithSpeechRecognizer("mock", &sttmock.Provider{}, stt.StreamConfig{SampleRate: 16000, Channels: 1}),
	).Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/live", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })

	send(t, ctx, conn, map[string]any{"type": "start", "audio": true, "channels": 12})
	if m := readUntil(t, ctx, conn, ofType("error")); !strings.Contains(m.Message, "unsupported audio format") {
		t.Errorf("error = %q", m.Message)
	}
}
