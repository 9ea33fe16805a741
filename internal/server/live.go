package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/MrWong99/speakwell/internal/analysis"
	"github.com/MrWong99/speakwell/internal/coach"
	"github.com/MrWong99/speakwell/internal/device"
	"github.com/MrWong99/speakwell/pkg/audio"
	"github.com/MrWong99/speakwell/pkg/provider/stt"
)

const (
	liveReadLimit    = 1 << 20
	liveWriteTimeout = 5 * time.Second
	liveOutboxSize   = 64
)

// Message types exchanged on /v1/live.
const (
	// browser -> server
	msgStart      = "start"
	msgStop       = "stop"
	msgPause      = "pause"
	msgResume     = "resume"
	msgTranscript = "transcript"
	msgSpoken     = "spoken"
	msgFailed     = "failed"

	// server -> browser
	msgSession  = "session"
	msgState    = "state"
	msgAnalysis = "analysis"
	msgStats    = "stats"
	msgError    = "error"
	msgSpeak    = "speak"
	msgCancel   = "cancel"
	msgCapture  = "capture"
)

// clientMessage is any JSON frame sent by the browser.
type clientMessage struct {
	Type string `json:"type"`

	// start
	Level string `json:"level,omitempty"`
	Audio bool   `json:"audio,omitempty"`

	// start with audio: format of the binary frames. Zero values mean the
	// recognizer's own format.
	SampleRate int `json:"sampleRate,omitempty"`
	Channels   int `json:"channels,omitempty"`

	// transcript: cumulative text of the current utterance, confidence in 0..1.
	Text       string   `json:"text,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Final      bool     `json:"final,omitempty"`

	// spoken, failed
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
}

// serverMessage is any JSON frame sent to the browser.
type serverMessage struct {
	Type      string              `json:"type"`
	SessionID string              `json:"sessionId,omitempty"`
	State     string              `json:"state,omitempty"`
	Analysis  *analysis.Analysis  `json:"analysis,omitempty"`
	Stats     *coach.SessionStats `json:"stats,omitempty"`
	ID        string              `json:"id,omitempty"`
	Text      string              `json:"text,omitempty"`
	Rate      float64             `json:"rate,omitempty"`
	Action    string              `json:"action,omitempty"`
	Message   string              `json:"message,omitempty"`
}

// ── Connection ───────────────────────────────────────────────────────────────

// liveConn serialises writes through an outbox drained by one goroutine, so
// the coaching loop never waits on the network.
type liveConn struct {
	ws     *websocket.Conn
	outbox chan serverMessage
	done   chan struct{}
}

func newLiveConn(ws *websocket.Conn) *liveConn {
	return &liveConn{
		ws:     ws,
		outbox: make(chan serverMessage, liveOutboxSize),
		done:   make(chan struct{}),
	}
}

// send queues msg. It gives up when ctx ends or the writer has stopped.
func (c *liveConn) send(ctx context.Context, msg serverMessage) {
	select {
	case c.outbox <- msg:
	case <-ctx.Done():
	case <-c.done:
	}
}

func (c *liveConn) writeLoop(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.outbox:
			wctx, cancel := context.WithTimeout(ctx, liveWriteTimeout)
			err := wsjson.Write(wctx, c.ws, msg)
			cancel()
			if err != nil {
				slog.Debug("server: live write failed", "err", err)
				return
			}
		}
	}
}

// ── Browser devices ──────────────────────────────────────────────────────────

// browserCapture is a [coach.Capture] fed by transcript messages. Start,
// Stop and Reset are forwarded so the page can drive its recognizer.
type browserCapture struct {
	ctx  context.Context
	conn *liveConn

	mu        sync.Mutex
	listening bool
	events    chan coach.CaptureEvent
}

var _ coach.Capture = (*browserCapture)(nil)

func newBrowserCapture(ctx context.Context, conn *liveConn) *browserCapture {
	return &browserCapture{ctx: ctx, conn: conn, events: make(chan coach.CaptureEvent, 16)}
}

func (b *browserCapture) Start(context.Context) error {
	b.mu.Lock()
	b.listening = true
	b.mu.Unlock()
	b.conn.send(b.ctx, serverMessage{Type: msgCapture, Action: "start"})
	return nil
}

func (b *browserCapture) Stop() error {
	b.mu.Lock()
	b.listening = false
	b.mu.Unlock()
	b.conn.send(b.ctx, serverMessage{Type: msgCapture, Action: "stop"})
	return nil
}

func (b *browserCapture) Reset() {
	b.mu.Lock()
	for len(b.events) > 0 {
		<-b.events
	}
	b.mu.Unlock()
	b.conn.send(b.ctx, serverMessage{Type: msgCapture, Action: "reset"})
}

func (b *browserCapture) Events() <-chan coach.CaptureEvent { return b.events }

// deliver hands a transcript to the loop. Transcripts are cumulative, so
// when the loop lags the oldest one is dropped. Nothing is delivered while
// capture is stopped.
func (b *browserCapture) deliver(ev coach.CaptureEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.listening {
		return
	}
	for {
		select {
		case b.events <- ev:
			return
		default:
		}
		select {
		case <-b.events:
		default:
		}
	}
}

// browserSynth is a [coach.Synthesizer] that asks the page to speak and
// waits for its acknowledgement. A speak message is queued only after the
// session's forwarder has relayed every update published before the line,
// so the page sees the analysis a correction belongs to first.
type browserSynth struct {
	conn *liveConn

	// flush carries barrier requests to the forwarder. The forwarder closes
	// the request channel once the updates buffered so far are queued.
	flush chan chan struct{}

	mu      sync.Mutex
	pending map[string]chan error
}

var _ coach.Synthesizer = (*browserSynth)(nil)

func newBrowserSynth(conn *liveConn) *browserSynth {
	return &browserSynth{
		conn:    conn,
		flush:   make(chan chan struct{}),
		pending: make(map[string]chan error),
	}
}

func (b *browserSynth) Speak(ctx context.Context, text string, rate float64) error {
	if err := b.barrier(ctx); err != nil {
		return err
	}

	id := uuid.NewString()
	ack := make(chan error, 1)
	b.mu.Lock()
	b.pending[id] = ack
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	b.conn.send(ctx, serverMessage{Type: msgSpeak, ID: id, Text: text, Rate: rate})
	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		b.conn.send(context.Background(), serverMessage{Type: msgCancel, ID: id})
		return ctx.Err()
	}
}

// barrier waits until the forwarder has queued the pending coach updates.
func (b *browserSynth) barrier(ctx context.Context) error {
	flushed := make(chan struct{})
	select {
	case b.flush <- flushed:
	case <-ctx.Done():
		return ctx.Err()
	case <-b.conn.done:
		return errPeerGone
	}
	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resolve completes the Speak call waiting on id. Unknown ids are ignored.
func (b *browserSynth) resolve(id string, err error) {
	b.mu.Lock()
	ack, ok := b.pending[id]
	b.mu.Unlock()
	if ok {
		select {
		case ack <- err:
		default:
		}
	}
}

// failAll completes every waiting Speak call with err.
func (b *browserSynth) failAll(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ack := range b.pending {
		select {
		case ack <- err:
		default:
		}
	}
}

// ── Session ──────────────────────────────────────────────────────────────────

var errPeerGone = errors.New("server: live client disconnected")

// liveSession is the per-connection state. Only the read loop touches it.
type liveSession struct {
	srv    *Server
	conn   *liveConn
	remote string
	synth  *browserSynth

	id      string
	coach   *coach.Coach
	capture *browserCapture
	audio   *device.Capture
	conv    *audio.Converter
	stopFwd chan struct{}
	fwdDone chan struct{}
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		slog.Warn("server: live upgrade failed", "err", err)
		return
	}
	defer ws.CloseNow()
	ws.SetReadLimit(liveReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := newLiveConn(ws)
	go conn.writeLoop(ctx)

	ls := &liveSession{
		srv:    s,
		conn:   conn,
		remote: r.RemoteAddr,
		synth:  newBrowserSynth(conn),
	}
	err = ls.readLoop(ctx)
	ls.synth.failAll(errPeerGone)
	ls.end(ctx)

	if status := websocket.CloseStatus(err); status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
		slog.Debug("server: live client closed", "remote", ls.remote)
		return
	}
	if err != nil && ctx.Err() == nil {
		slog.Debug("server: live connection ended", "remote", ls.remote, "err", err)
	}
	ws.Close(websocket.StatusNormalClosure, "")
}

func (ls *liveSession) readLoop(ctx context.Context) error {
	for {
		typ, data, err := ls.conn.ws.Read(ctx)
		if err != nil {
			return err
		}
		if typ == websocket.MessageBinary {
			if ls.audio != nil {
				pcm := ls.conv.Convert(data)
				if len(pcm) == 0 {
					continue
				}
				if err := ls.audio.Write(pcm); err != nil && !errors.Is(err, device.ErrNotListening) {
					ls.reportError(ctx, err)
				}
			}
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			ls.reportError(ctx, errors.New("malformed message"))
			continue
		}
		ls.handle(ctx, msg)
	}
}

func (ls *liveSession) handle(ctx context.Context, msg clientMessage) {
	switch msg.Type {
	case msgStart:
		if err := ls.start(ctx, msg); err != nil {
			ls.reportError(ctx, err)
		}
	case msgStop:
		ls.end(ctx)
	case msgPause, msgResume:
		if ls.coach == nil {
			ls.reportError(ctx, coach.ErrNotRunning)
			return
		}
		op := ls.coach.Pause
		if msg.Type == msgResume {
			op = ls.coach.Resume
		}
		if err := op(); err != nil {
			ls.reportError(ctx, err)
		}
	case msgTranscript:
		if ls.capture == nil {
			return
		}
		conf := 1.0
		if msg.Confidence != nil {
			conf = min(max(*msg.Confidence, 0), 1)
		}
		ls.capture.deliver(coach.CaptureEvent{Transcript: msg.Text, Confidence: conf, IsFinal: msg.Final})
	case msgSpoken:
		ls.synth.resolve(msg.ID, nil)
	case msgFailed:
		reason := msg.Message
		if reason == "" {
			reason = "playback failed"
		}
		ls.synth.resolve(msg.ID, errors.New(reason))
	default:
		ls.reportError(ctx, fmt.Errorf("unknown message type %q", msg.Type))
	}
}

func (ls *liveSession) start(ctx context.Context, msg clientMessage) error {
	if ls.coach != nil {
		return coach.ErrAlreadyRunning
	}

	var capture coach.Capture
	ls.capture, ls.audio = nil, nil
	if msg.Audio {
		if ls.srv.recognizer == nil {
			return errors.New("audio streaming is not available")
		}
		conv, err := newAudioConverter(msg, ls.srv.streamCfg)
		if err != nil {
			return err
		}
		ls.conv = conv
		ls.audio = device.NewCapture(ls.srv.recognizerID, ls.srv.recognizer, ls.srv.streamCfg,
			device.WithMetrics(ls.srv.metrics))
		capture = ls.audio
	} else {
		ls.capture = newBrowserCapture(ctx, ls.conn)
		capture = ls.capture
	}

	id, c, err := ls.srv.sessions.Start(ctx, capture, ls.synth, msg.Level, ls.remote)
	if err != nil {
		ls.capture, ls.audio = nil, nil
		return err
	}
	ls.id, ls.coach = id, c
	ls.stopFwd = make(chan struct{})
	ls.fwdDone = make(chan struct{})
	ls.conn.send(ctx, serverMessage{Type: msgSession, SessionID: id})
	go ls.forward(ctx, id, c, ls.stopFwd, ls.fwdDone)
	return nil
}

// end stops the running session, if any, and flushes its last updates.
func (ls *liveSession) end(ctx context.Context) {
	if ls.coach == nil {
		return
	}
	if _, err := ls.srv.sessions.Stop(ls.id); err != nil {
		slog.Warn("server: stop live session", "session_id", ls.id, "err", err)
	}
	close(ls.stopFwd)
	<-ls.fwdDone
	ls.coach, ls.capture, ls.audio, ls.conv, ls.id = nil, nil, nil, nil, ""
}

// forward relays coach updates until stop is closed, then drains what the
// loop published while shutting down. Barrier requests from the synthesizer
// are answered once the buffered updates are queued.
func (ls *liveSession) forward(ctx context.Context, id string, c *coach.Coach, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	updates := c.Updates()
	drain := func() {
		for {
			select {
			case u := <-updates:
				ls.relay(ctx, id, u)
			default:
				return
			}
		}
	}
	for {
		select {
		case u := <-updates:
			ls.relay(ctx, id, u)
		case flushed := <-ls.synth.flush:
			drain()
			close(flushed)
		case <-stop:
			drain()
			return
		case <-ctx.Done():
			return
		}
	}
}

func (ls *liveSession) relay(ctx context.Context, id string, u coach.Update) {
	switch u.Kind {
	case coach.UpdateState:
		ls.conn.send(ctx, serverMessage{Type: msgState, State: u.State.String(), SessionID: id})
	case coach.UpdateAnalysis:
		ls.conn.send(ctx, serverMessage{Type: msgAnalysis, Analysis: u.Analysis})
	case coach.UpdateStats:
		ls.conn.send(ctx, serverMessage{Type: msgStats, Stats: u.Stats})
	case coach.UpdateError:
		ls.conn.send(ctx, serverMessage{Type: msgError, Message: u.Err.Error()})
	case coach.UpdateSpeech:
		// The line reaches the page as the synthesizer's speak message.
	}
}

func (ls *liveSession) reportError(ctx context.Context, err error) {
	ls.conn.send(ctx, serverMessage{Type: msgError, Message: err.Error()})
}

// newAudioConverter maps the client's declared PCM format onto the
// recognizer's.
func newAudioConverter(msg clientMessage, cfg stt.StreamConfig) (*audio.Converter, error) {
	to := audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	from := to
	if msg.SampleRate != 0 {
		from.SampleRate = msg.SampleRate
	}
	if msg.Channels != 0 {
		from.Channels = msg.Channels
	}
	if from.SampleRate < 0 || from.Channels < 0 || from.Channels > 8 {
		return nil, fmt.Errorf("unsupported audio format %s", from)
	}
	return audio.NewConverter(from, to)
}
