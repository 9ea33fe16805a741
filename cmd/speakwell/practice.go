package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/speakwell/internal/analysis"
	"github.com/MrWong99/speakwell/internal/app"
	"github.com/MrWong99/speakwell/internal/coach"
	"github.com/MrWong99/speakwell/internal/device"
	"github.com/MrWong99/speakwell/internal/feedback"
)

var (
	practiceConfigPath string
	practiceLevel      string
	practiceAudioOut   string
	practiceVoice      string
	practiceQuiet      bool
)

func newPracticeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "practice",
		Short: "Run a coaching session on typed sentences",
		Long: "Run a live coaching session where every line read from stdin is one utterance. " +
			"The session ends at end of input or on Ctrl+C and prints the session summary.",
		Args: cobra.NoArgs,
		RunE: runPracticeCmd,
	}
	cmd.Flags().StringVar(&practiceConfigPath, "config", "", "config file for coach settings, assistant and text-to-speech")
	cmd.Flags().StringVar(&practiceLevel, "level", "", "learner level A1..C1")
	cmd.Flags().StringVar(&practiceAudioOut, "audio-out", "", "write the coach's synthesised speech as raw PCM to this file")
	cmd.Flags().StringVar(&practiceVoice, "voice", "", "text-to-speech voice id used with --audio-out")
	cmd.Flags().BoolVar(&practiceQuiet, "quiet", false, "only print the session summary")
	return cmd
}

func runPracticeCmd(cmd *cobra.Command, _ []string) error {
	slog.SetDefault(newLogger(slog.LevelWarn))

	var (
		an        coach.Analyzer = analysis.New()
		cfg                      = coach.DefaultConfig()
		providers                = &app.Providers{}
	)
	if practiceConfigPath != "" {
		a, ps, err := loadApp(practiceConfigPath)
		if err != nil {
			return err
		}
		an, providers = a.Analyzer(), ps
		cfg = app.CoachConfig(a.Config().Coach)
	}
	if practiceLevel != "" {
		level, err := feedback.ParseLevel(practiceLevel)
		if err != nil {
			return err
		}
		cfg.Level = string(level)
	}
	// Typed input never picks up the coach's own voice.
	cfg.MuteWhileSpeaking = false

	var synth coach.Synthesizer
	if practiceAudioOut != "" {
		if providers.TTS == nil {
			return errors.New("--audio-out needs a tts provider in --config")
		}
		f, err := os.Create(practiceAudioOut)
		if err != nil {
			return fmt.Errorf("open audio output: %w", err)
		}
		defer f.Close()
		synth = device.NewSpeaker(providers.TTSName, providers.TTS, practiceVoice, f)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	capture := newLineCapture()
	c := coach.New(an, capture, synth, cfg)

	out := cmd.OutOrStdout()
	printCtx, stopPrinting := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		printUpdates(printCtx, out, c.Updates(), practiceQuiet)
	}()

	if err := c.Start(ctx); err != nil {
		stopPrinting()
		wg.Wait()
		return err
	}
	if !practiceQuiet {
		fmt.Fprintln(out, renderBanner(cfg.Level))
	}

	feedLines(ctx, cmd.InOrStdin(), c, capture, cfg.SettleDelay, out, practiceQuiet)

	stats := c.Stop()
	stopPrinting()
	wg.Wait()
	fmt.Fprintln(out, renderStats(stats))
	return nil
}

// feedLines turns every non-blank line of r into a final utterance until r
// is exhausted or ctx is done. Each utterance is coached before the next line
// is fed.
func feedLines(ctx context.Context, r io.Reader, c *coach.Coach, capture *lineCapture, settle time.Duration, out io.Writer, quiet bool) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			line = utterance(line)
			if line == "" {
				continue
			}
			if !capture.say(line) {
				if !quiet {
					fmt.Fprintln(out, renderNotice("not listening, line ignored"))
				}
				continue
			}
			waitIdle(ctx, c, settle)
		}
	}
}

// waitIdle gives an utterance time to settle and then waits for its analysis
// and spoken correction to finish.
func waitIdle(ctx context.Context, c *coach.Coach, settle time.Duration) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(settle + 100*time.Millisecond):
	}
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for c.State() == coach.StateAnalyzing {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// utterance trims line and terminates it with a full stop so the coach
// commits it without waiting for silence.
func utterance(line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return ""
	}
	switch line[len(line)-1] {
	case '.', '!', '?':
		return line
	}
	return line + "."
}

func printUpdates(ctx context.Context, out io.Writer, updates <-chan coach.Update, quiet bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-updates:
			if quiet {
				continue
			}
			switch u.Kind {
			case coach.UpdateAnalysis:
				fmt.Fprintln(out, renderAnalysis(u.Analysis))
			case coach.UpdateSpeech:
				fmt.Fprintln(out, renderSpeech(u.Text))
			case coach.UpdateError:
				fmt.Fprintln(out, renderNotice(u.Err.Error()))
			}
		}
	}
}

// ── Line capture ──────────────────────────────────────────────────────────────

// lineCapture is a [coach.Capture] fed with whole typed sentences. Every
// sentence is final with full confidence. Lines are accepted until Stop, so
// input typed before the loop started capture is queued.
type lineCapture struct {
	events chan coach.CaptureEvent

	mu      sync.Mutex
	stopped bool
}

var _ coach.Capture = (*lineCapture)(nil)

func newLineCapture() *lineCapture {
	return &lineCapture{events: make(chan coach.CaptureEvent, 8)}
}

func (c *lineCapture) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = false
	return nil
}

func (c *lineCapture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	return nil
}

// Reset is a no-op: each line is an utterance of its own.
func (c *lineCapture) Reset() {}

func (c *lineCapture) Events() <-chan coach.CaptureEvent { return c.events }

// say emits line. It reports false when the capture is stopped or the
// coach is not keeping up.
func (c *lineCapture) say(line string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return false
	}
	select {
	case c.events <- coach.CaptureEvent{Transcript: line, Confidence: 1, IsFinal: true}:
		return true
	default:
		return false
	}
}
