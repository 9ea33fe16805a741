package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/speakwell/internal/analysis"
	"github.com/MrWong99/speakwell/internal/app"
	"github.com/MrWong99/speakwell/internal/config"
)

var (
	oneshotConfigPath string
	oneshotLevel      string
	oneshotJSON       bool

	analyzeConfidence float64
	analyzeExpected   string

	exercisesFocus []string
	exercisesCount int
)

func newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze [sentence...]",
		Short: "Analyse one utterance and print the coaching result",
		Long:  "Analyse one utterance. Without arguments the utterance is read from stdin.",
		RunE:  runAnalyzeCmd,
	}
	addOneshotFlags(cmd)
	cmd.Flags().Float64Var(&analyzeConfidence, "confidence", 90, "recognizer confidence (0-100)")
	cmd.Flags().StringVar(&analyzeExpected, "expected", "", "sentence the learner was asked to say")
	return cmd
}

func newCorrectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "correct [sentence...]",
		Short: "Print the corrected sentence and the mistakes found",
		RunE:  runCorrectCmd,
	}
	addOneshotFlags(cmd)
	return cmd
}

func newExercisesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exercises",
		Short: "Generate speaking exercises",
		Args:  cobra.NoArgs,
		RunE:  runExercisesCmd,
	}
	addOneshotFlags(cmd)
	cmd.Flags().StringSliceVar(&exercisesFocus, "focus", nil, "focus areas, e.g. subject_verb_agreement,article_usage")
	cmd.Flags().IntVar(&exercisesCount, "count", analysis.DefaultExerciseCount, "number of exercises")
	return cmd
}

func addOneshotFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&oneshotConfigPath, "config", "", "config file; attaches the language-model assistant when one is configured")
	cmd.Flags().StringVar(&oneshotLevel, "level", "", "learner level A1..C1 (default B1)")
	cmd.Flags().BoolVar(&oneshotJSON, "json", false, "print JSON instead of text")
}

func runAnalyzeCmd(cmd *cobra.Command, args []string) error {
	text, err := inputText(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}
	an, err := newAnalyzer()
	if err != nil {
		return err
	}
	res, err := an.Analyze(cmd.Context(), analysis.Request{
		Transcript: text,
		Confidence: analyzeConfidence,
		Level:      oneshotLevel,
		Expected:   analyzeExpected,
	})
	if err != nil {
		return err
	}
	if oneshotJSON {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderAnalysis(res))
	return nil
}

func runCorrectCmd(cmd *cobra.Command, args []string) error {
	text, err := inputText(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}
	an, err := newAnalyzer()
	if err != nil {
		return err
	}
	res, err := an.Correct(cmd.Context(), text, oneshotLevel)
	if err != nil {
		return err
	}
	if oneshotJSON {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderCorrection(res))
	return nil
}

func runExercisesCmd(cmd *cobra.Command, _ []string) error {
	an, err := newAnalyzer()
	if err != nil {
		return err
	}
	list, err := an.GenerateExercises(cmd.Context(), oneshotLevel, exercisesFocus, exercisesCount)
	if err != nil {
		return err
	}
	if oneshotJSON {
		return writeJSON(cmd.OutOrStdout(), list)
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderExercises(list))
	return nil
}

// newAnalyzer returns a rules-only analyzer, or the fully configured one when
// --config is given.
func newAnalyzer() (*analysis.Analyzer, error) {
	slog.SetDefault(newLogger(slog.LevelWarn))
	if oneshotConfigPath == "" {
		return analysis.New(), nil
	}
	a, _, err := loadApp(oneshotConfigPath)
	if err != nil {
		return nil, err
	}
	return a.Analyzer(), nil
}

// loadApp builds the application described by the config at path without
// serving it.
func loadApp(path string) (*app.App, *app.Providers, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	providers, err := app.BuildProviders(cfg, newRegistry())
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(cfg, providers)
	if err != nil {
		return nil, nil, err
	}
	return a, providers, nil
}

// inputText joins args, or reads all of r when there are none.
func inputText(r io.Reader, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", errors.New("no sentence given")
	}
	return text, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
