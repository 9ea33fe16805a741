package coach

import (
	"testing"
	"time"

	"github.com/MrWong99/speakwell/internal/analysis"
	"github.com/MrWong99/speakwell/internal/grammar"
)

func analysed(score int, types ...grammar.ErrorType) *analysis.Analysis {
	a := &analysis.Analysis{Score: score, Errors: []grammar.DetectedError{}}
	for _, typ := range types {
		a.Errors = append(a.Errors, grammar.DetectedError{Type: typ})
	}
	return a
}

func TestTracker_AverageIsRoundedMeanOfAllScores(t *testing.T) {
	t.Parallel()
	tests := []struct {
		scores []int
		want   int
	}{
		{[]int{80}, 80},
		{[]int{90, 91, 60}, 80},
		{[]int{70, 71}, 71},
		{[]int{0, 0, 1}, 0},
		{[]int{100, 99, 99, 99}, 99},
	}
	for _, tt := range tests {
		tr := newTracker("s", time.Now())
		for _, s := range tt.scores {
			tr.record(analysed(s))
		}
		if got := tr.stats.AverageScore; got != tt.want {
			t.Errorf("scores %v: AverageScore = %d, want %d", tt.scores, got, tt.want)
		}
	}
}

func TestTracker_CountsErrors(t *testing.T) {
	t.Parallel()
	tr := newTracker("s", time.Now())
	tr.record(analysed(60, grammar.Article, grammar.Article, grammar.Spelling))
	tr.record(analysed(85, grammar.Spelling))

	if tr.stats.TotalErrors != 4 {
		t.Errorf("TotalErrors = %d, want 4", tr.stats.TotalErrors)
	}
	if tr.stats.ErrorsByType[grammar.Article] != 2 || tr.stats.ErrorsByType[grammar.Spelling] != 2 {
		t.Errorf("ErrorsByType = %v", tr.stats.ErrorsByType)
	}
	if tr.stats.BestScore != 85 {
		t.Errorf("BestScore = %d, want 85", tr.stats.BestScore)
	}
}

func TestTracker_Improvements(t *testing.T) {
	t.Parallel()
	tr := newTracker("s", time.Now())
	tr.record(analysed(60, grammar.Article))
	tr.record(analysed(90))
	tr.record(analysed(90))
	if len(tr.stats.Improvements) != 0 {
		t.Fatalf("improvement recorded too early: %v", tr.stats.Improvements)
	}
	tr.record(analysed(90))
	if len(tr.stats.Improvements) != 1 || tr.stats.Improvements[0] != "Fewer article mistakes" {
		t.Fatalf("Improvements = %v", tr.stats.Improvements)
	}

	// Recorded once, even if the type comes back and disappears again.
	tr.record(analysed(70, grammar.Article))
	for range 3 {
		tr.record(analysed(90))
	}
	if len(tr.stats.Improvements) != 1 {
		t.Errorf("Improvements = %v, want one entry", tr.stats.Improvements)
	}
}

func TestTracker_SnapshotIsIndependent(t *testing.T) {
	t.Parallel()
	tr := newTracker("s", time.Now())
	tr.record(analysed(60, grammar.Article))
	snap := tr.snapshot()
	tr.record(analysed(60, grammar.Article))

	if snap.ErrorsByType[grammar.Article] != 1 {
		t.Errorf("snapshot changed after record: %v", snap.ErrorsByType)
	}
}

func TestHistory_Ring(t *testing.T) {
	t.Parallel()
	h := newHistory(3)
	for _, text := range []string{"a", "b", "c", "d", "e"} {
		h.add(Turn{Transcript: text})
	}
	h.markSpoken()

	got := h.list()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []string{"c", "d", "e"} {
		if got[i].Transcript != want {
			t.Errorf("turn %d = %q, want %q", i, got[i].Transcript, want)
		}
	}
	if !got[2].CorrectionSpoken || got[1].CorrectionSpoken {
		t.Error("markSpoken should flag only the newest turn")
	}
}

func TestHistory_Empty(t *testing.T) {
	t.Parallel()
	h := newHistory(2)
	h.markSpoken()
	if got := h.list(); len(got) != 0 {
		t.Errorf("list = %v, want empty", got)
	}
}
