package ranker

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	apperrors "github.com/anime-shed/image-classifier-go/internal/errors"
	"github.com/anime-shed/image-classifier-go/internal/labels"
)

func uniformTable(n int) *labels.Table {
	names := make([]string, n)
	for i := range names {
		names[i] = "class_" + string(rune('a'+i%26)) + string(rune('a'+(i/26)%26))
	}
	return labels.New(names...)
}

func TestRound4(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0.84496, 0.845},
		{0.844962137, 0.845},
		{0.12344, 0.1234},
		{0.99995, 1.0}, // binary value is slightly above the tie
		{0.00004, 0},
		{0.5, 0.5},
		{1, 1},
	}
	for _, tt := range tests {
		if got := Round4(tt.in); got != tt.want {
			t.Errorf("Round4(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}

	raw, err := json.Marshal(Round4(0.84496))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(raw) != "0.845" {
		t.Errorf("Expected 0.845 to serialize as 0.845, got %s", raw)
	}
}

func TestTopK_Order(t *testing.T) {
	table := labels.New("tench", "goldfish", "shark", "hen", "ostrich")
	scores := []float64{0.05, 0.6, 0.1, 0.2, 0.05}

	result, err := TopK(scores, DefaultK, table)
	if err != nil {
		t.Fatalf("TopK failed: %v", err)
	}

	want := []Entry{
		{Index: 1, Label: "goldfish", Probability: 0.6},
		{Index: 3, Label: "hen", Probability: 0.2},
		{Index: 2, Label: "shark", Probability: 0.1},
	}
	if diff := cmp.Diff(want, result.Entries); diff != "" {
		t.Errorf("Unexpected entries (-want +got):\n%s", diff)
	}
	if result.Prediction != "goldfish" {
		t.Errorf("Expected prediction goldfish, got %s", result.Prediction)
	}
}

func TestTopK_TieBreakLowerIndex(t *testing.T) {
	table := labels.New("a", "b", "c", "d", "e", "f")
	scores := []float64{0.1, 0.25, 0.1, 0.25, 0.05, 0.25}

	result, err := TopK(scores, 3, table)
	if err != nil {
		t.Fatalf("TopK failed: %v", err)
	}
	got := []int{result.Entries[0].Index, result.Entries[1].Index, result.Entries[2].Index}
	if diff := cmp.Diff([]int{1, 3, 5}, got); diff != "" {
		t.Errorf("Expected ties broken by ascending index (-want +got):\n%s", diff)
	}

	scores = []float64{0.2, 0.2, 0.2, 0.2}
	result, err = TopK(scores, 3, labels.New("a", "b", "c", "d"))
	if err != nil {
		t.Fatalf("TopK failed: %v", err)
	}
	got = []int{result.Entries[0].Index, result.Entries[1].Index, result.Entries[2].Index}
	if diff := cmp.Diff([]int{0, 1, 2}, got); diff != "" {
		t.Errorf("Expected first indices on all-equal scores (-want +got):\n%s", diff)
	}
}

func TestTopK_NonIncreasingRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	table := uniformTable(1000)

	for trial := 0; trial < 50; trial++ {
		scores := make([]float64, 1000)
		var sum float64
		for i := range scores {
			scores[i] = rng.Float64()
			sum += scores[i]
		}
		for i := range scores {
			scores[i] /= sum
		}

		result, err := TopK(scores, DefaultK, table)
		if err != nil {
			t.Fatalf("TopK failed: %v", err)
		}
		if len(result.Entries) != DefaultK {
			t.Fatalf("Expected %d entries, got %d", DefaultK, len(result.Entries))
		}
		for i := 1; i < len(result.Entries); i++ {
			if result.Entries[i].Probability > result.Entries[i-1].Probability {
				t.Fatalf("Entries not sorted: %+v", result.Entries)
			}
		}

		// Entry 0 must be the global maximum.
		best := 0
		for i, s := range scores {
			if s > scores[best] {
				best = i
			}
		}
		if result.Entries[0].Index != best {
			t.Fatalf("Expected top index %d, got %d", best, result.Entries[0].Index)
		}
	}
}

func TestTopK_Errors(t *testing.T) {
	table := labels.New("a", "b", "c")

	_, err := TopK([]float64{0.5, 0.3, 0.1, 0.1}, 3, table)
	if !apperrors.IsType(err, apperrors.ErrorTypeLabelLookup) {
		t.Errorf("Expected label lookup error on width mismatch, got: %v", err)
	}

	for _, k := range []int{0, 4} {
		_, err := TopK([]float64{0.5, 0.3, 0.2}, k, table)
		if !apperrors.IsType(err, apperrors.ErrorTypeInference) {
			t.Errorf("Expected inference error for k=%d, got: %v", k, err)
		}
	}
}

func TestPayload_JSON(t *testing.T) {
	table := labels.New("tabby", "sports_car", "convertible", "racer")
	result, err := TopK([]float64{0.01, 0.84496, 0.1, 0.04504}, 3, table)
	if err != nil {
		t.Fatalf("TopK failed: %v", err)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	want := `{"prediction":"sports_car","sports_car":0.845,"convertible":0.1,"racer":0.045}`
	if string(raw) != want {
		t.Errorf("Unexpected payload:\n got: %s\nwant: %s", raw, want)
	}
}

func TestPayload_LabelCollisionLastWriteWins(t *testing.T) {
	// ImageNet has two distinct "crane" classes (bird and machine).
	table := labels.New("crane", "tench", "crane", "goldfish")
	result, err := TopK([]float64{0.5, 0.1, 0.3, 0.1}, 3, table)
	if err != nil {
		t.Fatalf("TopK failed: %v", err)
	}
	if len(result.Entries) != 3 {
		t.Fatalf("Expected 3 ranked entries regardless of collisions, got %d", len(result.Entries))
	}

	payload := result.Payload()
	if payload.Len() != 3 {
		t.Errorf("Expected 3 keys after collision, got %d", payload.Len())
	}
	v, ok := payload.Get("crane")
	if !ok || v.(float64) != 0.3 {
		t.Errorf("Expected later 'crane' probability 0.3 to win, got %v", v)
	}

	raw, _ := json.Marshal(result)
	want := `{"prediction":"crane","crane":0.3,"tench":0.1}`
	if string(raw) != want {
		t.Errorf("Unexpected payload:\n got: %s\nwant: %s", raw, want)
	}
}
