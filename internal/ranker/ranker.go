// Package ranker selects the highest-probability classes and shapes the
// prediction payload.
package ranker

import (
	"fmt"
	"strconv"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	apperrors "github.com/anime-shed/image-classifier-go/internal/errors"
	"github.com/anime-shed/image-classifier-go/internal/labels"
)

// DefaultK is the number of predictions returned per image.
const DefaultK = 3

// PredictionKey holds the top label in the payload.
const PredictionKey = "prediction"

// Resolver maps class indices to labels.
type Resolver interface {
	Len() int
	Lookup(index int) (labels.Class, error)
}

// Entry is one ranked class.
type Entry struct {
	Index       int     `json:"index"`
	Synset      string  `json:"synset,omitempty"`
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

// Result holds exactly k entries, highest probability first.
// Prediction always equals Entries[0].Label.
type Result struct {
	Prediction string
	Entries    []Entry
}

// Round4 rounds p to 4 decimal places using correct decimal rounding of the
// exact binary value (ties to even), the same result Python's round(p, 4) gives.
func Round4(p float64) float64 {
	v, err := strconv.ParseFloat(strconv.FormatFloat(p, 'f', 4, 64), 64)
	if err != nil {
		return p
	}
	return v
}

// TopK picks the k highest scores. Bit-identical scores keep the lower index first.
func TopK(scores []float64, k int, resolver Resolver) (*Result, error) {
	if k < 1 || k > len(scores) {
		return nil, apperrors.NewInferenceError(fmt.Sprintf("k=%d is outside [1,%d]", k, len(scores)), nil)
	}
	if len(scores) != resolver.Len() {
		return nil, apperrors.NewLabelLookupError(
			fmt.Sprintf("score vector has %d classes but label table has %d", len(scores), resolver.Len()), nil)
	}

	top := selectTop(scores, k)

	result := &Result{Entries: make([]Entry, 0, k)}
	for _, idx := range top {
		class, err := resolver.Lookup(idx)
		if err != nil {
			return nil, err
		}
		result.Entries = append(result.Entries, Entry{
			Index:       idx,
			Synset:      class.Synset,
			Label:       class.Label,
			Probability: Round4(scores[idx]),
		})
	}
	result.Prediction = result.Entries[0].Label
	return result, nil
}

// selectTop keeps a sorted buffer of k indices. A candidate only displaces a
// kept index when strictly greater, so earlier indices win ties.
func selectTop(scores []float64, k int) []int {
	top := make([]int, 0, k)
	for i, s := range scores {
		if len(top) == k && !(s > scores[top[k-1]]) {
			continue
		}
		pos := len(top)
		for pos > 0 && s > scores[top[pos-1]] {
			pos--
		}
		if len(top) < k {
			top = append(top, 0)
		}
		copy(top[pos+1:], top[pos:len(top)-1])
		top[pos] = i
	}
	return top
}

// Payload builds {"prediction": label, label1: p1, label2: p2, ...}.
// When two entries share a label the later probability overwrites the earlier
// value in place, so the payload may hold fewer than k+1 keys.
func (r *Result) Payload() *orderedmap.OrderedMap[string, any] {
	payload := orderedmap.New[string, any](len(r.Entries) + 1)
	payload.Set(PredictionKey, r.Prediction)
	for _, e := range r.Entries {
		payload.Set(e.Label, e.Probability)
	}
	return payload
}

// MarshalJSON serializes the payload form of the result.
func (r *Result) MarshalJSON() ([]byte, error) {
	return r.Payload().MarshalJSON()
}
