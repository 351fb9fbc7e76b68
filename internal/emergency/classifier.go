// Package emergency turns aggregated class scores into an emergency verdict
// by matching class names against a keyword table.
package emergency

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Brownie44l1/sentinel-api/internal/model"
)

// UnknownType is reported when nothing in the top classes matched a rule.
const UnknownType = "Unknown"

const (
	DefaultTopK          = 10
	DefaultMaxDetections = 5
)

// ErrVocabularyMismatch means the score vector and the class vocabulary
// are not index-aligned.
var ErrVocabularyMismatch = errors.New("score vector does not match class vocabulary")

// Rule maps one emergency category to the keywords that identify it.
type Rule struct {
	Category string
	Keywords []string
}

// Match reports whether any keyword is a case-insensitive substring of name.
func (r Rule) Match(name string) bool {
	name = strings.ToLower(name)
	for _, k := range r.Keywords {
		if strings.Contains(name, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

// DefaultRules is evaluated in order; a class matching several rules yields
// one detection per rule, in this order.
var DefaultRules = []Rule{
	{Category: "Screaming", Keywords: []string{"Screaming", "Shout", "Yell", "Crying"}},
	{Category: "Glass", Keywords: []string{"Glass", "Shatter", "Breaking"}},
	{Category: "Crash", Keywords: []string{"Crash", "Bang", "Slam", "Thump"}},
	{Category: "Alarm", Keywords: []string{"Alarm", "Smoke detector", "Fire alarm", "Siren"}},
	{Category: "Violence", Keywords: []string{"Gunshot", "Explosion", "Fighting"}},
}

type Classifier struct {
	Rules         []Rule
	TopK          int
	MaxDetections int
}

// New returns a classifier over rules, or over DefaultRules when none are given.
func New(rules ...Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Classifier{
		Rules:         rules,
		TopK:          DefaultTopK,
		MaxDetections: DefaultMaxDetections,
	}
}

// Classify scans the TopK highest-scoring classes, highest first, and records
// a detection for every rule each class matches. Detections keep scan order
// and are cut to MaxDetections.
func (c *Classifier) Classify(scores []float64, classes []string) (model.Verdict, error) {
	if len(scores) != len(classes) {
		return model.Verdict{}, fmt.Errorf("%w: %d scores, %d classes", ErrVocabularyMismatch, len(scores), len(classes))
	}

	verdict := model.Verdict{
		Type:       UnknownType,
		Detections: []model.Detection{},
	}

	var top float64
	for _, idx := range TopIndices(scores, c.TopK) {
		name := classes[idx]
		conf := percent(scores[idx])

		for _, rule := range c.Rules {
			if !rule.Match(name) {
				continue
			}
			verdict.EmergencyDetected = true
			verdict.Detections = append(verdict.Detections, model.Detection{
				Class:      name,
				Confidence: round2(conf),
				Type:       rule.Category,
			})
			if conf > top {
				top = conf
				verdict.Type = rule.Category
			}
		}
	}

	verdict.Confidence = round2(top)
	if len(verdict.Detections) > c.MaxDetections {
		verdict.Detections = verdict.Detections[:c.MaxDetections]
	}
	return verdict, nil
}

// TopIndices returns the indices of the k highest scores, highest first.
// Equal scores keep vocabulary order.
func TopIndices(scores []float64, k int) []int {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] > scores[idx[b]]
	})
	if k < len(idx) {
		idx = idx[:max(k, 0)]
	}
	return idx
}

func percent(score float64) float64 {
	return math.Min(100, math.Max(0, score*100))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
