// Package classify labels detected objects. The label model itself is an
// external capability behind the Classifier interface; this package decides
// which label to accept and bounds how long the pipeline waits for one.
package classify

import (
	"context"
	"errors"
	"slices"

	"github.com/banshee-data/speedcam/internal/frame"
)

// ErrClassification marks a classifier call that failed or timed out.
var ErrClassification = errors.New("classify: classification failed")

// Fallback values used when the classifier cannot answer.
const (
	UnknownLabel       = "unknown"
	GenericLabel       = "vehicle"
	FallbackConfidence = 0.3
)

// Candidate is one label hypothesis for a cropped image.
type Candidate struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Classifier returns label candidates for a cropped image.
type Classifier interface {
	Classify(ctx context.Context, img frame.Frame) ([]Candidate, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, img frame.Frame) ([]Candidate, error)

// Classify calls f.
func (f ClassifierFunc) Classify(ctx context.Context, img frame.Frame) ([]Candidate, error) {
	return f(ctx, img)
}

// Decision is the policy outcome for one object.
type Decision struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Accepted   bool    `json:"accepted"`
	Fallback   bool    `json:"fallback"`
	Reason     string  `json:"reason,omitempty"`
}

// Policy selects a label from classifier candidates.
type Policy struct {
	AllowedLabels       []string
	ConfidenceThreshold float64
	// IgnoreValidation accepts objects with no allowed label as "unknown"
	// even when RequireValidation is set.
	IgnoreValidation bool
	// RequireValidation rejects objects with no allowed label.
	RequireValidation bool
	// AcceptGeneric accepts objects the classifier calls "vehicle" without
	// naming an allowed type.
	AcceptGeneric bool
}

// DefaultPolicy returns the default vehicle policy.
func DefaultPolicy() Policy {
	return Policy{
		AllowedLabels:       []string{"car", "truck", "bus", "motorcycle", "bicycle"},
		ConfidenceThreshold: 0.5,
		AcceptGeneric:       true,
	}
}

// Allowed reports whether label is in the allowed set.
func (p Policy) Allowed(label string) bool {
	return slices.Contains(p.AllowedLabels, label)
}

// Decide applies the policy to a classifier answer. A classifier error never
// rejects an object: it falls back to the unknown label at reduced
// confidence.
func (p Policy) Decide(cands []Candidate, err error) Decision {
	if err != nil {
		return Decision{Label: UnknownLabel, Confidence: FallbackConfidence, Accepted: true, Fallback: true, Reason: err.Error()}
	}

	var best, bestAllowed *Candidate
	for i := range cands {
		c := &cands[i]
		if c.Confidence < p.ConfidenceThreshold {
			continue
		}
		if best == nil || c.Confidence > best.Confidence {
			best = c
		}
		if p.Allowed(c.Label) && (bestAllowed == nil || c.Confidence > bestAllowed.Confidence) {
			bestAllowed = c
		}
	}
	if bestAllowed != nil {
		return Decision{Label: bestAllowed.Label, Confidence: bestAllowed.Confidence, Accepted: true}
	}

	conf := FallbackConfidence
	if best != nil && best.Confidence > conf {
		conf = best.Confidence
	}
	if p.RequireValidation && !p.IgnoreValidation {
		if p.AcceptGeneric && best != nil && best.Label == GenericLabel {
			return Decision{Label: GenericLabel, Confidence: best.Confidence, Accepted: true, Reason: "generic"}
		}
		return Decision{Label: UnknownLabel, Confidence: conf, Reason: "no allowed label"}
	}
	return Decision{Label: UnknownLabel, Confidence: conf, Accepted: true, Reason: "unvalidated"}
}
