// Package safety fuses extraction quality, detection results, embedding
// drift and content provenance into a trust score and an enforcement
// action.
package safety

import (
	"math"

	"github.com/ipishield/ipishield/internal/detector"
)

// Action is the enforcement decision.
type Action string

const (
	ActionPass             Action = "PASS"
	ActionPassWithWarnings Action = "PASS_WITH_WARNINGS"
	ActionBlock            Action = "BLOCK"
)

// Action bands on the safety score.
const (
	passThreshold = 80.0
	warnThreshold = 50.0
)

// Component fusion weights.
const (
	weightExtraction = 0.15
	weightDetection  = 0.45
	weightDrift      = 0.20
	weightMetadata   = 0.20
)

// Confidence is fixed for this scorer version.
const Confidence = 0.85

// ExtractionSignals summarises what the extraction channels observed.
type ExtractionSignals struct {
	HiddenText        bool `json:"hidden_text"`
	HiddenDOM         bool `json:"hidden_dom"`
	SuspiciousScripts bool `json:"suspicious_scripts"`
}

// Metadata is optional content provenance supplied by the caller.
type Metadata struct {
	Source         string   `json:"source"`
	UserReputation *float64 `json:"user_reputation,omitempty"`
}

// Components carries the four sub-scores, each in [0, 100].
type Components struct {
	ExtractionQuality float64 `json:"extraction_quality"`
	DetectionSafety   float64 `json:"detection_safety"`
	EmbeddingDrift    float64 `json:"embedding_drift"`
	MetadataRisk      float64 `json:"metadata_risk"`
}

// Verdict is the scorer's output. Immutable once returned.
type Verdict struct {
	SafetyScore float64    `json:"safety_score"`
	Action      Action     `json:"action"`
	Components  Components `json:"component_scores"`
	Confidence  float64    `json:"confidence"`
}

// Scorer computes safety verdicts. Stateless and safe for concurrent use.
type Scorer struct{}

// New creates a Scorer.
func New() *Scorer {
	return &Scorer{}
}

// Calculate produces a Verdict from the extraction signals, the detection
// report and optional provenance metadata.
func (s *Scorer) Calculate(sig ExtractionSignals, rep detector.Report, md *Metadata) Verdict {
	c := Components{
		ExtractionQuality: extractionScore(sig),
		DetectionSafety:   100 - rep.InjectionScore,
		EmbeddingDrift:    100 - rep.Breakdown.EmbeddingScore,
		MetadataRisk:      metadataScore(md),
	}

	score := c.ExtractionQuality*weightExtraction +
		c.DetectionSafety*weightDetection +
		c.EmbeddingDrift*weightDrift +
		c.MetadataRisk*weightMetadata
	score = round2(math.Max(0, math.Min(100, score)))

	return Verdict{
		SafetyScore: score,
		Action:      actionFor(score),
		Components:  c,
		Confidence:  Confidence,
	}
}

func extractionScore(sig ExtractionSignals) float64 {
	score := 90.0
	if sig.HiddenText {
		score -= 20
	}
	if sig.HiddenDOM {
		score -= 15
	}
	if sig.SuspiciousScripts {
		score -= 25
	}
	if score < 0 {
		return 0
	}
	return score
}

func metadataScore(md *Metadata) float64 {
	if md == nil {
		return 80
	}
	score := 90.0
	if md.Source == "unknown" {
		score -= 20
	}
	if md.UserReputation != nil && *md.UserReputation < 50 {
		score -= 15
	}
	return score
}

func actionFor(score float64) Action {
	switch {
	case score >= passThreshold:
		return ActionPass
	case score >= warnThreshold:
		return ActionPassWithWarnings
	default:
		return ActionBlock
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
