// Package imaging analyzes image payloads for visual features relevant to
// injection attacks: adversarial patches, steganography likelihood, colour
// anomalies and text overlays.
//
// The sub-detectors are deterministic stubs by contract: every score is
// derived from a stable hash of the input bytes and bounded so image
// signals can never solo-drive a block. A real detector wired in later
// must preserve these output shapes and caps.
package imaging

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Anomaly flag vocabulary. Fixed; detection reports never carry flags
// outside this set.
const (
	AnomalyHighFrequencyNoise = "high_frequency_noise"
	AnomalyColorDiscontinuity = "color_discontinuity"
	AnomalyAspectRatio        = "aspect_ratio_artifact"
)

// AdversarialScoreCap bounds the adversarial score so visual signals stay
// advisory.
const AdversarialScoreCap = 0.5

// Anomaly is one detected visual anomaly.
type Anomaly struct {
	Type        string  `json:"type"`
	Severity    string  `json:"severity"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

// ColorAnalysis summarises colour distribution.
type ColorAnalysis struct {
	Entropy             float64 `json:"entropy"`
	UnusualDistribution bool    `json:"unusual_distribution"`
}

// Metadata holds parsed image envelope information.
type Metadata struct {
	MimeType             string `json:"mime_type"`
	EncodedSize          int    `json:"encoded_size"`
	EstimatedDecodedSize int    `json:"estimated_decoded_size"`
	FormatValid          bool   `json:"format_valid"`
}

// Analysis is the image analyser's report.
type Analysis struct {
	EmbeddingHandle  string        `json:"embedding_handle"`
	AdversarialScore float64       `json:"adversarial_score"`
	AnomalyFlags     []Anomaly     `json:"anomaly_flags"`
	Colors           ColorAnalysis `json:"color_analysis"`
	HasTextOverlay   bool          `json:"has_text_overlay"`
	Metadata         Metadata      `json:"metadata"`
}

// PatchDetection reports adversarial patch analysis.
type PatchDetection struct {
	PatchesDetected int      `json:"patches_detected"`
	Indicators      []string `json:"indicators,omitempty"`
}

// SteganographyRisk reports steganographic likelihood.
type SteganographyRisk struct {
	RiskScore  float64  `json:"risk_score"`
	RiskLevel  string   `json:"risk_level"`
	Indicators []string `json:"indicators,omitempty"`
}

// Analyzer is the image analysis engine. Stateless and safe for
// concurrent use.
type Analyzer struct{}

// New creates an Analyzer.
func New() *Analyzer {
	return &Analyzer{}
}

// Analyze inspects image data (base64 or raw string form). Repeated
// analysis of identical input yields identical output.
func (a *Analyzer) Analyze(imageData string) Analysis {
	digest := stableDigest(imageData, 1000)
	seed := hashSeed(digest)

	return Analysis{
		EmbeddingHandle:  digest[:16],
		AdversarialScore: adversarialScore(seed),
		AnomalyFlags:     detectAnomalies(seed),
		Colors: ColorAnalysis{
			Entropy:             round3(float64(seed%100)/100*0.8 + 0.2),
			UnusualDistribution: seed%50 == 0,
		},
		HasTextOverlay: seed%3 == 0,
		Metadata:       parseMetadata(imageData),
	}
}

// adversarialScore derives a bounded score from the input hash. Most
// inputs score under 0.1; the cap keeps the image channel advisory.
func adversarialScore(seed uint64) float64 {
	score := float64(seed%100) / 1000
	if seed%20 == 0 {
		score += 0.3
	}
	if score > AdversarialScoreCap {
		return AdversarialScoreCap
	}
	return score
}

func detectAnomalies(seed uint64) []Anomaly {
	var anomalies []Anomaly
	if seed%15 == 0 {
		anomalies = append(anomalies, Anomaly{
			Type:        AnomalyHighFrequencyNoise,
			Severity:    "low",
			Description: "areas with unusual high-frequency patterns",
			Confidence:  0.6,
		})
	}
	if seed%23 == 0 {
		anomalies = append(anomalies, Anomaly{
			Type:        AnomalyColorDiscontinuity,
			Severity:    "low",
			Description: "sharp colour boundaries that may indicate an overlay",
			Confidence:  0.5,
		})
	}
	if seed%37 == 0 {
		anomalies = append(anomalies, Anomaly{
			Type:        AnomalyAspectRatio,
			Severity:    "low",
			Description: "image dimensions suggest possible manipulation",
			Confidence:  0.4,
		})
	}
	return anomalies
}

// DetectAdversarialPatches probes for known adversarial patch signatures.
func (a *Analyzer) DetectAdversarialPatches(imageData string) PatchDetection {
	seed := hashSeed(stableDigest(imageData, 500))

	var det PatchDetection
	if seed%100 < 5 {
		det.PatchesDetected = 1
		det.Indicators = append(det.Indicators, "repetitive high-contrast texture region")
	}
	return det
}

// AssessSteganographyRisk estimates the likelihood of hidden data in the
// image. Score stays under 0.3.
func (a *Analyzer) AssessSteganographyRisk(imageData string) SteganographyRisk {
	seed := hashSeed(stableDigest(imageData, 500))
	score := round3(float64(seed%30) / 100)

	risk := SteganographyRisk{RiskScore: score, RiskLevel: "low"}
	if score >= 0.2 {
		risk.RiskLevel = "medium"
	}
	if score > 0.15 {
		risk.Indicators = append(risk.Indicators, "LSB pattern anomaly")
	}
	if score > 0.20 {
		risk.Indicators = append(risk.Indicators, "unusual bit distribution in colour channels")
	}
	return risk
}

func parseMetadata(imageData string) Metadata {
	mimeType := "unknown"
	payload := imageData

	if strings.HasPrefix(imageData, "data:image") {
		parts := strings.SplitN(imageData, ",", 2)
		meta := strings.TrimPrefix(parts[0], "data:")
		mimeType = strings.SplitN(meta, ";", 2)[0]
		if len(parts) == 2 {
			payload = parts[1]
		}
	}

	return Metadata{
		MimeType:             mimeType,
		EncodedSize:          len(imageData),
		EstimatedDecodedSize: len(payload) * 3 / 4,
		FormatValid:          true,
	}
}

// stableDigest hashes at most prefix bytes of the input.
func stableDigest(data string, prefix int) string {
	if len(data) > prefix {
		data = data[:prefix]
	}
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

func hashSeed(digest string) uint64 {
	v, _ := strconv.ParseUint(digest[:8], 16, 64)
	return v
}

func round3(v float64) float64 {
	return float64(int(v*1000+0.5)) / 1000
}
