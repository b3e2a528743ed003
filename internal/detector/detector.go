// Package detector fuses pattern matching, the learned classifier,
// embedding similarity and statistical anomaly signals into a single
// injection score with per-segment attribution.
package detector

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/ipishield/ipishield/internal/classifier"
	"github.com/ipishield/ipishield/internal/embedding"
	"github.com/ipishield/ipishield/internal/imaging"
)

// Contract thresholds on the 0-100 injection score.
const (
	// DetectionThreshold is the score at or above which content counts as
	// an injection attempt and the gateway engages sanitisation.
	DetectionThreshold = 30.0
	// StrictBlockThreshold is the score at or above which STRICT mode
	// blocks outright.
	StrictBlockThreshold = 40.0
)

// Fusion weights for the four sub-signals.
const (
	weightPattern    = 0.45
	weightClassifier = 0.35
	weightEmbedding  = 0.10
	weightAnomaly    = 0.10
)

// Segment source attribution.
const (
	SourceBody = "body"
	SourceOCR  = "ocr"
)

// Segment is one flagged span. For Source == "body", Text equals the
// body slice [Start:End); for Source == "ocr" the offsets index the OCR
// text so image-derived audit trails stay intact.
type Segment struct {
	Text       string  `json:"text"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
	Family     Family  `json:"pattern_type"`
	Source     string  `json:"source"`
}

// Breakdown carries the four sub-scores used for fusion, each in [0, 100].
type Breakdown struct {
	PatternScore    float64 `json:"pattern_score"`
	ClassifierScore float64 `json:"classifier_score"`
	EmbeddingScore  float64 `json:"embedding_score"`
	AnomalyScore    float64 `json:"anomaly_score"`
}

// Report is the detection result. Immutable once returned.
type Report struct {
	InjectionScore  float64            `json:"injection_score"`
	FlaggedSegments []Segment          `json:"flagged_segments"`
	Breakdown       Breakdown          `json:"breakdown"`
	FamilyScores    map[Family]float64 `json:"confidence_scores"`
	MLEnabled       bool               `json:"ml_enabled"`
}

// Detected reports whether the score crosses the detection threshold.
func (r Report) Detected() bool {
	return r.InjectionScore >= DetectionThreshold
}

// RiskCategory discretises the injection score: Critical >= 80,
// High >= 60, Medium >= 40, else Low.
func (r Report) RiskCategory() string {
	switch {
	case r.InjectionScore >= 80:
		return "Critical"
	case r.InjectionScore >= 60:
		return "High"
	case r.InjectionScore >= 40:
		return "Medium"
	default:
		return "Low"
	}
}

// Detector is the payload detection engine. Safe for concurrent use; the
// pattern corpus is immutable after startup.
type Detector struct {
	patterns   []Pattern
	classifier *classifier.Classifier
	embedder   *embedding.Engine
}

// New creates a Detector wired to the process singletons.
func New() *Detector {
	return &Detector{
		patterns:   corpus,
		classifier: classifier.Get(),
		embedder:   embedding.Get(),
	}
}

// NewWithEngines creates a Detector with explicit engines, for tests.
func NewWithEngines(c *classifier.Classifier, e *embedding.Engine) *Detector {
	return &Detector{patterns: corpus, classifier: c, embedder: e}
}

// Detect analyses the body plus optional OCR text and visual features.
// Pattern offsets are reported per source; the classifier, embedding and
// anomaly signals run over the concatenation.
func (d *Detector) Detect(body string, ocrText string, visual *imaging.Analysis) Report {
	if body == "" && ocrText == "" {
		return d.emptyReport()
	}

	combined := body
	if ocrText != "" {
		if combined != "" {
			combined += " "
		}
		combined += ocrText
	}

	segments, familyScores, patternScore := d.patternScan(body, ocrText)
	classifierScore := d.classifier.Predict(combined)
	embeddingScore := d.embeddingScore(combined)
	anomalyScore := anomalyScore(combined)

	// Visual features stay advisory: a capped adversarial score feeds the
	// anomaly channel rather than the fused total directly.
	if visual != nil && visual.AdversarialScore > anomalyScore {
		anomalyScore = math.Min(visual.AdversarialScore, 0.5)
	}

	weighted := patternScore*weightPattern +
		classifierScore*weightClassifier +
		embeddingScore*weightEmbedding +
		anomalyScore*weightAnomaly

	return Report{
		InjectionScore:  round2(math.Min(100, weighted*100)),
		FlaggedSegments: segments,
		Breakdown: Breakdown{
			PatternScore:    round2(patternScore * 100),
			ClassifierScore: round2(classifierScore * 100),
			EmbeddingScore:  round2(embeddingScore * 100),
			AnomalyScore:    round2(anomalyScore * 100),
		},
		FamilyScores: familyScores,
		MLEnabled:    d.classifier.Available(),
	}
}

func (d *Detector) emptyReport() Report {
	scores := make(map[Family]float64, len(Families))
	for _, f := range Families {
		scores[f] = 0
	}
	return Report{
		FlaggedSegments: []Segment{},
		FamilyScores:    scores,
		MLEnabled:       d.classifier.Available(),
	}
}

// patternScan runs the corpus over each source separately so segment
// offsets always index their own text.
func (d *Detector) patternScan(body, ocrText string) ([]Segment, map[Family]float64, float64) {
	familyScores := make(map[Family]float64, len(Families))
	for _, f := range Families {
		familyScores[f] = 0
	}

	var segments []Segment
	maxWeight := 0.0

	scan := func(text, source string) {
		for _, p := range d.patterns {
			for _, loc := range p.Regex.FindAllStringIndex(text, -1) {
				segments = append(segments, Segment{
					Text:       text[loc[0]:loc[1]],
					Start:      loc[0],
					End:        loc[1],
					Reason:     "Matched " + string(p.Family) + " pattern",
					Confidence: p.Weight,
					Family:     p.Family,
					Source:     source,
				})
				if p.Weight > familyScores[p.Family] {
					familyScores[p.Family] = p.Weight
				}
				if p.Weight > maxWeight {
					maxWeight = p.Weight
				}
			}
		}
	}

	scan(body, SourceBody)
	if ocrText != "" {
		scan(ocrText, SourceOCR)
	}

	segments = orderSegments(segments)
	return segments, familyScores, maxWeight
}

// orderSegments sorts ascending by start offset, breaking ties by family
// rank, and deduplicates identical (offset, family, text) entries.
func orderSegments(segments []Segment) []Segment {
	sort.SliceStable(segments, func(i, j int) bool {
		a, b := segments[i], segments[j]
		if a.Source != b.Source {
			return a.Source == SourceBody
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return familyRank[a.Family] < familyRank[b.Family]
	})

	out := segments[:0]
	var prev *Segment
	for i := range segments {
		s := segments[i]
		if prev != nil && prev.Source == s.Source && prev.Start == s.Start &&
			prev.Family == s.Family && prev.Text == s.Text {
			continue
		}
		out = append(out, s)
		prev = &out[len(out)-1]
	}
	if out == nil {
		out = []Segment{}
	}
	return out
}

// embeddingScore compares the text against the canonical attack corpus.
// With a real encoder loaded this is cosine similarity; otherwise a
// token-overlap ratio keeps the signal deterministic.
func (d *Detector) embeddingScore(text string) float64 {
	if d.embedder.HasBackend() {
		best := 0.0
		for _, attack := range attackCorpus {
			if sim := d.embedder.Similarity(text, attack); sim > best {
				best = sim
			}
		}
		return best
	}

	words := tokenSet(strings.ToLower(text))
	if len(words) == 0 {
		return 0
	}

	best := 0.0
	for _, attack := range attackCorpus {
		attackWords := tokenSet(attack)
		overlap := 0
		for w := range attackWords {
			if words[w] {
				overlap++
			}
		}
		if ratio := float64(overlap) / float64(len(attackWords)); ratio > best {
			best = ratio
		}
	}
	return best
}

// anomalyScore flags statistical obfuscation signals: unusual length and
// a high special-character ratio. Capped at 0.5.
func anomalyScore(text string) float64 {
	length := len([]rune(text))
	if length == 0 {
		return 0
	}

	score := 0.0
	if length > 5000 {
		score += 0.1
	}

	special := 0
	for _, r := range text {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) {
			special++
		}
	}
	ratio := float64(special) / float64(length)
	if ratio > 0.30 {
		score += 0.2
	} else if ratio > 0.15 {
		score += 0.1
	}

	if score > 0.5 {
		return 0.5
	}
	return score
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		set[w] = true
	}
	return set
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
