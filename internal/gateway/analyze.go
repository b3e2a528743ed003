package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ipishield/ipishield/internal/audit"
	"github.com/ipishield/ipishield/internal/detector"
	"github.com/ipishield/ipishield/internal/htmlx"
	"github.com/ipishield/ipishield/internal/imaging"
	"github.com/ipishield/ipishield/internal/safety"
	"github.com/ipishield/ipishield/internal/textnorm"
)

// ContentType selects the extraction channel.
type ContentType string

const (
	ContentTypeText  ContentType = "text"
	ContentTypeImage ContentType = "image"
	ContentTypeHTML  ContentType = "html"
	ContentTypePDF   ContentType = "pdf"
)

// ParseContentType resolves a case-insensitive channel name. Empty
// defaults to text.
func ParseContentType(s string) (ContentType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "":
		return ContentTypeText, nil
	case "image":
		return ContentTypeImage, nil
	case "html":
		return ContentTypeHTML, nil
	case "pdf":
		return ContentTypePDF, nil
	}
	return "", fmt.Errorf("unknown content type %q", s)
}

// Extraction summarises what the extraction channels recovered.
type Extraction struct {
	Channel              string                     `json:"channel"`
	CharCount            int                        `json:"char_count"`
	OCRConfidence        float64                    `json:"ocr_confidence,omitempty"`
	HasHiddenText        bool                       `json:"has_hidden_text"`
	HasHiddenDOM         bool                       `json:"has_hidden_dom"`
	HasSuspiciousScripts bool                       `json:"has_suspicious_scripts"`
	HasBase64Payloads    bool                       `json:"has_base64_payloads"`
	AltTexts             []string                   `json:"alt_texts,omitempty"`
	Indicators           []htmlx.InjectionIndicator `json:"injection_indicators,omitempty"`
	Degraded             string                     `json:"degraded,omitempty"`
}

// AnalysisResult is the merged analysis view returned by Analyze and
// retrievable later by analysis id.
type AnalysisResult struct {
	AnalysisID  string `json:"analysis_id"`
	Timestamp   string `json:"timestamp"`
	ContentHash string `json:"content_hash"`

	RawText        string            `json:"raw_text"`           // first 1000 chars
	OCRText        string            `json:"ocr_text,omitempty"` // first 500 chars
	VisualFeatures *imaging.Analysis `json:"visual_features,omitempty"`
	Extraction     Extraction        `json:"extraction_metadata"`

	InjectionScore    float64                     `json:"injection_score"`
	InjectionDetected bool                        `json:"injection_detected"`
	FlaggedSegments   []detector.Segment          `json:"flagged_segments"`
	RiskCategory      string                      `json:"risk_category"`
	SafetyScore       float64                     `json:"safety_score"`
	RecommendedAction string                      `json:"recommended_action"`
	Breakdown         detector.Breakdown          `json:"detection_breakdown"`
	ConfidenceScores  map[detector.Family]float64 `json:"confidence_scores"`
}

// Analyze runs the extraction and detection pipeline over one piece of
// content. Extraction failures on one channel degrade rather than abort;
// the verdict is always stored for later retrieval.
func (g *Gateway) Analyze(ctx context.Context, content string, contentType ContentType, md *safety.Metadata) (*AnalysisResult, error) {
	if content == "" {
		return nil, fmt.Errorf("%w: empty content", ErrInvalidInput)
	}

	analysisID := uuid.NewString()
	slog.Info("analysis start", "analysis_id", analysisID, "content_type", contentType)

	var (
		body    string
		ocrText string
		visual  *imaging.Analysis
		ext     = Extraction{Channel: string(contentType)}
	)

	switch contentType {
	case ContentTypeText:
		body = textnorm.Normalize(content)
		flags := textnorm.DetectEncodingPatterns(body)
		ext.HasBase64Payloads = flags.HasBase64

	case ContentTypeHTML:
		h := g.html.Extract(content)
		body = textnorm.Normalize(h.VisibleText)
		if len(h.AltTexts) > 0 {
			// Alt texts feed the detector alongside the page text.
			body = textnorm.Normalize(body + " " + strings.Join(h.AltTexts, " "))
		}
		ext.HasHiddenDOM = h.HasHiddenElements
		ext.HasSuspiciousScripts = h.HasSuspiciousScripts
		ext.HasBase64Payloads = len(h.Base64Payloads) > 0
		ext.AltTexts = h.AltTexts
		ext.Indicators = h.InjectionIndicators

	case ContentTypeImage:
		res := g.ocr.ExtractText(content)
		ocrText = res.Text
		ext.OCRConfidence = res.Confidence
		ext.HasHiddenText = res.HasHiddenText
		if res.Engine != "tesseract" {
			ext.Degraded = "ocr backend unavailable, simulated engine used"
		}
		v := g.imaging.Analyze(content)
		visual = &v

	case ContentTypePDF:
		// No PDF parser is wired; the raw text is analysed as-is.
		body = textnorm.Normalize(content)
		ext.Degraded = "pdf parsing simulated"

	default:
		return nil, fmt.Errorf("%w: unknown content type %q", ErrInvalidInput, contentType)
	}

	ext.CharCount = len(body)

	rep := g.detector.Detect(body, ocrText, visual)
	verdict := g.scorer.Calculate(safety.ExtractionSignals{
		HiddenText:        ext.HasHiddenText,
		HiddenDOM:         ext.HasHiddenDOM,
		SuspiciousScripts: ext.HasSuspiciousScripts,
	}, rep, md)

	result := &AnalysisResult{
		AnalysisID:        analysisID,
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
		ContentHash:       audit.Hash16(content),
		RawText:           firstN(body, 1000),
		OCRText:           firstN(ocrText, 500),
		VisualFeatures:    visual,
		Extraction:        ext,
		InjectionScore:    rep.InjectionScore,
		InjectionDetected: rep.Detected(),
		FlaggedSegments:   rep.FlaggedSegments,
		RiskCategory:      rep.RiskCategory(),
		SafetyScore:       verdict.SafetyScore,
		RecommendedAction: string(verdict.Action),
		Breakdown:         rep.Breakdown,
		ConfidenceScores:  rep.FamilyScores,
	}

	rec := audit.Record{
		RequestID:       analysisID,
		Timestamp:       result.Timestamp,
		InputHash:       result.ContentHash,
		OutputHash:      audit.Hash16(body),
		InjectionScore:  rep.InjectionScore,
		RiskCategory:    result.RiskCategory,
		ActionTaken:     string(verdict.Action),
		OriginalPrompt:  audit.TruncatePrompt(content),
		SanitizedPrompt: audit.TruncatePrompt(body),
		SafetyScore:     verdict.SafetyScore,
		SafetyAction:    string(verdict.Action),
	}
	if err := g.store.Append(ctx, rec); err != nil {
		slog.Error("audit append failed", "analysis_id", analysisID, "error", err)
	}
	if g.notifier != nil && result.RiskCategory == "Critical" {
		g.notifier.NotifyBlock(ctx, rec)
	}

	slog.Info("analysis complete",
		"analysis_id", analysisID, "risk", result.RiskCategory, "score", rep.InjectionScore)
	return result, nil
}
