package gateway

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ipishield/ipishield/internal/sanitizer"
)

// SanitizeRequest is one sanitisation job.
type SanitizeRequest struct {
	Content           string   `json:"content"`
	Mode              string   `json:"mode"`
	CustomPatterns    []string `json:"custom_patterns,omitempty"`
	PreserveSemantics bool     `json:"preserve_semantics"`
}

// SanitizeResult pairs the rewritten content with a before/after risk
// comparison.
type SanitizeResult struct {
	SanitizationID string `json:"sanitization_id"`
	Timestamp      string `json:"timestamp"`
	Mode           string `json:"mode"`

	OriginalContent  string `json:"original_content"` // first 500 chars
	SanitizedContent string `json:"sanitized_content"`

	SegmentsModified  int                            `json:"segments_modified"`
	SanitizedSegments []sanitizer.ModificationRecord `json:"sanitized_segments"`

	OriginalRiskScore         float64 `json:"original_risk_score"`
	PostSanitizationRiskScore float64 `json:"post_sanitization_risk_score"`
	RiskReduction             float64 `json:"risk_reduction"`

	ActionTaken string   `json:"action_taken"` // BLOCKED, SCRUBBED, WARNED, PASSED
	Warnings    []string `json:"warnings"`
}

// Sanitize rewrites content and reports the risk reduction achieved.
func (g *Gateway) Sanitize(req SanitizeRequest) (*SanitizeResult, error) {
	if req.Content == "" {
		return nil, fmt.Errorf("%w: empty content", ErrInvalidInput)
	}
	mode, err := sanitizer.ParseMode(req.Mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	sanitizationID := uuid.NewString()
	slog.Info("sanitisation start", "sanitization_id", sanitizationID, "mode", mode)

	before := g.detector.Detect(req.Content, "", nil)
	res := g.sanitizer.Sanitize(req.Content, mode, req.CustomPatterns, req.PreserveSemantics)
	after := g.detector.Detect(res.SanitizedBody, "", nil)

	reduction := before.InjectionScore - after.InjectionScore
	if reduction < 0 {
		reduction = 0
	}

	var action string
	switch {
	case mode == sanitizer.ModeStrict && before.InjectionScore >= 40:
		action = "BLOCKED"
	case mode == sanitizer.ModeBalanced && len(res.Modifications) > 0:
		action = "SCRUBBED"
	case mode == sanitizer.ModePermissive && before.InjectionScore >= 40:
		action = "WARNED"
	default:
		action = "PASSED"
	}

	slog.Info("sanitisation complete", "sanitization_id", sanitizationID,
		"action", action, "risk_before", before.InjectionScore, "risk_after", after.InjectionScore)

	return &SanitizeResult{
		SanitizationID:            sanitizationID,
		Timestamp:                 time.Now().UTC().Format(time.RFC3339),
		Mode:                      string(mode),
		OriginalContent:           firstN(req.Content, 500),
		SanitizedContent:          res.SanitizedBody,
		SegmentsModified:          len(res.Modifications),
		SanitizedSegments:         res.Modifications,
		OriginalRiskScore:         before.InjectionScore,
		PostSanitizationRiskScore: after.InjectionScore,
		RiskReduction:             reduction,
		ActionTaken:               action,
		Warnings:                  res.Warnings,
	}, nil
}
