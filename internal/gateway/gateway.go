// Package gateway orchestrates the protection pipeline: analyse the
// prompt, sanitise when a threat is detected, block or forward to the
// downstream model, and audit every terminal state.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ipishield/ipishield/internal/audit"
	"github.com/ipishield/ipishield/internal/detector"
	"github.com/ipishield/ipishield/internal/htmlx"
	"github.com/ipishield/ipishield/internal/imaging"
	"github.com/ipishield/ipishield/internal/ocr"
	"github.com/ipishield/ipishield/internal/safety"
	"github.com/ipishield/ipishield/internal/sanitizer"
)

// Error kinds surfaced to callers. Backend-unavailable conditions are
// handled internally and never reach this level.
var (
	ErrInvalidInput = errors.New("gateway: invalid input")
	ErrTimeout      = errors.New("gateway: deadline exceeded")
	ErrInternal     = errors.New("gateway: internal error")
)

// Orchestrator action tags written to audit records.
const (
	ActionPassed            = "PASSED"
	ActionPassedWithWarning = "PASSED_WITH_WARNING"
	ActionScrubbed          = "SCRUBBED"
	ActionBlocked           = "BLOCKED"
)

// Notifier receives high-risk events. Implementations must not block the
// request path.
type Notifier interface {
	NotifyBlock(ctx context.Context, rec audit.Record)
}

// Option configures the Gateway.
type Option func(*Gateway)

// WithStore sets the audit store. Defaults to an in-memory store.
func WithStore(s audit.Store) Option {
	return func(g *Gateway) { g.store = s }
}

// WithLLM sets the downstream model client. Defaults to the mock client.
func WithLLM(llm LLM) Option {
	return func(g *Gateway) { g.llm = llm }
}

// WithNotifier adds block notifications.
func WithNotifier(n Notifier) Option {
	return func(g *Gateway) { g.notifier = n }
}

// WithOCREngine overrides the OCR engine (tests use the simulated one).
func WithOCREngine(e *ocr.Engine) Option {
	return func(g *Gateway) { g.ocr = e }
}

// Gateway is the protection pipeline. Safe for concurrent use; the only
// mutable state is the stats counters and the append-only audit store.
type Gateway struct {
	detector  *detector.Detector
	sanitizer *sanitizer.Sanitizer
	scorer    *safety.Scorer
	html      *htmlx.Extractor
	ocr       *ocr.Engine
	imaging   *imaging.Analyzer
	store     audit.Store
	llm       LLM
	notifier  Notifier

	mu    sync.Mutex
	stats statsCounters
}

type statsCounters struct {
	total     int64
	detected  int64
	blocked   int64
	sanitized int64
	passed    int64
	scoreSum  float64
}

// Stats is a point-in-time snapshot of the gateway counters.
type Stats struct {
	TotalRequests         int64   `json:"total_requests"`
	ThreatsDetected       int64   `json:"threats_detected"`
	RequestsBlocked       int64   `json:"requests_blocked"`
	RequestsSanitized     int64   `json:"requests_sanitized"`
	RequestsPassed        int64   `json:"requests_passed"`
	AverageInjectionScore float64 `json:"average_injection_score"`
	LastUpdated           string  `json:"last_updated"`
}

// New creates a Gateway wired to the default engines.
func New(opts ...Option) *Gateway {
	g := &Gateway{
		detector:  detector.New(),
		sanitizer: sanitizer.New(),
		scorer:    safety.New(),
		html:      htmlx.New(),
		ocr:       ocr.New(),
		imaging:   imaging.New(),
		store:     audit.NewMemoryStore(),
		llm:       NewMockLLM(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Store exposes the audit store for the HTTP report endpoints.
func (g *Gateway) Store() audit.Store {
	return g.store
}

// ProxyRequest is one guarded LLM call.
type ProxyRequest struct {
	Prompt           string  `json:"prompt"`
	SystemMessage    string  `json:"system_message,omitempty"`
	Model            string  `json:"model"`
	MaxTokens        int     `json:"max_tokens"`
	Temperature      float64 `json:"temperature"`
	SanitizationMode string  `json:"sanitization_mode"`
}

// ProxyResult is the complete proxy outcome, including the audit entry.
type ProxyResult struct {
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`

	InjectionDetected bool     `json:"injection_detected"`
	InjectionScore    float64  `json:"injection_score"`
	RiskCategory      string   `json:"risk_category"`
	FlaggedPatterns   []string `json:"flagged_patterns"`

	WasSanitized       bool   `json:"was_sanitized"`
	SanitizationAction string `json:"sanitization_action"`
	OriginalPrompt     string `json:"original_prompt"`  // first 500 chars
	SanitizedPrompt    string `json:"sanitized_prompt"` // first 500 chars

	LLMResponse string `json:"llm_response"`
	ModelUsed   string `json:"model_used"`

	AuditLog       audit.Record `json:"audit_log"`
	ComplianceTags []string     `json:"compliance_tags"`
}

// Proxy runs the full state machine for one request. The audit record is
// written on every terminal state, including error and timeout paths.
func (g *Gateway) Proxy(ctx context.Context, req ProxyRequest) (*ProxyResult, error) {
	requestID := uuid.NewString()

	if req.Prompt == "" {
		g.auditError(ctx, requestID, req.Prompt, "InvalidInput")
		return nil, fmt.Errorf("%w: empty prompt", ErrInvalidInput)
	}
	if req.Temperature < 0 || req.Temperature > 2 {
		g.auditError(ctx, requestID, req.Prompt, "InvalidInput")
		return nil, fmt.Errorf("%w: temperature %.2f outside [0, 2]", ErrInvalidInput, req.Temperature)
	}
	mode, err := sanitizer.ParseMode(req.SanitizationMode)
	if err != nil {
		g.auditError(ctx, requestID, req.Prompt, "InvalidInput")
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if req.Model == "" {
		req.Model = "gpt-4-simulated"
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = 1000
	}

	slog.Info("proxy request", "request_id", requestID, "mode", mode)

	// ANALYSE
	rep := g.detector.Detect(req.Prompt, "", nil)
	detected := rep.Detected()
	risk := rep.RiskCategory()
	patterns := uniqueFamilies(rep.FlaggedSegments)

	// SANITISE / gate
	sanitized := req.Prompt
	wasSanitized := false
	action := ActionPassed

	if detected {
		res := g.sanitizer.Sanitize(req.Prompt, mode, nil, true)
		switch {
		case mode == sanitizer.ModeStrict && rep.InjectionScore >= detector.StrictBlockThreshold:
			action = ActionBlocked
		case len(res.Modifications) > 0:
			sanitized = res.SanitizedBody
			wasSanitized = true
			action = ActionScrubbed
		default:
			action = ActionPassedWithWarning
		}
	}

	// FORWARD or BLOCKED_RESPONSE
	var llmResponse string
	if action == ActionBlocked {
		llmResponse = fmt.Sprintf("[REQUEST BLOCKED]\n"+
			"This request was blocked by IPI Shield due to detected prompt injection patterns.\n"+
			"Risk Score: %.2f/100\nRisk Category: %s\n"+
			"Please review your input and remove any suspicious content.",
			rep.InjectionScore, risk)
	} else {
		llmResponse, err = g.llm.Complete(ctx, CompletionRequest{
			Prompt:        sanitized,
			SystemMessage: req.SystemMessage,
			Model:         req.Model,
			MaxTokens:     req.MaxTokens,
			Temperature:   req.Temperature,
		})
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				g.writeAudit(ctx, requestID, req.Prompt, sanitized, "", rep, safety.Verdict{}, ActionBlocked, "Timeout", nil)
				g.record(rep.InjectionScore, detected, ActionBlocked, wasSanitized)
				return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
			}
			g.writeAudit(ctx, requestID, req.Prompt, sanitized, "", rep, safety.Verdict{}, ActionBlocked, "Internal", nil)
			g.record(rep.InjectionScore, detected, ActionBlocked, wasSanitized)
			return nil, fmt.Errorf("%w: %v", ErrInternal, err)
		}
	}

	verdict := g.scorer.Calculate(safety.ExtractionSignals{}, rep, nil)
	tags := complianceTags(rep.InjectionScore, wasSanitized, action)

	rec := g.writeAudit(ctx, requestID, req.Prompt, sanitized, llmResponse, rep, verdict, action, "", tags)
	g.record(rep.InjectionScore, detected, action, wasSanitized)

	slog.Info("proxy request complete",
		"request_id", requestID, "injection_detected", detected, "action", action)

	return &ProxyResult{
		RequestID:          requestID,
		Timestamp:          rec.Timestamp,
		InjectionDetected:  detected,
		InjectionScore:     rep.InjectionScore,
		RiskCategory:       risk,
		FlaggedPatterns:    patterns,
		WasSanitized:       wasSanitized,
		SanitizationAction: action,
		OriginalPrompt:     firstN(req.Prompt, 500),
		SanitizedPrompt:    firstN(sanitized, 500),
		LLMResponse:        llmResponse,
		ModelUsed:          req.Model,
		AuditLog:           rec,
		ComplianceTags:     tags,
	}, nil
}

// writeAudit assembles and appends the audit record, firing the block
// notifier when relevant. Append failures are logged, never propagated:
// the verdict stands even if the store is unreachable.
func (g *Gateway) writeAudit(ctx context.Context, requestID, original, sanitized, response string,
	rep detector.Report, verdict safety.Verdict, action, errorKind string, tags []string) audit.Record {

	rec := audit.Record{
		RequestID:       requestID,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		InputHash:       audit.Hash16(original),
		OutputHash:      audit.Hash16(response),
		InjectionScore:  rep.InjectionScore,
		RiskCategory:    rep.RiskCategory(),
		ActionTaken:     action,
		OriginalPrompt:  audit.TruncatePrompt(original),
		SanitizedPrompt: audit.TruncatePrompt(sanitized),
		SafetyScore:     verdict.SafetyScore,
		SafetyAction:    string(verdict.Action),
		ComplianceTags:  tags,
		ErrorKind:       errorKind,
	}
	if err := g.store.Append(ctx, rec); err != nil {
		slog.Error("audit append failed", "request_id", requestID, "error", err)
	}
	if g.notifier != nil && (action == ActionBlocked || rec.RiskCategory == "Critical") {
		g.notifier.NotifyBlock(ctx, rec)
	}
	return rec
}

func (g *Gateway) auditError(ctx context.Context, requestID, prompt, kind string) {
	g.writeAudit(ctx, requestID, prompt, prompt, "", detector.Report{}, safety.Verdict{}, ActionBlocked, kind, nil)
}

func (g *Gateway) record(score float64, detected bool, action string, wasSanitized bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stats.total++
	g.stats.scoreSum += score
	if detected {
		g.stats.detected++
	}
	switch action {
	case ActionBlocked:
		g.stats.blocked++
	default:
		g.stats.passed++
	}
	if wasSanitized {
		g.stats.sanitized++
	}
}

// Stats snapshots the gateway counters.
func (g *Gateway) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	avg := 0.0
	if g.stats.total > 0 {
		avg = g.stats.scoreSum / float64(g.stats.total)
	}
	return Stats{
		TotalRequests:         g.stats.total,
		ThreatsDetected:       g.stats.detected,
		RequestsBlocked:       g.stats.blocked,
		RequestsSanitized:     g.stats.sanitized,
		RequestsPassed:        g.stats.passed,
		AverageInjectionScore: avg,
		LastUpdated:           time.Now().UTC().Format(time.RFC3339),
	}
}

func complianceTags(score float64, wasSanitized bool, action string) []string {
	var tags []string
	if score < detector.DetectionThreshold {
		tags = append(tags, "ISO42001_COMPLIANT")
	}
	if wasSanitized {
		tags = append(tags, "NIST_AI_RMF_SANITIZED")
	}
	if action != ActionBlocked {
		tags = append(tags, "SOCI_PASS")
	}
	return append(tags, "AUDIT_TRAIL_COMPLETE")
}

func uniqueFamilies(segments []detector.Segment) []string {
	seen := make(map[detector.Family]bool)
	out := []string{}
	for _, s := range segments {
		if !seen[s.Family] {
			seen[s.Family] = true
			out = append(out, string(s.Family))
		}
	}
	return out
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
