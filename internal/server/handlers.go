package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ipishield/ipishield/internal/audit"
	"github.com/ipishield/ipishield/internal/gateway"
	"github.com/ipishield/ipishield/internal/safety"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"detail": fmt.Sprintf(format, args...)})
}

// gatewayError maps pipeline errors onto HTTP statuses.
func gatewayError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gateway.ErrInvalidInput):
		writeError(w, http.StatusUnprocessableEntity, "%v", err)
	case errors.Is(err, gateway.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, "%v", err)
	default:
		writeError(w, http.StatusInternalServerError, "%v", err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodySize))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid request body: %v", err)
		return false
	}
	return true
}

type metadataBody struct {
	Source         string   `json:"source"`
	UserReputation *float64 `json:"user_reputation"`
}

func (m *metadataBody) toSafety() *safety.Metadata {
	if m == nil {
		return nil
	}
	return &safety.Metadata{Source: m.Source, UserReputation: m.UserReputation}
}

type analyzeBody struct {
	Content     string        `json:"content"`
	ContentType string        `json:"content_type"`
	Metadata    *metadataBody `json:"metadata"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var body analyzeBody
	if !decodeBody(w, r, &body) {
		return
	}

	ct, err := gateway.ParseContentType(body.ContentType)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "%v", err)
		return
	}

	res, err := s.gw.Analyze(r.Context(), body.Content, ct, body.Metadata.toSafety())
	if err != nil {
		gatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleAnalyzeFile accepts a multipart upload. Image files are base64
// encoded before entering the pipeline; everything else is analysed as
// raw text.
func (s *Server) handleAnalyzeFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(MaxBodySize); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid multipart form: %v", err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "missing file field: %v", err)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, MaxBodySize))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read upload: %v", err)
		return
	}

	ct := fileContentType(header.Header.Get("Content-Type"), header.Filename, r.FormValue("content_type"))

	content := string(data)
	if ct == gateway.ContentTypeImage {
		content = base64.StdEncoding.EncodeToString(data)
	}

	res, err := s.gw.Analyze(r.Context(), content, ct, nil)
	if err != nil {
		gatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// fileContentType picks the extraction channel for an upload: explicit
// form value first, then MIME type, then file extension.
func fileContentType(mime, filename, explicit string) gateway.ContentType {
	if ct, err := gateway.ParseContentType(explicit); err == nil && explicit != "" {
		return ct
	}
	switch {
	case strings.HasPrefix(mime, "image/"):
		return gateway.ContentTypeImage
	case strings.Contains(mime, "html"):
		return gateway.ContentTypeHTML
	case strings.Contains(mime, "pdf"):
		return gateway.ContentTypePDF
	}
	lower := strings.ToLower(filename)
	switch {
	case hasAnySuffix(lower, ".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp"):
		return gateway.ContentTypeImage
	case hasAnySuffix(lower, ".html", ".htm"):
		return gateway.ContentTypeHTML
	case hasAnySuffix(lower, ".pdf"):
		return gateway.ContentTypePDF
	}
	return gateway.ContentTypeText
}

func hasAnySuffix(s string, suffixes ...string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

type sanitizeBody struct {
	Content           string   `json:"content"`
	Mode              string   `json:"mode"`
	CustomPatterns    []string `json:"custom_patterns"`
	PreserveSemantics *bool    `json:"preserve_semantics"` // default true
}

func (s *Server) sanitizeRequest(body sanitizeBody) gateway.SanitizeRequest {
	mode := body.Mode
	if mode == "" {
		mode = s.defaultMode
	}
	patterns := body.CustomPatterns
	if len(patterns) == 0 {
		patterns = s.defaultPatterns
	}
	preserve := true
	if body.PreserveSemantics != nil {
		preserve = *body.PreserveSemantics
	}
	return gateway.SanitizeRequest{
		Content:           body.Content,
		Mode:              mode,
		CustomPatterns:    patterns,
		PreserveSemantics: preserve,
	}
}

func (s *Server) handleSanitize(w http.ResponseWriter, r *http.Request) {
	var body sanitizeBody
	if !decodeBody(w, r, &body) {
		return
	}

	res, err := s.gw.Sanitize(s.sanitizeRequest(body))
	if err != nil {
		gatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type batchSanitizeBody struct {
	Requests []sanitizeBody `json:"requests"`
}

func (s *Server) handleSanitizeBatch(w http.ResponseWriter, r *http.Request) {
	var body batchSanitizeBody
	if !decodeBody(w, r, &body) {
		return
	}
	if len(body.Requests) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "empty batch")
		return
	}

	results := make([]*gateway.SanitizeResult, 0, len(body.Requests))
	for i, item := range body.Requests {
		res, err := s.gw.Sanitize(s.sanitizeRequest(item))
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "item %d: %v", i, err)
			return
		}
		results = append(results, res)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total":   len(results),
		"results": results,
	})
}

type proxyBody struct {
	Prompt           string   `json:"prompt"`
	SystemMessage    string   `json:"system_message"`
	Model            string   `json:"model"`
	MaxTokens        int      `json:"max_tokens"`
	Temperature      *float64 `json:"temperature"` // default 0.7
	SanitizationMode string   `json:"sanitization_mode"`
}

func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	var body proxyBody
	if !decodeBody(w, r, &body) {
		return
	}

	temperature := 0.7
	if body.Temperature != nil {
		temperature = *body.Temperature
	}
	mode := body.SanitizationMode
	if mode == "" {
		mode = s.defaultMode
	}

	res, err := s.gw.Proxy(r.Context(), gateway.ProxyRequest{
		Prompt:           body.Prompt,
		SystemMessage:    body.SystemMessage,
		Model:            body.Model,
		MaxTokens:        body.MaxTokens,
		Temperature:      temperature,
		SanitizationMode: mode,
	})
	if err != nil {
		gatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	rec, err := s.gw.Store().Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			writeError(w, http.StatusNotFound, "report %s not found", r.PathValue("id"))
			return
		}
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleReportHTML(w http.ResponseWriter, r *http.Request) {
	rec, err := s.gw.Store().Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			writeError(w, http.StatusNotFound, "report %s not found", r.PathValue("id"))
			return
		}
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(rec.ReportHTML()))
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusUnprocessableEntity, "invalid limit %q", v)
			return
		}
		limit = n
	}

	recs, err := s.gw.Store().List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}

	reports := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		reports = append(reports, map[string]any{
			"analysis_id":     rec.RequestID,
			"timestamp":       rec.Timestamp,
			"risk_category":   rec.RiskCategory,
			"injection_score": rec.InjectionScore,
			"action_taken":    rec.ActionTaken,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total":   len(reports),
		"limit":   limit,
		"reports": reports,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gw.Stats())
}
