package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestSetup_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("warn", &buf)

	logger.Info("hidden")
	logger.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info line emitted at warn level")
	}
	if !strings.Contains(out, "visible") {
		t.Error("warn line missing")
	}
}

func TestSetup_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("info", &buf)

	logger.Info("test message", "key", "value")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output not JSON: %v", err)
	}
	if entry["msg"] != "test message" || entry["key"] != "value" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestRequestEvent_Log(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("info", &buf)

	RequestEvent{
		Action:         "proxy",
		RequestID:      "req-9",
		InjectionScore: 61.5,
		RiskCategory:   "High",
		ActionTaken:    "SCRUBBED",
		Path:           "/proxy_llm",
		Method:         "POST",
		StatusCode:     200,
	}.Log(logger)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output not JSON: %v", err)
	}
	if entry["request_id"] != "req-9" || entry["risk_category"] != "High" {
		t.Errorf("fields missing: %v", entry)
	}
	if entry["injection_score"] != 61.5 {
		t.Errorf("score %v, want 61.5", entry["injection_score"])
	}
}

func TestRequestEvent_OmitsEmptyFields(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("info", &buf)

	RequestEvent{Action: "health", Method: "GET", Path: "/health", StatusCode: 200}.Log(logger)

	out := buf.String()
	if strings.Contains(out, "risk_category") || strings.Contains(out, "injection_score") {
		t.Errorf("empty fields emitted: %s", out)
	}
}
