// Package notify delivers webhook alerts for blocked and critical-risk
// requests. Delivery is asynchronous and never blocks the request path.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ipishield/ipishield/internal/audit"
)

// EventType identifies the alert class.
type EventType string

const (
	EventRequestBlocked EventType = "request.blocked"
	EventCriticalRisk   EventType = "risk.critical"
)

// Event is one webhook payload.
type Event struct {
	ID        string       `json:"id"`
	Type      EventType    `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	Record    audit.Record `json:"record"`
}

// Destination is one webhook receiver.
type Destination struct {
	Name    string            `json:"name"`
	URL     string            `json:"url"`
	Secret  string            `json:"secret,omitempty"` // HMAC signing secret
	Events  []EventType       `json:"events"`           // empty = all events
	Enabled bool              `json:"enabled"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Config holds dispatcher configuration.
type Config struct {
	Destinations []Destination `json:"destinations"`
	RetryCount   int           `json:"retry_count"`
	TimeoutSec   int           `json:"timeout_sec"`
	BufferSize   int           `json:"buffer_size"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		RetryCount: 3,
		TimeoutSec: 10,
		BufferSize: 1000,
	}
}

// Dispatcher fans events out to the configured destinations from a
// single background worker.
type Dispatcher struct {
	config    Config
	client    *http.Client
	eventChan chan Event
	wg        sync.WaitGroup
	closed    chan struct{}
}

// NewDispatcher creates a Dispatcher and starts its delivery worker.
func NewDispatcher(cfg Config) *Dispatcher {
	d := &Dispatcher{
		config: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSec) * time.Second,
		},
		eventChan: make(chan Event, cfg.BufferSize),
		closed:    make(chan struct{}),
	}
	d.wg.Add(1)
	go d.worker()
	return d
}

// NotifyBlock implements the gateway notifier hook: blocked requests and
// critical verdicts become webhook events.
func (d *Dispatcher) NotifyBlock(_ context.Context, rec audit.Record) {
	evtType := EventRequestBlocked
	if rec.ActionTaken != "BLOCKED" {
		evtType = EventCriticalRisk
	}
	d.Emit(Event{Type: evtType, Record: rec})
}

// Emit queues an event for delivery. A full buffer drops the event
// rather than stalling the caller.
func (d *Dispatcher) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		event.ID = fmt.Sprintf("evt_%d", time.Now().UnixNano())
	}

	select {
	case d.eventChan <- event:
	default:
		slog.Warn("notify: event buffer full, dropping event", "type", event.Type)
	}
}

// Close stops the dispatcher and drains pending events.
func (d *Dispatcher) Close() {
	close(d.closed)
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case event := <-d.eventChan:
			d.dispatch(event)
		case <-d.closed:
			for {
				select {
				case event := <-d.eventChan:
					d.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) dispatch(event Event) {
	for _, dest := range d.config.Destinations {
		if !dest.Enabled || !matchesEvent(dest.Events, event.Type) {
			continue
		}
		d.send(dest, event)
	}
}

func matchesEvent(filter []EventType, eventType EventType) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == eventType {
			return true
		}
	}
	return false
}

func (d *Dispatcher) send(dest Destination, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("notify: marshal error", "error", err)
		return
	}

	for attempt := 0; attempt <= d.config.RetryCount; attempt++ {
		req, err := http.NewRequest(http.MethodPost, dest.URL, bytes.NewReader(payload))
		if err != nil {
			slog.Error("notify: request error", "dest", dest.Name, "error", err)
			return
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "IPIShield-Webhook/1.0")
		req.Header.Set("X-Shield-Event", string(event.Type))
		req.Header.Set("X-Shield-Delivery", event.ID)

		if dest.Secret != "" {
			req.Header.Set("X-Shield-Signature", "sha256="+signPayload(payload, dest.Secret))
		}
		for k, v := range dest.Headers {
			req.Header.Set(k, v)
		}

		resp, err := d.client.Do(req)
		if err != nil {
			slog.Warn("notify: delivery failed", "dest", dest.Name, "attempt", attempt+1, "error", err)
			if attempt < d.config.RetryCount {
				time.Sleep(time.Duration(attempt+1) * time.Second)
			}
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			slog.Debug("notify: delivered", "dest", dest.Name, "event", event.Type)
			return
		}

		slog.Warn("notify: non-2xx response", "dest", dest.Name, "status", resp.StatusCode, "attempt", attempt+1)
		if attempt < d.config.RetryCount {
			time.Sleep(time.Duration(attempt+1) * time.Second)
		}
	}
}

func signPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
