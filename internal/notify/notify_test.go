package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ipishield/ipishield/internal/audit"
)

type delivery struct {
	body      []byte
	event     string
	signature string
}

func captureServer(t *testing.T, ch chan delivery) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ch <- delivery{
			body:      body,
			event:     r.Header.Get("X-Shield-Event"),
			signature: r.Header.Get("X-Shield-Signature"),
		}
		w.WriteHeader(http.StatusOK)
	}))
}

func waitDelivery(t *testing.T, ch chan delivery) delivery {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(3 * time.Second):
		t.Fatal("no delivery received")
		return delivery{}
	}
}

func TestDispatcher_DeliversBlockEvent(t *testing.T) {
	ch := make(chan delivery, 1)
	srv := captureServer(t, ch)
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Destinations = []Destination{{Name: "soc", URL: srv.URL, Enabled: true}}
	d := NewDispatcher(cfg)
	defer d.Close()

	rec := audit.Record{RequestID: "req-1", ActionTaken: "BLOCKED", InjectionScore: 58.75, RiskCategory: "Medium"}
	d.NotifyBlock(context.Background(), rec)

	got := waitDelivery(t, ch)
	if got.event != string(EventRequestBlocked) {
		t.Errorf("event header %q, want %q", got.event, EventRequestBlocked)
	}

	var evt Event
	if err := json.Unmarshal(got.body, &evt); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if evt.Record.RequestID != "req-1" || evt.Record.InjectionScore != 58.75 {
		t.Errorf("record not carried: %+v", evt.Record)
	}
	if evt.ID == "" || evt.Timestamp.IsZero() {
		t.Errorf("event id/timestamp not populated: %+v", evt)
	}
}

func TestDispatcher_CriticalEventType(t *testing.T) {
	ch := make(chan delivery, 1)
	srv := captureServer(t, ch)
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Destinations = []Destination{{Name: "soc", URL: srv.URL, Enabled: true}}
	d := NewDispatcher(cfg)
	defer d.Close()

	d.NotifyBlock(context.Background(), audit.Record{RequestID: "req-2", ActionTaken: "PASSED_WITH_WARNING", RiskCategory: "Critical"})

	got := waitDelivery(t, ch)
	if got.event != string(EventCriticalRisk) {
		t.Errorf("event header %q, want %q", got.event, EventCriticalRisk)
	}
}

func TestDispatcher_SignsPayload(t *testing.T) {
	ch := make(chan delivery, 1)
	srv := captureServer(t, ch)
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Destinations = []Destination{{Name: "soc", URL: srv.URL, Secret: "s3cret", Enabled: true}}
	d := NewDispatcher(cfg)
	defer d.Close()

	d.Emit(Event{Type: EventRequestBlocked, Record: audit.Record{RequestID: "req-3"}})

	got := waitDelivery(t, ch)
	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(got.body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if got.signature != want {
		t.Errorf("signature %q, want %q", got.signature, want)
	}
}

func TestDispatcher_EventFilter(t *testing.T) {
	ch := make(chan delivery, 2)
	srv := captureServer(t, ch)
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Destinations = []Destination{{
		Name:    "blocked-only",
		URL:     srv.URL,
		Events:  []EventType{EventRequestBlocked},
		Enabled: true,
	}}
	d := NewDispatcher(cfg)

	d.Emit(Event{Type: EventCriticalRisk, Record: audit.Record{RequestID: "skip"}})
	d.Emit(Event{Type: EventRequestBlocked, Record: audit.Record{RequestID: "keep"}})
	d.Close()

	got := waitDelivery(t, ch)
	var evt Event
	json.Unmarshal(got.body, &evt)
	if evt.Record.RequestID != "keep" {
		t.Errorf("filtered event delivered: %+v", evt)
	}
	select {
	case extra := <-ch:
		t.Errorf("unexpected second delivery: %s", extra.body)
	default:
	}
}

func TestDispatcher_DisabledDestination(t *testing.T) {
	ch := make(chan delivery, 1)
	srv := captureServer(t, ch)
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Destinations = []Destination{{Name: "off", URL: srv.URL, Enabled: false}}
	d := NewDispatcher(cfg)

	d.Emit(Event{Type: EventRequestBlocked})
	d.Close()

	select {
	case got := <-ch:
		t.Errorf("disabled destination received delivery: %s", got.body)
	default:
	}
}

func TestDispatcher_CloseDrainsQueue(t *testing.T) {
	ch := make(chan delivery, 4)
	srv := captureServer(t, ch)
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Destinations = []Destination{{Name: "soc", URL: srv.URL, Enabled: true}}
	d := NewDispatcher(cfg)

	for i := 0; i < 3; i++ {
		d.Emit(Event{Type: EventRequestBlocked, Record: audit.Record{RequestID: "r"}})
	}
	d.Close()

	if len(ch) != 3 {
		t.Errorf("delivered %d events after Close, want 3", len(ch))
	}
}
