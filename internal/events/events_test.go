package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/jmerrifield20/certchain/internal/events"
)

func TestJetStreamPublisher_Publish(t *testing.T) {
	var gotSubject string
	var gotData []byte
	p := events.NewTestPublisher(func(_ context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
		gotSubject = subject
		gotData = data
		if len(opts) != 1 {
			t.Errorf("expected a message-id option, got %d options", len(opts))
		}
		return &jetstream.PubAck{Stream: events.StreamName}, nil
	})

	evt := events.Event{
		Type:        events.TypeIssued,
		ContentHash: "0xabc",
		IssuerRef:   "issuer-1",
		Timestamp:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := p.Publish(context.Background(), evt); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if gotSubject != "certchain.certificates.issued" {
		t.Errorf("subject = %q", gotSubject)
	}
	var decoded events.Event
	if err := json.Unmarshal(gotData, &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded.Type != evt.Type || decoded.ContentHash != evt.ContentHash ||
		decoded.IssuerRef != evt.IssuerRef || !decoded.Timestamp.Equal(evt.Timestamp) {
		t.Errorf("payload = %+v, want %+v", decoded, evt)
	}
}

func TestJetStreamPublisher_error(t *testing.T) {
	boom := errors.New("no responders")
	p := events.NewTestPublisher(func(context.Context, string, []byte, ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
		return nil, boom
	})
	if err := p.Publish(context.Background(), events.Event{Type: events.TypeTampered}); !errors.Is(err, boom) {
		t.Errorf("expected wrapped publish error, got %v", err)
	}
}

func TestNoopPublisher(t *testing.T) {
	p := events.NewNoopPublisher(zap.NewNop())
	if err := p.Publish(context.Background(), events.Event{Type: events.TypeIssued}); err != nil {
		t.Errorf("NoopPublisher.Publish() = %v", err)
	}
}

func TestWebhookPublisher_signsAndDelivers(t *testing.T) {
	var mu sync.Mutex
	var bodies [][]byte
	var sigs []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, body)
		sigs = append(sigs, r.Header.Get(events.SignatureHeader))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	var results []bool
	p := events.NewWebhookPublisher([]string{srv.URL, srv.URL + "/second"}, "hook-secret", zap.NewNop())
	p.SetResultRecorder(func(ok bool) {
		mu.Lock()
		results = append(results, ok)
		mu.Unlock()
	})

	evt := events.Event{Type: events.TypeIssued, ContentHash: "0xabc"}
	if err := p.Publish(context.Background(), evt); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	p.Wait()

	if len(bodies) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(bodies))
	}
	for i, body := range bodies {
		if want := events.Sign(body, "hook-secret"); sigs[i] != want {
			t.Errorf("delivery %d signature = %q, want %q", i, sigs[i], want)
		}
		var decoded events.Event
		if err := json.Unmarshal(body, &decoded); err != nil || decoded.ContentHash != "0xabc" {
			t.Errorf("delivery %d body = %s (%v)", i, body, err)
		}
	}
	if len(results) != 2 || !results[0] || !results[1] {
		t.Errorf("results = %v, want two successes", results)
	}
}

func TestWebhookPublisher_retries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var final atomic.Bool
	p := events.NewWebhookPublisher([]string{srv.URL}, "", zap.NewNop())
	events.SetWebhookDelays(p, 0, time.Millisecond, time.Millisecond)
	p.SetResultRecorder(func(ok bool) { final.Store(ok) })

	if err := p.Publish(context.Background(), events.Event{Type: events.TypeTampered}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	p.Wait()

	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
	if !final.Load() {
		t.Error("expected final delivery to succeed")
	}
}

func TestWebhookPublisher_givesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get(events.SignatureHeader) != "" {
			t.Error("unsigned publisher sent a signature")
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	final := true
	p := events.NewWebhookPublisher([]string{srv.URL}, "", zap.NewNop())
	events.SetWebhookDelays(p, 0, 0)
	p.SetResultRecorder(func(ok bool) { final = ok })

	_ = p.Publish(context.Background(), events.Event{Type: events.TypeIssued})
	p.Wait()

	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
	if final {
		t.Error("expected final delivery to fail")
	}
}

func TestMulti_joinsErrors(t *testing.T) {
	boom := errors.New("broker down")
	failing := events.NewTestPublisher(func(context.Context, string, []byte, ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
		return nil, boom
	})
	var delivered bool
	ok := events.NewTestPublisher(func(context.Context, string, []byte, ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
		delivered = true
		return &jetstream.PubAck{}, nil
	})

	err := events.Multi{failing, ok}.Publish(context.Background(), events.Event{Type: events.TypeIssued})
	if !errors.Is(err, boom) {
		t.Errorf("expected joined broker error, got %v", err)
	}
	if !delivered {
		t.Error("a failing publisher stopped delivery to the next one")
	}
}
