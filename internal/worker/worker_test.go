package worker

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-ident/kestrel/internal/analyzer"
	"github.com/opensource-ident/kestrel/internal/bus"
	"github.com/opensource-ident/kestrel/internal/domain"
	"github.com/opensource-ident/kestrel/internal/policy"
	"github.com/opensource-ident/kestrel/internal/screening"
)

const passportText = `RÉPUBLIQUE FRANÇAISE
PASSEPORT
NOM: DUPONT
PRÉNOM: JEAN
NATIONALITÉ: FRANÇAISE
NÉ LE 10/02/1990
EXPIRE LE 20/05/2099
P<FRADUPONT<<JEAN<<<<<<<<<<<<<<<<<<<<<<<<<<<`

func TestWorker(t *testing.T) {
	// Create channel bus
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	// Create analyzer and policy engine with a test policy
	a := analyzer.New(domain.AnalyzerConfig{DateFormat: "02/01/2006"})

	engine, _ := policy.NewEngine(nil, 5)
	engine.LoadPolicies([]*domain.PolicyConfig{
		{
			ID:         "low-score-review",
			Name:       "Low Score Review",
			Expression: "score < 40",
			Action:     domain.ActionReview,
			Reason:     "Score below review threshold",
			Enabled:    true,
		},
	})

	// Create processor
	processor := screening.NewProcessor()

	// Create worker
	worker := NewWorker(eventBus, nil, a, engine, processor)

	t.Run("StartAndStop", func(t *testing.T) {
		cfg := Config{
			TenantIDs:   []string{"tenant-001"},
			WorkerCount: 1,
		}

		err := worker.Start(cfg)
		if err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := worker.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}

		err = worker.Stop()
		if err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		stats = worker.GetStats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessDocument", func(t *testing.T) {
		// Create fresh worker for this test
		w := NewWorker(eventBus, nil, a, engine, processor)

		cfg := Config{
			TenantIDs: []string{"tenant-test"},
		}
		w.Start(cfg)
		defer w.Stop()

		// Track screening results
		var screeningReceived atomic.Bool
		var screeningPayload []byte

		eventBus.Subscribe(context.Background(), "tenant-test", domain.TopicScreeningCompleted, func(ctx context.Context, msg *domain.Message) error {
			screeningPayload = msg.Payload
			screeningReceived.Store(true)
			return nil
		})

		// Allow subscriptions to be active
		time.Sleep(50 * time.Millisecond)

		// Publish a document
		docMsg := DocumentMessage{
			DocumentID: "doc-001",
			TenantID:   "tenant-test",
			TraceID:    "trace-001",
			RenterID:   "renter-001",
			Source:     "mobile-app",
			Text:       passportText,
		}

		payload, _ := json.Marshal(docMsg)
		err := eventBus.Publish(context.Background(), "tenant-test", domain.TopicDocumentIngested, payload)
		if err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		// Wait for processing
		time.Sleep(100 * time.Millisecond)

		if !screeningReceived.Load() {
			t.Error("expected screening to be published")
		}

		if screeningPayload != nil {
			var scr domain.Screening
			if err := json.Unmarshal(screeningPayload, &scr); err != nil {
				t.Fatalf("failed to parse screening: %v", err)
			}

			if scr.DocumentID != "doc-001" {
				t.Errorf("expected documentID 'doc-001', got '%s'", scr.DocumentID)
			}
			if scr.TenantID != "tenant-test" {
				t.Errorf("expected tenantID 'tenant-test', got '%s'", scr.TenantID)
			}
			if scr.Metadata.TraceID != "trace-001" {
				t.Errorf("expected traceID 'trace-001', got '%s'", scr.Metadata.TraceID)
			}
			if scr.Status != domain.StatusApproved {
				t.Errorf("expected clean passport to be approved, got '%s'", scr.Status)
			}
		}
	})

	t.Run("AlertPublished", func(t *testing.T) {
		w := NewWorker(eventBus, nil, a, engine, processor)

		cfg := Config{
			TenantIDs: []string{"tenant-alert"},
		}
		w.Start(cfg)
		defer w.Stop()

		// Track alerts
		var alertReceived atomic.Bool

		eventBus.Subscribe(context.Background(), "tenant-alert", domain.TopicScreeningAlert, func(ctx context.Context, msg *domain.Message) error {
			alertReceived.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		// Publish a document with nothing official about it
		docMsg := DocumentMessage{
			DocumentID: "doc-alert",
			TenantID:   "tenant-alert",
			RenterID:   "renter-002",
			Text:       "FACTURE EDF MONTANT 42 EUROS",
		}

		payload, _ := json.Marshal(docMsg)
		eventBus.Publish(context.Background(), "tenant-alert", domain.TopicDocumentIngested, payload)

		time.Sleep(100 * time.Millisecond)

		if !alertReceived.Load() {
			t.Error("expected alert to be published for suspicious document")
		}
	})

	t.Run("MultiTenant", func(t *testing.T) {
		w := NewWorker(eventBus, nil, a, engine, processor)

		cfg := Config{
			TenantIDs: []string{"tenant-a", "tenant-b"},
		}
		w.Start(cfg)
		defer w.Stop()

		stats := w.GetStats()
		if stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions for 2 tenants, got %d", stats.SubscriptionCount)
		}
	})
}

func TestDocumentMessageParsing(t *testing.T) {
	msg := DocumentMessage{
		DocumentID:         "doc-123",
		TenantID:           "tenant-001",
		TraceID:            "trace-456",
		RenterID:           "renter-001",
		ReservationID:      "resv-789",
		Source:             "mobile-app",
		Text:               "PASSEPORT",
		ResubmissionWindow: 7200,
		AdditionalData:     map[string]any{"key": "value"},
	}

	// Marshal and unmarshal
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var parsed DocumentMessage
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if parsed.DocumentID != msg.DocumentID {
		t.Errorf("expected DocumentID '%s', got '%s'", msg.DocumentID, parsed.DocumentID)
	}
	if parsed.Text != msg.Text {
		t.Errorf("expected Text '%s', got '%s'", msg.Text, parsed.Text)
	}
	if parsed.ResubmissionWindow != msg.ResubmissionWindow {
		t.Errorf("expected ResubmissionWindow %d, got %d", msg.ResubmissionWindow, parsed.ResubmissionWindow)
	}
}
