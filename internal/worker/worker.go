// Package worker provides async document processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-ident/kestrel/internal/analyzer"
	"github.com/opensource-ident/kestrel/internal/domain"
	"github.com/opensource-ident/kestrel/internal/policy"
	"github.com/opensource-ident/kestrel/internal/screening"
)

// Worker processes documents asynchronously from the EventBus.
type Worker struct {
	bus       domain.EventBus
	repo      domain.Repository
	analyzer  *analyzer.Analyzer
	engine    *policy.Engine
	processor *screening.Processor

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all via wildcard if supported)
	TenantIDs []string

	// WorkerCount is the number of concurrent workers per tenant
	WorkerCount int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, a *analyzer.Analyzer, engine *policy.Engine, processor *screening.Processor) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		repo:      repo,
		analyzer:  a,
		engine:    engine,
		processor: processor,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	// Subscribe using a special "global" tenant ID
	// In production, you'd want to subscribe with wildcards or JetStream
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicDocumentIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts workers for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	// Subscribe to document ingested topic
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicDocumentIngested, func(ctx context.Context, msg *domain.Message) error {
		return w.processDocument(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicDocumentIngested,
	)

	return nil
}

// handleMessage handles messages from global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processDocument(ctx, msg.TenantID, msg)
}

// DocumentMessage is the message payload for document processing.
type DocumentMessage struct {
	DocumentID         string         `json:"documentId"`
	TenantID           string         `json:"tenantId"`
	TraceID            string         `json:"traceId"`
	RenterID           string         `json:"renterId"`
	ReservationID      string         `json:"reservationId,omitempty"`
	Source             string         `json:"source,omitempty"`
	Text               string         `json:"text"`
	ResubmissionWindow int            `json:"resubmissionWindow,omitempty"`
	AdditionalData     map[string]any `json:"additionalData,omitempty"`
}

// processDocument screens a document through the pipeline.
func (w *Worker) processDocument(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	// Parse message
	var docMsg DocumentMessage
	if err := json.Unmarshal(msg.Payload, &docMsg); err != nil {
		slog.Error("failed to parse document message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if docMsg.TenantID != "" {
		tenantID = docMsg.TenantID
	}

	traceID := docMsg.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	slog.Debug("processing document",
		"document_id", docMsg.DocumentID,
		"tenant_id", tenantID,
		"trace_id", traceID,
	)

	// 1. Analyze the OCR text
	analyzeStart := time.Now()
	result := w.analyzer.Analyze(docMsg.Text)
	analyzeMs := time.Since(analyzeStart).Milliseconds()

	// 2. Evaluate policies against the analysis
	evalInput := &policy.EvaluateInput{
		TenantID:           tenantID,
		DocumentID:         docMsg.DocumentID,
		RenterID:           docMsg.RenterID,
		Source:             docMsg.Source,
		Analysis:           result,
		ResubmissionWindow: docMsg.ResubmissionWindow,
	}

	if evalInput.ResubmissionWindow == 0 {
		evalInput.ResubmissionWindow = 3600 // Default 1 hour
	}

	policyResults, err := w.engine.EvaluateAll(ctx, evalInput)
	if err != nil {
		slog.Error("policy evaluation failed",
			"document_id", docMsg.DocumentID,
			"error", err,
		)
		return err
	}

	// 3. Produce the screening decision
	decisionInput := &screening.DecisionInput{
		TenantID:      tenantID,
		DocumentID:    docMsg.DocumentID,
		TraceID:       traceID,
		Analysis:      result,
		PolicyResults: policyResults,
		AnalyzeMs:     analyzeMs,
		StartTime:     start,
	}

	scr := w.processor.Process(ctx, decisionInput)

	// 4. Save screening
	if w.repo != nil {
		if err := w.repo.SaveScreening(ctx, tenantID, scr); err != nil {
			slog.Error("failed to save screening",
				"document_id", docMsg.DocumentID,
				"error", err,
			)
		}
	}

	// 5. Publish result to completed topic
	resultPayload, _ := json.Marshal(scr)
	if err := w.bus.Publish(ctx, tenantID, domain.TopicScreeningCompleted, resultPayload); err != nil {
		slog.Error("failed to publish screening",
			"document_id", docMsg.DocumentID,
			"error", err,
		)
	}

	// 6. If alert, publish to alert topic
	if screening.ShouldAlert(scr) {
		if err := w.bus.Publish(ctx, tenantID, domain.TopicScreeningAlert, resultPayload); err != nil {
			slog.Error("failed to publish alert",
				"document_id", docMsg.DocumentID,
				"error", err,
			)
		}
	}

	slog.Info("document processed",
		"document_id", docMsg.DocumentID,
		"tenant_id", tenantID,
		"status", scr.Status,
		"score", scr.Score,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
