package syncworker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rakunlabs/kaizen/internal/config"
	"github.com/rakunlabs/kaizen/internal/facade"
	"github.com/rakunlabs/kaizen/internal/kschema"
	"github.com/rakunlabs/kaizen/internal/store"
	"github.com/rakunlabs/kaizen/internal/tips"
	"github.com/worldline-go/hardloop"
	"golang.org/x/oauth2/clientcredentials"
)

// Result aggregates one sync run's outcome. A single bad span is recorded
// in Errors and does not abort the run.
type Result struct {
	Processed     int
	Skipped       int
	TipsGenerated int
	Errors        []string
}

// Worker periodically fetches spans, converts them into trajectories, and
// drives tip generation, persisting both through the facade. Grounded on
// kaizen/sync/phoenix_sync.py's PhoenixSync.
type Worker struct {
	cfg     config.Sync
	fetcher Fetcher
	facade  *facade.Facade
	tipGen  *tips.Generator
	alerter *emailAlerter
}

// New builds a Worker from cfg. alerter is nil when cfg.AlertEmail is unset.
func New(cfg config.Sync, f *facade.Facade, tipGen *tips.Generator) (*Worker, error) {
	var tokenSource *clientcredentials.Config
	if cfg.OAuth2 != nil {
		tokenSource = &clientcredentials.Config{
			ClientID:     cfg.OAuth2.ClientID,
			ClientSecret: cfg.OAuth2.ClientSecret,
			TokenURL:     cfg.OAuth2.TokenURL,
			Scopes:       cfg.OAuth2.Scopes,
		}
	}

	fetcher, err := NewHTTPFetcher(cfg.BaseURL, cfg.BearerToken, tokenSource)
	if err != nil {
		return nil, err
	}

	var alerter *emailAlerter
	if cfg.AlertEmail != nil {
		alerter = newEmailAlerter(*cfg.AlertEmail)
	}

	return &Worker{cfg: cfg, fetcher: fetcher, facade: f, tipGen: tipGen, alerter: alerter}, nil
}

// Run performs one sync pass: fetch, filter, dedupe, extract, clean,
// persist, learn. It never returns an error for a per-span failure — those
// accumulate in the returned Result.Errors — only for conditions that make
// the whole run meaningless (namespace access failure, fetch failure).
func (w *Worker) Run(ctx context.Context) (Result, error) {
	var result Result

	if _, err := w.facade.EnsureNamespace(ctx, w.cfg.Namespace); err != nil {
		return result, fmt.Errorf("ensure sync namespace: %w", err)
	}

	spans, err := FetchAll(ctx, w.fetcher, w.cfg.Project, w.cfg.PageSize)
	if err != nil {
		return result, err
	}

	processedIDs, err := w.loadProcessedSpanIDs(ctx)
	if err != nil {
		return result, fmt.Errorf("load processed span ids: %w", err)
	}

	for _, span := range spans {
		if !w.shouldProcess(span, processedIDs) {
			result.Skipped++
			continue
		}

		tipsGenerated, err := w.processSpan(ctx, span)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("span %s: %v", span.SpanID, err))
			continue
		}

		result.Processed++
		result.TipsGenerated += tipsGenerated
	}

	if w.alerter != nil && len(result.Errors) >= w.cfg.AlertThreshold {
		if err := w.alerter.send(ctx, w.cfg.Namespace, result); err != nil {
			slog.Error("sync: failed to send alert email", "error", err)
		}
	}

	return result, nil
}

// shouldProcess applies the filter + dedupe steps: keep only spans whose
// name matches the configured LLM-request span name, drop error-status
// spans unless explicitly included, drop spans lacking any prompt
// attribute, and skip span ids already recorded as trajectories.
func (w *Worker) shouldProcess(span Span, processedIDs map[string]bool) bool {
	if span.Name != w.cfg.SpanName {
		return false
	}
	if span.StatusCode == "ERROR" && !w.cfg.IncludeErrorSpans {
		return false
	}
	if processedIDs[span.SpanID] {
		return false
	}

	hasPrompt := false
	for key := range span.Attributes {
		if len(key) > len("gen_ai.prompt.") && key[:len("gen_ai.prompt.")] == "gen_ai.prompt." {
			hasPrompt = true
			break
		}
	}
	return hasPrompt
}

// loadProcessedSpanIDs reads span_id out of every persisted trajectory
// entity's metadata in the sync namespace, so a rerun doesn't reprocess
// the same span. A NamespaceNotFoundError (the namespace does not exist,
// so nothing has been recorded in it) is treated as an empty set; any
// other search failure is returned.
func (w *Worker) loadProcessedSpanIDs(ctx context.Context) (map[string]bool, error) {
	entities, err := w.facade.SearchEntities(ctx, w.cfg.Namespace, store.Filter{
		Type:  kschema.EntityTypeTrajectory,
		Limit: 10000,
	})
	if err != nil {
		var notFound *kschema.NamespaceNotFoundError
		if errors.As(err, &notFound) {
			return map[string]bool{}, nil
		}
		return nil, err
	}

	ids := make(map[string]bool, len(entities))
	for _, e := range entities {
		if spanID, ok := e.Metadata["span_id"].(string); ok {
			ids[spanID] = true
		}
	}
	return ids, nil
}

// processSpan converts one span into a persisted trajectory entity and
// any tips C9 derives from it.
func (w *Worker) processSpan(ctx context.Context, span Span) (int, error) {
	messages := extractMessages(span.Attributes)
	messages = expandToolResults(messages)
	messages = cleanMessages(messages)

	if len(messages) == 0 {
		return 0, fmt.Errorf("span produced no usable messages")
	}

	if _, err := w.facade.UpdateEntities(ctx, w.cfg.Namespace, []kschema.Entity{{
		Type:    kschema.EntityTypeTrajectory,
		Content: messages,
		Metadata: map[string]any{
			"trace_id":      span.TraceID,
			"span_id":       span.SpanID,
			"model":         span.Model,
			"timestamp":     span.Timestamp.Format(time.RFC3339),
			"message_count": len(messages),
			"usage":         span.Usage,
		},
	}}, false); err != nil {
		return 0, fmt.Errorf("persist trajectory: %w", err)
	}

	genResult, err := w.tipGen.Generate(ctx, messages)
	if err != nil {
		return 0, fmt.Errorf("generate tips: %w", err)
	}
	if len(genResult.Tips) == 0 {
		return 0, nil
	}

	guidelines := make([]kschema.Entity, len(genResult.Tips))
	for i, tip := range genResult.Tips {
		guidelines[i] = kschema.Entity{
			Type:    kschema.EntityTypeGuideline,
			Content: tip.Content,
			Metadata: map[string]any{
				"rationale":        tip.Rationale,
				"category":         tip.Category,
				"trigger":          tip.Trigger,
				"task_description": genResult.TaskDescription,
				"source_trace_id":  span.TraceID,
				"source_span_id":   span.SpanID,
			},
		}
	}

	if _, err := w.facade.UpdateEntities(ctx, w.cfg.Namespace, guidelines, true); err != nil {
		return 0, fmt.Errorf("persist guidelines: %w", err)
	}

	return len(genResult.Tips), nil
}

// StartScheduled runs Run on cfg.Schedule's cron spec until ctx is
// cancelled, the same hardloop wiring the workflow scheduler uses.
func (w *Worker) StartScheduled(ctx context.Context) error {
	cron, err := hardloop.NewCron(hardloop.Cron{
		Name:  "kaizen-sync",
		Specs: []string{w.cfg.Schedule},
		Func: func(ctx context.Context) error {
			result, err := w.Run(ctx)
			if err != nil {
				slog.Error("sync: run failed", "error", err)
				return nil
			}
			slog.Info("sync: run complete",
				"processed", result.Processed,
				"skipped", result.Skipped,
				"tips_generated", result.TipsGenerated,
				"errors", len(result.Errors))
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("create sync cron: %w", err)
	}

	return cron.Start(ctx)
}
