// Package pipeline drives leads through their processing stages. Each stage
// consumes a task from the queue, does its work, and chains the next stage
// by enqueueing a follow-up task once its own writes commit.
package pipeline

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadforge/internal/enrich"
	"github.com/sells-group/leadforge/internal/model"
	"github.com/sells-group/leadforge/internal/queue"
	"github.com/sells-group/leadforge/internal/store"
)

// Enricher produces the consolidated enrichment for a lead's email.
type Enricher interface {
	Enrich(ctx context.Context, email string) (*enrich.Consolidated, error)
}

// TaskQueue is the queue surface the runner needs for stage chaining.
type TaskQueue interface {
	Enqueue(ctx context.Context, task queue.Task) (string, error)
}

// nextStage maps each stage to its successor. Notify is terminal.
var nextStage = map[string]string{
	queue.KindEnrich: queue.KindScore,
	queue.KindScore:  queue.KindAssign,
	queue.KindAssign: queue.KindNotify,
}

// Runner executes pipeline stages. All stages are idempotent: re-running a
// stage overwrites its previous output, so at-least-once delivery is safe.
type Runner struct {
	store    store.Store
	enricher Enricher
	queue    TaskQueue
}

func NewRunner(st store.Store, enricher Enricher, q TaskQueue) *Runner {
	return &Runner{store: st, enricher: enricher, queue: q}
}

// Handle dispatches a task to its stage.
func (r *Runner) Handle(ctx context.Context, task queue.Task) error {
	switch task.Kind {
	case queue.KindEnrich:
		return r.runEnrich(ctx, task)
	case queue.KindScore, queue.KindAssign, queue.KindNotify:
		return r.runPassthrough(ctx, task)
	default:
		return eris.Errorf("pipeline: unknown task kind %q", task.Kind)
	}
}

// runEnrich loads the lead, runs the enrichment providers, and stores the
// consolidated result.
func (r *Runner) runEnrich(ctx context.Context, task queue.Task) error {
	lead, err := r.store.GetLead(ctx, task.LeadID)
	if err != nil {
		return err
	}
	if lead == nil {
		// deleted since enqueueing; nothing to do
		zap.L().Info("skipping enrichment for missing lead", zap.Int64("lead_id", task.LeadID))
		return nil
	}

	result, err := r.enricher.Enrich(ctx, lead.Email)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "pipeline: marshal enrichment")
	}
	if err := r.store.SetLeadEnrichment(ctx, lead.ID, payload, model.LeadStatusEnriched); err != nil {
		return err
	}

	r.appendEvent(ctx, lead.ID, model.EventTypeEnriched, map[string]any{
		"stats":      result.Stats,
		"providers":  successfulProviders(result),
		"from_cache": result.FromCache,
	})

	zap.L().Info("lead enriched",
		zap.Int64("lead_id", lead.ID),
		zap.Int("successful", result.Stats.Successful),
		zap.Int("failed", result.Stats.Failed),
		zap.Bool("from_cache", result.FromCache))

	return r.chain(ctx, task)
}

// runPassthrough covers the stages that do not transform the lead yet. They
// log and chain so the stage order stays visible end to end.
func (r *Runner) runPassthrough(ctx context.Context, task queue.Task) error {
	lead, err := r.store.GetLead(ctx, task.LeadID)
	if err != nil {
		return err
	}
	if lead == nil {
		zap.L().Info("skipping stage for missing lead",
			zap.String("stage", task.Kind), zap.Int64("lead_id", task.LeadID))
		return nil
	}

	zap.L().Info("stage complete",
		zap.String("stage", task.Kind),
		zap.Int64("lead_id", task.LeadID))
	return r.chain(ctx, task)
}

// chain enqueues the next stage, if any.
func (r *Runner) chain(ctx context.Context, task queue.Task) error {
	next, ok := nextStage[task.Kind]
	if !ok {
		return nil
	}
	_, err := r.queue.Enqueue(ctx, queue.NewTask(next, task.LeadID))
	return err
}

func successfulProviders(result *enrich.Consolidated) []string {
	var names []string
	for _, pr := range result.ProviderResults {
		if pr.Success {
			names = append(names, pr.Provider)
		}
	}
	return names
}

func (r *Runner) appendEvent(ctx context.Context, leadID int64, eventType model.EventType, data map[string]any) {
	payload, err := json.Marshal(data)
	if err != nil {
		zap.L().Warn("marshal pipeline event", zap.Int64("lead_id", leadID), zap.Error(err))
		return
	}
	if err := r.store.AppendEvent(ctx, &model.LeadEvent{
		LeadID: leadID,
		Type:   eventType,
		Data:   payload,
	}); err != nil {
		zap.L().Warn("append pipeline event", zap.Int64("lead_id", leadID), zap.Error(err))
	}
}
