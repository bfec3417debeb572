package scheduler

import (
	"context"
	"fmt"

	"funnel_builder_backend/platform/config"
	"funnel_builder_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Worker consumes outbox delivery tasks from the scheduler queue.
type Worker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	delivery *OutboxDelivery
	log      *logger.Logger
}

const defaultConcurrency = 10

func NewWorker(cfg config.SchedulerConfig, delivery *OutboxDelivery, log *logger.Logger) (*Worker, error) {
	if log == nil {
		log = logger.Discard()
	}
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = defaultConcurrency
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queueName(cfg): 1},
		// OutboxDelivery reschedules failed rows itself.
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			log.Warn("scheduler task failed", "task", task.Type(), "error", err)
		}),
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:   server,
		mux:      mux,
		delivery: delivery,
		log:      log,
	}

	mux.HandleFunc(TaskDMOutboxDue, w.handleDMOutboxDue)

	return w, nil
}

// handleDMOutboxDue hands one claimed row to the delivery loop. Malformed
// payloads can never succeed and are dropped.
func (w *Worker) handleDMOutboxDue(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseDMOutboxDuePayload(task)
	if err != nil {
		w.log.Error("dm outbox task: bad payload", "error", err)
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	outboxID, err := uuid.Parse(payload.OutboxID)
	if err != nil {
		w.log.Error("dm outbox task: bad outbox id", "outbox_id", payload.OutboxID, "experience_id", payload.ExperienceID)
		return fmt.Errorf("%w: parse outbox id: %v", asynq.SkipRetry, err)
	}

	if err := w.delivery.Deliver(ctx, outboxID); err != nil {
		w.log.Error("dm outbox delivery failed", "outbox_id", outboxID.String(), "experience_id", payload.ExperienceID, "error", err)
		return err
	}
	return nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
