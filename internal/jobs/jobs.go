package jobs

import (
	"context"
	"fmt"
	"time"

	"botflow/internal/engine"
	"botflow/internal/model"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Task types
const (
	TypeInactivitySweep = "inactivity:sweep"
	TypeExecutionExpire = "execution:expire"
)

// JobServer runs the engine's background work: the periodic inactivity
// sweep and per-execution pending-response expiry. The scheduler is
// constructed and owned here, started and stopped explicitly by the
// composition root.
type JobServer struct {
	server     *asynq.Server
	scheduler  *asynq.Scheduler
	client     *asynq.Client
	supervisor *engine.Supervisor
	store      engine.Store
	cfg        engine.Config
	sweepEvery time.Duration
	log        *zap.Logger
}

// NewClient builds the enqueue-side asynq client. Created before the
// server so the engine can schedule expiry jobs from the start.
func NewClient(redisAddr string) *asynq.Client {
	return asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
}

func NewJobServer(redisAddr string, client *asynq.Client, supervisor *engine.Supervisor, store engine.Store, cfg engine.Config, sweepEvery time.Duration, log *zap.Logger) *JobServer {
	redisOpt := asynq.RedisClientOpt{Addr: redisAddr}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
		},
	)
	scheduler := asynq.NewScheduler(redisOpt, nil)

	if sweepEvery <= 0 {
		sweepEvery = 2 * time.Minute
	}

	return &JobServer{
		server:     server,
		scheduler:  scheduler,
		client:     client,
		supervisor: supervisor,
		store:      store,
		cfg:        cfg.Normalize(),
		sweepEvery: sweepEvery,
		log:        log,
	}
}

func (js *JobServer) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeInactivitySweep, js.handleInactivitySweep)
	mux.HandleFunc(TypeExecutionExpire, js.handleExecutionExpire)

	if _, err := js.scheduler.Register(
		fmt.Sprintf("@every %s", js.sweepEvery),
		asynq.NewTask(TypeInactivitySweep, nil),
		asynq.Queue("low"),
	); err != nil {
		return fmt.Errorf("failed to register inactivity sweep: %w", err)
	}
	if err := js.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	return js.server.Start(mux)
}

func (js *JobServer) Stop() {
	js.scheduler.Shutdown()
	js.server.Shutdown()
	js.client.Close()
}

// Job handlers

func (js *JobServer) handleInactivitySweep(ctx context.Context, _ *asynq.Task) error {
	if err := js.supervisor.Sweep(ctx); err != nil {
		js.log.Error("Inactivity sweep failed", zap.Error(err))
		return err
	}
	return nil
}

// handleExecutionExpire completes an execution whose question went
// unanswered past the response window. Re-checks state first: the
// contact may have answered, or a fresh question may be pending.
func (js *JobServer) handleExecutionExpire(ctx context.Context, t *asynq.Task) error {
	executionID := string(t.Payload())

	exec, err := js.store.GetExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to get execution: %w", err)
	}
	if exec.Status != model.ExecutionActive || exec.Pending == nil {
		return nil
	}
	if time.Since(exec.Pending.AskedAt) < js.cfg.ResponseTimeout {
		return nil
	}

	won, err := js.store.CompleteExecutionIfActive(ctx, executionID, model.ReasonResponseTimeout)
	if err != nil {
		return fmt.Errorf("failed to expire execution: %w", err)
	}
	if won {
		js.log.Info("Execution expired on unanswered question", zap.String("execution_id", executionID))
	}
	return nil
}

// Schedule jobs

// AsynqScheduler adapts the asynq client to the engine's JobScheduler
type AsynqScheduler struct {
	client *asynq.Client
}

func NewAsynqScheduler(client *asynq.Client) *AsynqScheduler {
	return &AsynqScheduler{client: client}
}

func (s *AsynqScheduler) ScheduleExpiry(executionID string, in time.Duration) error {
	task := asynq.NewTask(TypeExecutionExpire, []byte(executionID))
	_, err := s.client.Enqueue(task, asynq.ProcessIn(in), asynq.Queue("low"))
	return err
}
