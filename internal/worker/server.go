package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"multiplayer-life/internal/tasks"
)

// WorkerServer runs the asynq server that processes background tasks.
type WorkerServer struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	log    *logrus.Entry
}

// NewWorkerServer creates a WorkerServer. Handlers are added with Handle before Start.
func NewWorkerServer(redisOpt asynq.RedisClientOpt, concurrency int, logger *logrus.Logger) *WorkerServer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logEntry := logger.WithField("component", "worker_server")
	if concurrency <= 0 {
		concurrency = 10
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				tasks.QueueCritical: 6,
				tasks.QueueDefault:  3,
				tasks.QueueLow:      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retryCount, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				taskID, _ := asynq.GetTaskID(ctx)
				logEntry.WithFields(logrus.Fields{
					"task_id":   taskID,
					"task_type": task.Type(),
					"retries":   retryCount,
					"max_retry": maxRetry,
				}).Errorf("Task failed: %v", err)
			}),
			Logger:   logEntry,
			LogLevel: asynqLogLevel(logger.GetLevel()),
		},
	)

	return &WorkerServer{
		server: server,
		mux:    asynq.NewServeMux(),
		log:    logEntry,
	}
}

// Handle registers the handler for a task type.
func (ws *WorkerServer) Handle(taskType string, handler asynq.Handler) {
	ws.mux.Handle(taskType, handler)
}

// Start runs the server. It should be called in its own goroutine.
func (ws *WorkerServer) Start() error {
	ws.log.Info("Worker server starting...")
	if err := ws.server.Run(ws.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
		return fmt.Errorf("could not run worker server: %w", err)
	}
	ws.log.Info("Worker server stopped.")
	return nil
}

// Shutdown waits for in-flight tasks and stops the server.
func (ws *WorkerServer) Shutdown() {
	ws.log.Info("Shutting down worker server...")
	ws.server.Shutdown()
	ws.log.Info("Worker server shut down complete.")
}

// PeriodicScheduler enqueues tasks on a cron schedule.
type PeriodicScheduler struct {
	scheduler *asynq.Scheduler
	log       *logrus.Entry
}

// NewPeriodicScheduler creates a PeriodicScheduler.
func NewPeriodicScheduler(redisOpt asynq.RedisClientOpt, logger *logrus.Logger) *PeriodicScheduler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logEntry := logger.WithField("component", "scheduler")
	return &PeriodicScheduler{
		scheduler: asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
			Logger:   logEntry,
			LogLevel: asynqLogLevel(logger.GetLevel()),
		}),
		log: logEntry,
	}
}

// Register adds a task under a cron spec such as "@every 5m".
func (p *PeriodicScheduler) Register(spec string, task *asynq.Task) error {
	entryID, err := p.scheduler.Register(spec, task)
	if err != nil {
		return fmt.Errorf("failed to register %s on %q: %w", task.Type(), spec, err)
	}
	p.log.WithFields(logrus.Fields{"entry_id": entryID, "task_type": task.Type(), "spec": spec}).Info("Periodic task registered")
	return nil
}

// Start begins enqueueing registered tasks in the background.
func (p *PeriodicScheduler) Start() error {
	return p.scheduler.Start()
}

// Shutdown stops the scheduler.
func (p *PeriodicScheduler) Shutdown() {
	p.scheduler.Shutdown()
}

func asynqLogLevel(level logrus.Level) asynq.LogLevel {
	switch {
	case level >= logrus.DebugLevel:
		return asynq.DebugLevel
	case level == logrus.InfoLevel:
		return asynq.InfoLevel
	case level == logrus.WarnLevel:
		return asynq.WarnLevel
	default:
		return asynq.ErrorLevel
	}
}
