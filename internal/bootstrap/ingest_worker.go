package bootstrap

import (
	"context"

	"ingest_server/adapter/in/worker"
	"ingest_server/config"
	"ingest_server/pkg/logger"
)

// Worker is the background process: the job pool plus the subscription
// sweeper that keeps push channels from lapsing.
type Worker struct {
	pool    *worker.Pool
	sweeper *worker.SweepScheduler
	deps    *Dependencies
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewWorker(cfg *config.Config) (*Worker, func(), error) {
	logger.Init(logger.Config{
		Level:   logger.LevelInfo,
		Service: "ingest-worker",
	})

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Worker{
		pool:    deps.Pool,
		sweeper: deps.Sweeper,
		deps:    deps,
		ctx:     ctx,
		cancel:  cancel,
	}, cleanup, nil
}

// Start runs the pool and the sweeper until Stop is called.
func (w *Worker) Start() {
	w.pool.Start()
	w.sweeper.Start()

	<-w.ctx.Done()
}

func (w *Worker) Stop() {
	w.cancel()
	w.sweeper.Stop()
	w.pool.Stop()
}

func (w *Worker) Submit(msg *worker.Message) bool {
	if msg.IsPriority() {
		return w.pool.SubmitPriority(msg)
	}
	return w.pool.Submit(msg)
}

func (w *Worker) GetMetrics() worker.PoolMetrics {
	return w.pool.GetMetrics()
}

func (w *Worker) Dependencies() *Dependencies {
	return w.deps
}
