package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"privpool-backend/internal/clients"
	"privpool-backend/internal/metrics"
	"privpool-backend/internal/models"
	"privpool-backend/internal/note"

	"github.com/sirupsen/logrus"
)

// ErrWorkerStopped is returned for tasks submitted after Stop.
var ErrWorkerStopped = errors.New("prover worker stopped")

// ProofGenerator remote proving backend
type ProofGenerator interface {
	GenerateWithdrawProof(ctx context.Context, req *clients.WithdrawProofRequest) (*clients.WithdrawProofResponse, error)
}

type proverResult struct {
	value interface{}
	err   error
}

type proverTask struct {
	name string
	ctx  context.Context
	run  func(ctx context.Context) (interface{}, error)
	resp chan proverResult
}

// ProverWorker runs hashing and proving one task at a time on a single
// goroutine. Callers block until their task is answered or their context ends.
type ProverWorker struct {
	prover ProofGenerator
	tasks  chan *proverTask
	stopCh chan struct{}
	wg     sync.WaitGroup
	logger *logrus.Entry

	mu      sync.Mutex
	running bool
}

func NewProverWorker(prover ProofGenerator, queueSize int, logger *logrus.Entry) *ProverWorker {
	if queueSize <= 0 {
		queueSize = 16
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &ProverWorker{
		prover: prover,
		tasks:  make(chan *proverTask, queueSize),
		stopCh: make(chan struct{}),
		logger: logger,
	}
}

// Start launches the worker goroutine.
func (w *ProverWorker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.wg.Add(1)
	go w.loop()
	w.logger.Info("[ProverWorker] started")
}

// Stop waits for the current task; queued tasks are answered with ErrWorkerStopped.
func (w *ProverWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()
	w.wg.Wait()
	w.logger.Info("[ProverWorker] stopped")
}

func (w *ProverWorker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.stopCh:
			w.drain()
			return
		case task := <-w.tasks:
			metrics.ProverQueueDepth.Set(float64(len(w.tasks)))
			w.execute(task)
		}
	}
}

func (w *ProverWorker) drain() {
	for {
		select {
		case task := <-w.tasks:
			task.resp <- proverResult{err: ErrWorkerStopped}
		default:
			metrics.ProverQueueDepth.Set(0)
			return
		}
	}
}

func (w *ProverWorker) execute(task *proverTask) {
	if err := task.ctx.Err(); err != nil {
		task.resp <- proverResult{err: err}
		return
	}
	start := time.Now()
	value, err := task.run(task.ctx)
	metrics.ProverTaskDuration.WithLabelValues(task.name).Observe(time.Since(start).Seconds())
	if err != nil {
		w.logger.Warnf("[ProverWorker] %s failed after %v: %v", task.name, time.Since(start), err)
	}
	task.resp <- proverResult{value: value, err: err}
}

func (w *ProverWorker) submit(ctx context.Context, name string, run func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	task := &proverTask{name: name, ctx: ctx, run: run, resp: make(chan proverResult, 1)}

	select {
	case <-w.stopCh:
		return nil, ErrWorkerStopped
	default:
	}

	select {
	case w.tasks <- task:
		metrics.ProverQueueDepth.Set(float64(len(w.tasks)))
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.stopCh:
		return nil, ErrWorkerStopped
	}

	select {
	case res := <-task.resp:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DeriveNote derives the note at index on the worker.
func (w *ProverWorker) DeriveNote(ctx context.Context, rootKey []byte, index uint32, chainID int64, pair models.Pair) (*models.Note, error) {
	v, err := w.submit(ctx, "derive_note", func(context.Context) (interface{}, error) {
		return note.Derive(rootKey, index, chainID, pair), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Note), nil
}

// ParseNote parses a serialized note and hashes it on the worker.
func (w *ProverWorker) ParseNote(ctx context.Context, noteHex string) (*models.Note, error) {
	v, err := w.submit(ctx, "parse_note", func(context.Context) (interface{}, error) {
		return note.Parse(noteHex)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Note), nil
}

// GenerateWithdrawProof forwards a proving request to the prover service.
func (w *ProverWorker) GenerateWithdrawProof(ctx context.Context, req *clients.WithdrawProofRequest) (*clients.WithdrawProofResponse, error) {
	if w.prover == nil {
		return nil, fmt.Errorf("no prover configured")
	}
	v, err := w.submit(ctx, "withdraw_proof", func(ctx context.Context) (interface{}, error) {
		return w.prover.GenerateWithdrawProof(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return v.(*clients.WithdrawProofResponse), nil
}
