package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"example.com/user-provisioner/internal/model"
	obs "example.com/user-provisioner/internal/observability"
	"example.com/user-provisioner/internal/provisioner"
	"example.com/user-provisioner/internal/queue"
)

// Handler runs one provisioning message.
type Handler interface {
	Handle(ctx context.Context, msg model.Message) (*model.Report, error)
}

type Worker struct {
	handler    Handler
	qclient    queue.Client
	workerPool int
	logger     *zap.Logger
	wg         sync.WaitGroup
}

func NewWorker(h Handler, q queue.Client, pool int, logger *zap.Logger) *Worker {
	if pool < 1 {
		pool = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{handler: h, qclient: q, workerPool: pool, logger: logger}
}

// Start launches the consumers. Each consumer handles one message at a time.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.workerPool; i++ {
		w.wg.Add(1)
		go func(idx int) {
			defer w.wg.Done()
			log := w.logger.With(zap.Int("worker", idx))
			log.Info("worker started")
			msgs, err := w.qclient.Consume(ctx)
			if err != nil {
				log.Error("failed to consume", zap.Error(err))
				return
			}
			for {
				select {
				case <-ctx.Done():
					log.Info("worker stopping")
					return
				case d, ok := <-msgs:
					if !ok {
						log.Info("messages channel closed")
						return
					}
					if ctx.Err() != nil {
						settle(log, d, false, true)
						log.Info("worker stopping")
						return
					}
					w.process(ctx, log, d)
				}
			}
		}(i)
	}
}

// Wait blocks until every consumer has returned.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) process(ctx context.Context, log *zap.Logger, d *queue.Delivery) {
	var msg model.Message
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		log.Error("malformed message dropped", zap.Error(err), zap.Int("bytes", len(d.Body)))
		settle(log, d, true, false)
		return
	}
	log = log.With(obs.Company(msg.Company))

	_, err := w.handler.Handle(ctx, msg)
	ack, requeue := disposition(err, d.Redelivered)
	if err != nil {
		log.Warn("message failed", zap.Error(err), zap.Bool("redelivered", d.Redelivered), zap.Bool("requeue", requeue))
	}
	settle(log, d, ack, requeue)
}

// disposition decides how a handled message is settled. Configuration and
// validation failures will not fix themselves, so they are acknowledged.
// Interrupted runs always go back on the queue. Authentication and delivery
// failures get one more attempt.
func disposition(err error, redelivered bool) (ack, requeue bool) {
	switch {
	case err == nil:
		return true, false
	case errors.Is(err, provisioner.ErrInterrupted):
		return false, true
	case errors.Is(err, provisioner.ErrConfiguration), errors.Is(err, provisioner.ErrValidation):
		return true, false
	default:
		return false, !redelivered
	}
}

func settle(log *zap.Logger, d *queue.Delivery, ack, requeue bool) {
	var err error
	if ack {
		err = d.Ack()
	} else {
		err = d.Nack(requeue)
	}
	if err != nil {
		log.Error("settle failed", zap.Error(err))
	}
}
