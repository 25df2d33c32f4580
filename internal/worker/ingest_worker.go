package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/panjf2000/ants/v2"
	amqp "github.com/rabbitmq/amqp091-go"

	"finrag/internal/app"
)

// IngestWorker consumes ingest jobs from rabbitmq and runs the processing
// pipeline on a bounded pool. Deliveries are acked once the pipeline has
// recorded a terminal status, so a surfaced error state is never retried.
type IngestWorker struct {
	conn      *amqp.Connection
	ingest    *app.IngestService
	queueName string
	poolSize  int

	pool   *ants.Pool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIngestWorker(conn *amqp.Connection, ingest *app.IngestService, queueName string, poolSize int) *IngestWorker {
	if poolSize < 1 {
		poolSize = 1
	}
	return &IngestWorker{
		conn:      conn,
		ingest:    ingest,
		queueName: queueName,
		poolSize:  poolSize,
	}
}

func (w *IngestWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	pool, err := ants.NewPool(w.poolSize)
	if err != nil {
		cancel()
		return fmt.Errorf("create ingest pool failed: %w", err)
	}
	w.pool = pool

	ch, err := w.conn.Channel()
	if err != nil {
		pool.Release()
		cancel()
		return fmt.Errorf("open ingest channel failed: %w", err)
	}

	_, err = ch.QueueDeclare(
		w.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		pool.Release()
		cancel()
		return fmt.Errorf("declare ingest queue failed: %w", err)
	}

	if err := ch.Qos(w.poolSize, 0, false); err != nil {
		_ = ch.Close()
		pool.Release()
		cancel()
		return fmt.Errorf("set ingest qos failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		pool.Release()
		cancel()
		return fmt.Errorf("consume ingest queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				w.dispatch(workerCtx, d)
			}
		}
	}()

	return nil
}

func (w *IngestWorker) dispatch(ctx context.Context, d amqp.Delivery) {
	var job app.IngestJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		log.Printf("ingest worker decode job failed: %v", err)
		_ = d.Nack(false, false)
		return
	}

	w.wg.Add(1)
	submitErr := w.pool.Submit(func() {
		defer w.wg.Done()
		if err := w.ingest.Process(ctx, job); err != nil {
			if ctx.Err() != nil {
				// Shutdown interrupted the pipeline, not a bad document.
				// Requeue so the job finishes on the next start.
				log.Printf("ingest session %s interrupted, requeueing: %v", job.SessionID, err)
				_ = d.Nack(false, true)
				return
			}
			log.Printf("ingest session %s failed: %v", job.SessionID, err)
		}
		_ = d.Ack(false)
	})
	if submitErr != nil {
		w.wg.Done()
		log.Printf("ingest worker submit failed: %v", submitErr)
		_ = d.Nack(false, true)
	}
}

func (w *IngestWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	if w.pool != nil {
		w.pool.Release()
	}
}
