package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"finrag/internal/app"
	"finrag/internal/model"
)

// MessageWriter persists chat turns.
type MessageWriter interface {
	CreateBatch(messages []model.Message) error
}

// ChatPersistWorker drains question/answer exchanges from the chat queue
// into mysql so the request path never waits on persistence. Each exchange
// is validated and written as one batch: a question never lands without its
// answer.
type ChatPersistWorker struct {
	conn      *amqp.Connection
	writer    MessageWriter
	queueName string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewChatPersistWorker(conn *amqp.Connection, writer MessageWriter, queueName string) *ChatPersistWorker {
	return &ChatPersistWorker{
		conn:      conn,
		writer:    writer,
		queueName: queueName,
	}
}

func (w *ChatPersistWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open chat persist channel failed: %w", err)
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
		cancel()
		return fmt.Errorf("declare chat persist queue failed: %w", err)
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
		cancel()
		return fmt.Errorf("consume chat persist queue failed: %w", err)
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
				w.persist(d)
			}
		}
	}()

	return nil
}

func (w *ChatPersistWorker) persist(d amqp.Delivery) {
	var exchange app.ChatExchange
	if err := json.Unmarshal(d.Body, &exchange); err != nil {
		log.Printf("chat persist decode failed: %v", err)
		_ = d.Nack(false, false)
		return
	}

	// Turns inherit the exchange's session id when the producer left it off.
	for i := range exchange.Turns {
		if exchange.Turns[i].SessionID == "" {
			exchange.Turns[i].SessionID = exchange.SessionID
		}
	}

	if err := validateExchange(exchange); err != nil {
		log.Printf("chat persist rejected exchange for session %q: %v", exchange.SessionID, err)
		_ = d.Nack(false, false)
		return
	}

	if err := w.writer.CreateBatch(exchange.Turns); err != nil {
		// The batch insert is atomic, so redelivery cannot duplicate turns.
		log.Printf("chat persist session %s failed, requeueing: %v", exchange.SessionID, err)
		_ = d.Nack(false, true)
		return
	}

	_ = d.Ack(false)
}

// validateExchange rejects payloads that would corrupt history: unknown
// roles, empty content, or assistant sources that do not parse.
func validateExchange(exchange app.ChatExchange) error {
	if exchange.SessionID == "" {
		return errors.New("missing session id")
	}
	if len(exchange.Turns) == 0 {
		return errors.New("no turns")
	}
	for i := range exchange.Turns {
		turn := &exchange.Turns[i]
		if turn.SessionID != exchange.SessionID {
			return fmt.Errorf("turn %d belongs to session %q", i, turn.SessionID)
		}
		if turn.Role != "user" && turn.Role != "assistant" {
			return fmt.Errorf("turn %d has unknown role %q", i, turn.Role)
		}
		if strings.TrimSpace(turn.Content) == "" {
			return fmt.Errorf("turn %d has empty content", i)
		}
		if turn.Sources != "" && turn.SourceList() == nil {
			return fmt.Errorf("turn %d has malformed sources", i)
		}
	}
	return nil
}

func (w *ChatPersistWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
