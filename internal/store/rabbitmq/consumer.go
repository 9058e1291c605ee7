package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/matchcore/internal/events"
)

// ErrBadMessage marks a delivery that can never be handled. It is
// dead-lettered without a retry.
var ErrBadMessage = errors.New("rabbitmq: malformed event")

type Handler func(ctx context.Context, e events.Event) error

// Decode parses a delivery body into an event.
func Decode(body []byte) (events.Event, error) {
	var e events.Event
	if err := json.Unmarshal(body, &e); err != nil {
		return e, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	if e.ID == "" || e.Type == "" {
		return e, fmt.Errorf("%w: missing id or type", ErrBadMessage)
	}
	return e, nil
}

// Consumer runs a bounded pool of workers over the main queue.
type Consumer struct {
	conn        *amqp.Connection
	ch          *amqp.Channel
	queues      Queues
	concurrency int
}

func NewConsumer(url, queue string, concurrency int) (*Consumer, error) {
	if concurrency <= 0 {
		concurrency = 2
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbit dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbit channel: %w", err)
	}
	q := QueuesFor(queue)
	if err := declare(ch, q); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	// strict concurrency control
	if err := ch.Qos(concurrency, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("qos: %w", err)
	}
	return &Consumer{conn: conn, ch: ch, queues: q, concurrency: concurrency}, nil
}

func (c *Consumer) Close() error {
	_ = c.ch.Close()
	return c.conn.Close()
}

// Run dispatches deliveries to the worker pool until ctx is done. Handler
// failures are nacked without requeue, which routes them to the DLQ.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	msgs, err := c.ch.Consume(c.queues.Main, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	log.Printf("consumer started, queue=%s concurrency=%d", c.queues.Main, c.concurrency)

	jobs := make(chan amqp.Delivery, c.concurrency*2)
	var wg sync.WaitGroup
	wg.Add(c.concurrency)
	for i := 0; i < c.concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				Handle(ctx, workerID, d.Body, d, handle)
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Printf("consumer shutting down")
			close(jobs)
			wg.Wait()
			return nil

		case d, ok := <-msgs:
			if !ok {
				close(jobs)
				wg.Wait()
				return errors.New("delivery channel closed")
			}
			jobs <- d
		}
	}
}

// Acknowledger is the part of amqp.Delivery that process needs.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// Handle decodes body, runs handle and settles the delivery.
func Handle(ctx context.Context, workerID int, body []byte, ack Acknowledger, handle Handler) {
	e, err := Decode(body)
	if err != nil {
		log.Printf("worker=%d bad message: %v", workerID, err)
		_ = ack.Nack(false, false)
		return
	}

	start := time.Now()
	if err := handle(ctx, e); err != nil {
		log.Printf("worker=%d event %s type=%s failed cost=%s err=%v", workerID, e.ID, e.Type, time.Since(start), err)
		_ = ack.Nack(false, false)
		return
	}
	if err := ack.Ack(false); err != nil {
		log.Printf("worker=%d ack failed event=%s err=%v", workerID, e.ID, err)
	}
}
