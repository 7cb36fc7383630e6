package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/aura-api/internal/generation"
)

const attemptHeader = "x-attempt"

// HandlerFunc processes one task. A returned error schedules a retry.
type HandlerFunc func(ctx context.Context, task generation.MaterializeTask) error

type Consumer struct {
	conn        *amqp.Connection
	ch          *amqp.Channel
	queue       string
	concurrency int

	MaxAttempts int
	RetryDelay  time.Duration
}

func NewConsumer(url, queue string, concurrency int) (*Consumer, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := Declare(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	//  strict concurrency control
	if err := ch.Qos(concurrency, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Consumer{
		conn:        conn,
		ch:          ch,
		queue:       queue,
		concurrency: concurrency,
		MaxAttempts: 3,
		RetryDelay:  10 * time.Second,
	}, nil
}

func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Run consumes until ctx is done, feeding deliveries to a fixed pool of workers.
func (c *Consumer) Run(ctx context.Context, handle HandlerFunc) error {
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	log.Printf("worker started, queue=%s concurrency=%d", c.queue, c.concurrency)

	// worker pool
	jobs := make(chan amqp.Delivery, c.concurrency*2)

	var wg sync.WaitGroup
	wg.Add(c.concurrency)
	for i := 0; i < c.concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				c.process(ctx, workerID, d, handle)
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Printf("worker shutting down")
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

func (c *Consumer) process(ctx context.Context, workerID int, d amqp.Delivery, handle HandlerFunc) {
	task, err := DecodeTask(d.Body)
	if err != nil {
		log.Printf("worker=%d bad message: %v", workerID, err)
		_ = d.Nack(false, false)
		return
	}

	start := time.Now()
	if err := handle(ctx, task); err != nil {
		attempt := Attempt(d.Headers)
		log.Printf("worker=%d generation=%s attempt=%d failed cost=%s err=%v", workerID, task.GenerationID, attempt, time.Since(start), err)
		if attempt >= c.MaxAttempts {
			_ = d.Nack(false, false) // -> DLQ
			return
		}
		if err := c.retry(ctx, d, attempt+1); err != nil {
			log.Printf("worker=%d retry publish failed generation=%s err=%v", workerID, task.GenerationID, err)
			_ = d.Nack(false, false)
			return
		}
		_ = d.Ack(false)
		return
	}

	if err := d.Ack(false); err != nil {
		log.Printf("worker=%d ack failed generation=%s err=%v", workerID, task.GenerationID, err)
	}
}

// retry parks the message on the retry queue; its TTL dead-letters it back to the main queue.
func (c *Consumer) retry(ctx context.Context, d amqp.Delivery, attempt int) error {
	headers := amqp.Table{attemptHeader: int32(attempt)}
	expiration := strconv.FormatInt(c.RetryDelay.Milliseconds(), 10)
	return publish(ctx, c.ch, RetryQueue(c.queue), d.Body, headers, expiration)
}

func DecodeTask(body []byte) (generation.MaterializeTask, error) {
	var task generation.MaterializeTask
	if err := json.Unmarshal(body, &task); err != nil {
		return task, err
	}
	if task.GenerationID == "" {
		return task, errors.New("missing generation_id")
	}
	return task, nil
}

// Attempt reads the delivery attempt from headers; first deliveries carry none.
func Attempt(h amqp.Table) int {
	switch v := h[attemptHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	case int16:
		return int(v)
	case int8:
		return int(v)
	}
	return 1
}
