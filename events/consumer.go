/*
Package events wires the fee engine to the transaction service's AMQP
stream.

PURPOSE:
  Consumes transaction mutation events and keeps waiver progress current
  without polling. Created transactions take the incremental path; edits
  and deletions trigger the authoritative recompute for the affected
  (card, fee year).

DELIVERY SEMANTICS:
  Manual ack. Malformed payloads are rejected without requeue; handler
  failures are requeued. Both paths into progress are idempotent at the
  recompute boundary, so redelivery after a crash is safe.

USAGE:
  client, err := events.NewClient(url, "transactions", "annualfee.progress")
  if err != nil { ... }
  defer client.Close()
  go client.Consume(ctx, events.NewProgressHandler(store, aggregator))
*/
package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/warp/annualfee-engine/fee"
)

// TransactionWriter is the slice of the store the consumer reads and mutates.
type TransactionWriter interface {
	GetTransaction(ctx context.Context, id fee.TransactionID) (*fee.CardTransaction, error)
	SaveTransaction(ctx context.Context, tx *fee.CardTransaction) error
	DeleteTransaction(ctx context.Context, id fee.TransactionID) error
}

// Handler processes one decoded transaction event.
type Handler func(ctx context.Context, event *TransactionEvent) error

// Client owns the AMQP connection, channel, and topology.
type Client struct {
	conn         *amqp091.Connection
	channel      *amqp091.Channel
	exchangeName string
	queueName    string
}

// NewClient dials the broker and declares the exchange, queue, and binding.
func NewClient(url, exchangeName, queueName string) (*Client, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	client := &Client{
		conn:         conn,
		channel:      channel,
		exchangeName: exchangeName,
		queueName:    queueName,
	}

	if err := client.setup(); err != nil {
		client.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}

	return client, nil
}

func (c *Client) setup() error {
	// Declare exchange
	err := c.channel.ExchangeDeclare(
		c.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	// Declare queue
	_, err = c.channel.QueueDeclare(
		c.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// Bind queue to exchange
	err = c.channel.QueueBind(
		c.queueName,    // queue name
		c.queueName,    // routing key (same as queue name for direct exchange)
		c.exchangeName, // exchange
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	return nil
}

// Publish sends a transaction event. Used by tests and by deployments
// where the transaction service shares this module.
func (c *Client) Publish(ctx context.Context, event *TransactionEvent) error {
	body, err := event.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = c.channel.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		c.queueName,    // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	slog.InfoContext(ctx, "Published transaction event",
		"op", event.Op,
		"transaction_id", event.TransactionID,
		"exchange", c.exchangeName,
		"queue", c.queueName)

	return nil
}

// Consume blocks, feeding decoded events to the handler until ctx is done.
func (c *Client) Consume(ctx context.Context, handler Handler) error {
	msgs, err := c.channel.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack (we want manual ack)
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	slog.InfoContext(ctx, "Started consuming transaction events", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stopping event consumption", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}

			event, err := TransactionEventFromJSON(delivery.Body)
			if err != nil {
				slog.ErrorContext(ctx, "Failed to unmarshal event", "error", err)
				delivery.Nack(false, false) // reject and don't requeue
				continue
			}

			if err := handler(ctx, event); err != nil {
				slog.ErrorContext(ctx, "Failed to handle event",
					"error", err,
					"op", event.Op,
					"transaction_id", event.TransactionID)
				delivery.Nack(false, true) // reject and requeue
				continue
			}

			delivery.Ack(false)
			slog.InfoContext(ctx, "Processed transaction event",
				"op", event.Op,
				"transaction_id", event.TransactionID)
		}
	}
}

// Close releases the channel and connection.
func (c *Client) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// =============================================================================
// PROGRESS HANDLER
// =============================================================================

// NewProgressHandler builds the handler that keeps waiver progress in sync
// with the transaction stream.
//
// created:          persist, then incremental apply
// updated, deleted: persist/remove, then authoritative recompute
func NewProgressHandler(store TransactionWriter, aggregator *fee.ProgressAggregator) Handler {
	return func(ctx context.Context, event *TransactionEvent) error {
		tx, err := event.Transaction()
		if err != nil {
			// Malformed payload: handler error would requeue forever.
			slog.ErrorContext(ctx, "Dropping malformed transaction event",
				"error", err, "transaction_id", event.TransactionID)
			return nil
		}

		switch event.Op {
		case OpCreated:
			if err := store.SaveTransaction(ctx, &tx); err != nil {
				return err
			}
			return aggregator.ApplyTransaction(ctx, tx)

		case OpUpdated:
			// An edit can move the transaction to another card or fee
			// year; the totals it leaves behind recompute too.
			prev, err := store.GetTransaction(ctx, tx.ID)
			if err != nil {
				return err
			}
			if err := store.SaveTransaction(ctx, &tx); err != nil {
				return err
			}
			if prev != nil && (prev.CardID != tx.CardID || prev.FeeYear() != tx.FeeYear()) {
				if _, err := aggregator.Recompute(ctx, prev.CardID, prev.FeeYear()); err != nil {
					return err
				}
			}
			_, err = aggregator.Recompute(ctx, tx.CardID, tx.FeeYear())
			return err

		case OpDeleted:
			if err := store.DeleteTransaction(ctx, tx.ID); err != nil && !fee.IsNotFound(err) {
				return err
			}
			_, err := aggregator.Recompute(ctx, tx.CardID, tx.FeeYear())
			return err

		default:
			slog.WarnContext(ctx, "Dropping transaction event with unknown op", "op", event.Op)
			return nil
		}
	}
}
