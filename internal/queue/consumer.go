package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/ticketgraph/pkg/logger"
	"github.com/OFFIS-RIT/ticketgraph/pkg/metrics"

	"github.com/rabbitmq/amqp091-go"
)

type Processor interface {
	Process(ctx context.Context, queueName string, body []byte) error
}

// DeadLetterer is implemented by processors that clean up after a message
// was moved to the dead-letter queue.
type DeadLetterer interface {
	DeadLetter(ctx context.Context, queueName string, body []byte)
}

type queuedMessage struct {
	msg       amqp091.Delivery
	queueName string
}

// Consume delivers messages from every queue in queueNames to p, one at a
// time, until ctx is cancelled. Failed messages are moved to the retry
// queue, or to the dead-letter queue once they ran out of retries.
func Consume(ctx context.Context, conn *amqp091.Connection, queueNames []string, p Processor) error {
	consumerCh, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open consumer channel: %w", err)
	}
	defer consumerCh.Close()

	// prefetch=1 across all queues keeps a single message in flight
	if err := consumerCh.Qos(1, 0, true); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	messageChan := make(chan queuedMessage)
	for _, queueName := range queueNames {
		msgs, err := consumerCh.Consume(
			queueName,
			queueName+"_consumer",
			false, // autoAck
			false, // exclusive
			false, // noLocal
			false, // noWait
			nil,   // args
		)
		if err != nil {
			return fmt.Errorf("failed to start consuming %s: %w", queueName, err)
		}

		go func(qName string, msgs <-chan amqp091.Delivery) {
			for {
				select {
				case <-ctx.Done():
					logger.Info("Stopping consumer", "queue", qName)
					return
				case msg, ok := <-msgs:
					if !ok {
						logger.Info("Message channel closed", "queue", qName)
						return
					}
					select {
					case messageChan <- queuedMessage{msg: msg, queueName: qName}:
					case <-ctx.Done():
						return
					}
				}
			}
		}(queueName, msgs)
	}

	logger.Info("Listening for messages", "queues", queueNames)
	for {
		select {
		case <-ctx.Done():
			logger.Info("Stopping message processor")
			return nil
		case qm := <-messageChan:
			startTime := time.Now()
			logger.Info("Received message", "queue", qm.queueName)

			processingErr := p.Process(ctx, qm.queueName, qm.msg.Body)
			if processingErr != nil {
				logger.Error("Error processing message", "queue", qm.queueName, "err", processingErr)
				metrics.QueueJobsProcessed.WithLabelValues(qm.queueName, "failed").Inc()
				if handleProcessingError(consumerCh, qm.msg, qm.queueName, processingErr) {
					if dl, ok := p.(DeadLetterer); ok {
						dl.DeadLetter(ctx, qm.queueName, qm.msg.Body)
					}
				}
			} else {
				if err := qm.msg.Ack(false); err != nil {
					logger.Error("Failed to ack message", "err", err)
				}
				metrics.QueueJobsProcessed.WithLabelValues(qm.queueName, "ok").Inc()
				logger.Info("Message processed successfully", "queue", qm.queueName, "duration", time.Since(startTime).Round(time.Millisecond))
			}
		}
	}
}

// retryCount reads the x-retries header. Publishers may have encoded it
// with any integer width.
func retryCount(headers amqp091.Table) int {
	switch v := headers["x-retries"].(type) {
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
	default:
		return 0
	}
}

// retryDecision names the queue a failed message goes to and the retry
// count it carries there.
func retryDecision(queueName string, retries int, err error) (target string, next int) {
	if errors.Is(err, ErrPermanent) || retries >= maxRetries {
		return queueName + "_dlq", retries
	}
	return queueName + "_retry", retries + 1
}

// handleProcessingError moves msg to its retry or dead-letter queue and
// reports whether it was dead-lettered.
func handleProcessingError(ch *amqp091.Channel, msg amqp091.Delivery, queueName string, err error) bool {
	target, next := retryDecision(queueName, retryCount(msg.Headers), err)

	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers["x-retries"] = int32(next)
	headers["x-last-error"] = err.Error()

	logger.Info("Moving failed message", "queue", queueName, "target", target, "retries", next)
	pubErr := ch.Publish(
		"",
		target,
		false,
		false,
		amqp091.Publishing{
			ContentType:  msg.ContentType,
			Body:         msg.Body,
			Headers:      headers,
			DeliveryMode: amqp091.Persistent,
		},
	)
	if pubErr != nil {
		logger.Error("Failed to publish failed message", "target", target, "err", pubErr)
		_ = msg.Nack(false, true)
		return false
	}
	_ = msg.Ack(false)
	return target == queueName+"_dlq"
}
