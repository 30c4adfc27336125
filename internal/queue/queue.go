package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const (
	IngestQueue  = "ingest_queue"
	ReembedQueue = "reembed_queue"

	retryDelay = 10 * time.Second
	maxRetries = 10
)

// Queues lists every work queue the worker consumes.
var Queues = []string{IngestQueue, ReembedQueue}

type Config struct {
	User     string
	Password string
	Host     string
	Port     string
}

func (c Config) URL() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		c.User,
		c.Password,
		c.Host,
		c.Port,
	)
}

func Dial(cfg Config) (*amqp091.Connection, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("RABBITMQ_HOST is not set")
	}
	conn, err := amqp091.Dial(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ at %s:%s: %w", cfg.Host, cfg.Port, err)
	}
	return conn, nil
}

// SetupQueues declares every queue in queueNames together with its
// dead-letter queue and a retry queue that routes messages back after
// retryDelay.
func SetupQueues(ch *amqp091.Channel, queueNames []string) error {
	for _, name := range queueNames {
		_, err := ch.QueueDeclare(
			name,
			true,  // durable
			false, // autoDelete
			false, // exclusive
			false, // noWait
			nil,   // args
		)
		if err != nil {
			return fmt.Errorf("QueueDeclare %s failed: %w", name, err)
		}

		dlqName := name + "_dlq"
		_, err = ch.QueueDeclare(
			dlqName,
			true,
			false,
			false,
			false,
			nil,
		)
		if err != nil {
			return fmt.Errorf("QueueDeclare %s failed: %w", dlqName, err)
		}

		retryName := name + "_retry"
		_, err = ch.QueueDeclare(
			retryName,
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             int32(retryDelay.Milliseconds()),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		)
		if err != nil {
			return fmt.Errorf("QueueDeclare %s failed: %w", retryName, err)
		}
	}

	return nil
}

func PublishFIFO(ch *amqp091.Channel, queueName string, data []byte) error {
	q, err := ch.QueueDeclare(
		queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	publishing := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	}

	return ch.Publish(
		"",
		q.Name,
		false,
		false,
		publishing,
	)
}

// Publish encodes msg as JSON and publishes it to queueName on a channel
// of its own, as amqp channels must not be shared between goroutines.
func Publish(conn *amqp091.Connection, queueName string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()
	return PublishFIFO(ch, queueName, data)
}
