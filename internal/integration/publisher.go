// Package integration streams committed ledger facts to Kafka.
package integration

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/IBM/sarama"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/inventory/transfer"
)

// Topics names the destinations for each event family.
type Topics struct {
	Movements string
	Alerts    string
	Transfers string
}

// TopicsWithPrefix derives the topic set from a prefix such as "stockledger".
func TopicsWithPrefix(prefix string) Topics {
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		prefix = "stockledger"
	}
	return Topics{
		Movements: prefix + ".movements",
		Alerts:    prefix + ".alerts",
		Transfers: prefix + ".transfers",
	}
}

// Publisher implements the inventory and transfer event sinks on a Kafka
// sync producer.
type Publisher struct {
	producer sarama.SyncProducer
	topics   Topics
	logger   *slog.Logger
}

// NewPublisher wraps an existing producer.
func NewPublisher(producer sarama.SyncProducer, topics Topics, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{producer: producer, topics: topics, logger: logger.With(slog.String("component", "kafka"))}
}

// ProducerConfig returns the producer settings the ledger publishes with.
func ProducerConfig(clientID string) *sarama.Config {
	config := sarama.NewConfig()
	if clientID != "" {
		config.ClientID = clientID
	}
	config.Producer.Return.Successes = true
	config.Producer.Retry.Max = 3
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Partitioner = sarama.NewHashPartitioner
	return config
}

// Dial connects a sync producer to the brokers.
func Dial(brokers []string, clientID string, topics Topics, logger *slog.Logger) (*Publisher, error) {
	producer, err := sarama.NewSyncProducer(brokers, ProducerConfig(clientID))
	if err != nil {
		return nil, fmt.Errorf("integration: create kafka producer: %w", err)
	}
	p := NewPublisher(producer, topics, logger)
	p.logger.Info("kafka publisher initialised", slog.Any("brokers", brokers))
	return p, nil
}

// MovementPosted publishes one committed movement.
func (p *Publisher) MovementPosted(ctx context.Context, evt inventory.MovementPostedEvent) error {
	msg, err := movementMessage(p.topics.Movements, evt)
	if err != nil {
		return err
	}
	return p.send(ctx, msg, slog.Int64("movement_id", evt.Movement.ID))
}

// AlertChanged publishes an alert opening or resolution.
func (p *Publisher) AlertChanged(ctx context.Context, evt inventory.AlertChangedEvent) error {
	msg, err := alertMessage(p.topics.Alerts, evt)
	if err != nil {
		return err
	}
	return p.send(ctx, msg, slog.Int64("alert_id", evt.Alert.ID))
}

// TransferStatusChanged publishes a committed transfer transition.
func (p *Publisher) TransferStatusChanged(ctx context.Context, evt transfer.StatusChangedEvent) error {
	msg, err := transferMessage(p.topics.Transfers, evt)
	if err != nil {
		return err
	}
	return p.send(ctx, msg, slog.Int64("transfer_id", evt.TransferID))
}

func (p *Publisher) send(ctx context.Context, msg *sarama.ProducerMessage, attr slog.Attr) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.ErrorContext(ctx, "publish event", slog.String("topic", msg.Topic), attr, slog.Any("error", err))
		return fmt.Errorf("integration: send to %s: %w", msg.Topic, err)
	}
	p.logger.DebugContext(ctx, "event published",
		slog.String("topic", msg.Topic),
		slog.Int("partition", int(partition)),
		slog.Int64("offset", offset),
		attr,
	)
	return nil
}

// Close flushes and closes the producer.
func (p *Publisher) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}

var (
	_ inventory.EventSink = (*Publisher)(nil)
	_ transfer.EventSink  = (*Publisher)(nil)
)
