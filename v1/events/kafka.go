package events

import (
	"context"
	"sync/atomic"

	sarama "github.com/IBM/sarama"
)

const defaultKafkaTopic = "booking-events"

// KafkaPublisher implements Publisher on a Kafka topic. Events are keyed by
// show id so the events of one show stay ordered within a partition.
type KafkaPublisher struct {
	producer  sarama.SyncProducer
	topic     string
	published uint64
}

// NewKafkaPublisher connects a sync producer to brokers. An empty topic
// selects "booking-events".
func NewKafkaPublisher(brokers []string, topic string, cfg *sarama.Config) (*KafkaPublisher, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	cfg.Producer.Return.Successes = true
	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return NewKafkaPublisherFromProducer(producer, topic), nil
}

// NewKafkaPublisherFromProducer wraps an existing producer.
func NewKafkaPublisherFromProducer(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	if topic == "" {
		topic = defaultKafkaTopic
	}
	return &KafkaPublisher{producer: producer, topic: topic}
}

// Publish implements Publisher.Publish.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := e.Encode()
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(e.ShowID),
		Value: sarama.ByteEncoder(data),
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return err
	}
	atomic.AddUint64(&p.published, 1)
	return nil
}

// Published returns the number of events written.
func (p *KafkaPublisher) Published() uint64 {
	return atomic.LoadUint64(&p.published)
}

// Close releases the producer.
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
