package queue

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/afroboost/campaign-scheduler/internal/config"
)

// Kafka holds broker settings and builds writers for campaign events.
type Kafka struct {
	cfg config.KafkaConfig
}

// NewKafka validates the broker list.
func NewKafka(cfg config.KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	return &Kafka{cfg: cfg}, nil
}

// NewWriter returns a synchronous writer for topic. Messages with the same key land
// on the same partition so one campaign's events stay ordered. Retries are left to
// the caller.
func (k *Kafka) NewWriter(topic string) *kafka.Writer {
	writeTimeout := k.cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(k.cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           writeTimeout,
		MaxAttempts:            1,
		AllowAutoTopicCreation: false,
		Transport:              &kafka.Transport{ClientID: k.cfg.ClientID},
	}
}

// EnsureTopics creates the missing topics through the cluster controller.
func (k *Kafka) EnsureTopics(ctx context.Context, topics []string, partitions, replicationFactor int) error {
	dialer := &kafka.Dialer{Timeout: 10 * time.Second, ClientID: k.cfg.ClientID}
	conn, err := dialer.DialContext(ctx, "tcp", k.cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("kafka: dial: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("kafka: find controller: %w", err)
	}
	ctrlConn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("kafka: dial controller: %w", err)
	}
	defer ctrlConn.Close()

	existing, err := ctrlConn.ReadPartitions()
	if err != nil {
		return fmt.Errorf("kafka: read partitions: %w", err)
	}
	known := make(map[string]struct{}, len(existing))
	for _, p := range existing {
		known[p.Topic] = struct{}{}
	}

	var missing []kafka.TopicConfig
	for _, topic := range topics {
		if _, ok := known[topic]; ok || topic == "" {
			continue
		}
		missing = append(missing, kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     partitions,
			ReplicationFactor: replicationFactor,
		})
	}
	if len(missing) == 0 {
		return nil
	}
	if err := ctrlConn.CreateTopics(missing...); err != nil {
		return fmt.Errorf("kafka: create topics: %w", err)
	}
	return nil
}
