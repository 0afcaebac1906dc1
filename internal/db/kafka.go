package db

import (
	"time"

	"github.com/agazso/runtracker/internal/config"

	"github.com/segmentio/kafka-go"
)

// NewKafkaWriter returns nil when no brokers are configured. The writer dials
// lazily on the first write.
func NewKafkaWriter(cfg config.Config) *kafka.Writer {
	brokers := cfg.KafkaBrokerList()
	if len(brokers) == 0 {
		return nil
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  cfg.KafkaTopic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           10 * time.Second,
		AllowAutoTopicCreation: true,
	}
}
