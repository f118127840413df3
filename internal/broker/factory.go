package broker

import (
	"fmt"

	"warden/internal/config"
	"warden/internal/logger"
)

func NewAdapter(cfg config.BrokerConfig, queue, consumerGroup string, log logger.Logger) (QueueAdapter, error) {
	switch cfg.Type {
	case "kafka":
		return NewKafkaAdapter(cfg.Kafka, queue, consumerGroup, log), nil
	case "memory":
		return NewMemoryAdapter(0), nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}
