package broker

import (
	"fmt"

	"devpulse/internal/config"
	"devpulse/internal/logger"
)

func NewProducer(cfg config.BrokerConfig) (Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, fmt.Errorf("kafka broker is not enabled")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka broker list is empty")
	}
	return NewKafkaProducer(cfg.Kafka), nil
}

func NewConsumer(cfg config.BrokerConfig, log logger.Logger) (Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, fmt.Errorf("kafka broker is not enabled")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka broker list is empty")
	}
	return NewKafkaConsumer(cfg.Kafka, log), nil
}
