package kafkaconsumer

import (
	"time"

	"github.com/mohammed-shakir/mains-analytics/internal/core/config"
)

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
}

// ConfigFrom derives the consumer settings from the service configuration.
// Only edits made while the service runs matter, so consumption starts at the newest offset.
func ConfigFrom(k config.KafkaCfg) Config {
	return Config{
		Brokers:          k.BrokerList(),
		Topic:            k.DataChangeTopic,
		GroupID:          k.GroupID,
		SessionTimeout:   30 * time.Second,
		Heartbeat:        3 * time.Second,
		RebalanceTimeout: 30 * time.Second,
	}
}
