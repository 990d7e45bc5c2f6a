// Package kafkaconsumer turns data-change events into analytics recomputes.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	obs "github.com/mohammed-shakir/mains-analytics/internal/core/observability"
	"github.com/mohammed-shakir/mains-analytics/internal/datachange"
	"github.com/mohammed-shakir/mains-analytics/internal/layers"
	mylog "github.com/mohammed-shakir/mains-analytics/internal/logger"
	"github.com/mohammed-shakir/mains-analytics/internal/viewstate"
)

const TriggerReason = "datachange"

type Trigger interface {
	Trigger(reason string)
}

type Consumer struct {
	cfg     Config
	logger  *slog.Logger
	state   *viewstate.State
	trigger Trigger
	zlog    *zerolog.Logger
}

func New(cfg Config, logger *slog.Logger, zl *zerolog.Logger, state *viewstate.State, trigger Trigger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	base := mylog.WithComponent(context.Background(), "kafka_consumer")
	return &Consumer{
		cfg:     cfg,
		logger:  logger,
		state:   state,
		trigger: trigger,
		zlog:    mylog.FromContext(base, zl),
	}
}

// Start consumes data-change events until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	if c.state == nil || c.trigger == nil {
		return errors.New("kafkaconsumer: missing dependencies (state/trigger)")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := newClaimHandler(c.logger, c.ProcessOne)

	c.logger.Info("kafka datachange consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("kafka datachange consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				obs.IncKafkaConsumerError("consume")
				c.zlog.Error().Err(err).
					Strs("brokers", c.cfg.Brokers).
					Str("topic", c.cfg.Topic).
					Msg("kafka consumer error")
				select {
				case <-ctx.Done():
				case <-time.After(2 * time.Second):
				}
			}
		}
	}
}

// ProcessOne handles a single event. Malformed events are counted and skipped
// so one bad message cannot stall the partition.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev datachange.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.reject(ctx, msg, "decode", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		c.reject(ctx, msg, "validate", err)
		return nil
	}

	relevant, err := c.affectsView(ev)
	if err != nil {
		c.reject(ctx, msg, "extent", err)
		return nil
	}
	if !relevant {
		obs.IncDataChange("ignored")
		c.logger.DebugContext(ctx, "data change outside the analysed view",
			"layer", ev.Layer, "op", ev.Op)
		return nil
	}

	c.trigger.Trigger(TriggerReason)
	obs.IncDataChange("triggered")
	mylog.FromContext(ctx, c.zlog).Info().
		Str("event", "datachange").
		Str("op", ev.Op).Str("layer", ev.Layer).
		Int64("offset", msg.Offset).
		Msg("recompute triggered")
	return nil
}

func (c *Consumer) reject(ctx context.Context, msg *sarama.ConsumerMessage, kind string, err error) {
	obs.IncKafkaConsumerError(kind)
	obs.IncDataChange("invalid")
	mylog.FromContext(ctx, c.zlog).Error().
		Err(err).
		Str("kind", kind).
		Str("topic", msg.Topic).
		Int32("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Msg("kafka error")
}

// affectsView reports whether the edit touches a visible analytics layer inside the current view.
func (c *Consumer) affectsView(ev datachange.Event) (bool, error) {
	l, err := c.state.Catalog().Get(ev.Layer)
	if err != nil || l.Role == layers.RoleDisplay {
		return false, nil
	}
	snap := c.state.Snapshot()
	if !snap.Visible.Has(l.Key) {
		return false, nil
	}
	ext, err := ev.Extent()
	if err != nil {
		return false, err
	}
	return snap.BBox.Bound().Intersects(ext), nil
}
