package kafkaconsumer

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/IBM/sarama"

	obs "github.com/mohammed-shakir/mains-analytics/internal/core/observability"
)

type processFunc func(context.Context, *sarama.ConsumerMessage) error

// claimHandler feeds each claimed data-change message to process. Offsets are
// marked only once process returns nil; an error ends the claim so the
// message is redelivered after the next rebalance.
type claimHandler struct {
	logger  *slog.Logger
	process processFunc
	handled atomic.Int64
}

func newClaimHandler(logger *slog.Logger, process processFunc) *claimHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &claimHandler{logger: logger, process: process}
}

func (h *claimHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.logger.Info("datachange claims assigned",
		"generation", sess.GenerationID(),
		"member", sess.MemberID(),
		"claims", sess.Claims())
	return nil
}

func (h *claimHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	h.logger.Info("datachange claims released",
		"generation", sess.GenerationID(),
		"handled", h.handled.Load())
	return nil
}

func (h *claimHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	msgs := claim.Messages()
	for {
		var msg *sarama.ConsumerMessage
		select {
		case <-ctx.Done():
			return fmt.Errorf("claim %s/%d: %w", claim.Topic(), claim.Partition(), ctx.Err())
		case m, ok := <-msgs:
			if !ok {
				return nil
			}
			msg = m
		}

		if err := h.process(ctx, msg); err != nil {
			obs.IncKafkaConsumerError("process")
			return fmt.Errorf("datachange %s/%d@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
		}
		sess.MarkMessage(msg, "")
		h.handled.Add(1)
	}
}
