// Package invalidation consumes feature change events from Kafka and drops
// the cached feature info of the changed layers, so every gateway instance
// forgets what another instance saw change.
package invalidation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/ows-codec/internal/changes"
	"github.com/mohammed-shakir/ows-codec/internal/core/observability"
)

// Invalidator drops everything cached for a layer.
type Invalidator interface {
	InvalidateLayer(ctx context.Context, layer string) error
}

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
}

// NewConfig fills the group timings the gateway runs with. brokers is a
// comma separated list.
func NewConfig(brokers, topic, groupID string) Config {
	return Config{
		Brokers:          splitCSV(brokers),
		Topic:            topic,
		GroupID:          groupID,
		SessionTimeout:   30 * time.Second,
		Heartbeat:        3 * time.Second,
		RebalanceTimeout: 30 * time.Second,
	}
}

func splitCSV(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	cache  Invalidator
}

func New(cfg Config, logger *slog.Logger, c Invalidator) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{cfg: cfg, logger: logger, cache: c}
}

func (c *Consumer) saramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true
	return cfg
}

// Start consumes until ctx is done. Consume errors are logged and retried.
func (c *Consumer) Start(ctx context.Context) error {
	if c.cache == nil {
		return errors.New("invalidation: missing cache")
	}
	if len(c.cfg.Brokers) == 0 {
		return errors.New("invalidation: no kafka brokers configured")
	}

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, c.saramaConfig())
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.ProcessOne}

	c.logger.Info("invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.logger.Error("consumer error", "err", err, "topic", c.cfg.Topic)
				select {
				case <-ctx.Done():
				case <-time.After(2 * time.Second):
				}
			}
		}
	}
}

// ProcessOne applies one change event. Undecodable messages are logged and
// skipped so a poison message cannot stall the partition.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()

	var ev changes.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil || ev.Layer == "" {
		observability.ObserveInvalidation("decode", time.Since(start))
		c.logger.Warn("skipping undecodable change event",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}

	if err := c.cache.InvalidateLayer(ctx, ev.Layer); err != nil {
		observability.ObserveInvalidation("cache", time.Since(start))
		return fmt.Errorf("invalidate layer %q: %w", ev.Layer, err)
	}

	observability.ObserveInvalidation("ok", time.Since(start))
	c.logger.Debug("invalidated layer", "layer", ev.Layer, "op", ev.Op, "id", ev.ID)
	return nil
}
