// Package feed consumes external route events from Kafka and replays them
// into a live network, re-simulating after every batch. It turns the
// simulator into a what-if mirror of a real route stream.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/nsg-ethz/bgpsim/internal/metrics"
	"github.com/nsg-ethz/bgpsim/network"
	"github.com/nsg-ethz/bgpsim/prefix"
	"github.com/nsg-ethz/bgpsim/route"
)

// RouteEvent is one advertise ("A") or withdraw ("D") of an external
// router, as published on the feed topics.
type RouteEvent struct {
	Router      string   `json:"router"`
	Action      string   `json:"action"`
	Prefix      string   `json:"prefix"`
	Path        []uint32 `json:"path,omitempty"`
	Med         *uint32  `json:"med,omitempty"`
	Communities []string `json:"communities,omitempty"`
}

type Feed struct {
	client *kgo.Client
	net    *network.Network
	logger *zap.Logger
	joined atomic.Bool

	// onConverged runs after each applied batch, with the network
	// converged and the queue drained.
	onConverged func(*network.Network)
}

func New(brokers []string, groupID string, topics []string, clientID string,
	net *network.Network, logger *zap.Logger, onConverged func(*network.Network)) (*Feed, error) {
	f := &Feed{net: net, logger: logger, onConverged: onConverged}

	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topics...),
		kgo.ClientID(clientID),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, _ map[string][]int32) {
			f.joined.Store(true)
			logger.Info("feed: partitions assigned")
		}),
		kgo.OnPartitionsRevoked(func(_ context.Context, _ *kgo.Client, _ map[string][]int32) {
			f.joined.Store(false)
			logger.Info("feed: partitions revoked")
		}),
		kgo.OnPartitionsLost(func(_ context.Context, _ *kgo.Client, _ map[string][]int32) {
			f.joined.Store(false)
			logger.Info("feed: partitions lost")
		}),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("feed: creating client: %w", err)
	}
	f.client = client
	return f, nil
}

// IsJoined reports whether the consumer currently holds partitions.
func (f *Feed) IsJoined() bool { return f.joined.Load() }

// Close leaves the group and releases the client.
func (f *Feed) Close() { f.client.Close() }

// Run polls until the context is cancelled. Records of a poll are applied
// in order, then the network is driven to convergence once.
func (f *Feed) Run(ctx context.Context) error {
	for {
		fetches := f.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return ctx.Err()
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			metrics.FeedErrorsTotal.WithLabelValues("fetch").Inc()
			f.logger.Error("feed: fetch error",
				zap.String("topic", topic),
				zap.Int32("partition", partition),
				zap.Error(err),
			)
		})

		applied := 0
		fetches.EachRecord(func(rec *kgo.Record) {
			if f.applyRecord(rec) {
				applied++
			}
		})
		if applied == 0 {
			continue
		}

		if err := f.net.Simulate(); err != nil {
			f.logger.Error("feed: simulation did not converge", zap.Error(err))
			continue
		}
		if f.onConverged != nil {
			f.onConverged(f.net)
		}
		if err := f.client.CommitUncommittedOffsets(ctx); err != nil {
			f.logger.Error("feed: offset commit failed", zap.Error(err))
		}
	}
}

// applyRecord decodes and applies a single route event. Malformed or
// unknown-router events are logged and skipped so the feed keeps making
// progress, mirroring how BGP ignores malformed updates.
func (f *Feed) applyRecord(rec *kgo.Record) bool {
	var ev RouteEvent
	if err := json.Unmarshal(rec.Value, &ev); err != nil {
		metrics.FeedErrorsTotal.WithLabelValues("decode").Inc()
		f.logger.Warn("feed: undecodable record",
			zap.String("topic", rec.Topic),
			zap.Error(err),
		)
		return false
	}

	ext, err := f.net.Rid(ev.Router)
	if err != nil {
		metrics.FeedErrorsTotal.WithLabelValues("router").Inc()
		f.logger.Warn("feed: unknown router", zap.String("router", ev.Router))
		return false
	}
	p, err := prefix.Parse(ev.Prefix)
	if err != nil {
		metrics.FeedErrorsTotal.WithLabelValues("prefix").Inc()
		f.logger.Warn("feed: bad prefix", zap.String("prefix", ev.Prefix), zap.Error(err))
		return false
	}

	switch ev.Action {
	case "A":
		path := make([]route.AsN, len(ev.Path))
		for i, as := range ev.Path {
			path[i] = route.AsN(as)
		}
		var comms []route.Community
		for _, s := range ev.Communities {
			c, err := route.ParseCommunity(s)
			if err != nil {
				metrics.FeedErrorsTotal.WithLabelValues("community").Inc()
				f.logger.Warn("feed: bad community", zap.String("community", s), zap.Error(err))
				return false
			}
			comms = append(comms, c)
		}
		if err := f.net.AdvertiseExternalRoute(ext, p, path, ev.Med, comms); err != nil {
			metrics.FeedErrorsTotal.WithLabelValues("apply").Inc()
			f.logger.Warn("feed: advertise failed", zap.Error(err))
			return false
		}
	case "D":
		if err := f.net.WithdrawExternalRoute(ext, p); err != nil {
			metrics.FeedErrorsTotal.WithLabelValues("apply").Inc()
			f.logger.Warn("feed: withdraw failed", zap.Error(err))
			return false
		}
	default:
		metrics.FeedErrorsTotal.WithLabelValues("action").Inc()
		f.logger.Warn("feed: unknown action", zap.String("action", ev.Action))
		return false
	}

	metrics.FeedMessagesTotal.WithLabelValues(rec.Topic, ev.Action).Inc()
	return true
}
