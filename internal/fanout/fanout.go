// Package fanout implements an optional libp2p GossipSub transport for
// distributing TradeOutcome events to other engine instances (e.g. a
// read-only dashboard or a secondary executor watching the same master
// set in a hot-standby role). It mirrors the teacher's internal/node
// PubSub setup -- a GossipSub host joined to one topic -- scaled down to
// the single topic this engine needs, since the teacher's own order/trade
// broadcast topics have no equivalent here (spec §6's EventSink is the
// primary outcome channel; this is additive distribution, off by default).
package fanout

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/copytrade/engine/internal/model"
	"github.com/copytrade/engine/internal/ports"
	"github.com/copytrade/engine/pkg/logging"
)

// Config configures the fanout transport.
type Config struct {
	Topic          string
	ListenAddrs    []string
	BootstrapPeers []string
}

// Publisher publishes TradeOutcomes over a GossipSub topic. It satisfies
// ports.EventSink so it can be composed with the primary sink via Tee.
type Publisher struct {
	host  host.Host
	topic *pubsub.Topic
	log   *logging.Logger
}

// New starts a libp2p host, joins GossipSub, and joins cfg.Topic.
func New(ctx context.Context, cfg Config) (*Publisher, error) {
	listenAddrs := make([]multiaddr.Multiaddr, 0, len(cfg.ListenAddrs))
	for _, addr := range cfg.ListenAddrs {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			return nil, fmt.Errorf("fanout: invalid listen address %s: %w", addr, err)
		}
		listenAddrs = append(listenAddrs, ma)
	}

	h, err := libp2p.New(
		libp2p.ListenAddrs(listenAddrs...),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
	)
	if err != nil {
		return nil, fmt.Errorf("fanout: create libp2p host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h, pubsub.WithFloodPublish(true))
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("fanout: init gossipsub: %w", err)
	}

	topicName := cfg.Topic
	if topicName == "" {
		topicName = "copytrade-outcomes"
	}
	topic, err := ps.Join(topicName)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("fanout: join topic %s: %w", topicName, err)
	}

	p := &Publisher{host: h, topic: topic, log: logging.GetDefault().Component("fanout")}
	for _, addr := range cfg.BootstrapPeers {
		if err := p.connectBootstrap(ctx, addr); err != nil {
			p.log.Warn("fanout: bootstrap connect failed", "addr", addr, "error", err)
		}
	}
	return p, nil
}

func (p *Publisher) connectBootstrap(ctx context.Context, addr string) error {
	ma, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(ma)
	if err != nil {
		return err
	}
	return p.host.Connect(ctx, *info)
}

var _ ports.EventSink = (*Publisher)(nil)

// Publish broadcasts outcome as JSON to the topic's subscribers.
func (p *Publisher) Publish(ctx context.Context, outcome *model.TradeOutcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("fanout: marshal outcome: %w", err)
	}
	if err := p.topic.Publish(ctx, data); err != nil {
		return fmt.Errorf("fanout: publish outcome: %w", err)
	}
	return nil
}

// Close tears down the topic and host.
func (p *Publisher) Close() error {
	p.topic.Close()
	return p.host.Close()
}

// Tee combines a primary sink with an optional fanout publisher: the
// primary's error is authoritative (fanout delivery is best-effort
// distribution, not the durable record spec §6 requires of EventSink).
type Tee struct {
	Primary ports.EventSink
	Fanout  *Publisher
}

var _ ports.EventSink = (*Tee)(nil)

// Publish delivers to Primary, then best-effort to Fanout if configured.
func (t *Tee) Publish(ctx context.Context, outcome *model.TradeOutcome) error {
	if err := t.Primary.Publish(ctx, outcome); err != nil {
		return err
	}
	if t.Fanout != nil {
		if err := t.Fanout.Publish(ctx, outcome); err != nil {
			t.Fanout.log.Warn("fanout: best-effort broadcast failed", "plan_id", outcome.PlanID, "error", err)
		}
	}
	return nil
}
