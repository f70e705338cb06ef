package automation

import (
	"bytes"
	"context"
	"encoding/gob"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
)

const topicTasks = "smartmargin-tasks"

// Announce is the wire record gossiped when a task is registered or
// cancelled, so every keeper on the network holds the same task table.
type Announce struct {
	Registered bool
	Task       Task
}

func init() {
	gob.Register(Announce{})
}

// Gossip broadcasts task announcements over a libp2p gossipsub topic.
type Gossip struct {
	h     host.Host
	ps    *pubsub.PubSub
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	log   *zap.SugaredLogger

	muCb sync.RWMutex
	cb   func(Announce)
}

type GossipConfig struct {
	ListenAddr string
	Bootstrap  []string
	Logger     *zap.SugaredLogger
}

func NewGossip(ctx context.Context, cfg GossipConfig) (*Gossip, error) {
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, err
	}

	g := &Gossip{h: h, ps: ps, log: cfg.Logger}
	if g.log == nil {
		g.log = zap.NewNop().Sugar()
	}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil {
			g.log.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	g.topic, err = ps.Join(topicTasks)
	if err != nil {
		return nil, err
	}
	g.sub, err = g.topic.Subscribe()
	if err != nil {
		return nil, err
	}
	go g.recvLoop(ctx)

	g.log.Infow("keeper_gossip_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr)
	return g, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

// OnAnnounce sets the callback invoked for announcements from peers.
func (g *Gossip) OnAnnounce(cb func(Announce)) {
	g.muCb.Lock()
	g.cb = cb
	g.muCb.Unlock()
}

// Publish broadcasts an announcement. Best effort: gossip failures are
// logged, never propagated into the account's atomic unit.
func (g *Gossip) Publish(a Announce) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(a); err != nil {
		g.log.Warnw("announce_encode_failed", "err", err)
		return
	}
	if err := g.topic.Publish(context.Background(), buf.Bytes()); err != nil {
		g.log.Warnw("announce_publish_failed", "err", err)
	}
}

func (g *Gossip) recvLoop(ctx context.Context) {
	for {
		msg, err := g.sub.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == g.h.ID() {
			continue
		}
		var a Announce
		if err := gob.NewDecoder(bytes.NewReader(msg.Data)).Decode(&a); err != nil {
			g.log.Warnw("announce_decode_failed", "err", err)
			continue
		}
		g.muCb.RLock()
		cb := g.cb
		g.muCb.RUnlock()
		if cb != nil {
			cb(a)
		}
	}
}

func (g *Gossip) Close() error {
	g.sub.Cancel()
	if err := g.topic.Close(); err != nil {
		return err
	}
	return g.h.Close()
}
