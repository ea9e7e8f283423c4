package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chainmon/substrate-exporter/config"
	rpcclient "github.com/chainmon/substrate-exporter/rpc/jsonrpc/client"
	"github.com/chainmon/substrate-exporter/scale"
)

// BlockSubscription delivers one BlockEvent per new block, strictly in
// order of block number. It is used by a single goroutine.
type BlockSubscription struct {
	client    *Client
	sub       *rpcclient.Subscription
	finalized bool

	started bool
	last    uint64
	backlog []pendingBlock
	dropped uint64

	closeOnce sync.Once
	closed    chan struct{}
}

// pendingBlock is a block announced by a header, or a gap to backfill when
// header is nil.
type pendingBlock struct {
	number uint64
	header *Header
}

// SubscribeBlocks subscribes to new heads or finalized heads, depending on
// the follow mode. A client allows a single active subscription.
func (c *Client) SubscribeBlocks(ctx context.Context) (*BlockSubscription, error) {
	c.mtx.Lock()
	if c.sub != nil {
		c.mtx.Unlock()
		return nil, ErrSubscriptionActive
	}
	s := &BlockSubscription{
		client:    c,
		finalized: c.cfg.Follow == config.FollowFinalized,
		closed:    make(chan struct{}),
	}
	c.sub = s
	c.mtx.Unlock()

	method, unsub := "chain_subscribeNewHeads", "chain_unsubscribeNewHeads"
	if s.finalized {
		method, unsub = "chain_subscribeFinalizedHeads", "chain_unsubscribeFinalizedHeads"
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	sub, err := c.ws.Subscribe(ctx, method, unsub, nil, c.cfg.SubscriptionBuffer)
	if err != nil {
		c.mtx.Lock()
		c.sub = nil
		c.mtx.Unlock()
		return nil, c.classify(method, err)
	}
	s.sub = sub
	c.logger.Debug("Subscribed to blocks", "method", method, "id", sub.ID)
	return s, nil
}

// Next blocks until the next block is assembled. ProtocolError and
// QueryError concern a single block and the subscription stays usable.
// After the transport fails Next always returns ErrConnectionLost.
func (s *BlockSubscription) Next(ctx context.Context) (BlockEvent, error) {
	c := s.client
	for {
		if len(s.backlog) > 0 {
			p := s.backlog[0]
			s.backlog = s.backlog[1:]
			return c.assembleBlock(ctx, p, s.finalized)
		}

		select {
		case <-s.closed:
			return BlockEvent{}, ErrSubscriptionClosed
		default:
		}

		select {
		case raw, ok := <-s.sub.Notifications():
			if !ok {
				select {
				case <-s.closed:
					return BlockEvent{}, ErrSubscriptionClosed
				default:
				}
				return BlockEvent{}, c.lost()
			}
			s.reportDropped()
			if err := s.enqueue(raw); err != nil {
				return BlockEvent{}, err
			}
		case <-s.closed:
			return BlockEvent{}, ErrSubscriptionClosed
		case <-c.ws.Done():
			return BlockEvent{}, c.lost()
		case <-ctx.Done():
			return BlockEvent{}, ctx.Err()
		}
	}
}

// enqueue queues the block of a header notification, preceded by any
// missing blocks up to the backfill limit.
func (s *BlockSubscription) enqueue(raw json.RawMessage) error {
	c := s.client
	var hdr Header
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return ProtocolError{Op: s.sub.Method, Source: err}
	}
	n := uint64(hdr.Number)
	if s.started && n <= s.last {
		c.metrics.SkippedHeaders.Add(1)
		c.logger.Debug("Skipping header", "height", n, "last", s.last)
		return nil
	}
	if s.started && n > s.last+1 {
		from := s.last + 1
		if limit := uint64(c.cfg.MaxBackfill); n-from > limit {
			c.logger.Info("Gap exceeds backfill limit", "from", from, "to", n-1, "limit", limit)
			from = n - limit
		}
		for m := from; m < n; m++ {
			s.backlog = append(s.backlog, pendingBlock{number: m})
		}
	}
	s.backlog = append(s.backlog, pendingBlock{number: n, header: &hdr})
	s.started = true
	s.last = n
	return nil
}

func (s *BlockSubscription) reportDropped() {
	if d := s.sub.Dropped(); d > s.dropped {
		s.client.metrics.DroppedNotifications.Add(float64(d - s.dropped))
		s.dropped = d
	}
}

// Close cancels the subscription on the node.
func (s *BlockSubscription) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		c := s.client
		c.mtx.Lock()
		if c.sub == s {
			c.sub = nil
		}
		c.mtx.Unlock()
		if s.sub == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
		defer cancel()
		if err := s.sub.Unsubscribe(ctx); err != nil {
			c.logger.Debug("Unsubscribe failed", "err", err)
		}
	})
}

// assembleBlock fetches the body and events of a block and decodes both.
func (c *Client) assembleBlock(ctx context.Context, p pendingBlock, finalized bool) (BlockEvent, error) {
	var hash Hash
	if p.header != nil {
		hash = p.header.Hash()
	} else {
		c.metrics.BackfilledBlocks.Add(1)
		var h *Hash
		if err := c.Call(ctx, &h, "chain_getBlockHash", p.number); err != nil {
			return BlockEvent{}, err
		}
		if h == nil {
			return BlockEvent{}, QueryError{Query: "chain_getBlockHash", Source: fmt.Errorf("no block %d", p.number)}
		}
		hash = *h
	}

	var blk *SignedBlock
	if err := c.Call(ctx, &blk, "chain_getBlock", hash); err != nil {
		return BlockEvent{}, err
	}
	if blk == nil {
		return BlockEvent{}, QueryError{Query: "chain_getBlock", Source: fmt.Errorf("block %s not found", hash)}
	}
	md := c.Metadata()
	item, err := md.StorageItem("System", "Events")
	if err != nil {
		return BlockEvent{}, ProtocolError{Op: "System.Events", Block: p.number, Source: err}
	}
	var rawEvents *HexBytes
	if err := c.Call(ctx, &rawEvents, "state_getStorage", HexBytes(scale.StoragePrefix(item.Prefix, item.Name)), hash); err != nil {
		return BlockEvent{}, err
	}

	ev := BlockEvent{
		Number:       uint64(blk.Block.Header.Number),
		Hash:         hash,
		ParentHash:   blk.Block.Header.ParentHash,
		Finalized:    finalized,
		Extrinsics:   make([]Extrinsic, 0, len(blk.Block.Extrinsics)),
		PalletEvents: make(map[string]int),
	}
	for i, raw := range blk.Block.Extrinsics {
		x, err := md.DecodeExtrinsic(raw)
		if err != nil {
			return BlockEvent{}, ProtocolError{Op: fmt.Sprintf("extrinsic %d", i), Block: ev.Number, Source: err}
		}
		ev.Extrinsics = append(ev.Extrinsics, Extrinsic{Index: i, Pallet: x.Pallet, Call: x.Call, Signed: x.Signed})
		if x.Pallet == "Timestamp" && x.Call == "set" {
			if now, ok := x.Args.Field("now"); ok {
				if ms, err := now.Uint64(); err == nil {
					ev.Timestamp = time.UnixMilli(int64(ms)).UTC()
				}
			}
		}
	}

	if rawEvents != nil {
		records, err := md.DecodeEvents(*rawEvents)
		if err != nil {
			return BlockEvent{}, ProtocolError{Op: "System.Events", Block: ev.Number, Source: err}
		}
		for _, r := range records {
			ev.PalletEvents[r.Pallet]++
			if r.Pallet != "System" {
				continue
			}
			switch r.Name {
			case "ExtrinsicSuccess":
				if r.Phase == scale.PhaseApplyExtrinsic && int(r.ExtrinsicIndex) < len(ev.Extrinsics) {
					ev.Extrinsics[r.ExtrinsicIndex].Success = true
				}
			case "CodeUpdated":
				ev.RuntimeUpgraded = true
			}
		}
	}

	c.setLastBlock(ev.Number)
	if ev.RuntimeUpgraded {
		// The new runtime applies from the next block on.
		if err := c.loadRuntime(ctx, hash); err != nil {
			c.logger.Error("Failed to reload metadata after runtime upgrade", "height", ev.Number, "err", err)
			if IsConnectionLost(err) {
				return BlockEvent{}, err
			}
		} else {
			c.metrics.MetadataReloads.Add(1)
			c.logger.Info("Reloaded metadata after runtime upgrade", "height", ev.Number,
				"spec_version", c.RuntimeVersion().SpecVersion)
		}
	}
	return ev, nil
}
