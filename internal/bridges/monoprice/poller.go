package monoprice

import (
	"context"
	"errors"
	"sync"
	"time"
)

// defaultPollInterval paces full-status queries across all zones.
const defaultPollInterval = 10 * time.Second

// Poller periodically queries every configured zone so the cache
// converges after changes made at the keypads or by IR remote, which
// the amplifier does not always push.
//
// Polls run only while the connection is Connected or Degraded and are
// best-effort: a failed cycle is logged and retried next tick.
type Poller struct {
	client   *Client
	interval time.Duration

	done *closeOnce
	wg   sync.WaitGroup
}

// NewPoller creates a poller for the given client.
//
// Parameters:
//   - client: the bridge client to poll through
//   - interval: time between full poll cycles (0 = default 10s)
func NewPoller(client *Client, interval time.Duration) *Poller {
	if interval == 0 {
		interval = defaultPollInterval
	}
	return &Poller{
		client:   client,
		interval: interval,
		done:     newCloseOnce(),
	}
}

// Start launches the poll loop. An initial poll runs immediately so the
// cache fills as soon as the device is reachable.
func (p *Poller) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.run(ctx)
}

// Close stops the poller and waits for the loop to exit.
func (p *Poller) Close() error {
	p.done.Close()
	p.wg.Wait()
	return nil
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.pollAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done.Done():
			return
		case <-ticker.C:
			p.pollAll(ctx)
		}
	}
}

// pollAll queries every zone in cache order. It stops early when the
// connection drops so a dead link costs one failed query, not one per
// zone.
func (p *Poller) pollAll(ctx context.Context) {
	st := p.client.State()
	if st != StateConnected && st != StateDegraded {
		return
	}

	for _, id := range p.client.Cache().ZoneIDs() {
		cmdCtx, cancel := context.WithTimeout(ctx, p.client.cfg.CommandTimeout+time.Second)
		err := p.client.Query(cmdCtx, id)
		cancel()

		if err != nil {
			if errors.Is(err, ErrNotConnected) || errors.Is(err, ErrClosed) {
				return
			}
			p.client.logDebug("poll query failed", "zone", id, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-p.done.Done():
			return
		default:
		}
	}
}
