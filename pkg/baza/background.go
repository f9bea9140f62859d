package baza

import (
	"context"
	"crypto/tls"
	"sync"
	"time"

	"github.com/cuemby/arhiv/pkg/log"
)

// DefaultBackgroundInterval is how often the background loop sweeps orphaned
// staged BLOBs and retries sync against known peers when nothing else has
// triggered a round recently.
const DefaultBackgroundInterval = 5 * time.Minute

// Background runs a ticker-driven loop that sweeps staged BLOB orphans and
// retries sync against the known peer set. One tick failing logs and
// continues rather than aborting the loop.
type Background struct {
	b        *Baza
	interval time.Duration
	cert     *tls.Certificate
	peers    func() []string

	mu     sync.Mutex
	stopCh chan struct{}
}

// NewBackground returns a Background loop for b. cert is this replica's
// sync identity; peers is called on every tick to get the current peer
// list, since discovery can change between ticks.
func NewBackground(b *Baza, cert *tls.Certificate, interval time.Duration, peers func() []string) *Background {
	if interval <= 0 {
		interval = DefaultBackgroundInterval
	}
	return &Background{b: b, cert: cert, interval: interval, peers: peers}
}

// Start begins the loop in its own goroutine. Safe to call more than once;
// a second call while already running is a no-op.
func (bg *Background) Start() {
	bg.mu.Lock()
	if bg.stopCh != nil {
		bg.mu.Unlock()
		return
	}
	bg.stopCh = make(chan struct{})
	stopCh := bg.stopCh
	bg.mu.Unlock()

	go bg.run(stopCh)
}

// Stop ends the loop. Safe to call more than once.
func (bg *Background) Stop() {
	bg.mu.Lock()
	defer bg.mu.Unlock()
	if bg.stopCh == nil {
		return
	}
	close(bg.stopCh)
	bg.stopCh = nil
}

func (bg *Background) run(stopCh chan struct{}) {
	ticker := time.NewTicker(bg.interval)
	defer ticker.Stop()

	logger := log.WithComponent("baza-background")
	for {
		select {
		case <-ticker.C:
			if err := bg.b.Blobs.SweepStagedOrphans(bg.b.referencedStagedBlobs()); err != nil {
				logger.Warn().Err(err).Msg("staged blob sweep failed")
			}
			if peers := bg.peers(); len(peers) > 0 {
				ctx, cancel := context.WithTimeout(context.Background(), bg.interval)
				if _, err := bg.b.Sync(ctx, bg.cert, peers); err != nil {
					logger.Warn().Err(err).Msg("background sync retry failed")
				}
				cancel()
			}
		case <-stopCh:
			return
		}
	}
}
