package panel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/panelsync/internal/panel/deviceconfig"
)

const defaultWriteAttempts = 3

// SyncResult describes one synchronisation of a panel.
type SyncResult struct {
	// Sections lists the sections written; empty when nothing differed.
	Sections []string
	Attempts int
	// ReadFailed is set when the panel's configuration could not be read
	// and the full document was written instead.
	ReadFailed error
	// Reported is the panel's document as read, nil when the read failed.
	Reported *deviceconfig.Document
	// Settle is how long to wait before expecting the panel back on the bus.
	Settle time.Duration
}

// Written reports whether a write was made.
func (r SyncResult) Written() bool {
	return len(r.Sections) > 0
}

// DesiredBuilder renders the configuration a panel should carry. It is
// handed the panel with the firmware the panel itself reports.
type DesiredBuilder func(p Panel) deviceconfig.Document

// Synchronizer pushes desired configurations to panels.
type Synchronizer struct {
	client   DeviceClient
	attempts int
	logger   Logger
	sleep    func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSynchronizer creates a synchronizer making up to attempts writes per sync.
func NewSynchronizer(client DeviceClient, attempts int) *Synchronizer {
	if attempts < 1 {
		attempts = defaultWriteAttempts
	}
	return &Synchronizer{
		client:   client,
		attempts: attempts,
		logger:   noopLogger{},
		sleep:    sleepCtx,
		locks:    make(map[string]*sync.Mutex),
	}
}

// SetLogger sets the logger for the synchronizer.
func (s *Synchronizer) SetLogger(logger Logger) {
	s.logger = logger
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Synchronizer) lockFor(panelID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[panelID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[panelID] = l
	}
	return l
}

// Forget drops the per-panel lock of a deleted panel.
func (s *Synchronizer) Forget(panelID string) {
	s.mu.Lock()
	delete(s.locks, panelID)
	s.mu.Unlock()
}

// Sync reads p's configuration, builds the desired document for the
// firmware the panel reports and writes the sections that differ. A failed read is not fatal: the whole document is
// written. Writes are retried with the firmware's write delay between
// attempts; only the last error is returned, wrapping ErrConfigWrite.
// Calls for the same panel are serialised.
func (s *Synchronizer) Sync(ctx context.Context, p Panel, build DesiredBuilder) (SyncResult, error) {
	l := s.lockFor(p.ID)
	l.Lock()
	defer l.Unlock()

	var res SyncResult
	current, err := s.client.ReadConfig(ctx, p.Address)
	if err != nil {
		s.logger.Warn("panel config read failed, writing full config", "panel", p.ID, "error", err)
		res.ReadFailed = err
		current = nil
	}
	res.Reported = current

	if current != nil && current.Info.Firmware != "" {
		p.Firmware = current.Info.Firmware
	}
	delay := p.Version().WriteDelay()

	partial := deviceconfig.Diff(current, build(p))
	if partial.Empty() {
		s.logger.Debug("panel config up to date", "panel", p.ID)
		return res, nil
	}

	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		res.Attempts = attempt
		lastErr = s.client.WriteConfig(ctx, p.Address, partial)
		if lastErr == nil {
			res.Sections = partial.Sections()
			res.Settle = delay
			s.logger.Info("panel config written", "panel", p.ID, "sections", res.Sections, "attempts", attempt)
			return res, nil
		}
		s.logger.Warn("panel config write failed", "panel", p.ID, "attempt", attempt, "error", lastErr)
		if attempt < s.attempts {
			if err := s.sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}
	}
	if !errors.Is(lastErr, ErrConfigWrite) {
		lastErr = fmt.Errorf("%w: %s: %w", ErrConfigWrite, p.ID, lastErr)
	}
	return res, lastErr
}
