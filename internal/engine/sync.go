package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/panelsync/internal/flow"
	"github.com/nerrad567/panelsync/internal/infrastructure/influxdb"
	"github.com/nerrad567/panelsync/internal/panel"
	"github.com/nerrad567/panelsync/internal/panel/deviceconfig"
)

// SyncEvent is broadcast after every sync attempt.
type SyncEvent struct {
	PanelID    string   `json:"panel_id"`
	Sections   []string `json:"sections"`
	Attempts   int      `json:"attempts"`
	ReadFailed bool     `json:"read_failed,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// SyncAll queues a sync of every registered panel.
func (e *Engine) SyncAll() {
	for _, p := range e.deps.Panels.List() {
		e.RequestSync(p.ID)
	}
}

// RequestSync queues a sync of one panel. A request made while that
// panel's sync is running is folded into one follow-up sync.
func (e *Engine) RequestSync(panelID string) {
	e.mu.Lock()
	if !e.started || e.stopped {
		e.mu.Unlock()
		return
	}
	st, ok := e.syncs[panelID]
	if !ok {
		st = &syncState{}
		e.syncs[panelID] = st
	}
	if st.running {
		st.queued = true
		e.mu.Unlock()
		return
	}
	st.running = true
	e.wg.Add(1)
	e.mu.Unlock()

	go e.syncLoop(panelID, st)
}

func (e *Engine) syncLoop(panelID string, st *syncState) {
	defer e.wg.Done()
	for {
		if e.ctx.Err() == nil {
			if _, err := e.SyncNow(e.ctx, panelID); err != nil {
				e.deps.Logger.Warn("panel sync failed", "panel", panelID, "error", err)
			}
		}
		e.mu.Lock()
		if st.queued && e.ctx.Err() == nil {
			st.queued = false
			e.mu.Unlock()
			continue
		}
		st.running = false
		st.queued = false
		e.mu.Unlock()
		return
	}
}

// SyncNow pushes a panel's configuration and waits for the result. After
// a write the panel's live state is republished once it has had time to
// reconnect.
func (e *Engine) SyncNow(ctx context.Context, panelID string) (panel.SyncResult, error) {
	p, err := e.deps.Panels.Get(panelID)
	if err != nil {
		return panel.SyncResult{}, err
	}
	ctrl, err := e.Controller(panelID)
	if err != nil {
		ctrl = e.ensureController(p)
	}

	res, syncErr := e.deps.Synchronizer.Sync(ctx, p, func(reported panel.Panel) deviceconfig.Document {
		return panel.BuildDesired(reported, e.opts.Vendor, e.deps.Slots, e.deps.Brokers)
	})

	if res.Reported != nil && res.Reported.Info.Firmware != "" && res.Reported.Info.Firmware != p.Firmware {
		// The firmware decides the protocol shape; recording it queues
		// another sync through the panel change listener.
		if _, err := e.deps.Panels.UpdateFirmwareVersion(ctx, p.ID, res.Reported.Info.Firmware); err != nil {
			e.deps.Logger.Warn("panel firmware not recorded", "panel", p.ID, "error", err)
		}
	}

	e.recordSync(p.ID, res, syncErr)
	switch {
	case syncErr != nil:
		ctrl.ReportWarning(ctx, syncErr.Error())
		return res, syncErr
	case res.ReadFailed != nil:
		ctrl.ReportWarning(ctx, fmt.Sprintf("%v: %v", panel.ErrConfigRead, res.ReadFailed))
	default:
		ctrl.ReportWarning(ctx, "")
	}

	if !res.Written() {
		ctrl.RefreshAll(ctx)
		return res, nil
	}
	e.deps.Triggers.Fire(ctx, flow.Event{
		PanelID: p.ID,
		Trigger: flow.PanelSynced,
		Tokens:  map[string]any{"sections": res.Sections},
	})
	e.deps.Scheduler.Schedule(panel.TaskKey{PanelID: p.ID, Connector: -1, Kind: panel.TaskSettle}, res.Settle, func() {
		if !e.running() {
			return
		}
		c, err := e.Controller(p.ID)
		if err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(e.ctx, handlerTimeout)
		defer cancel()
		c.RefreshAll(ctx)
	})
	return res, nil
}

func (e *Engine) recordSync(panelID string, res panel.SyncResult, err error) {
	ev := SyncEvent{
		PanelID:    panelID,
		Sections:   res.Sections,
		Attempts:   res.Attempts,
		ReadFailed: res.ReadFailed != nil,
	}
	if ev.Sections == nil {
		ev.Sections = []string{}
	}
	if err != nil {
		ev.Error = err.Error()
	}
	e.broadcast(ChannelSync, ev)
	if e.deps.Recorder != nil {
		e.deps.Recorder.RecordSync(influxdb.SyncOutcome{
			PanelID:  panelID,
			Sections: len(res.Sections),
			Attempts: res.Attempts,
			Err:      err,
			Time:     time.Now(),
		})
	}
}
