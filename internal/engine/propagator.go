package engine

import (
	"context"

	"github.com/nerrad567/panelsync/internal/hub"
)

// propagate hands a hub change to every panel. Each controller republishes
// only the buttons and display items bound to the changed value; the
// broker's de-duplication drops payloads that did not change.
func (e *Engine) propagate(ch hub.Change) {
	if !e.running() {
		return
	}
	ctx, cancel := context.WithTimeout(e.ctx, handlerTimeout)
	defer cancel()
	for _, c := range e.controllerList() {
		c.OnHubChange(ctx, ch)
	}
}
