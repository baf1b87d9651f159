package syncer

import (
	"encoding/json"
	"sync"
	"time"
)

// debouncer collapses bursts of broadcasts for one store to the last value
// only. Each registered store owns its own debouncer; there is no shared
// timer namespace. A superseding call cancels the previously scheduled
// flush, so intermediate states are never delivered.
type debouncer struct {
	mu     sync.Mutex
	window time.Duration
	timer  *time.Timer

	state  json.RawMessage
	action string
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{window: window}
}

// schedule records the latest state and arranges for flush to run once the
// window elapses. With a zero window the flush runs synchronously.
func (d *debouncer) schedule(state json.RawMessage, action string, flush func(state json.RawMessage, action string)) {
	if d.window <= 0 {
		flush(state, action)
		return
	}

	d.mu.Lock()
	d.state = append(json.RawMessage(nil), state...)
	d.action = action
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, func() {
		d.mu.Lock()
		state, action := d.state, d.action
		d.timer = nil
		d.mu.Unlock()
		flush(state, action)
	})
	d.mu.Unlock()
}

// stop cancels any scheduled flush.
func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
