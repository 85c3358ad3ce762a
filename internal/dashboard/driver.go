/*
Copyright 2026 The Faros Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package dashboard defines the contract a PTY-bound terminal UI driver
// must satisfy. The widget tree itself (tables, tabs, graph layout,
// syntax highlighting) is an external collaborator; this package only
// fixes the event shape and the start/send/stop lifecycle the session
// state machine drives it through.
package dashboard

import (
	"context"
	"sync"
	"time"

	"k8s.io/client-go/dynamic"
	"k8s.io/klog/v2"
)

// EventKind discriminates the payload carried by an Event.
type EventKind int

const (
	Render EventKind = iota
	Input
	Resize
	Tunnel
	Shutdown
	Finished
	Raw
	Bytes
)

// Event is sent to a running Dashboard. Only the fields relevant to Kind
// are populated; the rest are zero.
type Event struct {
	Kind EventKind

	Key []byte // Input

	Cols, Rows       int // Resize
	PixelW, PixelH   int // Resize

	TunnelResult error // Tunnel, Finished

	Sub  SubWidget // Raw: handoff target
	Data []byte    // Bytes
}

// SubWidget is a raw-mode collaborator the dashboard can hand the writer
// to (e.g. a pod-shell passthrough) until it reports Finished.
type SubWidget interface {
	Run(ctx context.Context, w Writer) error
}

// Writer is the subset of the channel writer facade a dashboard needs:
// a single ordered byte sink. internal/gateway/writer provides the
// concrete blocking and async implementations the session binds here.
type Writer interface {
	Write(p []byte) (int, error)
	Flush() error
}

// RenderInterval is the default render-tick period. Missed ticks are
// skipped, never queued, so a raw sub-widget holding the writer cannot
// cause tick accumulation.
const RenderInterval = 100 * time.Millisecond

// Dashboard drives a single PTY-bound terminal UI for the lifetime of one
// SSH channel. It is single-threaded internally: Send is the only
// concurrent-safe entry point. Events pass through a channel buffered to
// 256 entries; see Send for what happens when it is full.
type Dashboard struct {
	client dynamic.Interface
	logger klog.Logger

	events chan Event
	done   chan struct{}
	cancel context.CancelFunc
}

// New builds a Dashboard bound to the given cluster client. Start must be
// called before Send.
func New(client dynamic.Interface) *Dashboard {
	return &Dashboard{
		client: client,
		logger: klog.Background().WithName("dashboard"),
		events: make(chan Event, 256),
	}
}

// Start begins the render/input loop against w, returning once the loop
// goroutine is running. It must be called at most once per Dashboard.
func (d *Dashboard) Start(ctx context.Context, w Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})

	go d.run(ctx, w)
	return nil
}

// Send enqueues an event for the running loop. While the buffer has room
// it returns at once. When the buffer is full, a Render event is dropped
// and any other event kind blocks until the loop takes an event off the
// buffer.
func (d *Dashboard) Send(ev Event) error {
	select {
	case d.events <- ev:
		return nil
	default:
		// Buffer full: drop a stale Render rather than block the
		// session's event loop. Any other event kind still blocks
		// briefly since losing an Input or Resize is user-visible.
		if ev.Kind == Render {
			return nil
		}
		d.events <- ev
		return nil
	}
}

// Stop sends a Shutdown event (if the buffer has room), cancels the loop
// and waits for it to exit. The loop's teardown flushes the writer; no
// terminal reset sequences (raw mode, alternate screen) are written.
func (d *Dashboard) Stop() error {
	if d.cancel == nil {
		return nil
	}
	select {
	case d.events <- Event{Kind: Shutdown}:
	default:
	}
	d.cancel()
	<-d.done
	return nil
}

func (d *Dashboard) run(ctx context.Context, w Writer) {
	defer close(d.done)
	defer d.teardown(w)

	ticker := time.NewTicker(RenderInterval)
	defer ticker.Stop()

	var mu sync.Mutex
	cols, rows := 80, 24

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.events:
			switch ev.Kind {
			case Shutdown:
				return
			case Resize:
				mu.Lock()
				cols, rows = ev.Cols, ev.Rows
				mu.Unlock()
			case Raw:
				if ev.Sub != nil {
					if err := ev.Sub.Run(ctx, w); err != nil {
						d.logger.Error(err, "sub-widget exited with error")
					}
				}
			case Input, Bytes, Tunnel:
				// Forwarded to the widget tree; the tree itself is
				// external to this driver.
			}
		case <-ticker.C:
			_ = w.Flush()
		}
	}
}

// teardown is deferred by run, so it also runs when run panics. It only
// flushes the writer.
func (d *Dashboard) teardown(w Writer) {
	_ = w.Flush()
}
