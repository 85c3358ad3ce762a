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

// Package writer gives each SSH channel two views onto the same frame
// sink: a blocking, coalescing-flush writer for the synchronous render
// path, and an async, single-in-flight writer for everything else. Both
// update the channel_bytes_sent_total metric.
package writer

import (
	"bytes"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/ktygw/kty-gateway/internal/metrics"
)

// Frame is the underlying per-channel frame sink: an SSH channel's Write,
// in production, but kept as an interface so tests can substitute a
// buffer.
type Frame interface {
	Write(p []byte) (int, error)
}

// Blocking buffers writes internally and sends a single frame on Flush.
// A render tick must never outrun the drain: if Flush is called while a
// previous flush is still in flight, the call is a no-op rather than
// queuing — the caller (the dashboard's render ticker) is expected to
// skip the tick instead, per the missed-tick-skip policy.
type Blocking struct {
	frame Frame

	mu      sync.Mutex
	buf     bytes.Buffer
	flushMu sync.Mutex
}

// NewBlocking wraps frame with coalescing-flush semantics.
func NewBlocking(frame Frame) *Blocking {
	return &Blocking{frame: frame}
}

// Write appends to the internal buffer. It never blocks on the
// transport.
func (w *Blocking) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

// Flush drains the buffer with a single frame send. If a flush is
// already in flight, Flush returns immediately without sending: callers
// on a ticker should treat that as "tick skipped" rather than retry.
func (w *Blocking) Flush() error {
	if !w.flushMu.TryLock() {
		return nil
	}
	defer w.flushMu.Unlock()

	w.mu.Lock()
	if w.buf.Len() == 0 {
		w.mu.Unlock()
		return nil
	}
	data := append([]byte(nil), w.buf.Bytes()...)
	w.buf.Reset()
	w.mu.Unlock()

	n, err := w.frame.Write(data)
	metrics.ChannelBytesSentTotal.WithLabelValues("blocking").Add(float64(n))
	return err
}

// Async sends at most one frame at a time: Write blocks until the
// previous frame has been written (acknowledged by the transport) before
// accepting the next.
type Async struct {
	frame Frame
	mu    sync.Mutex
}

// NewAsync wraps frame with single-in-flight write semantics.
func NewAsync(frame Frame) *Async {
	return &Async{frame: frame}
}

// Write sends p as a single frame, blocking until any previous Write on
// this Async has returned.
func (w *Async) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err := w.frame.Write(p)
	metrics.ChannelBytesSentTotal.WithLabelValues("non_blocking").Add(float64(n))
	return n, err
}

// Disconnect tears down the whole SSH connection. The wire-level
// SSH_DISCONNECT reason (ByApplication) is not exposed by
// golang.org/x/crypto/ssh's server Conn; message is logged by the caller
// alongside the Close call instead of being sent as the protocol reason
// string.
func Disconnect(conn ssh.Conn, message string) error {
	return conn.Close()
}
