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

package tunnel

import (
	"io"
	"time"

	"github.com/ktygw/kty-gateway/internal/metrics"
)

// streamMetrics identifies one splice for the stream_* series: the
// resource kind being tunneled to/from ("pods", "services", "nodes") and
// the direction ("ingress" for direct-tcpip, "egress" for tcpip-forward).
type streamMetrics struct {
	resource  string
	direction string
}

// stream splices src and dst full-duplex until either side closes,
// recording stream_total/stream_active/stream_bytes_total/
// stream_duration_seconds around the splice. It returns the result of
// whichever direction finishes first (nil when that direction reached
// EOF); the other direction's result is discarded.
func stream(src, dst io.ReadWriteCloser, m streamMetrics) error {
	metrics.StreamTotal.WithLabelValues(m.resource, m.direction).Inc()
	metrics.StreamActive.WithLabelValues(m.resource, m.direction).Inc()
	defer metrics.StreamActive.WithLabelValues(m.resource, m.direction).Dec()

	start := time.Now()
	defer func() {
		metrics.StreamDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	errc := make(chan error, 2)
	go func() {
		n, err := io.Copy(dst, src)
		metrics.StreamBytesTotal.WithLabelValues(m.resource, m.direction, "outgoing").Add(float64(n))
		errc <- err
	}()
	go func() {
		n, err := io.Copy(src, dst)
		metrics.StreamBytesTotal.WithLabelValues(m.resource, m.direction, "incoming").Add(float64(n))
		errc <- err
	}()

	err := <-errc
	src.Close()
	dst.Close()
	<-errc
	return err
}
