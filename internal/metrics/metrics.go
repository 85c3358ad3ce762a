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

// Package metrics registers every Prometheus series the gateway exposes
// on /metrics. Names and label sets are fixed; callers increment or
// observe, they never invent a new series ad hoc.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChannelBytesSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "channel_bytes_sent_total",
		Help: "Bytes written to an SSH channel by writer type.",
	}, []string{"type"})

	AuthAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_attempts_total",
		Help: "SSH authentication attempts by method.",
	}, []string{"method"})

	AuthResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_results_total",
		Help: "SSH authentication results by method and result.",
	}, []string{"method", "result"})

	AuthSucceededTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_succeeded_total",
		Help: "Successful SSH authentications by method.",
	}, []string{"method"})

	CodeGeneratedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "code_generated_total",
		Help: "Device codes issued.",
	})

	CodeCheckedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "code_checked_total",
		Help: "Device code token-exchange attempts by result.",
	}, []string{"result"})

	StreamTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_total",
		Help: "Tunnel streams opened by resource kind and direction.",
	}, []string{"resource", "direction"})

	StreamBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_bytes_total",
		Help: "Tunnel bytes copied by resource, direction, and destination.",
	}, []string{"resource", "direction", "destination"})

	SFTPBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sftp_bytes_total",
		Help: "SFTP bytes transferred by direction.",
	}, []string{"direction"})

	SFTPFilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sftp_files_total",
		Help: "SFTP files opened by direction.",
	}, []string{"direction"})

	SFTPListTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sftp_list_total",
		Help: "SFTP directory listings served.",
	})

	SFTPStatTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sftp_stat_total",
		Help: "SFTP stat/lstat calls served.",
	})

	SessionTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_total",
		Help: "SSH connections accepted.",
	})

	BytesReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bytes_received_total",
		Help: "Bytes read from SSH channels.",
	})

	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "requests_total",
		Help: "Cluster API requests issued by method.",
	}, []string{"method"})

	ChannelsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "channels_total",
		Help: "SSH channels opened by method (session, direct-tcpip, ...).",
	}, []string{"method"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "active_sessions",
		Help: "SSH connections currently open.",
	})

	StreamActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stream_active",
		Help: "Tunnel streams currently open by resource and direction.",
	}, []string{"resource", "direction"})

	SFTPActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sftp_active_sessions",
		Help: "SFTP subsystems currently open.",
	})

	SessionDurationMinutes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "session_duration_minutes",
		Help:    "SSH connection lifetime in minutes.",
		Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 240},
	})

	StreamDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stream_duration_seconds",
		Help:    "Tunnel stream lifetime in seconds.",
		Buckets: prometheus.DefBuckets,
	})
)
