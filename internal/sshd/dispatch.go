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

package sshd

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/ktygw/kty-gateway/internal/dashboard"
	"github.com/ktygw/kty-gateway/internal/gateway/session"
	"github.com/ktygw/kty-gateway/internal/gateway/sftpsrv"
	"github.com/ktygw/kty-gateway/internal/gateway/tunnel"
	"github.com/ktygw/kty-gateway/internal/metrics"
)

// ptyRequestPayload is RFC 4254 §6.2's pty-req payload, trimmed to the
// fields the dashboard needs.
type ptyRequestPayload struct {
	Term                                 string
	Columns, Rows, PixelWidth, PixelHeight uint32
	Modes                                string
}

type windowChangePayload struct {
	Columns, Rows, PixelWidth, PixelHeight uint32
}

type tcpipForwardPayload struct {
	Addr string
	Port uint32
}

// dispatchChannels is this connection's event loop: it fans out incoming
// channels until chans closes (the connection dropped or was closed).
// Global requests are served separately by handleGlobalRequests.
func (s *Server) dispatchChannels(ctx context.Context, handler *session.Handler, sc *ssh.ServerConn, chans <-chan ssh.NewChannel) {
	for newChannel := range chans {
		switch newChannel.ChannelType() {
		case "session":
			metrics.ChannelsTotal.WithLabelValues("session").Inc()
			go s.handleSessionChannel(ctx, handler, newChannel)

		case "direct-tcpip":
			metrics.ChannelsTotal.WithLabelValues("direct-tcpip").Inc()
			go func() {
				if err := tunnel.HandleDirectTCPIP(ctx, s.opts.Controller, newChannel); err != nil {
					s.logger.V(4).Info("direct-tcpip channel ended", "reason", err)
				}
			}()

		default:
			newChannel.Reject(ssh.UnknownChannelType, "unsupported channel type")
		}
	}
}

// handleGlobalRequests services tcpip-forward / cancel-tcpip-forward,
// the only global (connection-level, not channel-level) requests this
// gateway understands.
func (s *Server) handleGlobalRequests(ctx context.Context, conn ssh.Conn, identity string, reqs <-chan *ssh.Request) {
	cancels := map[string]context.CancelFunc{}

	for req := range reqs {
		switch req.Type {
		case "tcpip-forward":
			var payload tcpipForwardPayload
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				req.Reply(false, nil)
				continue
			}

			egress, err := tunnel.NewEgress(s.opts.Controller.Kube, conn, identity, payload.Addr, payload.Port)
			if err != nil {
				req.Reply(false, nil)
				continue
			}

			forwardCtx, cancel := context.WithCancel(ctx)
			cancels[forwardKey(payload.Addr, payload.Port)] = cancel
			req.Reply(true, nil)

			go func() {
				if err := egress.Run(forwardCtx); err != nil {
					s.logger.V(4).Info("tcpip-forward ended", "reason", err)
				}
			}()

		case "cancel-tcpip-forward":
			var payload tcpipForwardPayload
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				req.Reply(false, nil)
				continue
			}
			if cancel, ok := cancels[forwardKey(payload.Addr, payload.Port)]; ok {
				cancel()
				delete(cancels, forwardKey(payload.Addr, payload.Port))
			}
			req.Reply(true, nil)

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}

	for _, cancel := range cancels {
		cancel()
	}
}

func forwardKey(addr string, port uint32) string {
	return fmt.Sprintf("%s:%d", addr, port)
}

// handleSessionChannel drives one "session" channel: pty-req/shell start
// the dashboard, window-change resizes it, subsystem sftp hands the
// channel to the read-only SFTP server, and raw data is forwarded to the
// dashboard as keystrokes once it is running.
func (s *Server) handleSessionChannel(ctx context.Context, handler *session.Handler, newChannel ssh.NewChannel) {
	channel, requests, err := newChannel.Accept()
	if err != nil {
		return
	}
	defer channel.Close()

	if err := handler.ChannelOpened(); err != nil {
		s.logger.Error(err, "unexpected channel_open_session")
		return
	}

	var dash *dashboard.Dashboard
	var active atomic.Pointer[dashboard.Dashboard]

	go s.forwardChannelData(channel, &active)

	for req := range requests {
		switch req.Type {
		case "pty-req", "shell":
			if dash != nil {
				req.Reply(true, nil)
				continue
			}
			var cols, rows, pxw, pxh uint32 = 80, 24, 0, 0
			if req.Type == "pty-req" {
				var payload ptyRequestPayload
				if err := ssh.Unmarshal(req.Payload, &payload); err == nil {
					cols, rows, pxw, pxh = payload.Columns, payload.Rows, payload.PixelWidth, payload.PixelHeight
				}
			}

			dash = dashboard.New(handler.ClusterClient())
			writer := handler.NewChannelWriter(channel)
			if err := dash.Start(ctx, writer); err != nil {
				req.Reply(false, nil)
				continue
			}
			if err := handler.PtyStarted(dash); err != nil {
				s.logger.Error(err, "unexpected pty_request")
			}
			active.Store(dash)
			_ = dash.Send(dashboard.Event{Kind: dashboard.Resize, Cols: int(cols), Rows: int(rows), PixelW: int(pxw), PixelH: int(pxh)})
			req.Reply(true, nil)

		case "window-change":
			var payload windowChangePayload
			if err := ssh.Unmarshal(req.Payload, &payload); err == nil && dash != nil {
				_ = dash.Send(dashboard.Event{Kind: dashboard.Resize, Cols: int(payload.Columns), Rows: int(payload.Rows), PixelW: int(payload.PixelWidth), PixelH: int(payload.PixelHeight)})
			}
			if req.WantReply {
				req.Reply(true, nil)
			}

		case "subsystem":
			name := string(req.Payload[4:])
			if name != "sftp" {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			go s.serveSFTP(channel)

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}

	if dash != nil {
		active.Store(nil)
		_ = dash.Stop()
		_ = handler.PtyStopped()
	}
}

// forwardChannelData reads raw SSH_MSG_CHANNEL_DATA off channel and
// forwards it to whichever dashboard is currently active as keystrokes.
// Data arriving before a pty is started, or after one has stopped, is
// discarded: there is nothing running to receive it.
func (s *Server) forwardChannelData(channel ssh.Channel, active *atomic.Pointer[dashboard.Dashboard]) {
	buf := make([]byte, 4096)
	for {
		n, err := channel.Read(buf)
		if n > 0 {
			metrics.BytesReceivedTotal.Add(float64(n))
			if dash := active.Load(); dash != nil {
				key := make([]byte, n)
				copy(key, buf[:n])
				_ = dash.Send(dashboard.Event{Kind: dashboard.Input, Key: key})
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) serveSFTP(channel ssh.Channel) {
	resolver := sftpsrv.NewResolver(s.opts.Controller.Kube, s.opts.Controller.Config)
	handlers := sftpsrv.NewHandler(resolver)

	server := sftp.NewRequestServer(channel, handlers)
	defer server.Close()

	if err := server.Serve(); err != nil {
		s.logger.V(4).Info("sftp subsystem ended", "reason", err)
	}
}
