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
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/ktygw/kty-gateway/internal/cluster"
)

// connectTimeout bounds how long a direct-tcpip dial to the resolved
// address may take before the channel is rejected.
const connectTimeout = time.Second

// directTCPIPPayload is RFC 4254 §7.2's direct-tcpip channel open
// payload: the requested destination, then the originator's address.
type directTCPIPPayload struct {
	DestAddr   string
	DestPort   uint32
	OriginAddr string
	OriginPort uint32
}

// parseDirectTCPIP unmarshals an ssh.NewChannel's ExtraData into its
// direct-tcpip fields.
func parseDirectTCPIP(data []byte) (directTCPIPPayload, error) {
	var p directTCPIPPayload
	if err := ssh.Unmarshal(data, &p); err != nil {
		return directTCPIPPayload{}, fmt.Errorf("unmarshaling direct-tcpip payload: %w", err)
	}
	return p, nil
}

// HandleDirectTCPIP resolves a direct-tcpip channel's destination host
// to a cluster address, dials it, accepts the channel, and splices the
// two until either side closes. The caller is expected to run this in
// its own goroutine per incoming NewChannel.
func HandleDirectTCPIP(ctx context.Context, controller *cluster.Controller, newChannel ssh.NewChannel) error {
	payload, err := parseDirectTCPIP(newChannel.ExtraData())
	if err != nil {
		return newChannel.Reject(ssh.ConnectionFailed, err.Error())
	}

	host, err := ParseHost(payload.DestAddr)
	if err != nil {
		return newChannel.Reject(ssh.ConnectionFailed, err.Error())
	}

	addr, err := host.Addr(ctx, controller)
	if err != nil {
		return newChannel.Reject(ssh.Prohibited, err.Error())
	}

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", fmt.Sprintf("%s:%d", addr, payload.DestPort))
	if err != nil {
		return newChannel.Reject(ssh.ConnectionFailed, fmt.Sprintf("dialing %s: %v", host.path(), err))
	}

	channel, requests, err := newChannel.Accept()
	if err != nil {
		conn.Close()
		return fmt.Errorf("accepting direct-tcpip channel: %w", err)
	}
	go ssh.DiscardRequests(requests)

	defer channel.Close()
	return stream(channel, conn, streamMetrics{resource: host.resource, direction: "ingress"})
}
