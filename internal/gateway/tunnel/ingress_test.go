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
	"testing"

	"golang.org/x/crypto/ssh"
	kubefake "k8s.io/client-go/kubernetes/fake"

	"github.com/ktygw/kty-gateway/internal/cluster"
)

// fakeNewChannel is a minimal ssh.NewChannel double that records whether
// it was accepted or rejected.
type fakeNewChannel struct {
	extraData []byte

	rejected   bool
	rejectCode ssh.RejectionReason
	rejectMsg  string
}

func (f *fakeNewChannel) Accept() (ssh.Channel, <-chan *ssh.Request, error) {
	panic("Accept should not be reached in a parse/policy rejection test")
}

func (f *fakeNewChannel) Reject(reason ssh.RejectionReason, message string) error {
	f.rejected = true
	f.rejectCode = reason
	f.rejectMsg = message
	return nil
}

func (f *fakeNewChannel) ChannelType() string { return "direct-tcpip" }
func (f *fakeNewChannel) ExtraData() []byte   { return f.extraData }

func TestHandleDirectTCPIP_RejectsUnparsablePayload(t *testing.T) {
	nc := &fakeNewChannel{extraData: []byte{0x01, 0x02}}
	controller := &cluster.Controller{Kube: kubefake.NewSimpleClientset()}

	if err := HandleDirectTCPIP(context.Background(), controller, nc); err != nil {
		t.Fatalf("HandleDirectTCPIP: %v", err)
	}
	if !nc.rejected {
		t.Fatal("expected channel to be rejected")
	}
	if nc.rejectCode != ssh.ConnectionFailed {
		t.Errorf("reject code = %v, want ConnectionFailed", nc.rejectCode)
	}
}

func TestHandleDirectTCPIP_RejectsUnsupportedResource(t *testing.T) {
	payload := ssh.Marshal(&directTCPIPPayload{
		DestAddr:   "configmaps/default/x",
		DestPort:   80,
		OriginAddr: "127.0.0.1",
		OriginPort: 1234,
	})
	nc := &fakeNewChannel{extraData: payload}
	controller := &cluster.Controller{Kube: kubefake.NewSimpleClientset()}

	if err := HandleDirectTCPIP(context.Background(), controller, nc); err != nil {
		t.Fatalf("HandleDirectTCPIP: %v", err)
	}
	if !nc.rejected {
		t.Fatal("expected channel to be rejected")
	}
	if nc.rejectCode != ssh.ConnectionFailed {
		t.Errorf("reject code = %v, want ConnectionFailed", nc.rejectCode)
	}
}
