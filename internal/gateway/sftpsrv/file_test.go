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

package sftpsrv

import (
	"os"
	"testing"
)

func TestParseLsLineCapturesOwnerAndGroup(t *testing.T) {
	e := parseLsLine("drwxr-xr-x 2 root root 4096 1700000000 etc", "/")

	if !e.IsDir {
		t.Error("expected etc to be a directory")
	}
	if e.User != "root" {
		t.Errorf("User = %q, want root", e.User)
	}
	if e.Group != "root" {
		t.Errorf("Group = %q, want root", e.Group)
	}
	if e.Size != 4096 {
		t.Errorf("Size = %d, want 4096", e.Size)
	}
	if e.ModTime != 1700000000 {
		t.Errorf("ModTime = %d, want 1700000000", e.ModTime)
	}
	if e.Name != "etc" {
		t.Errorf("Name = %q, want etc", e.Name)
	}
	if e.Path != "/etc" {
		t.Errorf("Path = %q, want /etc", e.Path)
	}
}

func TestParseLsLineAbsoluteStatPath(t *testing.T) {
	e := parseLsLine("-rw-r--r-- 1 alice staff 12 1700000000 /data/notes.txt", "/unused")

	if e.IsDir {
		t.Error("expected a regular file")
	}
	if e.User != "alice" || e.Group != "staff" {
		t.Errorf("User/Group = %q/%q, want alice/staff", e.User, e.Group)
	}
	if e.Name != "notes.txt" {
		t.Errorf("Name = %q, want notes.txt", e.Name)
	}
	if e.Path != "/data/notes.txt" {
		t.Errorf("Path = %q, want /data/notes.txt", e.Path)
	}
}

func TestFileInfoSurfacesUidGid(t *testing.T) {
	e := parseLsLine("drwxr-xr-x 2 root root 4096 1700000000 etc", "/")
	info := fileInfo(e)

	ug, ok := info.(interface {
		os.FileInfo
		Uid() uint32
		Gid() uint32
	})
	if !ok {
		t.Fatal("fileInfo result does not implement pkg/sftp's FileInfoUidGid")
	}
	if ug.Uid() != 0 {
		t.Errorf("Uid() = %d, want 0 for root", ug.Uid())
	}
	if ug.Gid() != 0 {
		t.Errorf("Gid() = %d, want 0 for root", ug.Gid())
	}
}

func TestNumericIDFallsBackToZeroForUnresolvableName(t *testing.T) {
	if got := numericID("nobody"); got != 0 {
		t.Errorf("numericID(nobody) = %d, want 0", got)
	}
	if got := numericID("1000"); got != 1000 {
		t.Errorf("numericID(1000) = %d, want 1000", got)
	}
}

func TestParsePathSegments(t *testing.T) {
	p := ParsePath("/ns1/pod-a/main/etc/hosts")
	if p.Namespace != "ns1" || p.Pod != "pod-a" || p.Container != "main" {
		t.Fatalf("ParsePath = %+v, want ns1/pod-a/main", p)
	}
	if p.Rest != "/etc/hosts" {
		t.Errorf("Rest = %q, want /etc/hosts", p.Rest)
	}
}
