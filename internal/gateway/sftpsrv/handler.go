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
	"bytes"
	"errors"
	"io"
	"os"
	"strconv"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/pkg/sftp"

	"github.com/ktygw/kty-gateway/internal/metrics"
)

// mapExecError maps the resolver's non-success outcomes to their SFTP
// status codes: a missing path (exec "No such file" or a cluster 404)
// maps to SSH_FX_NO_SUCH_FILE; anything else — a non-zero exit, RBAC
// denial, transport error — falls back to SSH_FX_FAILURE via a plain
// error.
func mapExecError(err error) error {
	switch {
	case errors.Is(err, ErrNoSuchFile), apierrors.IsNotFound(err):
		return os.ErrNotExist
	default:
		return err
	}
}

// streamState tracks which of {Unknown, OpenFile, FileComplete, OpenDir,
// DirComplete} this handler instance is in, guaranteeing a single read
// or readdir terminates its respective stream. The state is held per
// Handler (one per SFTP channel), not per open handle: once a Fileread
// has completed, every later Fileread on the channel yields io.EOF, and
// likewise every List after a completed List.
type streamState int

const (
	unknown streamState = iota
	openFile
	fileComplete
	openDir
	dirComplete
)

// Handler implements github.com/pkg/sftp's request handlers for the
// gateway's read-only virtual filesystem. One Handler is created per
// SFTP subsystem channel.
type Handler struct {
	resolver *Resolver
	state    streamState
}

// NewHandler builds a read-only sftp.Handlers bound to resolver.
func NewHandler(resolver *Resolver) sftp.Handlers {
	metrics.SFTPActiveSessions.Inc()
	h := &Handler{resolver: resolver}
	return sftp.Handlers{
		FileGet:  h,
		FilePut:  h,
		FileCmd:  h,
		FileList: h,
	}
}

// Fileread serves `open(read)` + the deferred `read` body as a single
// Data frame — github.com/pkg/sftp drives chunking from the returned
// io.ReaderAt, but the whole file is fetched in one `cat` exec, matching
// the original's single-frame read.
func (h *Handler) Fileread(r *sftp.Request) (io.ReaderAt, error) {
	if h.state == fileComplete {
		return nil, io.EOF
	}
	h.state = openFile

	data, err := h.resolver.Read(r.Context(), ParsePath(r.Filepath))
	if err != nil {
		return nil, mapExecError(err)
	}
	h.state = fileComplete
	metrics.SFTPFilesTotal.WithLabelValues("sent").Inc()
	metrics.SFTPBytesTotal.WithLabelValues("sent").Add(float64(len(data)))
	return bytes.NewReader(data), nil
}

// Filewrite is unreachable in practice: the server never advertises
// write support, but github.com/pkg/sftp still requires FileWriter to be
// set. Every call fails closed.
func (h *Handler) Filewrite(r *sftp.Request) (io.WriterAt, error) {
	return nil, sftp.ErrSSHFxOpUnsupported
}

// Filecmd handles the write-class operations (remove, rename, mkdir,
// ...), all unsupported in this read-only subsystem.
func (h *Handler) Filecmd(r *sftp.Request) error {
	return sftp.ErrSSHFxOpUnsupported
}

// Filelist handles List (readdir), Stat, Lstat, and Readlink.
func (h *Handler) Filelist(r *sftp.Request) (sftp.ListerAt, error) {
	switch r.Method {
	case "List":
		if h.state == dirComplete {
			return nil, io.EOF
		}
		h.state = openDir

		entries, err := h.resolver.List(r.Context(), ParsePath(r.Filepath))
		if err != nil {
			return nil, mapExecError(err)
		}
		h.state = dirComplete
		metrics.SFTPListTotal.Inc()
		return listerAt(toFileInfos(entries)), nil

	case "Stat", "Lstat":
		metrics.SFTPStatTotal.Inc()
		entry, err := h.resolver.Stat(r.Context(), ParsePath(r.Filepath))
		if err != nil {
			return nil, mapExecError(err)
		}
		return listerAt([]os.FileInfo{fileInfo(entry)}), nil

	case "Readlink":
		return listerAt([]os.FileInfo{fileInfo(FileEntry{Name: r.Filepath, Path: r.Filepath})}), nil

	default:
		return nil, sftp.ErrSSHFxOpUnsupported
	}
}

func toFileInfos(entries []FileEntry) []os.FileInfo {
	infos := make([]os.FileInfo, len(entries))
	for i, e := range entries {
		infos[i] = fileInfo(e)
	}
	return infos
}

// fileInfo adapts a FileEntry to os.FileInfo, which is what
// github.com/pkg/sftp's ListerAt contract expects.
func fileInfo(e FileEntry) os.FileInfo {
	return &entryInfo{entry: e}
}

type entryInfo struct {
	entry FileEntry
}

func (i *entryInfo) Name() string       { return i.entry.Name }
func (i *entryInfo) Size() int64        { return i.entry.Size }
func (i *entryInfo) Mode() os.FileMode  { return i.entry.Mode }
func (i *entryInfo) ModTime() time.Time { return time.Unix(i.entry.ModTime, 0) }
func (i *entryInfo) IsDir() bool        { return i.entry.IsDir }
func (i *entryInfo) Sys() interface{}   { return &i.entry }

// Uid and Gid implement github.com/pkg/sftp's FileInfoUidGid, so the
// SFTP attrs response carries the owner reported by `ls -l` instead of
// falling back to a local os/user lookup (which would resolve nothing
// useful for a path inside a container).
func (i *entryInfo) Uid() uint32 { return numericID(i.entry.User) }
func (i *entryInfo) Gid() uint32 { return numericID(i.entry.Group) }

// numericID maps an `ls -l` owner field to a numeric id for the SFTP
// wire attrs. "root" is the only name `ls` ever prints unresolved to a
// bare uid/gid in these containers; anything else already numeric
// (no /etc/passwd entry) parses directly, and an unresolvable name
// falls back to 0 rather than guessing.
func numericID(name string) uint32 {
	if name == "root" {
		return 0
	}
	if n, err := strconv.ParseUint(name, 10, 32); err == nil {
		return uint32(n)
	}
	return 0
}

// listerAt implements sftp.ListerAt over an in-memory slice.
type listerAt []os.FileInfo

func (l listerAt) ListAt(ls []os.FileInfo, offset int64) (int, error) {
	if offset >= int64(len(l)) {
		return 0, io.EOF
	}
	n := copy(ls, l[offset:])
	if n < len(ls) {
		return n, io.EOF
	}
	return n, nil
}
