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

// Package sftpsrv implements the gateway's read-only SFTP subsystem: a
// virtual 4-level path (/namespace/pod/container/path) resolved to an
// in-container ls/cat exec, exposed through github.com/pkg/sftp.
package sftpsrv

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/remotecommand"
)

// Path is the parsed form of a virtual SFTP path. Namespace, Pod, and
// Container are populated as the path gets deeper, and Rest is whatever
// comes after the container segment, with a leading "/" (empty when the
// path stops at the container; List then lists "/").
type Path struct {
	Namespace string
	Pod       string
	Container string
	Rest      string
	hasRest   bool
}

// ParsePath splits a virtual SFTP path into its namespace/pod/container
// segments and the in-container path, mirroring the original's
// skip-four-segments parser exactly.
func ParsePath(p string) Path {
	segments := strings.Split(strings.Trim(p, "/"), "/")
	if len(segments) == 1 && segments[0] == "" {
		segments = nil
	}

	var out Path
	if len(segments) > 0 {
		out.Namespace = segments[0]
	}
	if len(segments) > 1 {
		out.Pod = segments[1]
	}
	if len(segments) > 2 {
		out.Container = segments[2]
	}
	if len(segments) > 3 {
		out.Rest = "/" + strings.Join(segments[3:], "/")
		out.hasRest = true
	}
	return out
}

// Resolver lists, stats, and reads files at a virtual SFTP path by
// execing ls/cat inside the target container.
type Resolver struct {
	kube   kubernetes.Interface
	config *rest.Config
}

// NewResolver builds a Resolver bound to a cluster client and its rest
// config (remotecommand needs the raw config to build a SPDY executor).
func NewResolver(kube kubernetes.Interface, config *rest.Config) *Resolver {
	return &Resolver{kube: kube, config: config}
}

// FileEntry is one SFTP directory entry or stat result.
type FileEntry struct {
	Name    string // basename for stat, parent-relative for listings
	Path    string // full virtual path
	Mode    os.FileMode
	Size    int64
	ModTime int64
	IsDir   bool
	User    string // owning user name, as reported by `ls -l`
	Group   string // owning group name, as reported by `ls -l`
}

// List resolves the children at p: cluster namespaces, pods in a
// namespace, containers in a pod, or an in-container `ls -l` listing.
func (r *Resolver) List(ctx context.Context, p Path) ([]FileEntry, error) {
	switch {
	case p.Namespace == "":
		namespaces, err := r.kube.CoreV1().Namespaces().List(ctx, metav1.ListOptions{})
		if err != nil {
			return nil, fmt.Errorf("listing namespaces: %w", err)
		}
		entries := make([]FileEntry, 0, len(namespaces.Items))
		for _, ns := range namespaces.Items {
			entries = append(entries, FileEntry{Name: ns.Name, Path: "/" + ns.Name, IsDir: true, Mode: os.ModeDir | 0o755})
		}
		return entries, nil

	case p.Pod == "":
		pods, err := r.kube.CoreV1().Pods(p.Namespace).List(ctx, metav1.ListOptions{})
		if err != nil {
			return nil, fmt.Errorf("listing pods in %q: %w", p.Namespace, err)
		}
		entries := make([]FileEntry, 0, len(pods.Items))
		for _, pod := range pods.Items {
			entries = append(entries, FileEntry{Name: pod.Name, Path: path.Join("/", p.Namespace, pod.Name), IsDir: true, Mode: os.ModeDir | 0o755})
		}
		return entries, nil

	case p.Container == "":
		pod, err := r.kube.CoreV1().Pods(p.Namespace).Get(ctx, p.Pod, metav1.GetOptions{})
		if err != nil {
			return nil, fmt.Errorf("getting pod %s/%s: %w", p.Namespace, p.Pod, err)
		}
		entries := make([]FileEntry, 0, len(pod.Spec.Containers))
		for _, c := range pod.Spec.Containers {
			entries = append(entries, FileEntry{Name: c.Name, Path: path.Join("/", p.Namespace, p.Pod, c.Name), IsDir: true, Mode: os.ModeDir | 0o755})
		}
		return entries, nil

	default:
		dir := p.Rest
		if dir == "" {
			dir = "/"
		}
		out, err := r.exec(ctx, p, []string{"ls", "-l", "--time-style=+%s", dir})
		if err != nil {
			return nil, err
		}
		lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
		if len(lines) > 0 {
			lines = lines[1:] // skip the "total N" line
		}
		entries := make([]FileEntry, 0, len(lines))
		for _, line := range lines {
			if strings.TrimSpace(line) == "" {
				continue
			}
			entries = append(entries, parseLsLine(line, dir))
		}
		return entries, nil
	}
}

// Stat resolves a single entry at p.
func (r *Resolver) Stat(ctx context.Context, p Path) (FileEntry, error) {
	switch {
	case p.Namespace == "":
		return FileEntry{Name: "/", Path: "/", IsDir: true, Mode: os.ModeDir | 0o755}, nil
	case p.Pod == "":
		if _, err := r.kube.CoreV1().Namespaces().Get(ctx, p.Namespace, metav1.GetOptions{}); err != nil {
			return FileEntry{}, fmt.Errorf("getting namespace %q: %w", p.Namespace, err)
		}
		return FileEntry{Name: p.Namespace, Path: "/" + p.Namespace, IsDir: true, Mode: os.ModeDir | 0o755}, nil
	case p.Container == "":
		if _, err := r.kube.CoreV1().Pods(p.Namespace).Get(ctx, p.Pod, metav1.GetOptions{}); err != nil {
			return FileEntry{}, fmt.Errorf("getting pod %s/%s: %w", p.Namespace, p.Pod, err)
		}
		return FileEntry{Name: p.Pod, Path: path.Join("/", p.Namespace, p.Pod), IsDir: true, Mode: os.ModeDir | 0o755}, nil
	case !p.hasRest:
		if err := r.checkContainer(ctx, p); err != nil {
			return FileEntry{}, err
		}
		return FileEntry{Name: p.Container, Path: path.Join("/", p.Namespace, p.Pod, p.Container), IsDir: true, Mode: os.ModeDir | 0o755}, nil
	default:
		out, err := r.exec(ctx, p, []string{"ls", "-l", "--time-style=+%s", "-d", p.Rest})
		if err != nil {
			return FileEntry{}, err
		}
		line := strings.TrimRight(out, "\n")
		if line == "" {
			return FileEntry{}, fmt.Errorf("no such file: %s", p.Rest)
		}
		return parseLsLine(line, path.Dir(p.Rest)), nil
	}
}

// Read returns the full contents of the file at p via `cat`.
func (r *Resolver) Read(ctx context.Context, p Path) ([]byte, error) {
	if !p.hasRest {
		return nil, fmt.Errorf("invalid path: %s", p.Rest)
	}
	out, err := r.execBytes(ctx, p, []string{"cat", p.Rest})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Resolver) checkContainer(ctx context.Context, p Path) error {
	pod, err := r.kube.CoreV1().Pods(p.Namespace).Get(ctx, p.Pod, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("getting pod %s/%s: %w", p.Namespace, p.Pod, err)
	}
	for _, c := range pod.Spec.Containers {
		if c.Name == p.Container {
			return nil
		}
	}
	return fmt.Errorf("container %s not found in pod %s/%s", p.Container, p.Namespace, p.Pod)
}

func (r *Resolver) exec(ctx context.Context, p Path, cmd []string) (string, error) {
	out, err := r.execBytes(ctx, p, cmd)
	return string(out), err
}

func (r *Resolver) execBytes(ctx context.Context, p Path, cmd []string) ([]byte, error) {
	req := r.kube.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(p.Pod).
		Namespace(p.Namespace).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: p.Container,
			Command:   cmd,
			Stdout:    true,
			Stderr:    true,
			TTY:       true,
		}, scheme.ParameterCodec)

	exec, err := remotecommand.NewSPDYExecutor(r.config, http.MethodPost, req.URL())
	if err != nil {
		return nil, fmt.Errorf("building executor: %w", err)
	}

	var stdout, stderr bytes.Buffer
	err = exec.StreamWithContext(ctx, remotecommand.StreamOptions{Stdout: &stdout, Stderr: &stderr})
	if err != nil {
		if strings.Contains(stderr.String(), "No such file or directory") {
			return nil, fmt.Errorf("%w: %s", ErrNoSuchFile, p.Rest)
		}
		return nil, fmt.Errorf("%w: exec %v in %s/%s/%s: %s", ErrCommandFailed, cmd, p.Namespace, p.Pod, p.Container, stderr.String())
	}
	return stdout.Bytes(), nil
}

// ErrNoSuchFile and ErrCommandFailed distinguish the two non-success exec
// outcomes the SFTP subsystem maps differently: a missing path maps to
// SSH_FX_NO_SUCH_FILE, any other non-zero exit maps to SSH_FX_FAILURE.
var (
	ErrNoSuchFile    = fmt.Errorf("no such file")
	ErrCommandFailed = fmt.Errorf("command failed")
)

// parseLsLine parses a single `ls -l --time-style=+%s` line:
// mode links user group size mtime(epoch) name. If the raw name is
// absolute (the stat -d case), Name is its basename and Path the raw
// name; otherwise (the plain readdir case) Name is the raw name and Path
// is dir/name.
func parseLsLine(line, dir string) FileEntry {
	fields := strings.Fields(line)
	var e FileEntry
	for i, f := range fields {
		switch i {
		case 0:
			if len(f) > 0 {
				e.IsDir = f[0] == 'd'
				e.Mode = modeFromFirstChar(f[0])
			}
		case 2:
			e.User = f
		case 3:
			e.Group = f
		case 4:
			e.Size, _ = strconv.ParseInt(f, 10, 64)
		case 5:
			e.ModTime, _ = strconv.ParseInt(f, 10, 64)
		}
		if i >= 6 {
			// Names can contain spaces; once we reach field 6 the
			// remainder of the line (rejoined) is the name.
			name := strings.Join(fields[6:], " ")
			if path.IsAbs(name) {
				e.Name = path.Base(name)
				e.Path = name
			} else {
				e.Name = name
				e.Path = path.Join(dir, name)
			}
			return e
		}
	}
	return e
}

func modeFromFirstChar(c byte) os.FileMode {
	switch c {
	case 'd':
		return os.ModeDir | 0o755
	case 'l':
		return os.ModeSymlink | 0o777
	case 'c':
		return os.ModeCharDevice | 0o644
	case 'b':
		return os.ModeDevice | 0o644
	case 's':
		return os.ModeSocket | 0o644
	default:
		return 0o644
	}
}
