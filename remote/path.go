/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package remote

import (
	"runtime"
	"strings"
)

// PathModule joins and splits paths using one operating system's rules.
// The controller and the worker may run different operating systems, so
// paths sent to a worker must be built with the worker's PathModule.
type PathModule interface {
	// Join joins elements with the separator. An absolute element
	// discards everything before it.
	Join(elem ...string) string
	// Split splits p after its final separator. dir has trailing
	// separators removed unless it is a root.
	Split(p string) (dir, file string)
}

var (
	// Posix implements PathModule for Unix-like workers.
	Posix PathModule = posixPath{}
	// Windows implements PathModule for Windows workers.
	Windows PathModule = windowsPath{}
)

// HostPath returns the PathModule for the operating system this process runs on.
func HostPath() PathModule {
	if runtime.GOOS == "windows" {
		return Windows
	}
	return Posix
}

type posixPath struct{}

func (posixPath) Join(elem ...string) string {
	var out string
	for _, e := range elem {
		switch {
		case strings.HasPrefix(e, "/"):
			out = e
		case out == "" || strings.HasSuffix(out, "/"):
			out += e
		default:
			out += "/" + e
		}
	}
	return out
}

func (posixPath) Split(p string) (string, string) {
	i := strings.LastIndex(p, "/") + 1
	dir, file := p[:i], p[i:]
	if trimmed := strings.TrimRight(dir, "/"); trimmed != "" {
		dir = trimmed
	}
	return dir, file
}

type windowsPath struct{}

func isWindowsSep(c byte) bool {
	return c == '\\' || c == '/'
}

// splitDrive separates a leading "C:" drive letter from the rest of p.
func splitDrive(p string) (string, string) {
	if len(p) >= 2 && p[1] == ':' {
		return p[:2], p[2:]
	}
	return "", p
}

func (windowsPath) Join(elem ...string) string {
	var out string
	for _, e := range elem {
		drive, rest := splitDrive(e)
		switch {
		case drive != "":
			out = e
		case rest != "" && isWindowsSep(rest[0]):
			// Rooted without a drive keeps the current drive.
			d, _ := splitDrive(out)
			out = d + e
		case out == "" || isWindowsSep(out[len(out)-1]) || strings.HasSuffix(out, ":"):
			out += e
		default:
			out += `\` + e
		}
	}
	return out
}

func (windowsPath) Split(p string) (string, string) {
	drive, rest := splitDrive(p)
	i := len(rest)
	for i > 0 && !isWindowsSep(rest[i-1]) {
		i--
	}
	head, file := rest[:i], rest[i:]
	if trimmed := strings.TrimRight(head, `\/`); trimmed != "" {
		head = trimmed
	}
	return drive + head, file
}
