// Stack capture and removal of instrumentation frames from recorded errors
package testspan

import (
	"errors"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
)

// stackTracer is implemented by errors that carry the stack they were raised on.
type stackTracer interface {
	Stack() []byte
}

var packageDir = CallerDir()

// CallerDir returns the source directory of the calling function's file.
// Adapters use it to register their own frames for filtering.
func CallerDir() string {
	_, file, _, ok := runtime.Caller(1)
	if !ok {
		return ""
	}
	return filepath.ToSlash(filepath.Dir(file))
}

// currentStack returns the calling goroutine's stack without the goroutine
// header line and the frame of the capture call itself.
func currentStack() []byte {
	lines := strings.SplitN(string(debug.Stack()), "\n", 4)
	if len(lines) < 4 {
		return nil
	}
	if strings.HasPrefix(lines[1], "runtime/debug.Stack(") {
		return []byte(lines[3])
	}
	return []byte(strings.Join(lines[1:], "\n"))
}

// errorStack returns the stack carried by err, if any.
func errorStack(err error) string {
	var st stackTracer
	if errors.As(err, &st) {
		return string(st.Stack())
	}
	return ""
}

// FilterStack drops the frames of a goroutine stack dump whose source file
// lives directly in one of dirs. Frames are a function line followed by a
// tab-indented file line; other lines are kept as is.
func FilterStack(stack string, dirs []string) string {
	if stack == "" || len(dirs) == 0 {
		return stack
	}
	lines := strings.Split(strings.TrimRight(stack, "\n"), "\n")
	out := make([]string, 0, len(lines))
	for i := 0; i < len(lines); i++ {
		if i+1 < len(lines) && strings.HasPrefix(lines[i+1], "\t") {
			if !inDirs(lines[i+1], dirs) {
				out = append(out, lines[i], lines[i+1])
			}
			i++
			continue
		}
		out = append(out, lines[i])
	}
	return strings.Join(out, "\n")
}

func inDirs(fileLine string, dirs []string) bool {
	file := strings.TrimSpace(fileLine)
	if idx := strings.LastIndex(file, ":"); idx >= 0 {
		file = file[:idx]
	}
	dir := filepath.ToSlash(filepath.Dir(file))
	for _, d := range dirs {
		if d != "" && dir == d {
			return true
		}
	}
	return false
}
