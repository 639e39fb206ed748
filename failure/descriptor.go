// Package failure captures errors as process-portable descriptors.
//
// Worker processes cannot hand an error value back to their coordinator
// directly: arbitrary error types do not survive an encode/decode round
// trip, and some carry values (file handles, connections, closures) that
// must never cross a process boundary. Capture flattens an error chain
// into a Descriptor tree of plain data, and Descriptor.Err rebuilds a
// usable error on the receiving side.
package failure

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"
)

// maxCauseDepth bounds cause-chain traversal so cyclic or pathological
// chains cannot recurse forever.
const maxCauseDepth = 32

// Frame is one entry of a captured call trace.
type Frame struct {
	Function string
	File     string
	Line     int
}

func (f Frame) String() string {
	return fmt.Sprintf("%s (%s:%d)", f.Function, f.File, f.Line)
}

// Attr is a single key/value annotation attached to a failure. Values
// are sanitized before transmission; see Sanitize.
type Attr struct {
	Key   string
	Value any
}

// Descriptor is the wire form of an error: message, origin, optional
// cause chain and call trace, all reduced to encodable plain data.
type Descriptor struct {
	Code    int
	File    string
	Line    int
	Message string
	Kind    string
	Cause   *Descriptor
	Frames  []Frame
	Attrs   []Attr
	Trace   []string
}

var traceCapture atomic.Bool

// SetTraceCapture toggles call-trace collection for descriptors captured
// in this process. Traces are off by default; they add encode weight and
// most callers only need them while debugging.
func SetTraceCapture(enabled bool) { traceCapture.Store(enabled) }

// TraceCapture reports whether call traces are currently collected.
func TraceCapture() bool { return traceCapture.Load() }

// Optional interfaces probed on captured errors. Error values that
// implement them contribute the extra fields to their descriptor.
type (
	coder    interface{ Code() int }
	exiter   interface{ ExitCode() int }
	locator  interface{ Location() (string, int) }
	attrer   interface{ Attrs() []Attr }
	framer   interface{ CallFrames() []Frame }
	describd interface{ Describe() *Descriptor }
)

// Capture flattens err into a Descriptor. The cause chain is walked via
// errors.Unwrap up to maxCauseDepth levels, with already-seen errors cut
// off so cycles terminate. When trace capture is enabled and the error
// carries no frames of its own, the caller's stack is recorded.
func Capture(err error) *Descriptor {
	if err == nil {
		return nil
	}
	d := snapshot(err, make(map[error]bool), 0)
	if len(d.Frames) == 0 && TraceCapture() {
		d.Frames = callers(3)
		d.Trace = renderFrames(d.Frames)
		if d.File == "" && len(d.Frames) > 0 {
			d.File = d.Frames[0].File
			d.Line = d.Frames[0].Line
		}
	}
	return d
}

func snapshot(err error, seen map[error]bool, depth int) *Descriptor {
	if err == nil || depth >= maxCauseDepth || seen[err] {
		return nil
	}
	seen[err] = true

	if pre, ok := err.(describd); ok {
		if d := pre.Describe(); d != nil {
			return d
		}
	}

	d := &Descriptor{
		Message: err.Error(),
		Kind:    fmt.Sprintf("%T", err),
	}
	switch c := err.(type) {
	case coder:
		d.Code = c.Code()
	case exiter:
		d.Code = c.ExitCode()
	}
	if l, ok := err.(locator); ok {
		d.File, d.Line = l.Location()
	}
	if a, ok := err.(attrer); ok {
		d.Attrs = sanitizeAttrs(a.Attrs())
	}
	if f, ok := err.(framer); ok {
		d.Frames = append([]Frame(nil), f.CallFrames()...)
		d.Trace = renderFrames(d.Frames)
	}
	d.Cause = snapshot(errors.Unwrap(err), seen, depth+1)
	return d
}

// String renders the descriptor and its cause chain on one line.
func (d *Descriptor) String() string {
	if d == nil {
		return "<nil>"
	}
	var b strings.Builder
	for cur, depth := d, 0; cur != nil && depth < maxCauseDepth; cur, depth = cur.Cause, depth+1 {
		if depth > 0 {
			b.WriteString(": ")
		}
		b.WriteString(cur.Message)
	}
	return b.String()
}

// Origin returns the file and line the failure was recorded at, or empty
// values when unknown.
func (d *Descriptor) Origin() (string, int) {
	if d == nil {
		return "", 0
	}
	return d.File, d.Line
}

// Attr returns the value of the named annotation and whether it is set.
func (d *Descriptor) Attr(key string) (any, bool) {
	if d == nil {
		return nil, false
	}
	for _, a := range d.Attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return nil, false
}

func callers(skip int) []Frame {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(skip, pcs)
	if n == 0 {
		return nil
	}
	var out []Frame
	frames := runtime.CallersFrames(pcs[:n])
	for {
		fr, more := frames.Next()
		if fr.Function != "" && !strings.HasPrefix(fr.Function, "runtime.") {
			out = append(out, Frame{Function: fr.Function, File: fr.File, Line: fr.Line})
		}
		if !more {
			break
		}
	}
	return out
}

func renderFrames(frames []Frame) []string {
	if len(frames) == 0 {
		return nil
	}
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.String()
	}
	return out
}
