package failure

import (
	"fmt"
	"runtime"
	"sync"
)

// Error is the reconstructed form of a Descriptor, and the package's
// own error type for callers that want portable failures from the
// start. It keeps the captured origin, annotations and cause chain
// available through the same optional interfaces Capture probes for.
type Error struct {
	message string
	kind    string
	code    int
	file    string
	line    int
	frames  []Frame
	attrs   []Attr
	cause   error
}

func (e *Error) Error() string { return e.message }

// Kind returns the dynamic type name recorded when the failure was
// captured, for example "*os.PathError". Errors created locally report
// "*failure.Error".
func (e *Error) Kind() string {
	if e.kind == "" {
		return fmt.Sprintf("%T", e)
	}
	return e.kind
}

func (e *Error) Code() int { return e.code }

func (e *Error) Location() (string, int) { return e.file, e.line }

func (e *Error) CallFrames() []Frame { return e.frames }

func (e *Error) Attrs() []Attr { return e.attrs }

func (e *Error) Unwrap() error { return e.cause }

// WithCode sets the numeric code and returns e for chaining.
func (e *Error) WithCode(code int) *Error {
	e.code = code
	return e
}

// WithAttr appends one annotation and returns e for chaining.
func (e *Error) WithAttr(key string, value any) *Error {
	e.attrs = append(e.attrs, Attr{Key: key, Value: value})
	return e
}

// New returns an Error recording the caller's file and line. A call
// trace is attached when trace capture is enabled.
func New(message string) *Error {
	return newError(message, nil)
}

// Errorf is New with fmt.Sprintf formatting.
func Errorf(format string, args ...any) *Error {
	return newError(fmt.Sprintf(format, args...), nil)
}

// Wrap returns an Error whose cause is err. Wrap(nil, ...) returns nil
// so call sites can wrap unconditionally.
func Wrap(err error, message string) *Error {
	if err == nil {
		return nil
	}
	return newError(message, err)
}

func newError(message string, cause error) *Error {
	e := &Error{message: message, cause: cause}
	if _, file, line, ok := runtime.Caller(2); ok {
		e.file, e.line = file, line
	}
	if TraceCapture() {
		e.frames = callers(4)
	}
	return e
}

// A Builder turns a descriptor of a registered kind back into a typed
// error. Returning nil falls through to the generic *Error form.
type Builder func(*Descriptor) error

var (
	kindMu sync.RWMutex
	kinds  = make(map[string]Builder)
)

// RegisterKind installs a builder for descriptors whose Kind matches
// name. Later registrations replace earlier ones for the same name.
func RegisterKind(name string, build Builder) {
	kindMu.Lock()
	defer kindMu.Unlock()
	kinds[name] = build
}

func lookupKind(name string) Builder {
	kindMu.RLock()
	defer kindMu.RUnlock()
	return kinds[name]
}

// Err reconstructs the descriptor as an error. Descriptors of a
// registered kind are rebuilt by their Builder; everything else becomes
// a generic *Error carrying the captured message, origin, annotations
// and cause chain. A nil descriptor yields nil.
func (d *Descriptor) Err() error {
	return d.reconstruct(0)
}

func (d *Descriptor) reconstruct(depth int) error {
	if d == nil || depth >= maxCauseDepth {
		return nil
	}
	if build := lookupKind(d.Kind); build != nil {
		if err := build(d); err != nil {
			return err
		}
	}
	return &Error{
		message: d.Message,
		kind:    d.Kind,
		code:    d.Code,
		file:    d.File,
		line:    d.Line,
		frames:  append([]Frame(nil), d.Frames...),
		attrs:   append([]Attr(nil), d.Attrs...),
		cause:   d.Cause.reconstruct(depth + 1),
	}
}
