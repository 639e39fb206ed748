package ipc

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/mensbeam/Fork/failure"
)

// sentinel prefixes gob-encoded payloads on the wire. Text results are
// sent raw, and since the prefix begins with a NUL byte no text payload
// can collide with it.
var sentinel = []byte("\x00fork:gob\x00")

// payload boxes a result value so gob can carry any registered type.
type payload struct {
	V any
}

func init() {
	gob.Register([]any(nil))
	gob.Register(map[string]any(nil))
	gob.Register(time.Time{})
	gob.Register(time.Duration(0))
	gob.Register(&failure.Descriptor{})
}

// EncodeResult converts a task result to its wire form. Non-empty
// strings travel as raw bytes; every other value, including the empty
// string, is boxed and gob encoded behind the sentinel so it decodes
// back to the same type. A nil result encodes to nothing at all.
func EncodeResult(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	if s, ok := v.(string); ok && s != "" {
		return []byte(s), nil
	}
	var buf bytes.Buffer
	buf.Write(sentinel)
	if err := gob.NewEncoder(&buf).Encode(payload{V: v}); err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeResult reverses EncodeResult. Bytes without the sentinel prefix
// are returned as a string; an empty input means the worker produced
// nothing, which decodes to nil.
func DecodeResult(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if !bytes.HasPrefix(raw, sentinel) {
		return string(raw), nil
	}
	var p payload
	if err := gob.NewDecoder(bytes.NewReader(raw[len(sentinel):])).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return p.V, nil
}

// Order is the first and only frame a coordinator sends to a freshly
// spawned worker: which registered function to run, with what input,
// under what constraints.
type Order struct {
	Key          string
	Func         string
	Input        any
	Timeout      time.Duration
	Passthrough  bool
	TraceCapture bool
}

// WriteOrder frames and sends an order: a big-endian uint32 length
// followed by the gob-encoded order.
func WriteOrder(c *Channel, o Order) error {
	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(o); err != nil {
		return fmt.Errorf("encode order: %w", err)
	}
	frame := make([]byte, 4+body.Len())
	binary.BigEndian.PutUint32(frame, uint32(body.Len()))
	copy(frame[4:], body.Bytes())
	if err := c.Write(frame); err != nil {
		return fmt.Errorf("send order: %w", err)
	}
	return nil
}

// ReadOrder receives one framed order, waiting at most budget for the
// complete frame to arrive.
func ReadOrder(c *Channel, budget time.Duration) (Order, error) {
	deadline := time.Now().Add(budget)
	hdr := make([]byte, 4)
	if err := c.readFull(hdr, deadline); err != nil {
		return Order{}, fmt.Errorf("read order header: %w", err)
	}
	n := binary.BigEndian.Uint32(hdr)
	if n == 0 || n > maxOrderSize {
		return Order{}, fmt.Errorf("order frame of %d bytes is out of range", n)
	}
	body := make([]byte, n)
	if err := c.readFull(body, deadline); err != nil {
		return Order{}, fmt.Errorf("read order body: %w", err)
	}
	var o Order
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&o); err != nil {
		return Order{}, fmt.Errorf("decode order: %w", err)
	}
	return o, nil
}

// maxOrderSize caps an order frame. Orders carry a name, a timeout and
// one input value; anything bigger than this is a corrupt frame.
const maxOrderSize = 64 << 20
