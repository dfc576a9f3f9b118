package printer

import (
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Kind identifies the type held by a Value
type Kind int

const (
	KindInt Kind = iota
	KindUint8
	KindUlong
	KindBool
	KindText
)

// Value is a printable diagnostic value
type Value struct {
	kind Kind
	i    int64
	u    uint64
	b    bool
	s    string
}

// Int wraps a signed integer
func Int(v int) Value { return Value{kind: KindInt, i: int64(v)} }

// Uint8 wraps an unsigned byte
func Uint8(v uint8) Value { return Value{kind: KindUint8, u: uint64(v)} }

// Ulong wraps an unsigned long, e.g. a millisecond timestamp
func Ulong(v uint64) Value { return Value{kind: KindUlong, u: v} }

// Bool wraps a boolean
func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

// Text wraps a string
func Text(v string) Value { return Value{kind: KindText, s: v} }

// Printable is the set of Go types accepted by Of
type Printable interface {
	int | uint8 | uint64 | bool | string
}

// Of wraps any Printable value
func Of[T Printable](v T) Value {
	switch x := any(v).(type) {
	case int:
		return Int(x)
	case uint8:
		return Uint8(x)
	case uint64:
		return Ulong(x)
	case bool:
		return Bool(x)
	default:
		return Text(any(v).(string))
	}
}

// Kind returns the value kind
func (v Value) Kind() Kind {
	return v.kind
}

// String formats the value the way the serial console prints it.
// Booleans print as 1 or 0.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindUint8, KindUlong:
		return strconv.FormatUint(v.u, 10)
	case KindBool:
		if v.b {
			return "1"
		}
		return "0"
	default:
		return v.s
	}
}

// Sink receives diagnostics
type Sink interface {
	Msg(v Value)
	KeyVal(label string, v Value)
}

var disabled atomic.Bool

// SetEnabled turns diagnostic output on or off for every Printer
func SetEnabled(enabled bool) {
	disabled.Store(!enabled)
}

// Enabled reports whether diagnostic output is on
func Enabled() bool {
	return !disabled.Load()
}

// Printer writes diagnostics to a line-oriented writer such as a serial
// port or stdout
type Printer struct {
	mu     sync.Mutex
	w      io.Writer
	mirror func(line string)
}

// New creates a Printer writing to w
func New(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Mirror sends every emitted line to fn as well, e.g. a debug logger
func (p *Printer) Mirror(fn func(line string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mirror = fn
}

// Msg prints a single value
func (p *Printer) Msg(v Value) {
	p.println(v.String())
}

// KeyVal prints "label: value"
func (p *Printer) KeyVal(label string, v Value) {
	p.println(label + ": " + v.String())
}

func (p *Printer) println(line string) {
	if disabled.Load() {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.w != nil {
		var b strings.Builder
		b.WriteString(line)
		b.WriteByte('\n')
		// Write errors are dropped; diagnostics never fail the caller.
		_, _ = io.WriteString(p.w, b.String())
	}
	if p.mirror != nil {
		p.mirror(line)
	}
}

// Discard is a Sink that drops everything
var Discard Sink = discard{}

type discard struct{}

func (discard) Msg(Value)            {}
func (discard) KeyVal(string, Value) {}
