// Package value implements the Teal run-time value universe: a tagged sum
// of atoms (int, float, string, bool, symbol, nil), lists, function
// references, and future references. It follows the same shape as the
// teacher's values.Value (ValueType + Data interface{}), trimmed to the
// atoms the bytecode spec actually defines -- there is no PHP-style Array,
// Object, or Closure here, since Teal has no typed object system (spec
// Non-goals).
package value

import (
	"fmt"
	"math"
)

// Kind identifies the dynamic type of a Value.
type Kind byte

const (
	KindNil Kind = iota
	KindInt
	KindFloat
	KindString
	KindBool
	KindSymbol
	KindList
	KindFuncRef
	KindFutureRef
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindSymbol:
		return "symbol"
	case KindList:
		return "list"
	case KindFuncRef:
		return "func-ref"
	case KindFutureRef:
		return "future-ref"
	default:
		return fmt.Sprintf("kind(%d)", k)
	}
}

// FuncRef is the run-time representation of a function value: a symbol name
// bound to a code offset in the owning Executable.
type FuncRef struct {
	Name   string
	Offset int
}

// Value is a Teal run-time value. Only the VM's future opcodes (WAIT, FORK)
// may observe a KindFutureRef value's identity; every other opcode treats it
// as an opaque handle.
type Value struct {
	Kind Kind
	Data any
}

func Nil() Value { return Value{Kind: KindNil} }

func Int(i int64) Value { return Value{Kind: KindInt, Data: i} }

func Float(f float64) Value { return Value{Kind: KindFloat, Data: f} }

func String(s string) Value { return Value{Kind: KindString, Data: s} }

func Bool(b bool) Value { return Value{Kind: KindBool, Data: b} }

func Symbol(s string) Value { return Value{Kind: KindSymbol, Data: s} }

func List(items []Value) Value { return Value{Kind: KindList, Data: items} }

func Func(name string, offset int) Value {
	return Value{Kind: KindFuncRef, Data: FuncRef{Name: name, Offset: offset}}
}

// FutureRef wraps a future-id as a first-class Value. The VM never reads
// FutureID itself; it always goes through the Controller.
func FutureRef(futureID int) Value {
	return Value{Kind: KindFutureRef, Data: futureID}
}

func (v Value) IsNil() bool       { return v.Kind == KindNil }
func (v Value) IsFutureRef() bool { return v.Kind == KindFutureRef }

func (v Value) AsInt() int64        { return v.Data.(int64) }
func (v Value) AsFloat() float64    { return v.Data.(float64) }
func (v Value) AsString() string    { return v.Data.(string) }
func (v Value) AsBool() bool        { return v.Data.(bool) }
func (v Value) AsList() []Value     { return v.Data.([]Value) }
func (v Value) AsFunc() FuncRef     { return v.Data.(FuncRef) }
func (v Value) AsFutureID() int     { return v.Data.(int) }

// Truthy implements JUMPF's notion of falsiness: nil, false, zero, and the
// empty string/list are falsy; everything else is truthy.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindNil:
		return false
	case KindBool:
		return v.AsBool()
	case KindInt:
		return v.AsInt() != 0
	case KindFloat:
		return v.AsFloat() != 0
	case KindString:
		return v.AsString() != ""
	case KindSymbol:
		return true
	case KindList:
		return len(v.AsList()) != 0
	case KindFuncRef, KindFutureRef:
		return true
	default:
		return true
	}
}

// Equal checks structural equality, used by chain-resolve's idempotent
// completion check and by tests.
func Equal(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNil:
		return true
	case KindInt:
		return a.AsInt() == b.AsInt()
	case KindFloat:
		return a.AsFloat() == b.AsFloat()
	case KindString, KindSymbol:
		return a.Data.(string) == b.Data.(string)
	case KindBool:
		return a.AsBool() == b.AsBool()
	case KindFuncRef:
		return a.AsFunc() == b.AsFunc()
	case KindFutureRef:
		return a.AsFutureID() == b.AsFutureID()
	case KindList:
		al, bl := a.AsList(), b.AsList()
		if len(al) != len(bl) {
			return false
		}
		for i := range al {
			if !Equal(al[i], bl[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// String renders a Value for diagnostics (trace mode, get-output, REPL).
func (v Value) String() string {
	switch v.Kind {
	case KindNil:
		return "nil"
	case KindInt:
		return fmt.Sprintf("%d", v.AsInt())
	case KindFloat:
		f := v.AsFloat()
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return fmt.Sprintf("%v", f)
		}
		return fmt.Sprintf("%g", f)
	case KindString:
		return v.AsString()
	case KindBool:
		if v.AsBool() {
			return "true"
		}
		return "false"
	case KindSymbol:
		return "'" + v.AsString()
	case KindList:
		items := v.AsList()
		s := "["
		for i, it := range items {
			if i > 0 {
				s += ", "
			}
			s += it.String()
		}
		return s + "]"
	case KindFuncRef:
		fr := v.AsFunc()
		return fmt.Sprintf("<func %s@%d>", fr.Name, fr.Offset)
	case KindFutureRef:
		return fmt.Sprintf("<future %d>", v.AsFutureID())
	default:
		return fmt.Sprintf("<unknown kind %d>", v.Kind)
	}
}
