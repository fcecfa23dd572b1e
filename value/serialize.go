package value

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Wire tags for the on-disk encoding of a Value. The format is a one-byte
// tag followed by a tag-specific payload, mirroring the teacher pack's
// bytecode.Value Serialize/Deserialize convention (stackedboxes-romualdo
// pkg/bytecode/value.go), extended with tags for the atoms Teal needs that
// Romualdo's Lecture-only value type didn't have.
const (
	tagNil byte = iota
	tagIntPositive
	tagIntNegative
	tagFloat
	tagString
	tagBoolFalse
	tagBoolTrue
	tagSymbol
	tagList
	tagFuncRef
	// FuncRef and FutureRef values are run-time-only handles; FutureRef
	// specifically must never be serialized into a constant pool (only the
	// VM ever manufactures one), so there is no tagFutureRef.
)

// Serialize writes the deterministic binary encoding of v to w.
func (v Value) Serialize(w io.Writer) error {
	switch v.Kind {
	case KindNil:
		return writeByte(w, tagNil)

	case KindInt:
		n := v.AsInt()
		tag := tagIntPositive
		u := uint64(n)
		if n < 0 {
			tag = tagIntNegative
			u = uint64(-n)
		}
		if err := writeByte(w, tag); err != nil {
			return err
		}
		return writeU64(w, u)

	case KindFloat:
		if err := writeByte(w, tagFloat); err != nil {
			return err
		}
		return writeU64(w, math.Float64bits(v.AsFloat()))

	case KindString:
		if err := writeByte(w, tagString); err != nil {
			return err
		}
		return writeString(w, v.AsString())

	case KindSymbol:
		if err := writeByte(w, tagSymbol); err != nil {
			return err
		}
		return writeString(w, v.AsString())

	case KindBool:
		if v.AsBool() {
			return writeByte(w, tagBoolTrue)
		}
		return writeByte(w, tagBoolFalse)

	case KindList:
		if err := writeByte(w, tagList); err != nil {
			return err
		}
		items := v.AsList()
		if err := writeU32(w, uint32(len(items))); err != nil {
			return err
		}
		for _, it := range items {
			if err := it.Serialize(w); err != nil {
				return err
			}
		}
		return nil

	case KindFuncRef:
		if err := writeByte(w, tagFuncRef); err != nil {
			return err
		}
		fr := v.AsFunc()
		if err := writeString(w, fr.Name); err != nil {
			return err
		}
		return writeU32(w, uint32(fr.Offset))

	default:
		return fmt.Errorf("value: cannot serialize kind %v", v.Kind)
	}
}

// Deserialize reads a Value previously written by Serialize.
func Deserialize(r io.Reader) (Value, error) {
	tag, err := readByte(r)
	if err != nil {
		return Value{}, err
	}

	switch tag {
	case tagNil:
		return Nil(), nil

	case tagIntPositive:
		u, err := readU64(r)
		if err != nil {
			return Value{}, err
		}
		return Int(int64(u)), nil

	case tagIntNegative:
		u, err := readU64(r)
		if err != nil {
			return Value{}, err
		}
		return Int(-int64(u)), nil

	case tagFloat:
		u, err := readU64(r)
		if err != nil {
			return Value{}, err
		}
		return Float(math.Float64frombits(u)), nil

	case tagString:
		s, err := readString(r)
		if err != nil {
			return Value{}, err
		}
		return String(s), nil

	case tagSymbol:
		s, err := readString(r)
		if err != nil {
			return Value{}, err
		}
		return Symbol(s), nil

	case tagBoolFalse:
		return Bool(false), nil

	case tagBoolTrue:
		return Bool(true), nil

	case tagList:
		n, err := readU32(r)
		if err != nil {
			return Value{}, err
		}
		items := make([]Value, n)
		for i := range items {
			v, err := Deserialize(r)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return List(items), nil

	case tagFuncRef:
		name, err := readString(r)
		if err != nil {
			return Value{}, err
		}
		off, err := readU32(r)
		if err != nil {
			return Value{}, err
		}
		return Func(name, int(off)), nil

	default:
		return Value{}, fmt.Errorf("value: unknown wire tag %d", tag)
	}
}

func writeByte(w io.Writer, b byte) error {
	_, err := w.Write([]byte{b})
	return err
}

func readByte(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func writeU32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readU32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func writeU64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readU64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func writeString(w io.Writer, s string) error {
	if err := writeU32(w, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
