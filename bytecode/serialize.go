package bytecode

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/tealrun/teal/value"
)

// magic and version identify the on-disk Executable format (spec 6
// "Executable serialisation": header magic, version, symbol table, constant
// pool, code vector). Grounded on the little-endian fixed-width convention
// of stackedboxes-romualdo/pkg/bytecode.EncodeUInt31/DecodeUInt31.
const (
	magic         = "TEAL"
	formatVersion = uint16(1)
)

// Serialize writes the deterministic binary encoding of e to w. Identical
// Executables always produce identical bytes: Symbols and Code are already
// ordered slices, and Constants are written in pool-index order.
func (e *Executable) Serialize(w io.Writer) error {
	if _, err := io.WriteString(w, magic); err != nil {
		return err
	}
	if err := writeU16(w, formatVersion); err != nil {
		return err
	}

	if err := writeU32(w, uint32(len(e.Symbols))); err != nil {
		return err
	}
	for _, s := range e.Symbols {
		if err := writeString(w, s.Name); err != nil {
			return err
		}
		if err := writeU32(w, uint32(s.Offset)); err != nil {
			return err
		}
		if err := writeU32(w, uint32(s.Arity)); err != nil {
			return err
		}
	}

	if err := writeU32(w, uint32(len(e.Constants))); err != nil {
		return err
	}
	for _, c := range e.Constants {
		if err := c.Serialize(w); err != nil {
			return err
		}
	}

	if err := writeU32(w, uint32(len(e.Code))); err != nil {
		return err
	}
	for _, in := range e.Code {
		if err := writeByte(w, byte(in.Op)); err != nil {
			return err
		}
		if err := writeI32(w, in.A); err != nil {
			return err
		}
		if err := writeI32(w, in.B); err != nil {
			return err
		}
	}

	return nil
}

// Deserialize reads an Executable previously written by Serialize.
func Deserialize(r io.Reader) (*Executable, error) {
	buf := make([]byte, len(magic))
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	if string(buf) != magic {
		return nil, fmt.Errorf("bytecode: bad magic %q", buf)
	}

	version, err := readU16(r)
	if err != nil {
		return nil, err
	}
	if version != formatVersion {
		return nil, fmt.Errorf("bytecode: unsupported format version %d", version)
	}

	nSyms, err := readU32(r)
	if err != nil {
		return nil, err
	}
	symbols := make([]Symbol, nSyms)
	for i := range symbols {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		offset, err := readU32(r)
		if err != nil {
			return nil, err
		}
		arity, err := readU32(r)
		if err != nil {
			return nil, err
		}
		symbols[i] = Symbol{Name: name, Offset: int(offset), Arity: int(arity)}
	}

	nConsts, err := readU32(r)
	if err != nil {
		return nil, err
	}
	constants := make([]value.Value, nConsts)
	for i := range constants {
		v, err := value.Deserialize(r)
		if err != nil {
			return nil, err
		}
		constants[i] = v
	}

	nCode, err := readU32(r)
	if err != nil {
		return nil, err
	}
	code := make([]Instruction, nCode)
	for i := range code {
		opByte, err := readByte(r)
		if err != nil {
			return nil, err
		}
		a, err := readI32(r)
		if err != nil {
			return nil, err
		}
		b, err := readI32(r)
		if err != nil {
			return nil, err
		}
		code[i] = Instruction{Op: OpCode(opByte), A: a, B: b}
	}

	return New(code, constants, symbols), nil
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

func writeU16(w io.Writer, v uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readU16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
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

func writeI32(w io.Writer, v int32) error { return writeU32(w, uint32(v)) }

func readI32(r io.Reader) (int32, error) {
	u, err := readU32(r)
	return int32(u), err
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
