package bytecode

import (
	"fmt"
	"io"
)

// Disassemble writes a human-readable listing of e's code vector to out,
// annotating PUSH/BIND/LOOKUP/FCALL with the constant or name they
// reference. Grounded on
// stackedboxes-romualdo/pkg/bytecode/disassembler.go's
// DisassembleInstruction, generalized to a flat code vector (Teal has one
// shared vector with symbol-table entry points, not one Chunk per
// procedure).
func (e *Executable) Disassemble(out io.Writer) {
	for offset := 0; offset < len(e.Code); offset++ {
		e.DisassembleInstruction(out, offset)
	}
}

// DisassembleInstruction writes the instruction at offset and returns
// nothing further to advance by, since Teal's instructions are fixed-width
// (unlike Romualdo's variable-width chunk encoding).
func (e *Executable) DisassembleInstruction(out io.Writer, offset int) {
	for _, s := range e.Symbols {
		if s.Offset == offset {
			fmt.Fprintf(out, "%s:\n", s.Name)
			break
		}
	}

	in := e.Code[offset]
	fmt.Fprintf(out, "%05d %-8s", offset, in.Op)

	switch in.Op {
	case OpPush, OpBind, OpLookup:
		name := ""
		if int(in.A) < len(e.Constants) {
			name = e.Constants[in.A].String()
		}
		fmt.Fprintf(out, " %4d '%s'", in.A, name)

	case OpPushV:
		switch byte(in.A) {
		case ImmNil:
			fmt.Fprint(out, " nil")
		case ImmTrue:
			fmt.Fprint(out, " true")
		case ImmFalse:
			fmt.Fprint(out, " false")
		case ImmInt:
			fmt.Fprintf(out, " %d", in.B)
		}

	case OpJump, OpJumpIfFalse:
		fmt.Fprintf(out, " -> %d", in.A)

	case OpCall, OpFork:
		fmt.Fprintf(out, " argc=%d", in.A)

	case OpFCall:
		name := ""
		if int(in.A) < len(e.Constants) {
			name = e.Constants[in.A].String()
		}
		fmt.Fprintf(out, " %s argc=%d", name, in.B)

	case OpProbe:
		name := ""
		if int(in.A) < len(e.Constants) {
			name = e.Constants[in.A].String()
		}
		fmt.Fprintf(out, " %q", name)
	}

	fmt.Fprintln(out)
}
