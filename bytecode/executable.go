package bytecode

import "github.com/tealrun/teal/value"

// MaxConstants bounds the constant pool, following
// stackedboxes-romualdo/pkg/bytecode.MaxConstants: large enough that no real
// program hits it, small enough to fit in a 31-bit index on any platform.
const MaxConstants = 2_147_483_648

// Symbol maps a function name to its entry point in the shared code vector,
// plus the arity the VM uses to raise a LinkError on a mismatched CALL/FORK.
type Symbol struct {
	Name   string
	Offset int
	Arity  int
}

// Executable is an immutable compiled Teal program: a flat code vector
// shared by every function, an indexed constant pool, and a symbol table.
// The VM never mutates an Executable; many VM instances may share one
// in-memory copy (spec 4.1 / 5).
type Executable struct {
	Code      []Instruction
	Constants []value.Value
	Symbols   []Symbol

	byName map[string]Symbol
}

// New builds an Executable and indexes its symbol table for Lookup.
func New(code []Instruction, constants []value.Value, symbols []Symbol) *Executable {
	e := &Executable{Code: code, Constants: constants, Symbols: symbols}
	e.index()
	return e
}

func (e *Executable) index() {
	e.byName = make(map[string]Symbol, len(e.Symbols))
	for _, s := range e.Symbols {
		e.byName[s.Name] = s
	}
}

// Lookup resolves a function name to its Symbol.
func (e *Executable) Lookup(name string) (Symbol, bool) {
	if e.byName == nil {
		e.index()
	}
	s, ok := e.byName[name]
	return s, ok
}
