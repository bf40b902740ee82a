// Package disas decodes x86-64 machine code into address-annotated
// instruction listings.
package disas

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

const (
	// SkipSyntax disables disassembly text generation.
	SkipSyntax Syntax = ""

	ATTSyntax   Syntax = "att"
	GoSyntax    Syntax = "go"
	IntelSyntax Syntax = "intel"
)

// Syntax is a disassembly text flavor.
type Syntax string

// Config configures a Disassembler.
type Config struct {
	// Syntax selects the disassembly text flavor. SkipSyntax leaves
	// Inst.Dis empty.
	Syntax Syntax
}

// NewDisassembler creates a new x86-64 Disassembler from the
// specified Config.
func NewDisassembler(config Config) (*Disassembler, error) {
	var disassemblyFn func(inst x86asm.Inst, pc uint64) string

	switch config.Syntax {
	case SkipSyntax:
		// Do nothing.
	case ATTSyntax:
		disassemblyFn = func(inst x86asm.Inst, pc uint64) string {
			return x86asm.GNUSyntax(inst, pc, nil)
		}
	case GoSyntax:
		disassemblyFn = func(inst x86asm.Inst, pc uint64) string {
			return x86asm.GoSyntax(inst, pc, nil)
		}
	case IntelSyntax:
		disassemblyFn = func(inst x86asm.Inst, pc uint64) string {
			return x86asm.IntelSyntax(inst, pc, nil)
		}
	default:
		return nil, fmt.Errorf("unsupported syntax type: %q", config.Syntax)
	}

	return &Disassembler{
		disassemblyFn: disassemblyFn,
	}, nil
}

// Disassembler decodes x86-64 instructions.
type Disassembler struct {
	disassemblyFn func(inst x86asm.Inst, pc uint64) string
}

// Inst is a single decoded instruction.
type Inst struct {
	// Addr is the instruction's absolute address.
	Addr uint64

	// Bin is the instruction's machine code.
	Bin []byte

	// Len is the instruction's length in bytes.
	Len int

	// Dis is the disassembly in the configured syntax, if any.
	Dis string

	// Inst is the underlying decoded instruction.
	Inst x86asm.Inst
}

// DecodeAll decodes every instruction in code, where code starts at
// the absolute address base. An undecodable byte is skipped and
// decoding resumes at the next byte, so a buffer that begins or ends
// mid-instruction still yields the decodable remainder.
func (o *Disassembler) DecodeAll(code []byte, base uint64) []Inst {
	var insts []Inst

	for len(code) > 0 {
		x86Inst, err := x86asm.Decode(code, 64)
		if err != nil {
			code = code[1:]
			base++
			continue
		}

		bin := make([]byte, x86Inst.Len)
		copy(bin, code)

		var disassembly string
		if o.disassemblyFn != nil {
			disassembly = o.disassemblyFn(x86Inst, base)
		}

		insts = append(insts, Inst{
			Addr: base,
			Bin:  bin,
			Len:  x86Inst.Len,
			Dis:  disassembly,
			Inst: x86Inst,
		})

		code = code[x86Inst.Len:]
		base += uint64(x86Inst.Len)
	}

	return insts
}
