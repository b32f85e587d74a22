// Package regnum maps DWARF register numbers to register names.
package regnum

import (
	"fmt"
)

// The mapping between hardware registers and DWARF registers is specified
// in the System V ABI AMD64 Architecture Processor Supplement v. 1.0 page 61,
// figure 3.36
// https://gitlab.com/x86-psABIs/x86-64-ABI/-/tree/master

const (
	AMD64_Rax     = 0
	AMD64_Rdx     = 1
	AMD64_Rcx     = 2
	AMD64_Rbx     = 3
	AMD64_Rsi     = 4
	AMD64_Rdi     = 5
	AMD64_Rbp     = 6
	AMD64_Rsp     = 7
	AMD64_R8      = 8
	AMD64_R9      = 9
	AMD64_R10     = 10
	AMD64_R11     = 11
	AMD64_R12     = 12
	AMD64_R13     = 13
	AMD64_R14     = 14
	AMD64_R15     = 15
	AMD64_Rip     = 16
	AMD64_XMM0    = 17 // XMM1 through XMM15 follow
	AMD64_ST0     = 33 // ST(1) through ST(7) follow
	AMD64_Rflags  = 49
	AMD64_Es      = 50
	AMD64_Cs      = 51
	AMD64_Ss      = 52
	AMD64_Ds      = 53
	AMD64_Fs      = 54
	AMD64_Gs      = 55
	AMD64_Fs_base = 58
	AMD64_Gs_base = 59
	AMD64_MXCSR   = 64
	AMD64_CW      = 65
	AMD64_SW      = 66
)

var amd64DwarfToName = map[uint64]string{
	AMD64_Rax:     "Rax",
	AMD64_Rdx:     "Rdx",
	AMD64_Rcx:     "Rcx",
	AMD64_Rbx:     "Rbx",
	AMD64_Rsi:     "Rsi",
	AMD64_Rdi:     "Rdi",
	AMD64_Rbp:     "Rbp",
	AMD64_Rsp:     "Rsp",
	AMD64_R8:      "R8",
	AMD64_R9:      "R9",
	AMD64_R10:     "R10",
	AMD64_R11:     "R11",
	AMD64_R12:     "R12",
	AMD64_R13:     "R13",
	AMD64_R14:     "R14",
	AMD64_R15:     "R15",
	AMD64_Rip:     "Rip",
	AMD64_Rflags:  "Rflags",
	AMD64_Es:      "Es",
	AMD64_Cs:      "Cs",
	AMD64_Ss:      "Ss",
	AMD64_Ds:      "Ds",
	AMD64_Fs:      "Fs",
	AMD64_Gs:      "Gs",
	AMD64_Fs_base: "Fs_base",
	AMD64_Gs_base: "Gs_base",
	AMD64_MXCSR:   "MXCSR",
	AMD64_CW:      "CW",
	AMD64_SW:      "SW",
}

func init() {
	// The vector and x87 registers come in runs.
	for i := uint64(0); i < 16; i++ {
		amd64DwarfToName[AMD64_XMM0+i] = fmt.Sprintf("XMM%d", i)
	}
	for i := uint64(0); i < 8; i++ {
		amd64DwarfToName[AMD64_ST0+i] = fmt.Sprintf("ST(%d)", i)
	}
}

// AMD64ToName returns the name of the register with the given DWARF
// number, following the System V AMD64 numbering.
func AMD64ToName(num uint64) string {
	name, ok := amd64DwarfToName[num]
	if ok {
		return name
	}
	return fmt.Sprintf("unknown%d", num)
}
