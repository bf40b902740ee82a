package canary

import (
	"encoding/binary"
	"fmt"
	"os"
)

const selfAuxvPath = "/proc/self/auxv"

// ELF auxiliary vector tags. For the format see the System V ABI,
// AMD64 Architecture Processor Supplement, section 3.4.3.
const (
	atNull   = 0
	atRandom = 25
)

const auxvEntrySize = 16

// SelfAuxv returns the raw ELF auxiliary vector of the current
// process.
func SelfAuxv() ([]byte, error) {
	auxv, err := os.ReadFile(selfAuxvPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s - %w", selfAuxvPath, err)
	}

	return auxv, nil
}

// RandomAddrFromAuxv searches an ELF auxiliary vector for the
// AT_RANDOM entry and returns its value: the address of 16 random
// bytes placed by the kernel, from which the runtime loader derives
// the stack guard.
func RandomAddrFromAuxv(auxv []byte) (uint64, error) {
	for len(auxv) >= auxvEntrySize {
		tag := binary.LittleEndian.Uint64(auxv)
		val := binary.LittleEndian.Uint64(auxv[8:])
		auxv = auxv[auxvEntrySize:]

		switch tag {
		case atNull:
			return 0, fmt.Errorf("auxiliary vector has no AT_RANDOM entry")
		case atRandom:
			return val, nil
		}
	}

	return 0, fmt.Errorf("auxiliary vector ended without an AT_NULL entry")
}

// GuardFromRandom derives the stack guard value the runtime loader
// constructs from the AT_RANDOM bytes: the first word with its low
// byte zeroed, so that string operations reading into the guard
// terminate on it.
func GuardFromRandom(random []byte) (uint64, error) {
	if len(random) < 8 {
		return 0, fmt.Errorf("need at least 8 random bytes - got %d",
			len(random))
	}

	return binary.LittleEndian.Uint64(random) &^ 0xff, nil
}
