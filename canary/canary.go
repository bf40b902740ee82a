// Package canary reads the stack canary of the current process.
//
// The canary (glibc's stack guard) lives at a fixed offset in each
// thread's control block. Only 64-bit little-endian platforms with an
// equivalent mechanism are supported; on anything else, Read fails at
// startup rather than scanning for a meaningless value.
//
// The kernel hands the entropy behind the canary to the userland
// runtime loader through the ELF auxiliary vector (AT_RANDOM). The
// auxv helpers in this package locate that entry so callers can also
// derive the guard value a libc would construct from it.
package canary

import (
	"fmt"
	"log"
)

var defaultExitFn = func(err error) {
	log.Fatalln(err)
}

// ReadOrExit returns the current process' stack canary.
//
// If an error occurs, the exit handler function is invoked.
func ReadOrExit() uint64 {
	value, err := Read()
	if err != nil {
		defaultExitFn(fmt.Errorf("failed to read canary - %w", err))
	}
	return value
}

// Read returns the current process' stack canary by loading the
// thread control block's stack guard slot. It fails on platforms
// without an equivalent mechanism.
func Read() (uint64, error) {
	return readCanarySeed()
}
