package canary

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// The stack guard slot sits at %fs:0x28 in the thread control block
// (tcbhead_t.stack_guard).
const stackGuardTLSOffset = 0x28

// arch_prctl code for reading the FS segment base.
const archGetFS = 0x1003

func readCanarySeed() (uint64, error) {
	var fsBase uint64

	_, _, errno := unix.Syscall(unix.SYS_ARCH_PRCTL,
		archGetFS,
		uintptr(unsafe.Pointer(&fsBase)),
		0)
	if errno != 0 {
		return 0, fmt.Errorf("arch_prctl(ARCH_GET_FS) failed - %w", errno)
	}

	return *(*uint64)(unsafe.Pointer(uintptr(fsBase) + stackGuardTLSOffset)), nil
}
