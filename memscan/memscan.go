// Package memscan searches mapped memory regions for a target
// machine word.
//
// The scanner reads memory through an io.ReaderAt whose offsets are
// absolute virtual addresses (for the current process, an opened
// /proc/self/mem works directly). Regions are walked one word at a
// time at word-aligned offsets; canaries are word-aligned in practice,
// so the stride loses nothing and avoids a byte-granular crawl.
package memscan

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"math"

	"github.com/enferex/canaryscan/procmaps"
)

// WordSize is the scan stride and comparison width in bytes.
const WordSize = 8

// Mappings at the very top of user space (topmost 13 address bits all
// set) are reserved and cannot be usefully read.
const reservedRangeMask = 0x7ff0000000000000

// ErrIneligible is returned by ScanRange for a region that is not
// readable or lies in the reserved high range. No read is attempted
// against such a region.
var ErrIneligible = errors.New("range is not scannable")

var defaultExitFn = func(err error) {
	log.Fatalln(err)
}

// Config configures a Scanner.
type Config struct {
	// Mem reads memory contents. Offsets are absolute virtual
	// addresses.
	Mem io.ReaderAt

	// Verbose, if non-nil, receives per-region progress messages.
	Verbose *log.Logger
}

func (o Config) validate() error {
	if o.Mem == nil {
		return fmt.Errorf("memory reader cannot be nil")
	}

	return nil
}

// NewScannerOrExit creates a new Scanner from the specified Config.
//
// If an error occurs, the exit handler function is invoked.
func NewScannerOrExit(config Config) *Scanner {
	s, err := NewScanner(config)
	if err != nil {
		defaultExitFn(fmt.Errorf("failed to create memory scanner - %w", err))
	}
	return s
}

// NewScanner creates a new Scanner from the specified Config.
func NewScanner(config Config) (*Scanner, error) {
	err := config.validate()
	if err != nil {
		return nil, err
	}

	return &Scanner{
		mem:     config.Mem,
		verbose: config.Verbose,
	}, nil
}

// Scanner searches memory regions for word-sized values.
//
// Scanning has no side effects on the region or the target; scanning
// the same region twice visits the same addresses in the same order.
type Scanner struct {
	mem     io.ReaderAt
	verbose *log.Logger
}

// CanScan returns true if the specified region may be scanned:
// it must be readable and must not lie in the reserved high range.
func (o *Scanner) CanScan(r procmaps.Range) bool {
	return r.IsReadable() && r.Start&reservedRangeMask != reservedRangeMask
}

// ScanRange walks the region from its start address in WordSize
// strides until Size bytes are covered, comparing each word against
// target as a little-endian unsigned integer. visitFn is invoked with
// the absolute address of each match; returning false stops the scan
// early.
//
// A failed or short read means "no match at this position" and the
// scan continues; reads are never fatal. A region rejected by CanScan
// results in ErrIneligible without any read being issued.
func (o *Scanner) ScanRange(r procmaps.Range, target uint64, visitFn func(addr uint64) bool) error {
	if !o.CanScan(r) {
		return fmt.Errorf("0x%x - %w", r.Start, ErrIneligible)
	}

	if o.verbose != nil {
		o.verbose.Printf("scanning %s for 0x%016x", r, target)
	}

	var word [WordSize]byte

	for itr := uint64(0); itr < r.Size; itr += WordSize {
		addr := r.Start + itr
		if addr > math.MaxInt64 {
			// Not addressable through an io.ReaderAt offset;
			// same treatment as a failed read.
			continue
		}

		n, _ := o.mem.ReadAt(word[:], int64(addr))
		if n != WordSize {
			continue
		}

		if binary.LittleEndian.Uint64(word[:]) == target {
			if !visitFn(addr) {
				return nil
			}
		}
	}

	return nil
}

// FindAll scans the region and returns the addresses of every match
// in ascending order.
func (o *Scanner) FindAll(r procmaps.Range, target uint64) ([]uint64, error) {
	var matches []uint64

	err := o.ScanRange(r, target, func(addr uint64) bool {
		matches = append(matches, addr)
		return true
	})
	if err != nil {
		return nil, err
	}

	return matches, nil
}
