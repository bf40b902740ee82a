package memscan

import (
	"encoding/binary"
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/enferex/canaryscan/procmaps"
)

const testTarget = 0x00d3adb3efd3c0de

func TestScanner_FindAll(t *testing.T) {
	mem := newFakeMem(0x1000, 64)
	mem.putWord(0x1000, testTarget)
	mem.putWord(0x1018, testTarget)

	scanner := newTestScanner(t, mem)

	matches, err := scanner.FindAll(readableRange(0x1000, 64), testTarget)
	if err != nil {
		t.Fatalf("failed to scan - %s", err)
	}

	exp := []uint64{0x1000, 0x1018}
	if !reflect.DeepEqual(matches, exp) {
		t.Fatalf("expected matches at 0x%x - got 0x%x", exp, matches)
	}
}

func TestScanner_NoOccurrence(t *testing.T) {
	mem := newFakeMem(0x1000, 64)

	scanner := newTestScanner(t, mem)

	matches, err := scanner.FindAll(readableRange(0x1000, 64), testTarget)
	if err != nil {
		t.Fatalf("failed to scan - %s", err)
	}

	if len(matches) != 0 {
		t.Fatalf("expected no matches - got 0x%x", matches)
	}
}

func TestScanner_UnalignedOccurrenceIsNotFound(t *testing.T) {
	mem := newFakeMem(0x1000, 64)
	mem.putWord(0x1004, testTarget)

	scanner := newTestScanner(t, mem)

	matches, err := scanner.FindAll(readableRange(0x1000, 64), testTarget)
	if err != nil {
		t.Fatalf("failed to scan - %s", err)
	}

	if len(matches) != 0 {
		t.Fatalf("expected no matches - got 0x%x", matches)
	}
}

func TestScanner_ZeroSizeRangeReadsNothing(t *testing.T) {
	mem := newFakeMem(0x1000, 64)

	scanner := newTestScanner(t, mem)

	matches, err := scanner.FindAll(readableRange(0x1000, 0), testTarget)
	if err != nil {
		t.Fatalf("failed to scan - %s", err)
	}

	if len(matches) != 0 {
		t.Fatalf("expected no matches - got 0x%x", matches)
	}

	if mem.numReads != 0 {
		t.Fatalf("expected no reads - got %d", mem.numReads)
	}
}

func TestScanner_Idempotent(t *testing.T) {
	mem := newFakeMem(0x1000, 128)
	mem.putWord(0x1008, testTarget)
	mem.putWord(0x1040, testTarget)
	mem.putWord(0x1078, testTarget)

	scanner := newTestScanner(t, mem)

	mapRange := readableRange(0x1000, 128)

	first, err := scanner.FindAll(mapRange, testTarget)
	if err != nil {
		t.Fatalf("failed to scan - %s", err)
	}

	second, err := scanner.FindAll(mapRange, testTarget)
	if err != nil {
		t.Fatalf("failed to scan again - %s", err)
	}

	exp := []uint64{0x1008, 0x1040, 0x1078}
	if !reflect.DeepEqual(first, exp) {
		t.Fatalf("expected matches at 0x%x - got 0x%x", exp, first)
	}

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("scans disagree: 0x%x vs 0x%x", first, second)
	}
}

func TestScanner_VisitFnCanStopEarly(t *testing.T) {
	mem := newFakeMem(0x1000, 64)
	mem.putWord(0x1000, testTarget)
	mem.putWord(0x1008, testTarget)

	scanner := newTestScanner(t, mem)

	var visited []uint64
	err := scanner.ScanRange(readableRange(0x1000, 64), testTarget, func(addr uint64) bool {
		visited = append(visited, addr)
		return false
	})
	if err != nil {
		t.Fatalf("failed to scan - %s", err)
	}

	if len(visited) != 1 || visited[0] != 0x1000 {
		t.Fatalf("expected a single visit at 0x1000 - got 0x%x", visited)
	}
}

func TestScanner_NotReadableRangeIsNeverRead(t *testing.T) {
	mem := newFakeMem(0x1000, 64)
	mem.putWord(0x1000, testTarget)

	scanner := newTestScanner(t, mem)

	mapRange := procmaps.Range{Start: 0x1000, Size: 64, Perms: "---p"}

	if scanner.CanScan(mapRange) {
		t.Fatal("expected range to not be scannable")
	}

	_, err := scanner.FindAll(mapRange, testTarget)
	if !errors.Is(err, ErrIneligible) {
		t.Fatalf("expected ErrIneligible - got %v", err)
	}

	if mem.numReads != 0 {
		t.Fatalf("expected no reads - got %d", mem.numReads)
	}
}

func TestScanner_ReservedHighRangeIsNeverRead(t *testing.T) {
	mem := newFakeMem(0, 0)

	scanner := newTestScanner(t, mem)

	mapRange := procmaps.Range{
		Start: 0x7ff4000000001000,
		Size:  64,
		Perms: "r--p",
	}

	if scanner.CanScan(mapRange) {
		t.Fatal("expected range to not be scannable")
	}

	_, err := scanner.FindAll(mapRange, testTarget)
	if !errors.Is(err, ErrIneligible) {
		t.Fatalf("expected ErrIneligible - got %v", err)
	}

	if mem.numReads != 0 {
		t.Fatalf("expected no reads - got %d", mem.numReads)
	}
}

func TestScanner_FailedReadsAreNotFatal(t *testing.T) {
	// The fake only backs the first 16 bytes of a 64 byte range;
	// reads beyond that fail, which must not stop the scan.
	mem := newFakeMem(0x1000, 16)
	mem.putWord(0x1008, testTarget)

	scanner := newTestScanner(t, mem)

	matches, err := scanner.FindAll(readableRange(0x1000, 64), testTarget)
	if err != nil {
		t.Fatalf("failed to scan - %s", err)
	}

	exp := []uint64{0x1008}
	if !reflect.DeepEqual(matches, exp) {
		t.Fatalf("expected matches at 0x%x - got 0x%x", exp, matches)
	}
}

func TestScanner_TailShorterThanOneWord(t *testing.T) {
	// 12 byte range: the second stride can only read 4 bytes, which
	// counts as "no match there".
	mem := newFakeMem(0x1000, 12)
	mem.putWord(0x1000, testTarget)

	scanner := newTestScanner(t, mem)

	matches, err := scanner.FindAll(readableRange(0x1000, 12), testTarget)
	if err != nil {
		t.Fatalf("failed to scan - %s", err)
	}

	exp := []uint64{0x1000}
	if !reflect.DeepEqual(matches, exp) {
		t.Fatalf("expected matches at 0x%x - got 0x%x", exp, matches)
	}
}

func TestNewScanner_Validation(t *testing.T) {
	_, err := NewScanner(Config{})
	if err == nil {
		t.Fatal("expected an error for a nil memory reader")
	}
}

func newTestScanner(t *testing.T, mem io.ReaderAt) *Scanner {
	t.Helper()

	scanner, err := NewScanner(Config{Mem: mem})
	if err != nil {
		t.Fatalf("failed to create scanner - %s", err)
	}

	return scanner
}

func readableRange(start uint64, size uint64) procmaps.Range {
	return procmaps.Range{
		Start: start,
		Size:  size,
		Perms: "rw-p",
	}
}

// fakeMem backs a span of addresses starting at base and counts every
// read issued against it. Reads outside the span fail.
type fakeMem struct {
	base     uint64
	data     []byte
	numReads int
}

func newFakeMem(base uint64, size int) *fakeMem {
	return &fakeMem{
		base: base,
		data: make([]byte, size),
	}
}

func (o *fakeMem) putWord(addr uint64, value uint64) {
	binary.LittleEndian.PutUint64(o.data[addr-o.base:], value)
}

func (o *fakeMem) ReadAt(p []byte, off int64) (int, error) {
	o.numReads++

	if off < 0 || uint64(off) < o.base {
		return 0, io.EOF
	}

	idx := uint64(off) - o.base
	if idx >= uint64(len(o.data)) {
		return 0, io.EOF
	}

	n := copy(p, o.data[idx:])
	if n < len(p) {
		return n, io.EOF
	}

	return n, nil
}
