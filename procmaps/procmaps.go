// Package procmaps enumerates the memory mappings of the current process.
//
// Mappings are read from the kernel's self-describing memory map
// (/proc/self/maps on Linux). Each mapping becomes a Range value that
// records the mapped addresses, the permission token, and the mapped
// file metadata. Entries residing in kernel address space are excluded
// because user-level reads of them cannot succeed.
package procmaps

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
)

const selfMapsPath = "/proc/self/maps"

var defaultExitFn = func(err error) {
	log.Fatalln(err)
}

// Range describes one contiguous span of virtual address space with
// uniform permissions. It is a point-in-time snapshot; the process'
// map can change after enumeration.
type Range struct {
	// Start is the first address of the mapping.
	Start uint64

	// Size is the mapping's length in bytes.
	Size uint64

	// Perms is the raw permission token (e.g., "r-xp").
	Perms string

	// Offset is the mapped file offset.
	Offset uint64

	// Dev is the device field (e.g., "08:01"), if present.
	Dev string

	// Inode is the inode number, if present.
	Inode uint64

	// Path is the backing file path or pseudo-path (e.g., "[stack]"),
	// if present.
	Path string
}

// End returns the address one past the last byte of the mapping.
func (o Range) End() uint64 {
	return o.Start + o.Size
}

// IsReadable returns true if the mapping can be read.
func (o Range) IsReadable() bool {
	return len(o.Perms) > 0 && o.Perms[0] == 'r'
}

// IsWritable returns true if the mapping can be written.
func (o Range) IsWritable() bool {
	return len(o.Perms) > 1 && o.Perms[1] == 'w'
}

// IsExecutable returns true if the mapping can be executed.
func (o Range) IsExecutable() bool {
	return len(o.Perms) > 2 && o.Perms[2] == 'x'
}

// IsPrivate returns true if the mapping is copy-on-write.
func (o Range) IsPrivate() bool {
	return len(o.Perms) > 3 && o.Perms[3] == 'p'
}

func (o Range) String() string {
	return fmt.Sprintf("0x%x (%d size) (perms: %s)", o.Start, o.Size, o.Perms)
}

// SelfOrExit enumerates the current process' mappings.
//
// If an error occurs, the exit handler function is invoked.
func SelfOrExit() []Range {
	ranges, err := Self()
	if err != nil {
		defaultExitFn(fmt.Errorf("failed to enumerate self memory map - %w", err))
	}
	return ranges
}

// Self enumerates the current process' mappings by reading the kernel's
// self memory map.
func Self() ([]Range, error) {
	return Parser{}.Self()
}

// Parse enumerates the mappings described by the specified reader.
// Refer to Parser.Parse for the parsing policy.
func Parse(r io.Reader) ([]Range, error) {
	return Parser{}.Parse(r)
}

// Parser parses a line-oriented memory map description into Ranges.
//
// The zero value is ready to use.
type Parser struct {
	// Verbose, if non-nil, receives a log message for each entry
	// encountered, including excluded kernel-space entries.
	Verbose *log.Logger
}

// Self opens the kernel's self memory map, parses it, and closes it.
func (o Parser) Self() ([]Range, error) {
	f, err := os.Open(selfMapsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s - %w", selfMapsPath, err)
	}
	defer f.Close()

	ranges, err := o.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s - %w", selfMapsPath, err)
	}

	return ranges, nil
}

// Parse reads one mapping entry per line, preserving the source order.
//
// Entries whose start address begins with the hex digit 'f' reside in
// kernel address space and are dropped; enumeration continues with the
// next entry. Any other malformed line fails the whole call (nothing
// partial is returned), as does a read error from the source.
func (o Parser) Parse(r io.Reader) ([]Range, error) {
	var ranges []Range

	lineNum := 0
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNum++

		line := strings.TrimSpace(scanner.Text())
		if len(line) == 0 {
			continue
		}

		if o.Verbose != nil {
			o.Verbose.Printf("found memory map entry: %s", line)
		}

		// The upper bit of a kernel-space address is 1. The value
		// came from an ascii string, so checking that the leading
		// nybble is 'f' suffices.
		if line[0] == 'f' || line[0] == 'F' {
			if o.Verbose != nil {
				o.Verbose.Printf("skipping potential kernel space memory: %s", line)
			}
			continue
		}

		mapRange, err := ParseRange(line)
		if err != nil {
			return nil, fmt.Errorf("failed to parse line %d (%q) - %w",
				lineNum, line, err)
		}

		ranges = append(ranges, mapRange)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read memory map source - %w", err)
	}

	return ranges, nil
}

// ParseRange parses a single memory map entry of the form:
//
//	START-END PERMS OFFSET [DEV INODE [PATH]]
//
// where START, END, and OFFSET are unprefixed hexadecimal. The line is
// not modified. A missing or malformed token, or END < START, results
// in a descriptive error.
func ParseRange(line string) (Range, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return Range{}, fmt.Errorf("expected at least 3 fields (addresses, permissions, offset) - found %d",
			len(fields))
	}

	startStr, endStr, found := strings.Cut(fields[0], "-")
	if !found {
		return Range{}, fmt.Errorf("address field %q is missing the '-' separator",
			fields[0])
	}

	start, err := strconv.ParseUint(startStr, 16, 64)
	if err != nil {
		return Range{}, fmt.Errorf("failed to parse start address %q - %w",
			startStr, err)
	}

	end, err := strconv.ParseUint(endStr, 16, 64)
	if err != nil {
		return Range{}, fmt.Errorf("failed to parse end address %q - %w",
			endStr, err)
	}

	if end < start {
		return Range{}, fmt.Errorf("end address 0x%x is less than start address 0x%x",
			end, start)
	}

	offset, err := strconv.ParseUint(fields[2], 16, 64)
	if err != nil {
		return Range{}, fmt.Errorf("failed to parse offset %q - %w",
			fields[2], err)
	}

	mapRange := Range{
		Start:  start,
		Size:   end - start,
		Perms:  fields[1],
		Offset: offset,
	}

	if len(fields) > 3 {
		mapRange.Dev = fields[3]
	}

	if len(fields) > 4 {
		inode, err := strconv.ParseUint(fields[4], 10, 64)
		if err != nil {
			return Range{}, fmt.Errorf("failed to parse inode %q - %w",
				fields[4], err)
		}
		mapRange.Inode = inode
	}

	if len(fields) > 5 {
		// Paths may themselves contain spaces.
		mapRange.Path = strings.Join(fields[5:], " ")
	}

	return mapRange, nil
}
