package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/enferex/canaryscan/canary"
	"github.com/enferex/canaryscan/disas"
	"github.com/enferex/canaryscan/memscan"
	"github.com/enferex/canaryscan/procmaps"
)

const (
	quietArg   = "q"
	verboseArg = "v"
	disasArg   = "d"
	auxvArg    = "auxv"
	helpArg    = "h"

	selfMemPath = "/proc/self/mem"

	// Bytes read on either side of a match when disassembling.
	disasContextBytes = 32

	appName = "canaryscan"
	usage   = appName + `

Scans this process' own memory map looking for copies of its stack
canary. The canary is generated via the kernel upon binary load, and
passed to the userland runtime loader via an ELF auxiliary vector
entry. Use cases:

  (1) Identify if some memory mapped regions are caching the canary
      value.
  (2) Run this multiple times to collect numerous canary values.
      For science!

usage:
` + appName + ` [options]

options:
`
)

func main() {
	quiet := flag.Bool(
		quietArg,
		false,
		"Quiet mode, print this process' canary and exit")
	verbose := flag.Bool(
		verboseArg,
		false,
		"Enable verbose logging")
	disassemble := flag.Bool(
		disasArg,
		false,
		"Disassemble around matches found in executable regions")
	scanAuxvGuard := flag.Bool(
		auxvArg,
		false,
		"Also derive and scan for the guard value implied by AT_RANDOM")
	help := flag.Bool(
		helpArg,
		false,
		"Display this help page")

	flag.Parse()

	if *help {
		os.Stderr.WriteString(usage)
		flag.PrintDefaults()
		os.Exit(0)
	}

	if flag.NArg() > 0 {
		log.Fatalf("unexpected argument: %q - see usage: '-%s'",
			flag.Arg(0), helpArg)
	}

	var verboseLogger *log.Logger
	if *verbose {
		verboseLogger = log.New(os.Stderr, "", 0)
	}

	// The canary must be known before any region is scanned, and it
	// never changes for the remainder of the run.
	canaryValue := canary.ReadOrExit()

	if *quiet {
		fmt.Printf("Canary: 0x%016x\n", canaryValue)
		return
	}

	fmt.Printf("[+] Canary: 0x%016x\n", canaryValue)

	mem, err := os.Open(selfMemPath)
	if err != nil {
		log.Fatalf("failed to open %s - %s", selfMemPath, err)
	}
	defer mem.Close()

	targets := []uint64{canaryValue}
	if *scanAuxvGuard {
		guard := auxvGuardOrExit(mem)
		fmt.Printf("[+] AT_RANDOM stack guard: 0x%016x\n", guard)
		if guard != canaryValue {
			targets = append(targets, guard)
		}
	}

	var disassembler *disas.Disassembler
	if *disassemble {
		disassembler, err = disas.NewDisassembler(disas.Config{
			Syntax: disas.IntelSyntax,
		})
		if err != nil {
			log.Fatalf("failed to create disassembler - %s", err)
		}
	}

	ranges, err := procmaps.Parser{Verbose: verboseLogger}.Self()
	if err != nil {
		log.Fatalf("failed to enumerate memory map - %s", err)
	}

	scanner := memscan.NewScannerOrExit(memscan.Config{
		Mem:     mem,
		Verbose: verboseLogger,
	})

	for _, mapRange := range ranges {
		if !scanner.CanScan(mapRange) {
			fmt.Printf("[+] Ignoring (not-readable range): %s\n", mapRange)
			continue
		}

		fmt.Printf("[+] Scanning: %s ...\n", mapRange)

		for _, target := range targets {
			err := scanner.ScanRange(mapRange, target, func(addr uint64) bool {
				fmt.Printf("[*] Found canary at: 0x%x\n", addr)
				if disassembler != nil && mapRange.IsExecutable() {
					printMatchContext(disassembler, mem, mapRange, addr)
				}
				return true
			})
			if err != nil {
				fmt.Printf("[+] Ignoring: %s\n", err)
				break
			}
		}
	}
}

// auxvGuardOrExit derives the stack guard value the runtime loader
// would have constructed from this process' AT_RANDOM bytes.
func auxvGuardOrExit(mem io.ReaderAt) uint64 {
	auxv, err := canary.SelfAuxv()
	if err != nil {
		log.Fatalf("failed to read auxiliary vector - %s", err)
	}

	randomAddr, err := canary.RandomAddrFromAuxv(auxv)
	if err != nil {
		log.Fatalf("failed to locate AT_RANDOM - %s", err)
	}

	random := make([]byte, 16)
	_, err = mem.ReadAt(random, int64(randomAddr))
	if err != nil {
		log.Fatalf("failed to read AT_RANDOM bytes at 0x%x - %s",
			randomAddr, err)
	}

	guard, err := canary.GuardFromRandom(random)
	if err != nil {
		log.Fatalf("failed to derive guard from AT_RANDOM bytes - %s", err)
	}

	return guard
}

// printMatchContext disassembles the code surrounding a match found
// in an executable mapping, showing how the value is embedded there.
func printMatchContext(disassembler *disas.Disassembler, mem io.ReaderAt, mapRange procmaps.Range, matchAddr uint64) {
	start := mapRange.Start
	if matchAddr-mapRange.Start > disasContextBytes {
		start = matchAddr - disasContextBytes
	}

	end := mapRange.End()
	if end-matchAddr > disasContextBytes {
		end = matchAddr + disasContextBytes
	}

	code := make([]byte, end-start)
	n, _ := mem.ReadAt(code, int64(start))
	if n == 0 {
		return
	}

	for _, inst := range disassembler.DecodeAll(code[:n], start) {
		marker := "   "
		if inst.Addr <= matchAddr && matchAddr < inst.Addr+uint64(inst.Len) {
			marker = "=> "
		}
		fmt.Printf("      %s0x%x: %s\n", marker, inst.Addr, inst.Dis)
	}
}
