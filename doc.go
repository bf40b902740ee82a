// Package canaryscan provides functionality for locating copies of
// a process' stack canary within its own virtual address space.
//
// APIs are separated into subpackages, and documented accordingly.
// The procmaps package enumerates the process' memory mappings, the
// memscan package searches mapped regions for a target word, and the
// canary package reads the canary value itself.
//
// For scripting convenience, "OrExit" functions and methods are provided.
// Any errors encountered by these functions are treated as fatal. In such
// cases, an exit handler function is invoked.
package canaryscan
