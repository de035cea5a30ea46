// Command cascactl is load-generation and inspection tooling for a
// cascadb file, mirroring the teacher's cmd/seed, cmd/inspect_idx, and
// cmd/dump_sample: a handful of bare os.Args subcommands, no flag
// framework, matching the teacher's own cmd/ style.
//
// Usage:
//
//	cascactl seed <file> <n>
//	cascactl get <file> <key>
//	cascactl inspect <file>
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/weicao/cascadb"
	"github.com/weicao/cascadb/options"
)

func main() {
	if len(os.Args) < 3 {
		usage()
		os.Exit(1)
	}
	cmd, file := os.Args[1], os.Args[2]
	var err error
	switch cmd {
	case "seed":
		err = runSeed(file, os.Args[3:])
	case "get":
		err = runGet(file, os.Args[3:])
	case "inspect":
		err = runInspect(file)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "cascactl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  cascactl seed <file> <n>")
	fmt.Fprintln(os.Stderr, "  cascactl get <file> <key>")
	fmt.Fprintln(os.Stderr, "  cascactl inspect <file>")
}

// runSeed batch-inserts n u64-keyed records ("key-%012d" -> "value-%d")
// and flushes, mirroring cmd/seed's role of populating a file for
// cmd/inspect_idx and cmd/dump_sample to examine afterward.
func runSeed(file string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("seed: missing <n>")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("seed: bad count %q: %w", args[0], err)
	}

	db, err := cascadb.Open(file, options.Default())
	if err != nil {
		return err
	}
	defer db.Close()

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%012d", i))
		val := []byte(fmt.Sprintf("value-%d", i))
		if err := db.Put(key, val); err != nil {
			return fmt.Errorf("seed: put %s: %w", key, err)
		}
	}
	if err := db.Flush(); err != nil {
		return fmt.Errorf("seed: flush: %w", err)
	}
	fmt.Printf("seeded %d records into %s\n", n, file)
	return nil
}

// runGet opens file read-write (the engine has no read-only mode) and
// performs one lookup.
func runGet(file string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("get: missing <key>")
	}
	key := []byte(args[0])

	db, err := cascadb.Open(file, options.Default())
	if err != nil {
		return err
	}
	defer db.Close()

	v, ok, err := db.Get(key)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Printf("%s: not found\n", key)
		return nil
	}
	fmt.Printf("%s = %s\n", key, v)
	return nil
}

// runInspect prints the layout's recovered generation, node count, and
// hole-list fragmentation, giving a quick view of a file's health
// without dumping every record.
func runInspect(file string) error {
	db, err := cascadb.Open(file, options.Default())
	if err != nil {
		return err
	}
	defer db.Close()

	s := db.Stats()
	fmt.Printf("file:        %s\n", file)
	fmt.Printf("generation:  %d\n", s.Generation)
	fmt.Printf("active slot: %d\n", s.ActiveSlot)
	fmt.Printf("nodes:       %d\n", s.NodeCount)
	fmt.Printf("holes:       %d (%d bytes reclaimable)\n", s.HoleCount, s.HoleBytes)
	fmt.Printf("fly-holes:   %d (pending next flush)\n", s.FlyHoleCount)
	fmt.Printf("next offset: %d\n", s.NextOffset)
	return nil
}
