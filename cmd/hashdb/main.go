// hashdb is the command-line front end of the block-hash database.
// Library errors surface here as messages on stderr and exit code 1.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

func usage() {
	fmt.Println("Usage: hashdb <command> [arguments]")
	fmt.Println("Commands:")
	fmt.Println("  create [options] <hashdb dir>")
	fmt.Println("  import <hashdb dir> <json file>")
	fmt.Println("  export <hashdb dir> <json file>")
	fmt.Println("  add <hashdb dir A> <hashdb dir B>")
	fmt.Println("  add_multiple <hashdb dir A> <hashdb dir B> <hashdb dir C>")
	fmt.Println("  intersect <hashdb dir A> <hashdb dir B> <hashdb dir C>")
	fmt.Println("  subtract <hashdb dir A> <hashdb dir B> <hashdb dir C>")
	fmt.Println("  deduplicate <hashdb dir A> <hashdb dir B>")
	fmt.Println("  scan <hashdb dir> <hashes file>")
	fmt.Println("  scan_hash <hashdb dir> <hex hash>")
	fmt.Println("  server [options] <hashdb dir>")
	fmt.Println("  size <hashdb dir>")
	fmt.Println("  sources <hashdb dir>")
	fmt.Println("  histogram <hashdb dir>")
	fmt.Println("  duplicates <hashdb dir> <count>")
	fmt.Println("  hash_table <hashdb dir>")
	fmt.Println("  expand_identified_blocks <hashdb dir> <identified blocks file>")
	fmt.Println("  explain_identified_blocks [options] <hashdb dir> <identified blocks file>")
	fmt.Println("  rebuild_bloom [options] <hashdb dir>")
	fmt.Println("  upgrade <hashdb dir>")
	fmt.Println("  add_random [options] <hashdb dir> <count>")
	fmt.Println("  scan_random [options] <hashdb dir>")
}

// fail prints a precondition failure and exits with code 1.
func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "create":
		cmdCreate(os.Args[2:])
	case "import":
		cmdImport(os.Args[2:])
	case "export":
		cmdExport(os.Args[2:])
	case "add":
		cmdAdd(os.Args[2:])
	case "add_multiple":
		cmdAddMultiple(os.Args[2:])
	case "intersect":
		cmdIntersect(os.Args[2:])
	case "subtract":
		cmdSubtract(os.Args[2:])
	case "deduplicate":
		cmdDeduplicate(os.Args[2:])
	case "scan":
		cmdScan(os.Args[2:])
	case "scan_hash":
		cmdScanHash(os.Args[2:])
	case "server":
		cmdServer(os.Args[2:])
	case "size":
		cmdSize(os.Args[2:])
	case "sources":
		cmdSources(os.Args[2:])
	case "histogram":
		cmdHistogram(os.Args[2:])
	case "duplicates":
		cmdDuplicates(os.Args[2:])
	case "hash_table":
		cmdHashTable(os.Args[2:])
	case "expand_identified_blocks":
		cmdExpandIdentifiedBlocks(os.Args[2:])
	case "explain_identified_blocks":
		cmdExplainIdentifiedBlocks(os.Args[2:])
	case "rebuild_bloom":
		cmdRebuildBloom(os.Args[2:])
	case "upgrade":
		cmdUpgrade(os.Args[2:])
	case "add_random":
		cmdAddRandom(os.Args[2:])
	case "scan_random":
		cmdScanRandom(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}
