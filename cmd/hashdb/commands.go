package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/forensicdb/hashdb"
	"github.com/forensicdb/hashdb/internal/changes"
	"github.com/forensicdb/hashdb/internal/history"
	"github.com/forensicdb/hashdb/internal/ingest"
	"github.com/forensicdb/hashdb/internal/scanpool"
	"github.com/forensicdb/hashdb/internal/scanserver"
	"github.com/forensicdb/hashdb/internal/settings"
	"github.com/forensicdb/hashdb/pkg/hashtypes"
)

func cmdCreate(args []string) {
	s := settings.Default()
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	blockSize := fs.Uint("block_size", uint(s.BlockSize), "hash block size in bytes")
	sectorSize := fs.Uint("sector_size", uint(s.SectorSize), "file offset alignment in bytes")
	algorithm := fs.String("hash_algorithm", s.HashAlgorithm, "block hash algorithm")
	prefixBits := fs.Uint("hash_prefix_bits", uint(s.HashPrefixBits), "hash store key bits")
	suffixBytes := fs.Uint("hash_suffix_bytes", uint(s.HashSuffixBytes), "hash store suffix bytes")
	maxDuplicates := fs.Uint("max_duplicates", uint(s.MaxDuplicates), "per-hash occurrence cap")
	bloomUsed := fs.Bool("bloom", s.BloomIsUsed, "enable the bloom filter")
	bloomM := fs.Uint("bloom_M_hash_size", uint(s.BloomMHashSize), "log2 of bloom filter bits")
	bloomK := fs.Uint("bloom_k_hash_functions", uint(s.BloomKHashFunctions), "bloom hash function count")
	fs.Parse(args)
	if fs.NArg() != 1 {
		fail("Usage: hashdb create [options] <hashdb dir>")
	}

	s.BlockSize = uint32(*blockSize)
	s.SectorSize = uint32(*sectorSize)
	s.HashAlgorithm = *algorithm
	s.HashPrefixBits = uint32(*prefixBits)
	s.HashSuffixBytes = uint32(*suffixBytes)
	s.MaxDuplicates = uint32(*maxDuplicates)
	s.BloomIsUsed = *bloomUsed
	s.BloomMHashSize = uint32(*bloomM)
	s.BloomKHashFunctions = uint32(*bloomK)

	db, err := hashdb.Create(fs.Arg(0), s, log)
	if err != nil {
		fail("%v", err)
	}
	if err := db.Close(); err != nil {
		fail("%v", err)
	}
}

func openOrFail(dir string, mode hashdb.Mode) *hashdb.Database {
	db, err := hashdb.Open(dir, mode, log)
	if err != nil {
		fail("%v", err)
	}
	return db
}

func cmdImport(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 2 {
		fail("Usage: hashdb import <hashdb dir> <json file>")
	}
	dir, jsonFile := fs.Arg(0), fs.Arg(1)

	in, err := ingest.OpenInput(jsonFile)
	if err != nil {
		fail("JSON file '%s' cannot be opened: %v", jsonFile, err)
	}
	defer in.Close()

	db := openOrFail(dir, hashdb.ReadWrite)
	defer db.Close()

	op := history.NewOperation("import")
	op.AddParameter("hashdb_dir", dir)
	op.AddParameter("json_file", jsonFile)

	var c changes.ChangeRecord
	if err := ingest.ReadLines(in, &ingest.Importer{DB: db, Changes: &c}, os.Stderr); err != nil {
		fail("%v", err)
	}

	op.Finish(&c)
	if err := history.Append(dir, op); err != nil {
		fail("%v", err)
	}
	fmt.Print(c.String())
}

func cmdExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 2 {
		fail("Usage: hashdb export <hashdb dir> <json file>")
	}
	dir, jsonFile := fs.Arg(0), fs.Arg(1)

	if _, err := os.Stat(jsonFile); err == nil {
		fail("File '%s' already exists.  Aborting.", jsonFile)
	}

	db := openOrFail(dir, hashdb.ReadOnly)
	defer db.Close()

	out, err := ingest.CreateOutput(jsonFile)
	if err != nil {
		fail("%v", err)
	}
	if err := ingest.Export(cmdContext(), db, out); err != nil {
		out.Close()
		fail("%v", err)
	}
	if err := out.Close(); err != nil {
		fail("%v", err)
	}
}

func cmdAdd(args []string) {
	if len(args) != 2 {
		fail("Usage: hashdb add <hashdb dir A> <hashdb dir B>")
	}
	if err := hashdb.Add(args[0], args[1], log, os.Stdout); err != nil {
		fail("%v", err)
	}
}

func cmdAddMultiple(args []string) {
	if len(args) != 3 {
		fail("Usage: hashdb add_multiple <hashdb dir A> <hashdb dir B> <hashdb dir C>")
	}
	if err := hashdb.AddMultiple(args[0], args[1], args[2], log, os.Stdout); err != nil {
		fail("%v", err)
	}
}

func cmdIntersect(args []string) {
	if len(args) != 3 {
		fail("Usage: hashdb intersect <hashdb dir A> <hashdb dir B> <hashdb dir C>")
	}
	if err := hashdb.Intersect(args[0], args[1], args[2], log, os.Stdout); err != nil {
		fail("%v", err)
	}
}

func cmdSubtract(args []string) {
	if len(args) != 3 {
		fail("Usage: hashdb subtract <hashdb dir A> <hashdb dir B> <hashdb dir C>")
	}
	if err := hashdb.Subtract(args[0], args[1], args[2], log, os.Stdout); err != nil {
		fail("%v", err)
	}
}

func cmdDeduplicate(args []string) {
	if len(args) != 2 {
		fail("Usage: hashdb deduplicate <hashdb dir A> <hashdb dir B>")
	}
	if err := hashdb.Deduplicate(args[0], args[1], log, os.Stdout); err != nil {
		fail("%v", err)
	}
}

// readHashesFile loads hex hashes, one per line, # and blank lines
// skipped, bad hex reported and skipped.
func readHashesFile(path string, digestLen int) [][]byte {
	in, err := ingest.OpenInput(path)
	if err != nil {
		fail("Hashes file '%s' cannot be opened: %v", path, err)
	}
	defer in.Close()

	var hashes [][]byte
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		hexHash := scanner.Text()
		if len(hexHash) == 0 || hexHash[0] == '#' {
			continue
		}
		h, err := hashtypes.ParseHex(hexHash)
		if err != nil || len(h) != digestLen {
			fmt.Fprintf(os.Stderr, "Invalid hash value '%s'\n", hexHash)
			continue
		}
		hashes = append(hashes, h)
	}
	if err := scanner.Err(); err != nil {
		fail("%v", err)
	}
	return hashes
}

func cmdScan(args []string) {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	workers := fs.Int("workers", 0, "parallel lookup workers, 0 = one per CPU")
	fs.Parse(args)
	if fs.NArg() != 2 {
		fail("Usage: hashdb scan <hashdb dir> <hashes file>")
	}

	db := openOrFail(fs.Arg(0), hashdb.ReadOnly)
	defer db.Close()

	digest, err := db.Settings.Digest()
	if err != nil {
		fail("%v", err)
	}
	hashes := readHashesFile(fs.Arg(1), digest.Length)

	for _, result := range scanpool.Run(*workers, hashes, db.Scan) {
		if result.Err != nil {
			fail("%v", result.Err)
		}
		if result.JSON != "" {
			fmt.Printf("%d\t%s\t%s\n", result.Index,
				hashtypes.Hex(result.Hash), result.JSON)
		}
	}
}

func cmdScanHash(args []string) {
	if len(args) != 2 {
		fail("Usage: hashdb scan_hash <hashdb dir> <hex hash>")
	}
	h, err := hashtypes.ParseHex(args[1])
	if err != nil {
		fail("Invalid hash value '%s'.  Aborting.", args[1])
	}

	db := openOrFail(args[0], hashdb.ReadOnly)
	defer db.Close()

	result, err := db.Scan(h)
	if err != nil {
		fail("%v", err)
	}
	if result != "" {
		fmt.Println(result)
	}
}

func cmdServer(args []string) {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", "", "server config yaml file")
	port := fs.Int("port", 0, "listen port, overrides the config file")
	fs.Parse(args)
	if fs.NArg() != 1 {
		fail("Usage: hashdb server [options] <hashdb dir>")
	}

	config, err := scanserver.LoadConfig(*configPath)
	if err != nil {
		fail("%v", err)
	}
	if *port != 0 {
		config.Port = *port
	}

	db := openOrFail(fs.Arg(0), hashdb.ReadOnly)
	defer db.Close()

	fmt.Println("Starting the hashdb server scan service.  Press Ctrl-C to quit.")
	if err := scanserver.New(db, config, log).ListenAndServe(); err != nil {
		fail("%v", err)
	}
}

func cmdRebuildBloom(args []string) {
	s := settings.Default()
	fs := flag.NewFlagSet("rebuild_bloom", flag.ExitOnError)
	bloomUsed := fs.Bool("bloom", s.BloomIsUsed, "enable the bloom filter")
	bloomM := fs.Uint("bloom_M_hash_size", uint(s.BloomMHashSize), "log2 of bloom filter bits")
	bloomK := fs.Uint("bloom_k_hash_functions", uint(s.BloomKHashFunctions), "bloom hash function count")
	fs.Parse(args)
	if fs.NArg() != 1 {
		fail("Usage: hashdb rebuild_bloom [options] <hashdb dir>")
	}
	dir := fs.Arg(0)

	db := openOrFail(dir, hashdb.ReadWrite)
	defer db.Close()

	s = db.Settings
	s.BloomIsUsed = *bloomUsed
	s.BloomMHashSize = uint32(*bloomM)
	s.BloomKHashFunctions = uint32(*bloomK)

	op := history.NewOperation("rebuild_bloom")
	op.AddParameter("hashdb_dir", dir)

	if err := db.RebuildBloom(s); err != nil {
		fail("%v", err)
	}

	op.Settings = &db.Settings
	op.Finish(&changes.ChangeRecord{})
	if err := history.Append(dir, op); err != nil {
		fail("%v", err)
	}
}

func cmdUpgrade(args []string) {
	if len(args) != 1 {
		fail("Usage: hashdb upgrade <hashdb dir>")
	}
	dir := args[0]

	db := openOrFail(dir, hashdb.ReadWrite)
	defer db.Close()

	// opening read-write recreates any missing store files; replaying
	// the bloom filter brings an older copy back in sync
	if err := db.RebuildBloom(db.Settings); err != nil {
		fail("%v", err)
	}

	op := history.NewOperation("upgrade")
	op.AddParameter("hashdb_dir", dir)
	op.Finish(&changes.ChangeRecord{})
	if err := history.Append(dir, op); err != nil {
		fail("%v", err)
	}
}

func parseCount(s string) uint64 {
	count, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		fail("Invalid count: '%s'", s)
	}
	return count
}
