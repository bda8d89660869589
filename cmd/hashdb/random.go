package main

import (
	"flag"
	"fmt"
	"math/rand"
	"time"

	"github.com/forensicdb/hashdb"
	"github.com/forensicdb/hashdb/internal/changes"
	"github.com/forensicdb/hashdb/internal/history"
)

// functional analysis and testing commands

func randomHash(rng *rand.Rand, length int) []byte {
	h := make([]byte, length)
	rng.Read(h)
	return h
}

func cmdAddRandom(args []string) {
	fs := flag.NewFlagSet("add_random", flag.ExitOnError)
	repositoryName := fs.String("repository", "add_random", "repository name for the synthetic sources")
	fs.Parse(args)
	if fs.NArg() != 2 {
		fail("Usage: hashdb add_random [options] <hashdb dir> <count>")
	}
	dir := fs.Arg(0)
	count := parseCount(fs.Arg(1))

	db := openOrFail(dir, hashdb.ReadWrite)
	defer db.Close()

	digest, err := db.Settings.Digest()
	if err != nil {
		fail("%v", err)
	}

	op := history.NewOperation("add_random")
	op.AddParameter("hashdb_dir", dir)
	op.AddParameter("repository_name", *repositoryName)
	op.AddParameter("count", fs.Arg(1))

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	blockSize := uint64(db.Settings.BlockSize)

	var c changes.ChangeRecord
	// synthetic sources hold 2^26 blocks each, like real disk images
	const blocksPerSource = 1 << 26
	var fileHash []byte
	for i := uint64(0); i < count; i++ {
		if i%blocksPerSource == 0 {
			fileHash = randomHash(rng, digest.Length)
			name := fmt.Sprintf("file%d", i/blocksPerSource)
			if err := db.InsertSourceName(fileHash, *repositoryName, name); err != nil {
				fail("%v", err)
			}
		}
		offset := (i % blocksPerSource) * blockSize
		if err := db.InsertHash(randomHash(rng, digest.Length), fileHash,
			offset, 0, "", &c); err != nil {
			fail("%v", err)
		}
	}

	op.Finish(&c)
	if err := history.Append(dir, op); err != nil {
		fail("%v", err)
	}
	fmt.Print(c.String())
}

func cmdScanRandom(args []string) {
	fs := flag.NewFlagSet("scan_random", flag.ExitOnError)
	rounds := fs.Int("rounds", 100, "scan rounds per phase")
	perRound := fs.Int("count", 100000, "hashes per round")
	fs.Parse(args)
	if fs.NArg() != 1 {
		fail("Usage: hashdb scan_random [options] <hashdb dir>")
	}
	dir := fs.Arg(0)

	db := openOrFail(dir, hashdb.ReadOnly)
	defer db.Close()

	digest, err := db.Settings.Digest()
	if err != nil {
		fail("%v", err)
	}

	// present keys for the matching phase, drawn from iteration
	var present [][]byte
	err = db.IterateKeys(cmdContext(), func(hash []byte, count uint32) (bool, error) {
		present = append(present, append([]byte(nil), hash...))
		return len(present) < *perRound, nil
	})
	if err != nil {
		fail("%v", err)
	}
	if len(present) == 0 {
		fail("Map is empty.  Aborting.")
	}

	op := history.NewOperation("scan_random")
	op.AddParameter("hashdb_dir", dir)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	// phase one: random hashes, matches are unexpected
	for round := 1; round <= *rounds; round++ {
		matches := 0
		for i := 0; i < *perRound; i++ {
			result, err := db.Scan(randomHash(rng, digest.Length))
			if err != nil {
				fail("%v", err)
			}
			if result != "" {
				matches++
			}
		}
		if matches > 0 {
			log.Warnf("unexpected event: %d matches in random round %d", matches, round)
		}
		fmt.Printf("scan random hash %d of %d\n", round, *rounds)
	}

	// phase two: present hashes, everything must match
	for round := 1; round <= *rounds; round++ {
		misses := 0
		for i := 0; i < *perRound; i++ {
			result, err := db.Scan(present[rng.Intn(len(present))])
			if err != nil {
				fail("%v", err)
			}
			if result == "" {
				misses++
			}
		}
		if misses > 0 {
			log.Warnf("unexpected event: %d misses in matching round %d", misses, round)
		}
		fmt.Printf("scan random matching hash %d of %d\n", round, *rounds)
	}

	op.Finish(&changes.ChangeRecord{})
	if err := history.Append(dir, op); err != nil {
		fail("%v", err)
	}
}
