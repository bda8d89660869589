package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/forensicdb/hashdb"
	"github.com/forensicdb/hashdb/pkg/hashtypes"
)

func cmdContext() context.Context {
	return context.Background()
}

func cmdSize(args []string) {
	if len(args) != 1 {
		fail("Usage: hashdb size <hashdb dir>")
	}
	db := openOrFail(args[0], hashdb.ReadOnly)
	defer db.Close()

	sizes, err := db.Sizes()
	if err != nil {
		fail("%v", err)
	}
	if sizes.Empty() {
		fmt.Println("The hash database is empty.")
		return
	}
	fmt.Printf("  hash store: %d\n", sizes.HashStore)
	fmt.Printf("  source id store: %d\n", sizes.SourceIDStore)
	fmt.Printf("  source name store: %d\n", sizes.SourceNameStore)
	fmt.Printf("  source data store: %d\n", sizes.SourceDataStore)
}

func cmdSources(args []string) {
	if len(args) != 1 {
		fail("Usage: hashdb sources <hashdb dir>")
	}
	db := openOrFail(args[0], hashdb.ReadOnly)
	defer db.Close()

	empty := true
	err := db.Sources(cmdContext(), func(rec hashdb.SourceRecord) (bool, error) {
		empty = false
		line := fmt.Sprintf("source id=%d, file hash='%s'",
			rec.ID, hashtypes.Hex(rec.FileHash))
		if rec.HasData {
			line += fmt.Sprintf(", file size='%d'", rec.Data.FileSize)
			if rec.Data.FileType != "" {
				line += fmt.Sprintf(", file type='%s'", rec.Data.FileType)
			}
		}
		for _, name := range rec.Names {
			line += fmt.Sprintf(", repository name='%s', filename='%s'",
				name.RepositoryName, name.Filename)
		}
		fmt.Println(line)
		return true, nil
	})
	if err != nil {
		fail("%v", err)
	}
	if empty {
		fmt.Println("The source store is empty.")
	}
}

func cmdHistogram(args []string) {
	if len(args) != 1 {
		fail("Usage: hashdb histogram <hashdb dir>")
	}
	db := openOrFail(args[0], hashdb.ReadOnly)
	defer db.Close()

	result, err := db.Histogram(cmdContext())
	if err != nil {
		fail("%v", err)
	}
	if result.TotalHashes == 0 {
		fmt.Println("The map is empty.")
		return
	}

	fmt.Printf("total hashes: %d\n", result.TotalHashes)
	fmt.Printf("distinct hashes: %d\n", result.DistinctHashes)

	counts := make([]uint32, 0, len(result.Bins))
	for count := range result.Bins {
		counts = append(counts, count)
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i] < counts[j] })
	for _, count := range counts {
		distinct := result.Bins[count]
		fmt.Printf("duplicates=%d, distinct hashes=%d, total=%d\n",
			count, distinct, uint64(count)*distinct)
	}
}

func cmdDuplicates(args []string) {
	if len(args) != 2 {
		fail("Usage: hashdb duplicates <hashdb dir> <count>")
	}
	count := parseCount(args[1])

	db := openOrFail(args[0], hashdb.ReadOnly)
	defer db.Close()

	lineNumber := 0
	err := db.Duplicates(cmdContext(), uint32(count), func(hash []byte) (bool, error) {
		lineNumber++
		fmt.Printf("%d\t%s\t%d\n", lineNumber, hashtypes.Hex(hash), count)
		return true, nil
	})
	if err != nil {
		fail("%v", err)
	}
	if lineNumber == 0 {
		fmt.Println("No hashes were found with this count.")
	}
}

func cmdHashTable(args []string) {
	if len(args) != 1 {
		fail("Usage: hashdb hash_table <hashdb dir>")
	}
	db := openOrFail(args[0], hashdb.ReadOnly)
	defer db.Close()

	empty := true
	err := db.Iterate(cmdContext(), func(hash []byte, occ hashtypes.Occurrence) (bool, error) {
		empty = false
		repositoryName, filename := "", ""
		names, err := db.SourceNames(occ.SourceID)
		if err != nil {
			return false, err
		}
		if len(names) > 0 {
			repositoryName, filename = names[0].RepositoryName, names[0].Filename
		}
		fmt.Printf("%s\t%s\t%s\t%d\n",
			hashtypes.Hex(hash), repositoryName, filename, occ.FileOffset)
		return true, nil
	})
	if err != nil {
		fail("%v", err)
	}
	if empty {
		fmt.Println("The hash database is empty.")
	}
}
