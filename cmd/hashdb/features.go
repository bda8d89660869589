package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/forensicdb/hashdb"
	"github.com/forensicdb/hashdb/internal/ingest"
	"github.com/forensicdb/hashdb/pkg/hashtypes"
)

// stripContextBraces removes the outer json braces of a feature
// context so extra fields can be appended inside.
func stripContextBraces(context string) string {
	if strings.HasPrefix(context, "{") && strings.HasSuffix(context, "}") {
		return context[1 : len(context)-1]
	}
	if context != "" {
		fmt.Fprintf(os.Stderr, "unexpected syntax in context: '%s'\n", context)
	}
	return context
}

// removeCountField drops the "count":NN field from a context so only
// the flags remain.
func removeCountField(context string) string {
	posCount := strings.Index(context, "\"count\":")
	if posCount < 0 {
		return context
	}
	rest := context[posCount:]
	end := strings.IndexAny(rest, ",}")
	if end < 0 {
		end = len(rest)
	} else if rest[end] == ',' {
		end++
	}
	return context[:posCount] + context[posCount+end:]
}

func cmdExpandIdentifiedBlocks(args []string) {
	if len(args) != 2 {
		fail("Usage: hashdb expand_identified_blocks <hashdb dir> <identified blocks file>")
	}
	db := openOrFail(args[0], hashdb.ReadOnly)
	defer db.Close()

	in, err := ingest.OpenInput(args[1])
	if err != nil {
		fail("Identified blocks file '%s' cannot be opened: %v", args[1], err)
	}
	defer in.Close()

	err = ingest.ReadFeatureLines(in, os.Stderr, func(line ingest.FeatureLine) error {
		h, err := hashtypes.ParseHex(line.Feature)
		if err != nil {
			return nil
		}
		occurrences, err := db.Find(h)
		if err != nil {
			return nil
		}
		context := stripContextBraces(line.Context)
		for _, occ := range occurrences {
			out := fmt.Sprintf("%s\t%s\t{%s", line.ForensicPath, line.Feature, context)
			if context != "" {
				out += ","
			}
			names, err := db.SourceNames(occ.SourceID)
			if err != nil {
				return err
			}
			repositoryName, filename := "", ""
			if len(names) > 0 {
				repositoryName, filename = names[0].RepositoryName, names[0].Filename
			}
			out += fmt.Sprintf("\"repository_name\":\"%s\",\"filename\":\"%s\",\"file_offset\":%d",
				repositoryName, filename, occ.FileOffset)
			if d, hasData, err := db.SourceData(occ.SourceID); err != nil {
				return err
			} else if hasData {
				out += fmt.Sprintf(",\"filesize\":%d", d.FileSize)
			}
			fmt.Println(out + "}")
		}
		return nil
	})
	if err != nil {
		fail("%v", err)
	}
}

func cmdExplainIdentifiedBlocks(args []string) {
	fs := flag.NewFlagSet("explain_identified_blocks", flag.ExitOnError)
	requestedMax := fs.Uint("m", 20, "skip hashes with more sources than this")
	fs.Parse(args)
	if fs.NArg() != 2 {
		fail("Usage: hashdb explain_identified_blocks [options] <hashdb dir> <identified blocks file>")
	}

	db := openOrFail(fs.Arg(0), hashdb.ReadOnly)
	defer db.Close()

	in, err := ingest.OpenInput(fs.Arg(1))
	if err != nil {
		fail("Identified blocks file '%s' cannot be opened: %v", fs.Arg(1), err)
	}
	defer in.Close()

	// first pass: the interesting hashes and every source they touch
	type identified struct {
		hash    []byte
		context string
	}
	seen := make(map[string]bool)
	var hashes []identified
	sourceIDs := make(map[hashtypes.SourceID]bool)

	err = ingest.ReadFeatureLines(in, os.Stderr, func(line ingest.FeatureLine) error {
		h, err := hashtypes.ParseHex(line.Feature)
		if err != nil || seen[string(h)] {
			return nil
		}
		count, err := db.FindCount(h)
		if err != nil {
			return err
		}
		if count == 0 || count > uint32(*requestedMax) {
			return nil
		}
		seen[string(h)] = true
		hashes = append(hashes, identified{hash: h, context: line.Context})
		occurrences, err := db.Find(h)
		if err != nil {
			return err
		}
		for _, occ := range occurrences {
			sourceIDs[occ.SourceID] = true
		}
		return nil
	})
	if err != nil {
		fail("%v", err)
	}

	// print identified hashes with their sources
	for _, id := range hashes {
		context := removeCountField(stripContextBraces(id.context))
		out := fmt.Sprintf("[\"%s\",{%s},[", hashtypes.Hex(id.hash), context)
		occurrences, err := db.Find(id.hash)
		if err != nil {
			fail("%v", err)
		}
		for i, occ := range occurrences {
			if i > 0 {
				out += ","
			}
			out += fmt.Sprintf("{\"source_id\":%d,\"file_offset\":%d}",
				occ.SourceID, occ.FileOffset)
		}
		fmt.Println(out + "]]")
	}

	// print identified sources
	ids := make([]hashtypes.SourceID, 0, len(sourceIDs))
	for id := range sourceIDs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		out := fmt.Sprintf("{\"source_id\":%d", id)
		if fileHash, found, err := db.SourceHash(id); err != nil {
			fail("%v", err)
		} else if found {
			out += fmt.Sprintf(",\"file_hash\":\"%s\"", hashtypes.Hex(fileHash))
		}
		names, err := db.SourceNames(id)
		if err != nil {
			fail("%v", err)
		}
		if len(names) > 0 {
			out += fmt.Sprintf(",\"repository_name\":\"%s\",\"filename\":\"%s\"",
				names[0].RepositoryName, names[0].Filename)
		}
		if d, hasData, err := db.SourceData(id); err != nil {
			fail("%v", err)
		} else if hasData {
			out += fmt.Sprintf(",\"filesize\":%d", d.FileSize)
		}
		fmt.Println(out + "}")
	}
}
