// Package ingest reads and writes the JSON-lines interchange format.
// Lines are one of source data, block hash data, or comment:
//
//	{"file_hash":"b9e7...", "filesize":8000, "file_type":"exe",
//	 "nonprobative_count":4, "names":[{"repository_name":"repo1",
//	 "filename":"file1"}]}
//
//	{"block_hash":"a7df...", "entropy":8, "block_label":"W",
//	 "source_offset_pairs":["b9e7...", 4096]}
//
// Comment lines start with #. Malformed lines are reported with their
// line number and skipped.
package ingest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/forensicdb/hashdb/pkg/hashtypes"
)

// SourceOffsetPair is one (source file, offset) sighting of a block.
type SourceOffsetPair struct {
	FileHash   []byte
	FileOffset uint64
}

// Consumer receives parsed records. The two hooks mirror the two
// line shapes.
type Consumer interface {
	OnSource(fileHash []byte, data hashtypes.SourceData, names []hashtypes.SourceName) error
	OnHash(blockHash []byte, entropy uint64, blockLabel string, pairs []SourceOffsetPair) error
}

type nameJSON struct {
	RepositoryName string `json:"repository_name"`
	Filename       string `json:"filename"`
}

type sourceLine struct {
	FileHash          string     `json:"file_hash"`
	Filesize          *uint64    `json:"filesize"`
	FileType          string     `json:"file_type"`
	NonprobativeCount uint64     `json:"nonprobative_count"`
	Names             []nameJSON `json:"names"`
}

type hashLine struct {
	BlockHash         string            `json:"block_hash"`
	Entropy           uint64            `json:"entropy"`
	BlockLabel        string            `json:"block_label"`
	SourceOffsetPairs []json.RawMessage `json:"source_offset_pairs"`
}

type reader struct {
	consumer   Consumer
	diagnostic io.Writer
	lineNumber int
}

func (r *reader) reportInvalid(field, line string) {
	fmt.Fprintf(r.diagnostic, "Invalid line %d field: %s: '%s'\n",
		r.lineNumber, field, line)
}

// ReadLines feeds every data line of in through the consumer.
// Diagnostics for skipped lines go to diagnostic.
func ReadLines(in io.Reader, consumer Consumer, diagnostic io.Writer) error {
	r := &reader{consumer: consumer, diagnostic: diagnostic}
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		r.lineNumber++
		line := scanner.Text()
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		if err := r.readLine(line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (r *reader) readLine(line string) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &probe); err != nil {
		r.reportInvalid("JSON parse error", line)
		return nil
	}
	if _, ok := probe["file_hash"]; ok {
		return r.readSourceData(line)
	}
	if _, ok := probe["block_hash"]; ok {
		return r.readBlockHashData(line)
	}
	r.reportInvalid("no file_hash or block_hash", line)
	return nil
}

func (r *reader) readSourceData(line string) error {
	var parsed sourceLine
	if err := json.Unmarshal([]byte(line), &parsed); err != nil {
		r.reportInvalid("source data", line)
		return nil
	}
	fileHash, err := hashtypes.ParseHex(parsed.FileHash)
	if err != nil {
		r.reportInvalid("source data file_hash", line)
		return nil
	}
	if parsed.Filesize == nil {
		r.reportInvalid("source data filesize", line)
		return nil
	}
	if parsed.Names == nil {
		r.reportInvalid("source data names", line)
		return nil
	}
	names := make([]hashtypes.SourceName, 0, len(parsed.Names))
	for _, name := range parsed.Names {
		names = append(names, hashtypes.SourceName{
			RepositoryName: name.RepositoryName,
			Filename:       name.Filename,
		})
	}
	return r.consumer.OnSource(fileHash, hashtypes.SourceData{
		FileSize:          *parsed.Filesize,
		FileType:          parsed.FileType,
		NonprobativeCount: parsed.NonprobativeCount,
	}, names)
}

func (r *reader) readBlockHashData(line string) error {
	var parsed hashLine
	if err := json.Unmarshal([]byte(line), &parsed); err != nil {
		r.reportInvalid("block hash data", line)
		return nil
	}
	blockHash, err := hashtypes.ParseHex(parsed.BlockHash)
	if err != nil {
		r.reportInvalid("block hash data block_hash", line)
		return nil
	}
	if parsed.SourceOffsetPairs == nil {
		r.reportInvalid("block hash data source_offset_pairs", line)
		return nil
	}
	pairs := make([]SourceOffsetPair, 0, len(parsed.SourceOffsetPairs)/2)
	for i := 0; i+1 < len(parsed.SourceOffsetPairs); i += 2 {
		var hexHash string
		if err := json.Unmarshal(parsed.SourceOffsetPairs[i], &hexHash); err != nil {
			r.reportInvalid("block hash data source_offset_pair source hash", line)
			return nil
		}
		fileHash, err := hashtypes.ParseHex(hexHash)
		if err != nil {
			r.reportInvalid("block hash data source_offset_pair source hash", line)
			return nil
		}
		var offset uint64
		if err := json.Unmarshal(parsed.SourceOffsetPairs[i+1], &offset); err != nil {
			r.reportInvalid("block hash data source_offset_pair file offset", line)
			return nil
		}
		pairs = append(pairs, SourceOffsetPair{FileHash: fileHash, FileOffset: offset})
	}
	return r.consumer.OnHash(blockHash, parsed.Entropy, parsed.BlockLabel, pairs)
}
