package ingest

import (
	"context"
	"fmt"
	"io"

	"github.com/forensicdb/hashdb"
	"github.com/forensicdb/hashdb/internal/changes"
	"github.com/forensicdb/hashdb/pkg/hashtypes"
)

// Importer is the Consumer that writes parsed records into an open
// database, accumulating soft rejections in Changes.
type Importer struct {
	DB      *hashdb.Database
	Changes *changes.ChangeRecord
}

func (im *Importer) OnSource(fileHash []byte, data hashtypes.SourceData,
	names []hashtypes.SourceName) error {

	if err := im.DB.InsertSourceData(fileHash, data); err != nil {
		return err
	}
	for _, name := range names {
		if err := im.DB.InsertSourceName(fileHash,
			name.RepositoryName, name.Filename); err != nil {
			return err
		}
	}
	return nil
}

func (im *Importer) OnHash(blockHash []byte, entropy uint64, blockLabel string,
	pairs []SourceOffsetPair) error {

	for _, pair := range pairs {
		if err := im.DB.InsertHash(blockHash, pair.FileHash,
			pair.FileOffset, entropy, blockLabel, im.Changes); err != nil {
			return err
		}
	}
	return nil
}

type exportName struct {
	RepositoryName string `json:"repository_name"`
	Filename       string `json:"filename"`
}

type exportSource struct {
	FileHash          string       `json:"file_hash"`
	Filesize          uint64       `json:"filesize"`
	FileType          string       `json:"file_type,omitempty"`
	NonprobativeCount uint64       `json:"nonprobative_count,omitempty"`
	Names             []exportName `json:"names"`
}

type exportHash struct {
	BlockHash         string        `json:"block_hash"`
	Entropy           uint64        `json:"entropy,omitempty"`
	BlockLabel        string        `json:"block_label,omitempty"`
	SourceOffsetPairs []interface{} `json:"source_offset_pairs"`
}

// Export writes the whole database as JSON lines: source lines first,
// then one line per distinct hash in canonical iteration order, so a
// re-import reproduces the database exactly.
func Export(ctx context.Context, db *hashdb.Database, w io.Writer) error {
	err := db.Sources(ctx, func(rec hashdb.SourceRecord) (bool, error) {
		line := exportSource{
			FileHash:          hashtypes.Hex(rec.FileHash),
			Filesize:          rec.Data.FileSize,
			FileType:          rec.Data.FileType,
			NonprobativeCount: rec.Data.NonprobativeCount,
			Names:             []exportName{},
		}
		for _, name := range rec.Names {
			line.Names = append(line.Names, exportName{
				RepositoryName: name.RepositoryName,
				Filename:       name.Filename,
			})
		}
		return true, writeLine(w, &line)
	})
	if err != nil {
		return err
	}

	var pending *exportHash
	flush := func() error {
		if pending == nil {
			return nil
		}
		err := writeLine(w, pending)
		pending = nil
		return err
	}
	err = db.Iterate(ctx, func(hash []byte, occ hashtypes.Occurrence) (bool, error) {
		hexHash := hashtypes.Hex(hash)
		if pending != nil && pending.BlockHash != hexHash {
			if err := flush(); err != nil {
				return false, err
			}
		}
		if pending == nil {
			pending = &exportHash{
				BlockHash:  hexHash,
				Entropy:    occ.Entropy,
				BlockLabel: occ.BlockLabel,
			}
		}
		fileHash, found, err := db.SourceHash(occ.SourceID)
		if err != nil {
			return false, err
		}
		if !found {
			return false, fmt.Errorf("source id %d has no file hash", occ.SourceID)
		}
		pending.SourceOffsetPairs = append(pending.SourceOffsetPairs,
			hashtypes.Hex(fileHash), occ.FileOffset)
		return true, nil
	})
	if err != nil {
		return err
	}
	return flush()
}
