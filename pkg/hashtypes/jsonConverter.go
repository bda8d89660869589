package hashtypes

import "encoding/json"

// ScanSource is one occurrence of a scanned hash joined with the
// metadata of its source.
type ScanSource struct {
	SourceID   uint64     `json:"source_id"`
	FileOffset uint64     `json:"file_offset"`
	Entropy    uint64     `json:"entropy,omitempty"`
	BlockLabel string     `json:"block_label,omitempty"`
	FileHash   string     `json:"file_hash,omitempty"`
	Filesize   uint64     `json:"filesize,omitempty"`
	FileType   string     `json:"file_type,omitempty"`
	Names      []ScanName `json:"names,omitempty"`
}

// ScanName mirrors the import/export name shape.
type ScanName struct {
	RepositoryName string `json:"repository_name"`
	Filename       string `json:"filename"`
}

// ScanResult is the document returned for one scanned block hash.
// Field order is fixed so the rendering is stable across runs.
type ScanResult struct {
	BlockHash string       `json:"block_hash"`
	Count     uint32       `json:"count"`
	Sources   []ScanSource `json:"sources"`
}

// JSON renders the result as the single-line document emitted by the
// scan surfaces.
func (r ScanResult) JSON() (string, error) {
	b, err := json.Marshal(&r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
