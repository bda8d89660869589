// Package changes accumulates the per-operation counters that record
// what a logical mutation did to the database. Soft data rejections
// land here instead of failing the operation.
package changes

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// ChangeRecord holds all counters of one logical operation.
type ChangeRecord struct {
	HashesInserted                          uint32
	HashesNotInsertedMismatchedHashLength   uint32
	HashesNotInsertedInvalidSectorAlignment uint32
	HashesNotInsertedExceedsMaxDuplicates   uint32
	HashesNotInsertedDuplicateElement       uint32
	HashesNotInsertedUnknownSourceID        uint32

	HashesRemoved             uint32
	HashesNotRemovedNoHash    uint32
	HashesNotRemovedNoElement uint32
}

type counter struct {
	name  string
	value uint32
}

func (c *ChangeRecord) insertCounters() []counter {
	return []counter{
		{"hashes_inserted", c.HashesInserted},
		{"hashes_not_inserted_mismatched_hash_length", c.HashesNotInsertedMismatchedHashLength},
		{"hashes_not_inserted_invalid_sector_alignment", c.HashesNotInsertedInvalidSectorAlignment},
		{"hashes_not_inserted_exceeds_max_duplicates", c.HashesNotInsertedExceedsMaxDuplicates},
		{"hashes_not_inserted_duplicate_element", c.HashesNotInsertedDuplicateElement},
		{"hashes_not_inserted_unknown_source_id", c.HashesNotInsertedUnknownSourceID},
	}
}

func (c *ChangeRecord) removeCounters() []counter {
	return []counter{
		{"hashes_removed", c.HashesRemoved},
		{"hashes_not_removed_no_hash", c.HashesNotRemovedNoHash},
		{"hashes_not_removed_no_element", c.HashesNotRemovedNoElement},
	}
}

func anyNonzero(counters []counter) bool {
	for _, c := range counters {
		if c.value != 0 {
			return true
		}
	}
	return false
}

// Merge adds the counters of other into c.
func (c *ChangeRecord) Merge(other ChangeRecord) {
	c.HashesInserted += other.HashesInserted
	c.HashesNotInsertedMismatchedHashLength += other.HashesNotInsertedMismatchedHashLength
	c.HashesNotInsertedInvalidSectorAlignment += other.HashesNotInsertedInvalidSectorAlignment
	c.HashesNotInsertedExceedsMaxDuplicates += other.HashesNotInsertedExceedsMaxDuplicates
	c.HashesNotInsertedDuplicateElement += other.HashesNotInsertedDuplicateElement
	c.HashesNotInsertedUnknownSourceID += other.HashesNotInsertedUnknownSourceID
	c.HashesRemoved += other.HashesRemoved
	c.HashesNotRemovedNoHash += other.HashesNotRemovedNoHash
	c.HashesNotRemovedNoElement += other.HashesNotRemovedNoElement
}

// String renders the human-readable change report: one section per
// action kind, zero counters suppressed.
func (c *ChangeRecord) String() string {
	inserts := c.insertCounters()
	removes := c.removeCounters()

	if !anyNonzero(inserts) && !anyNonzero(removes) {
		return "No hashdb changes.\n"
	}

	var b strings.Builder
	if anyNonzero(inserts) {
		b.WriteString("hashdb changes (insert):\n")
		for _, ctr := range inserts {
			if ctr.value != 0 {
				fmt.Fprintf(&b, "    %s=%d\n", ctr.name, ctr.value)
			}
		}
	}
	if anyNonzero(removes) {
		b.WriteString("hashdb changes (remove):\n")
		for _, ctr := range removes {
			if ctr.value != 0 {
				fmt.Fprintf(&b, "    %s=%d\n", ctr.name, ctr.value)
			}
		}
	}
	return b.String()
}

// MarshalXML writes one element per nonzero counter inside a
// hashdb_changes element, in declaration order.
func (c ChangeRecord) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Name.Local = "hashdb_changes"
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	for _, ctr := range append(c.insertCounters(), c.removeCounters()...) {
		if ctr.value == 0 {
			continue
		}
		el := xml.StartElement{Name: xml.Name{Local: ctr.name}}
		if err := e.EncodeElement(ctr.value, el); err != nil {
			return err
		}
	}
	return e.EncodeToken(start.End())
}

// UnmarshalXML restores a record from its element form.
func (c *ChangeRecord) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	byName := map[string]*uint32{
		"hashes_inserted":                              &c.HashesInserted,
		"hashes_not_inserted_mismatched_hash_length":   &c.HashesNotInsertedMismatchedHashLength,
		"hashes_not_inserted_invalid_sector_alignment": &c.HashesNotInsertedInvalidSectorAlignment,
		"hashes_not_inserted_exceeds_max_duplicates":   &c.HashesNotInsertedExceedsMaxDuplicates,
		"hashes_not_inserted_duplicate_element":        &c.HashesNotInsertedDuplicateElement,
		"hashes_not_inserted_unknown_source_id":        &c.HashesNotInsertedUnknownSourceID,
		"hashes_removed":                               &c.HashesRemoved,
		"hashes_not_removed_no_hash":                   &c.HashesNotRemovedNoHash,
		"hashes_not_removed_no_element":                &c.HashesNotRemovedNoElement,
	}
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var v uint32
			if err := d.DecodeElement(&v, &t); err != nil {
				return err
			}
			if p, ok := byName[t.Name.Local]; ok {
				*p = v
			}
		case xml.EndElement:
			return nil
		}
	}
}
