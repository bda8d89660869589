// Package history maintains the append-only operation log inside a
// database directory. Commands that write a database, and the
// scan_random benchmark, append one operation element; read-only
// reports and scans append nothing. Multi-database operators also
// embed the histories of their inputs.
package history

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/forensicdb/hashdb/internal/changes"
	"github.com/forensicdb/hashdb/internal/settings"
)

const Filename = "history.xml"

type Parameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type Operation struct {
	XMLName    xml.Name              `xml:"operation"`
	Command    string                `xml:"command"`
	Begin      string                `xml:"begin"`
	End        string                `xml:"end"`
	Parameters []Parameter           `xml:"parameter,omitempty"`
	Settings   *settings.Settings    `xml:"settings,omitempty"`
	Changes    *changes.ChangeRecord `xml:"hashdb_changes,omitempty"`
	Merged     []History             `xml:"history,omitempty"`
}

type History struct {
	XMLName    xml.Name    `xml:"history"`
	Operations []Operation `xml:"operation"`
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// NewOperation starts an operation record with its begin timestamp.
func NewOperation(command string) *Operation {
	return &Operation{Command: command, Begin: timestamp()}
}

func (op *Operation) AddParameter(name, value string) {
	op.Parameters = append(op.Parameters, Parameter{Name: name, Value: value})
}

// MergeFrom embeds the full history of another database, so the
// provenance of copied records survives the copy.
func (op *Operation) MergeFrom(dir string) error {
	h, err := Read(dir)
	if err != nil {
		return err
	}
	if len(h.Operations) > 0 {
		op.Merged = append(op.Merged, h)
	}
	return nil
}

// Finish stamps the end time and sets the change record.
func (op *Operation) Finish(c *changes.ChangeRecord) {
	op.End = timestamp()
	op.Changes = c
}

// Read loads the history document of dir, empty when none exists.
func Read(dir string) (History, error) {
	data, err := os.ReadFile(filepath.Join(dir, Filename))
	if os.IsNotExist(err) {
		return History{}, nil
	}
	if err != nil {
		return History{}, err
	}
	var h History
	if err := xml.Unmarshal(data, &h); err != nil {
		return History{}, fmt.Errorf("corrupt history document in %s: %w", dir, err)
	}
	return h, nil
}

// Append adds op to the history document of dir.
func Append(dir string, op *Operation) error {
	if op.End == "" {
		op.End = timestamp()
	}
	h, err := Read(dir)
	if err != nil {
		return err
	}
	h.Operations = append(h.Operations, *op)
	data, err := xml.MarshalIndent(&h, "", "  ")
	if err != nil {
		return err
	}
	data = append([]byte(xml.Header), data...)
	data = append(data, '\n')
	return os.WriteFile(filepath.Join(dir, Filename), data, 0644)
}
