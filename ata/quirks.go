package ata

import (
	"io"
	"io/ioutil"

	"github.com/robrohan/ipodpatcher/checkpoint"
	"gopkg.in/yaml.v2"
)

// Quirk describes a drive family that needs a non-default physical sector
// alignment. A quirk applies when every Match fragment equals the raw
// (untrimmed) model string at its character offset.
//
// These entries are empirical: they record observed drive behavior, not
// anything the drives report. The table is data so that new families can be
// added without touching the driver.
type Quirk struct {
	Name          string       `yaml:"name"`
	Match         []QuirkMatch `yaml:"match"`
	AlignmentLog2 uint8        `yaml:"alignment_log2"`
}

// QuirkMatch is one fragment of a model string match.
type QuirkMatch struct {
	Offset int    `yaml:"offset"`
	Text   string `yaml:"text"`
}

func (q Quirk) matches(rawModel []byte) bool {
	for _, m := range q.Match {
		end := m.Offset + len(m.Text)
		if m.Offset < 0 || end > len(rawModel) {
			return false
		}
		if string(rawModel[m.Offset:end]) != m.Text {
			return false
		}
	}
	return len(q.Match) > 0
}

// DefaultQuirks returns the built-in quirk table.
//
// The Toshiba ..10GAH family (fitted to some 1.8" players) has 1024 byte
// physical sectors and errors on reads that start at an odd LBA or cover an
// odd number of blocks.
func DefaultQuirks() []Quirk {
	return []Quirk{
		{
			Name: "TOSHIBA 10GAH",
			Match: []QuirkMatch{
				{Offset: 0, Text: "TOSHIBA "},
				{Offset: 12, Text: "10GAH"},
			},
			AlignmentLog2: 1,
		},
	}
}

// LoadQuirks reads a YAML quirk table.
func LoadQuirks(r io.Reader) ([]Quirk, error) {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, checkpoint.From(err)
	}

	var quirks []Quirk
	if err := yaml.Unmarshal(data, &quirks); err != nil {
		return nil, checkpoint.From(err)
	}

	return quirks, nil
}
