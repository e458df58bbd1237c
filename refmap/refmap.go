// Package refmap resolves reference sequence names to the file that
// declared them, their length, and an optional expected alignment count.
// It is the external context the stats tree consults while binning records.
package refmap

import (
	"context"
	"encoding/csv"
	"io"
	"path/filepath"
	"strconv"

	"github.com/epi2me-labs/mapula/encoding/fasta"
	"github.com/grailbio/base/file"
	"github.com/pkg/errors"
)

type reference struct {
	filename string
	length   int64
}

// Map is an immutable lookup over every reference sequence declared by a
// set of FASTA files, plus the expected-count table used for correlation.
type Map struct {
	refs     map[string]reference
	expected map[string]float64
}

// Load builds a Map from the given FASTA files and an optional CSV of
// expected counts. For each FASTA path a sibling .fai index is preferred
// when present, so reference lengths come without reading sequence data.
// The CSV must carry "reference" and "expected_count" columns.
func Load(ctx context.Context, fastaPaths []string, expectedPath string) (*Map, error) {
	m := &Map{
		refs:     make(map[string]reference),
		expected: make(map[string]float64),
	}
	for _, path := range fastaPaths {
		dict, err := loadDict(ctx, path)
		if err != nil {
			return nil, errors.Wrapf(err, "%s", path)
		}
		basename := filepath.Base(path)
		for _, name := range dict.SeqNames() {
			length, _ := dict.Len(name)
			m.refs[name] = reference{filename: basename, length: length}
		}
	}
	if expectedPath != "" {
		if err := m.loadExpected(ctx, expectedPath); err != nil {
			return nil, errors.Wrapf(err, "%s", expectedPath)
		}
	}
	return m, nil
}

func loadDict(ctx context.Context, path string) (*fasta.Dict, error) {
	if idx, err := file.Open(ctx, path+".fai"); err == nil {
		defer idx.Close(ctx) // nolint: errcheck
		return fasta.ReadIndexDict(idx.Reader(ctx))
	}
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer in.Close(ctx) // nolint: errcheck
	return fasta.ReadDict(in.Reader(ctx))
}

func (m *Map) loadExpected(ctx context.Context, path string) error {
	in, err := file.Open(ctx, path)
	if err != nil {
		return err
	}
	defer in.Close(ctx) // nolint: errcheck

	r := csv.NewReader(in.Reader(ctx))
	header, err := r.Read()
	if err != nil {
		return errors.Wrap(err, "reading expected counts header")
	}
	refCol, countCol := -1, -1
	for i, name := range header {
		switch name {
		case "reference":
			refCol = i
		case "expected_count":
			countCol = i
		}
	}
	if refCol < 0 || countCol < 0 {
		return errors.New("expected counts CSV needs reference and expected_count columns")
	}
	for {
		row, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "reading expected counts")
		}
		count, err := strconv.ParseFloat(row[countCol], 64)
		if err != nil {
			return errors.Wrapf(err, "expected count for %q", row[refCol])
		}
		m.expected[row[refCol]] = count
	}
}

// Filename returns the base name of the FASTA file declaring ref.
func (m *Map) Filename(ref string) (string, bool) {
	r, ok := m.refs[ref]
	return r.filename, ok
}

// Length returns the length of ref, or 0 when the reference is unknown.
func (m *Map) Length(ref string) int64 {
	return m.refs[ref].length
}

// ExpectedCount returns the expected alignment count for ref.
func (m *Map) ExpectedCount(ref string) (float64, bool) {
	count, ok := m.expected[ref]
	return count, ok
}

// ExpectedCounts returns the whole expected-count table.
func (m *Map) ExpectedCounts() map[string]float64 {
	return m.expected
}
