package stats

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// ReadReport loads a persisted report. The tree is reconstructed from the
// raw counters and distribution buckets; every derived scalar is recomputed
// rather than trusted from the file, so a report whose derived fields were
// hand-edited or half-written still loads consistently. A report that is not
// valid JSON, or whose distributions have the wrong shape, is an error
// naming the file.
func ReadReport(ctx context.Context, path string) (*Alignments, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer in.Close(ctx) // nolint: errcheck

	var src io.Reader = in.Reader(ctx)
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(src)
		if err != nil {
			return nil, errors.Wrapf(err, "%s", path)
		}
		defer gz.Close() // nolint: errcheck
		src = gz
	}

	alns := NewAlignments()
	if err := json.NewDecoder(src).Decode(alns); err != nil {
		return nil, errors.Wrapf(err, "%s: malformed report", path)
	}
	if err := alns.normalize(); err != nil {
		return nil, errors.Wrapf(err, "%s: malformed report", path)
	}
	return alns, nil
}

// WriteReport persists the tree as JSON, gzip-compressed when the path ends
// in .gz.
func (a *Alignments) WriteReport(ctx context.Context, path string) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer func() {
		if e := out.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()

	if strings.HasSuffix(path, ".gz") {
		gz := gzip.NewWriter(out.Writer(ctx))
		if err := json.NewEncoder(gz).Encode(a); err != nil {
			return errors.Wrapf(err, "%s", path)
		}
		return gz.Close()
	}
	if err := json.NewEncoder(out.Writer(ctx)).Encode(a); err != nil {
		return errors.Wrapf(err, "%s", path)
	}
	return nil
}
