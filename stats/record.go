package stats

import (
	"math"

	"github.com/grailbio/hts/sam"
)

// Default grouping keys substituted when a record carries no reference, no
// run id tag or no barcode tag.
const (
	Unmapped     = "unmapped"
	Unknown      = "unknown"
	Unclassified = "unclassified"
)

var (
	runIDTag   = sam.NewTag("RD")
	barcodeTag = sam.NewTag("BC")
	nmTag      = sam.NewTag("NM")
)

// RefLookup resolves per-reference context supplied from outside the stats
// tree: the file a reference sequence came from, its length, and the table
// of expected alignment counts used for correlation.
type RefLookup interface {
	// Filename returns the base name of the file declaring ref, or false
	// when the reference is unknown.
	Filename(ref string) (string, bool)
	// Length returns the length of ref, or 0 when unknown.
	Length(ref string) int64
	// ExpectedCounts returns the expected alignment count per reference
	// name. References absent from the table do not correlate.
	ExpectedCounts() map[string]float64
}

// referenceName returns the name of the reference rec aligned to, or ""
// for unmapped records.
func referenceName(rec *sam.Record) string {
	if rec.Flags&sam.Unmapped != 0 || rec.Ref == nil {
		return ""
	}
	return rec.Ref.Name()
}

// auxString returns the string value of the given aux tag, or def when the
// tag is absent or not a string.
func auxString(rec *sam.Record, tag sam.Tag, def string) string {
	aux := rec.AuxFields.Get(tag)
	if aux == nil {
		return def
	}
	if s, ok := aux.Value().(string); ok {
		return s
	}
	return def
}

// auxInt returns the integer value of the given aux tag.
func auxInt(rec *sam.Record, tag sam.Tag) (int, bool) {
	aux := rec.AuxFields.Get(tag)
	if aux == nil {
		return 0, false
	}
	switch v := aux.Value().(type) {
	case int:
		return v, true
	case int8:
		return int(v), true
	case int16:
		return int(v), true
	case int32:
		return int(v), true
	case uint8:
		return int(v), true
	case uint16:
		return int(v), true
	case uint32:
		return int(v), true
	}
	return 0, false
}

// meanQScore converts per-base qualities to a single mean Q score by
// averaging the per-base error probabilities, not the scores themselves.
func meanQScore(quals []byte) float64 {
	if len(quals) == 0 {
		return 0
	}
	var sum float64
	for _, q := range quals {
		sum += math.Pow(10, float64(q)/-10)
	}
	return -10 * math.Log10(sum/float64(len(quals)))
}

// cigarCounts tallies the CIGAR columns relevant to accuracy and coverage:
// aligned columns (M, =, X), insertions and deletions.
func cigarCounts(rec *sam.Record) (match, ins, del int) {
	for _, op := range rec.Cigar {
		switch op.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			match += op.Len()
		case sam.CigarInsertion:
			ins += op.Len()
		case sam.CigarDeletion:
			del += op.Len()
		}
	}
	return match, ins, del
}

// alignmentAccuracy derives a percentage accuracy from the alignment length
// and the NM edit distance tag. It is undefined (ok false) for unmapped
// records, empty alignments, and records without an NM tag.
func alignmentAccuracy(rec *sam.Record) (float64, bool) {
	if rec.Flags&sam.Unmapped != 0 {
		return 0, false
	}
	match, ins, del := cigarCounts(rec)
	alnLen := match + ins + del
	if alnLen == 0 {
		return 0, false
	}
	nm, ok := auxInt(rec, nmTag)
	if !ok {
		return 0, false
	}
	return 100 * float64(alnLen-nm) / float64(alnLen), true
}

// alignedQueryLength is the number of query bases taking part in the
// alignment, excluding clipped bases.
func alignedQueryLength(rec *sam.Record) int {
	var n int
	for _, op := range rec.Cigar {
		switch op.Type() {
		case sam.CigarMatch, sam.CigarInsertion, sam.CigarEqual, sam.CigarMismatch:
			n += op.Len()
		}
	}
	return n
}

// alignmentCoverage is the aligned query length as a percentage of the
// reference length, 0 when the reference length is unknown.
func alignmentCoverage(rec *sam.Record, refLength int64) float64 {
	if refLength <= 0 {
		return 0
	}
	return 100 * float64(alignedQueryLength(rec)) / float64(refLength)
}
