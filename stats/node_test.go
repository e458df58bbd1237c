package stats

import (
	"bytes"
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRefs is a RefLookup over fixed tables.
type fakeRefs struct {
	files    map[string]string
	lengths  map[string]int64
	expected map[string]float64
}

func (f fakeRefs) Filename(ref string) (string, bool) {
	name, ok := f.files[ref]
	return name, ok
}

func (f fakeRefs) Length(ref string) int64 {
	return f.lengths[ref]
}

func (f fakeRefs) ExpectedCounts() map[string]float64 {
	return f.expected
}

func newTestRef(t *testing.T, name string, length int) *sam.Reference {
	ref, err := sam.NewReference(name, "", "", length, nil, nil)
	require.NoError(t, err)
	return ref
}

func newAux(t *testing.T, tag string, value interface{}) sam.Aux {
	aux, err := sam.NewAux(sam.NewTag(tag), value)
	require.NoError(t, err)
	return aux
}

// newTestRecord builds a fully-aligned record of the given read length with
// uniform base quality. nm sets the NM tag; pass extra auxes for grouping
// tags.
func newTestRecord(t *testing.T, ref *sam.Reference, length int, flags sam.Flags, qual byte, nm int, auxes ...sam.Aux) *sam.Record {
	rec := &sam.Record{
		Name:  "read",
		Ref:   ref,
		Flags: flags,
		Seq:   sam.NewSeq(bytes.Repeat([]byte{'A'}, length)),
		Qual:  bytes.Repeat([]byte{qual}, length),
	}
	if flags&sam.Unmapped == 0 {
		rec.Cigar = sam.Cigar{sam.NewCigarOp(sam.CigarMatch, length)}
		rec.AuxFields = append(rec.AuxFields, newAux(t, "NM", nm))
	}
	rec.AuxFields = append(rec.AuxFields, auxes...)
	return rec
}

func newUnmappedRecord(t *testing.T, length int, qual byte, auxes ...sam.Aux) *sam.Record {
	rec := &sam.Record{
		Name:  "read",
		Flags: sam.Unmapped,
		Seq:   sam.NewSeq(bytes.Repeat([]byte{'A'}, length)),
		Qual:  bytes.Repeat([]byte{qual}, length),
	}
	rec.AuxFields = append(rec.AuxFields, auxes...)
	return rec
}

func testRefs(t *testing.T) fakeRefs {
	return fakeRefs{
		files:   map[string]string{"ref1": "refs.fasta", "ref2": "refs.fasta"},
		lengths: map[string]int64{"ref1": 1000, "ref2": 300},
	}
}

func TestUpdateSupplementaryEarlyExit(t *testing.T) {
	ref := newTestRef(t, "ref1", 1000)
	node := NewAlignedReference("ref1", 1000)
	node.Update(newTestRecord(t, ref, 100, sam.Supplementary, 20, 5))

	assert.Equal(t, 1, node.AlignmentCount)
	assert.Equal(t, 1, node.SupplementaryCount)
	assert.Equal(t, 0, node.ReadCount)
	assert.Equal(t, 0, node.PrimaryCount)
	assert.Equal(t, int64(0), node.TotalBasePairs)
	assert.Equal(t, 0, node.ReadLengths.Total())
	assert.Equal(t, 0, node.ReadQualities.Total())
	assert.Equal(t, 0, node.AlignmentAccuracies.Total())
	assert.Equal(t, 0, node.AlignmentCoverages.Total())
}

func TestUpdateSecondaryEarlyExit(t *testing.T) {
	ref := newTestRef(t, "ref1", 1000)
	node := NewAlignedReference("ref1", 1000)
	node.Update(newTestRecord(t, ref, 100, sam.Secondary, 20, 5))

	assert.Equal(t, 1, node.AlignmentCount)
	assert.Equal(t, 1, node.SecondaryCount)
	assert.Equal(t, 0, node.ReadCount)
	assert.Equal(t, 0, node.ReadLengths.Total())
}

func TestUpdateUnmappedKeepsLengthAndQuality(t *testing.T) {
	node := NewAlignedReference(Unmapped, 0)
	node.Update(newUnmappedRecord(t, 100, 20))

	assert.Equal(t, 1, node.AlignmentCount)
	assert.Equal(t, 1, node.ReadCount)
	assert.Equal(t, 0, node.PrimaryCount)
	assert.Equal(t, int64(100), node.TotalBasePairs)
	assert.Equal(t, 1, node.ReadLengths.Total())
	assert.Equal(t, 1, node.ReadQualities.Total())
	assert.Equal(t, 0, node.AlignmentAccuracies.Total())
	assert.Equal(t, 0, node.AlignmentCoverages.Total())
}

func TestScenarioThreeReads(t *testing.T) {
	refs := testRefs(t)
	ref1 := newTestRef(t, "ref1", 1000)
	ref2 := newTestRef(t, "ref2", 300)

	alns := NewAlignments()
	// Accuracies 95, 90, 85; coverages 10%, 20% of ref1 and 100% of ref2.
	alns.Update(newTestRecord(t, ref1, 100, 0, 20, 5), refs)
	alns.Update(newTestRecord(t, ref1, 200, 0, 20, 20), refs)
	alns.Update(newTestRecord(t, ref2, 300, 0, 20, 45), refs)

	require.Len(t, alns.Groups, 1)
	group := alns.Groups["refs.fasta-unknown-unclassified"]
	require.NotNil(t, group)

	for _, node := range []*CoreStats{&alns.CoreStats, &group.CoreStats} {
		assert.Equal(t, 3, node.AlignmentCount)
		assert.Equal(t, 3, node.ReadCount)
		assert.Equal(t, 3, node.PrimaryCount)
		assert.Equal(t, int64(600), node.TotalBasePairs)

		assert.Equal(t, 1, node.ReadLengths.Count(2))
		assert.Equal(t, 1, node.ReadLengths.Count(4))
		assert.Equal(t, 1, node.ReadLengths.Count(6))

		// Bucket 6 alone holds 300 of 600 base pairs.
		assert.Equal(t, 300, node.ReadN50)
		assert.InDelta(t, 20.0, node.MedianQuality, 0.11)
		assert.InDelta(t, 90.0, node.MedianAccuracy, 0.11)

		assert.Equal(t, 1, node.Cov80Count)
		assert.InDelta(t, 33.3333, node.Cov80Percent, 1e-3)
	}

	require.Len(t, group.References, 2)
	assert.Equal(t, 2, group.References["ref1"].ReadCount)
	assert.Equal(t, 1, group.References["ref2"].ReadCount)
	assert.Equal(t, int64(1000), group.References["ref1"].Length)
}

func TestGroupingDefaults(t *testing.T) {
	refs := testRefs(t)
	alns := NewAlignments()
	alns.Update(newUnmappedRecord(t, 100, 20), refs)

	group := alns.Groups["unmapped-unknown-unclassified"]
	require.NotNil(t, group)
	assert.Equal(t, Unmapped, group.Name)
	assert.Equal(t, Unknown, group.RunID)
	assert.Equal(t, Unclassified, group.Barcode)

	leaf := group.References[Unmapped]
	require.NotNil(t, leaf)
	assert.Equal(t, Unmapped, leaf.Name)
	assert.Equal(t, int64(0), leaf.Length)
	assert.Equal(t, 1, leaf.ReadCount)
}

func TestGroupingTags(t *testing.T) {
	refs := testRefs(t)
	ref1 := newTestRef(t, "ref1", 1000)

	alns := NewAlignments()
	alns.Update(newTestRecord(t, ref1, 100, 0, 20, 5,
		newAux(t, "RD", "run1"), newAux(t, "BC", "barcode02")), refs)

	group := alns.Groups["refs.fasta-run1-barcode02"]
	require.NotNil(t, group)
	assert.Equal(t, "refs.fasta", group.Name)
	assert.Equal(t, "run1", group.RunID)
	assert.Equal(t, "barcode02", group.Barcode)
}

// buildTestStream returns a varied stream touching several groups, an
// unmapped read, and secondary/supplementary records.
func buildTestStream(t *testing.T) []*sam.Record {
	ref1 := newTestRef(t, "ref1", 1000)
	ref2 := newTestRef(t, "ref2", 300)
	return []*sam.Record{
		newTestRecord(t, ref1, 100, 0, 20, 5),
		newTestRecord(t, ref1, 200, 0, 12, 20, newAux(t, "RD", "run1")),
		newTestRecord(t, ref2, 300, 0, 30, 45, newAux(t, "BC", "barcode01")),
		newTestRecord(t, ref2, 150, sam.Secondary, 20, 10),
		newTestRecord(t, ref1, 250, sam.Supplementary, 20, 10),
		newUnmappedRecord(t, 400, 9),
		newTestRecord(t, ref1, 500, 0, 21, 50, newAux(t, "RD", "run1"), newAux(t, "BC", "barcode01")),
		newUnmappedRecord(t, 50, 33),
	}
}

func buildTree(refs RefLookup, recs []*sam.Record) *Alignments {
	alns := NewAlignments()
	for _, rec := range recs {
		alns.Update(rec, refs)
	}
	return alns
}

func TestMergeMatchesSingleStream(t *testing.T) {
	refs := testRefs(t)
	refs.expected = map[string]float64{"ref1": 4, "ref2": 2, "ref3": 1}
	stream := buildTestStream(t)

	whole := buildTree(refs, stream)
	for split := 0; split <= len(stream); split++ {
		a := buildTree(refs, stream[:split])
		b := buildTree(refs, stream[split:])
		require.NoError(t, a.Add(b, refs))
		assert.Equal(t, whole, a, "split at %d", split)

		// And in the other order.
		c := buildTree(refs, stream[split:])
		d := buildTree(refs, stream[:split])
		require.NoError(t, c.Add(d, refs))
		assert.Equal(t, whole, c, "reverse split at %d", split)
	}
}

func TestMergeAssociative(t *testing.T) {
	refs := testRefs(t)
	stream := buildTestStream(t)

	ab := buildTree(refs, stream[:3])
	require.NoError(t, ab.Add(buildTree(refs, stream[3:6]), refs))
	require.NoError(t, ab.Add(buildTree(refs, stream[6:]), refs))

	bc := buildTree(refs, stream[3:6])
	require.NoError(t, bc.Add(buildTree(refs, stream[6:]), refs))
	a := buildTree(refs, stream[:3])
	require.NoError(t, a.Add(bc, refs))

	assert.Equal(t, ab, a)
}

func TestMergeCounterScenario(t *testing.T) {
	refs := testRefs(t)
	ref1 := newTestRef(t, "ref1", 1000)

	a := NewAlignments()
	for i := 0; i < 5; i++ {
		a.Update(newTestRecord(t, ref1, 100, 0, 20, 5), refs)
	}
	b := NewAlignments()
	for i := 0; i < 3; i++ {
		b.Update(newTestRecord(t, ref1, 100, 0, 20, 5), refs)
	}

	require.NoError(t, a.Add(b, refs))
	assert.Equal(t, 8, a.AlignmentCount)
	assert.Equal(t, 8, a.ReadLengths.Count(2))

	group := a.Groups["refs.fasta-unknown-unclassified"]
	require.NotNil(t, group)
	assert.Equal(t, 8, group.AlignmentCount)
	assert.Equal(t, 8, group.References["ref1"].AlignmentCount)
}

// Group roll-up totals must stay equal to the sum over reference children,
// both while updating and across merges.
func TestGroupTotalsMatchChildren(t *testing.T) {
	refs := testRefs(t)
	alns := buildTree(refs, buildTestStream(t))
	require.NoError(t, alns.Add(buildTree(refs, buildTestStream(t)), refs))

	assertTotalsMatch := func(total CoreStats, parts []*AlignedReference) {
		var alignments, reads, primary, secondary, supplementary int
		var basePairs int64
		var lengthObs int
		for _, p := range parts {
			alignments += p.AlignmentCount
			reads += p.ReadCount
			primary += p.PrimaryCount
			secondary += p.SecondaryCount
			supplementary += p.SupplementaryCount
			basePairs += p.TotalBasePairs
			lengthObs += p.ReadLengths.Total()
		}
		assert.Equal(t, total.AlignmentCount, alignments)
		assert.Equal(t, total.ReadCount, reads)
		assert.Equal(t, total.PrimaryCount, primary)
		assert.Equal(t, total.SecondaryCount, secondary)
		assert.Equal(t, total.SupplementaryCount, supplementary)
		assert.Equal(t, total.TotalBasePairs, basePairs)
		assert.Equal(t, total.ReadLengths.Total(), lengthObs)
	}

	var rootChildren []*AlignedReference
	for _, group := range alns.Groups {
		var children []*AlignedReference
		for _, ref := range group.References {
			children = append(children, ref)
			rootChildren = append(rootChildren, ref)
		}
		assertTotalsMatch(group.CoreStats, children)
	}
	assertTotalsMatch(alns.CoreStats, rootChildren)
}

func TestMergeShapeMismatch(t *testing.T) {
	refs := testRefs(t)
	a := NewAlignments()
	b := NewAlignments()
	b.ReadLengths = NewDist(10, 50)
	assert.Error(t, a.Add(b, refs))
}

func TestDerivedValuesIdempotent(t *testing.T) {
	refs := testRefs(t)
	refs.expected = map[string]float64{"ref1": 4, "ref2": 2, "ref3": 1}
	alns := buildTree(refs, buildTestStream(t))

	before := *alns
	alns.CoreStats.recompute()
	alns.updateCorrelations(refs)
	assert.Equal(t, before.CoreStats, alns.CoreStats)
	assert.Equal(t, before.CorrelationStats, alns.CorrelationStats)
}
