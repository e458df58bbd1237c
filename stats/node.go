package stats

import (
	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"
)

// Distribution shapes. These are part of the report format: serialized
// distributions are plain arrays of exactly these lengths.
const (
	lengthBuckets   = 1000
	lengthWidth     = 50.0
	qualityBuckets  = 600
	qualityWidth    = 0.1
	accuracyBuckets = 1001
	accuracyWidth   = 0.1
	coverageBuckets = 101
	coverageWidth   = 1.0

	cov80Bucket = 80
)

// CoreStats is the statistics payload shared by every level of the tree:
// raw counters, the four frequency distributions, and the scalars derived
// from them. The derived scalars are pure functions of the counters and
// buckets; they are recomputed after every update and merge, never summed.
type CoreStats struct {
	AlignmentCount     int   `json:"alignment_count"`
	TotalBasePairs     int64 `json:"total_base_pairs"`
	ReadCount          int   `json:"read_count"`
	PrimaryCount       int   `json:"primary_count"`
	SecondaryCount     int   `json:"secondary_count"`
	SupplementaryCount int   `json:"supplementary_count"`

	ReadLengths *Dist `json:"read_lengths"`
	ReadN50     int   `json:"read_n50"`

	ReadQualities *Dist   `json:"read_qualities"`
	MedianQuality float64 `json:"median_quality"`

	AlignmentAccuracies *Dist   `json:"alignment_accuracies"`
	MedianAccuracy      float64 `json:"median_accuracy"`

	AlignmentCoverages *Dist   `json:"alignment_coverages"`
	Cov80Count         int     `json:"cov80_count"`
	Cov80Percent       float64 `json:"cov80_percent"`
}

func newCoreStats() CoreStats {
	return CoreStats{
		ReadLengths:         NewDist(lengthBuckets, lengthWidth),
		ReadQualities:       NewDist(qualityBuckets, qualityWidth),
		AlignmentAccuracies: NewDist(accuracyBuckets, accuracyWidth),
		AlignmentCoverages:  NewDist(coverageBuckets, coverageWidth),
	}
}

// update applies one record. The early exits are load-bearing: secondary and
// supplementary alignments count only themselves, and unmapped reads
// contribute length and quality but never accuracy or coverage.
func (s *CoreStats) update(rec *sam.Record, refLength int64) {
	s.AlignmentCount++

	if rec.Flags&sam.Supplementary != 0 {
		s.SupplementaryCount++
		return
	}
	if rec.Flags&sam.Secondary != 0 {
		s.SecondaryCount++
		return
	}

	s.ReadCount++
	s.TotalBasePairs += int64(rec.Seq.Length)
	s.ReadLengths.Record(float64(rec.Seq.Length))
	s.ReadN50 = s.ReadLengths.N50(s.TotalBasePairs)
	s.ReadQualities.Record(meanQScore(rec.Qual))
	s.MedianQuality = s.ReadQualities.Median()

	if rec.Flags&sam.Unmapped != 0 {
		return
	}

	s.PrimaryCount++
	acc, _ := alignmentAccuracy(rec)
	s.AlignmentAccuracies.Record(acc)
	s.MedianAccuracy = s.AlignmentAccuracies.Median()
	s.AlignmentCoverages.Record(alignmentCoverage(rec, refLength))
	s.Cov80Count, s.Cov80Percent = s.AlignmentCoverages.Tail(cov80Bucket)
}

// add folds other into s: counters sum, buckets sum elementwise, derived
// values recomputed from the merged state.
func (s *CoreStats) add(other *CoreStats) error {
	s.AlignmentCount += other.AlignmentCount
	s.TotalBasePairs += other.TotalBasePairs
	s.ReadCount += other.ReadCount
	s.PrimaryCount += other.PrimaryCount
	s.SecondaryCount += other.SecondaryCount
	s.SupplementaryCount += other.SupplementaryCount

	if err := s.ReadLengths.Add(other.ReadLengths); err != nil {
		return errors.Wrap(err, "read_lengths")
	}
	if err := s.ReadQualities.Add(other.ReadQualities); err != nil {
		return errors.Wrap(err, "read_qualities")
	}
	if err := s.AlignmentAccuracies.Add(other.AlignmentAccuracies); err != nil {
		return errors.Wrap(err, "alignment_accuracies")
	}
	if err := s.AlignmentCoverages.Add(other.AlignmentCoverages); err != nil {
		return errors.Wrap(err, "alignment_coverages")
	}
	s.recompute()
	return nil
}

// recompute rederives every scalar from the current counters and buckets.
func (s *CoreStats) recompute() {
	s.ReadN50 = s.ReadLengths.N50(s.TotalBasePairs)
	s.MedianQuality = s.ReadQualities.Median()
	s.MedianAccuracy = s.AlignmentAccuracies.Median()
	s.Cov80Count, s.Cov80Percent = s.AlignmentCoverages.Tail(cov80Bucket)
}

// normalize restores distribution widths after JSON decoding, verifies the
// declared shapes, and rederives the scalars rather than trusting the file.
func (s *CoreStats) normalize() error {
	if s.ReadLengths == nil {
		s.ReadLengths = &Dist{}
	}
	if s.ReadQualities == nil {
		s.ReadQualities = &Dist{}
	}
	if s.AlignmentAccuracies == nil {
		s.AlignmentAccuracies = &Dist{}
	}
	if s.AlignmentCoverages == nil {
		s.AlignmentCoverages = &Dist{}
	}
	if err := s.ReadLengths.reshape(lengthBuckets, lengthWidth); err != nil {
		return errors.Wrap(err, "read_lengths")
	}
	if err := s.ReadQualities.reshape(qualityBuckets, qualityWidth); err != nil {
		return errors.Wrap(err, "read_qualities")
	}
	if err := s.AlignmentAccuracies.reshape(accuracyBuckets, accuracyWidth); err != nil {
		return errors.Wrap(err, "alignment_accuracies")
	}
	if err := s.AlignmentCoverages.reshape(coverageBuckets, coverageWidth); err != nil {
		return errors.Wrap(err, "alignment_coverages")
	}
	s.recompute()
	return nil
}

// AlignedReference is a leaf of the tree: the statistics of all alignments
// from one group made against one reference sequence.
type AlignedReference struct {
	Name   string `json:"name"`
	Length int64  `json:"length"`
	CoreStats
}

// NewAlignedReference returns a zeroed leaf for the named reference.
func NewAlignedReference(name string, length int64) *AlignedReference {
	return &AlignedReference{Name: name, Length: length, CoreStats: newCoreStats()}
}

// Update applies one record aligned to this reference.
func (r *AlignedReference) Update(rec *sam.Record) {
	r.CoreStats.update(rec, r.Length)
}

// Add folds another leaf for the same reference into r.
func (r *AlignedReference) Add(other *AlignedReference) error {
	if r.Name != other.Name {
		return errors.Errorf("reference name mismatch: %q vs %q", r.Name, other.Name)
	}
	return r.CoreStats.add(&other.CoreStats)
}

// AlignmentGroup bins alignments sharing a reference file, run id and
// barcode. It tracks its own roll-up statistics, updated independently from
// each record, alongside the per-reference breakdown in References.
type AlignmentGroup struct {
	Name    string `json:"name"`
	RunID   string `json:"run_id"`
	Barcode string `json:"barcode"`
	CoreStats
	CorrelationStats
	References map[string]*AlignedReference `json:"children"`
}

// NewAlignmentGroup returns a zeroed group node.
func NewAlignmentGroup(name, runID, barcode string) *AlignmentGroup {
	return &AlignmentGroup{
		Name:       name,
		RunID:      runID,
		Barcode:    barcode,
		CoreStats:  newCoreStats(),
		References: make(map[string]*AlignedReference),
	}
}

// Update routes one record to its reference leaf, creating the leaf on first
// sight, then applies the record to the group's own statistics and
// recomputes the group correlations.
func (g *AlignmentGroup) Update(rec *sam.Record, refs RefLookup) {
	name := referenceName(rec)
	if name == "" {
		name = Unmapped
	}
	ref, ok := g.References[name]
	if !ok {
		ref = NewAlignedReference(name, refs.Length(name))
		g.References[name] = ref
	}
	ref.Update(rec)

	g.CoreStats.update(rec, ref.Length)
	g.updateCorrelations(refs)
}

// Add folds another group with the same key into g. References unknown to g
// are adopted wholesale; shared ones merge recursively. Correlations are
// recomputed from the merged children.
func (g *AlignmentGroup) Add(other *AlignmentGroup, refs RefLookup) error {
	for name, ref := range other.References {
		mine, ok := g.References[name]
		if !ok {
			g.References[name] = ref
			continue
		}
		if err := mine.Add(ref); err != nil {
			return errors.Wrapf(err, "reference %q", name)
		}
	}
	if err := g.CoreStats.add(&other.CoreStats); err != nil {
		return errors.Wrapf(err, "group %q", g.Key())
	}
	g.updateCorrelations(refs)
	return nil
}

// Key is the routing key the parent files this group under.
func (g *AlignmentGroup) Key() string {
	return groupKey(g.Name, g.RunID, g.Barcode)
}

func (g *AlignmentGroup) updateCorrelations(refs RefLookup) {
	observed := make(map[string]int, len(g.References))
	for name, ref := range g.References {
		observed[name] = ref.ReadCount
	}
	g.CorrelationStats.update(observed, refs.ExpectedCounts())
}

func (g *AlignmentGroup) normalize() error {
	if g.References == nil {
		g.References = make(map[string]*AlignedReference)
	}
	for name, ref := range g.References {
		if err := ref.normalize(); err != nil {
			return errors.Wrapf(err, "reference %q", name)
		}
	}
	return g.CoreStats.normalize()
}

func groupKey(name, runID, barcode string) string {
	return name + "-" + runID + "-" + barcode
}

// Alignments is the root of the tree: all alignments seen by one run of the
// counter, binned into groups. The root keeps the same roll-up statistics as
// the groups combined, updated independently from each record.
type Alignments struct {
	CoreStats
	CorrelationStats
	Groups map[string]*AlignmentGroup `json:"children"`
}

// NewAlignments returns an empty tree.
func NewAlignments() *Alignments {
	return &Alignments{
		CoreStats: newCoreStats(),
		Groups:    make(map[string]*AlignmentGroup),
	}
}

// Update applies one record to the root and to the group it bins into,
// creating the group on first sight.
func (a *Alignments) Update(rec *sam.Record, refs RefLookup) {
	a.CoreStats.update(rec, refs.Length(referenceName(rec)))
	a.updateCorrelations(refs)

	a.assignGroup(rec, refs).Update(rec, refs)
}

// assignGroup resolves the record's group key, substituting the default for
// each missing component, and returns the matching group node.
func (a *Alignments) assignGroup(rec *sam.Record, refs RefLookup) *AlignmentGroup {
	filename, ok := refs.Filename(referenceName(rec))
	if !ok {
		filename = Unmapped
	}
	runID := auxString(rec, runIDTag, Unknown)
	barcode := auxString(rec, barcodeTag, Unclassified)

	key := groupKey(filename, runID, barcode)
	group, ok := a.Groups[key]
	if !ok {
		group = NewAlignmentGroup(filename, runID, barcode)
		a.Groups[key] = group
	}
	return group
}

// Add folds another tree into a. Groups unknown to a are adopted wholesale;
// shared ones merge recursively. The combined tree is identical to one built
// by processing both underlying record streams in either order.
func (a *Alignments) Add(other *Alignments, refs RefLookup) error {
	for key, group := range other.Groups {
		mine, ok := a.Groups[key]
		if !ok {
			a.Groups[key] = group
			continue
		}
		if err := mine.Add(group, refs); err != nil {
			return err
		}
	}
	if err := a.CoreStats.add(&other.CoreStats); err != nil {
		return err
	}
	a.updateCorrelations(refs)
	return nil
}

func (a *Alignments) updateCorrelations(refs RefLookup) {
	observed := make(map[string]int, len(a.Groups))
	for key, group := range a.Groups {
		observed[key] = group.ReadCount
	}
	a.CorrelationStats.update(observed, refs.ExpectedCounts())
}

// normalize validates distribution shapes and rederives every scalar after
// decoding a persisted report.
func (a *Alignments) normalize() error {
	if a.Groups == nil {
		a.Groups = make(map[string]*AlignmentGroup)
	}
	for key, group := range a.Groups {
		if err := group.normalize(); err != nil {
			return errors.Wrapf(err, "group %q", key)
		}
	}
	return a.CoreStats.normalize()
}
