package stats

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Dist is a fixed-width frequency distribution. Values are binned by
// truncating value/width; values past the last bucket are clamped into it.
//
// A Dist serializes as a bare JSON array of bucket counts. The bucket width
// is implied by the field holding the distribution and is restored by the
// owning container after decoding.
type Dist struct {
	counts []int
	width  float64
}

// NewDist returns a zeroed distribution with n buckets of the given width.
func NewDist(n int, width float64) *Dist {
	return &Dist{counts: make([]int, n), width: width}
}

// Record bins a single observation.
func (d *Dist) Record(v float64) {
	i := int(v / d.width)
	if i < 0 {
		i = 0
	}
	if i >= len(d.counts) {
		i = len(d.counts) - 1
	}
	d.counts[i]++
}

// Add sums other's buckets into d. The two distributions must have the same
// shape; a mismatch signals an incompatible report and is an error.
func (d *Dist) Add(other *Dist) error {
	if len(d.counts) != len(other.counts) {
		return errors.Errorf("distribution length mismatch: %d vs %d", len(d.counts), len(other.counts))
	}
	if d.width != other.width {
		return errors.Errorf("distribution width mismatch: %v vs %v", d.width, other.width)
	}
	for i, c := range other.counts {
		d.counts[i] += c
	}
	return nil
}

// Total returns the number of recorded observations.
func (d *Dist) Total() int {
	var n int
	for _, c := range d.counts {
		n += c
	}
	return n
}

// Count returns the count in bucket i.
func (d *Dist) Count(i int) int {
	return d.counts[i]
}

// Len returns the number of buckets.
func (d *Dist) Len() int {
	return len(d.counts)
}

// Width returns the bucket width.
func (d *Dist) Width() float64 {
	return d.width
}

// Median walks the buckets in order until the cumulative count reaches half
// the total and reports that bucket's representative value. The result is
// bucket-granular, not interpolated. An empty distribution has median 0.
func (d *Dist) Median() float64 {
	total := d.Total()
	if total == 0 {
		return 0
	}
	half := float64(total) / 2
	var cum int
	for i, c := range d.counts {
		cum += c
		if float64(cum) >= half {
			return float64(i) * d.width
		}
	}
	return 0
}

// N50 treats d as a length distribution and walks it from the largest bucket
// downward, accumulating the base pairs contributed by each bucket, until
// half of totalBasePairs is covered. It reports that bucket's representative
// length, or 0 when totalBasePairs is 0.
func (d *Dist) N50(totalBasePairs int64) int {
	if totalBasePairs <= 0 {
		return 0
	}
	half := float64(totalBasePairs) / 2
	var cum float64
	for i := len(d.counts) - 1; i >= 0; i-- {
		cum += float64(i) * d.width * float64(d.counts[i])
		if cum >= half {
			return int(float64(i) * d.width)
		}
	}
	return 0
}

// Tail returns the number of observations in buckets [from, len) and that
// number as a percentage of the total. Both are 0 for an empty distribution.
func (d *Dist) Tail(from int) (int, float64) {
	total := d.Total()
	if total == 0 {
		return 0, 0
	}
	var n int
	for i := from; i < len(d.counts); i++ {
		n += d.counts[i]
	}
	return n, 100 * float64(n) / float64(total)
}

// MarshalJSON emits the bucket counts as a plain array.
func (d *Dist) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.counts)
}

// UnmarshalJSON reads a plain array of bucket counts. The width is zero
// until the owning container restores it; see CoreStats.normalize.
func (d *Dist) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &d.counts)
}

// reshape enforces the declared bucket count and restores the width after
// decoding. A nil counts slice (field absent from the report) is allocated
// zeroed; any other length mismatch is an error.
func (d *Dist) reshape(n int, width float64) error {
	if d.counts == nil {
		d.counts = make([]int, n)
	} else if len(d.counts) != n {
		return errors.Errorf("expected %d buckets, found %d", n, len(d.counts))
	}
	d.width = width
	return nil
}
