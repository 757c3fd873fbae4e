package patch

import (
	"cmp"
	"math"
	"slices"
	"unicode/utf16"
)

// Edit replaces RangeLength code units starting at RangeOffset with Text.
// Offsets are measured against the document as it was before the batch.
type Edit struct {
	RangeOffset int
	RangeLength int
	Text        string
}

// Apply splices a batch of edits into document and returns the result.
//
// Edits are applied from the highest offset to the lowest so that no splice
// shifts an offset still waiting to be applied. This holds only when the
// ranges in the batch do not overlap and were all computed against the same
// snapshot of document; neither condition is checked. Offsets and lengths
// count UTF-16 code units, the unit editor surfaces report. Values outside
// the document are clamped to its bounds, including values near the limits
// of int.
func Apply(document string, edits []Edit) string {
	if len(edits) == 0 {
		return document
	}

	ordered := slices.Clone(edits)
	slices.SortStableFunc(ordered, func(a, b Edit) int {
		return cmp.Compare(b.RangeOffset, a.RangeOffset)
	})

	units := utf16.Encode([]rune(document))
	for _, edit := range ordered {
		start := clamp(edit.RangeOffset, len(units))
		end := clamp(saturatingAdd(edit.RangeOffset, edit.RangeLength), len(units))
		if end < start {
			end = start
		}
		replacement := utf16.Encode([]rune(edit.Text))
		units = slices.Concat(units[:start], replacement, units[end:])
	}
	return string(utf16.Decode(units))
}

func clamp(value, upper int) int {
	if value < 0 {
		return 0
	}
	if value > upper {
		return upper
	}
	return value
}

func saturatingAdd(a, b int) int {
	if b > 0 && a > math.MaxInt-b {
		return math.MaxInt
	}
	if b < 0 && a < math.MinInt-b {
		return math.MinInt
	}
	return a + b
}
