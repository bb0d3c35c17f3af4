package detect

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/Holovkat/Auto-Claude/internal/models"
)

// edit is one contiguous change mapping a base line range onto a side
// line range. Ranges are 0-based half-open. An insertion has an empty
// base range.
type edit struct {
	baseStart int
	baseEnd   int
	sideStart int
	sideEnd   int
}

func (e edit) isInsert() bool { return e.baseStart == e.baseEnd }

// cluster is a group of mutually overlapping edits from both sides: a
// candidate conflict region. identical marks clusters where both sides
// produced the same text, which compose without a resolver.
type cluster struct {
	baseStart int
	baseEnd   int
	srcStart  int
	srcEnd    int
	tgtStart  int
	tgtEnd    int
	identical bool
}

// analysis is the full three-way comparison of one file.
type analysis struct {
	baseLines []string
	srcLines  []string
	tgtLines  []string

	// cleanSrc / cleanTgt are edits that overlap nothing on the other
	// side and compose directly.
	cleanSrc []edit
	cleanTgt []edit

	clusters []cluster
}

// splitLines splits content into lines, each retaining its trailing
// newline, so the original bytes are exactly the concatenation.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// lineCount counts the lines in a line-mode diff fragment.
func lineCount(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}

// editScript computes the line-level edits transforming base into side.
func editScript(base, side string) []edit {
	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(base, side)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var edits []edit
	baseLine, sideLine := 0, 0
	pending := false
	var cur edit

	flush := func() {
		if pending {
			cur.baseEnd = baseLine
			cur.sideEnd = sideLine
			edits = append(edits, cur)
			pending = false
		}
	}

	for _, d := range diffs {
		n := lineCount(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			flush()
			baseLine += n
			sideLine += n
		case diffmatchpatch.DiffDelete:
			if !pending {
				cur = edit{baseStart: baseLine, sideStart: sideLine}
				pending = true
			}
			baseLine += n
		case diffmatchpatch.DiffInsert:
			if !pending {
				cur = edit{baseStart: baseLine, sideStart: sideLine}
				pending = true
			}
			sideLine += n
		}
	}
	flush()
	return edits
}

// editsConflict reports whether two edits from opposite sides cannot
// compose: their base ranges strictly overlap, or both insert at the
// same base offset.
func editsConflict(a, b edit) bool {
	if a.isInsert() && b.isInsert() {
		return a.baseStart == b.baseStart
	}
	return a.baseStart < b.baseEnd && b.baseStart < a.baseEnd
}

// rangeConflict reports whether an edit overlaps a cluster's base range
// under the same rule.
func rangeConflict(e edit, bs, be int) bool {
	if e.isInsert() {
		if bs == be {
			return e.baseStart == bs
		}
		return bs < e.baseStart && e.baseStart < be || e.baseStart == bs
	}
	if bs == be {
		return e.baseStart <= bs && bs < e.baseEnd
	}
	return e.baseStart < be && bs < e.baseEnd
}

// analyze runs the three-way comparison: edits of both sides against
// the base, clustered into conflict regions where they overlap.
func analyze(baseText, srcText, tgtText string) *analysis {
	a := &analysis{
		baseLines: splitLines(baseText),
		srcLines:  splitLines(srcText),
		tgtLines:  splitLines(tgtText),
	}

	srcEdits := editScript(baseText, srcText)
	tgtEdits := editScript(baseText, tgtText)

	inClusterSrc := make([]bool, len(srcEdits))
	inClusterTgt := make([]bool, len(tgtEdits))

	i, j := 0, 0
	for i < len(srcEdits) && j < len(tgtEdits) {
		if !editsConflict(srcEdits[i], tgtEdits[j]) {
			// Advance whichever edit ends first in base order.
			if srcEdits[i].baseEnd < tgtEdits[j].baseEnd ||
				(srcEdits[i].baseEnd == tgtEdits[j].baseEnd && srcEdits[i].baseStart <= tgtEdits[j].baseStart) {
				i++
			} else {
				j++
			}
			continue
		}

		// Seed a cluster and absorb every subsequent edit that still
		// overlaps its growing base range.
		bs := minInt(srcEdits[i].baseStart, tgtEdits[j].baseStart)
		be := maxInt(srcEdits[i].baseEnd, tgtEdits[j].baseEnd)
		var memberSrc, memberTgt []int

		for {
			grew := false
			if i < len(srcEdits) && rangeConflict(srcEdits[i], bs, be) {
				bs = minInt(bs, srcEdits[i].baseStart)
				be = maxInt(be, srcEdits[i].baseEnd)
				memberSrc = append(memberSrc, i)
				inClusterSrc[i] = true
				i++
				grew = true
			}
			if j < len(tgtEdits) && rangeConflict(tgtEdits[j], bs, be) {
				bs = minInt(bs, tgtEdits[j].baseStart)
				be = maxInt(be, tgtEdits[j].baseEnd)
				memberTgt = append(memberTgt, j)
				inClusterTgt[j] = true
				j++
				grew = true
			}
			if !grew {
				break
			}
		}

		c := cluster{baseStart: bs, baseEnd: be}
		c.srcStart, c.srcEnd = sideRange(srcEdits, memberSrc, bs, be)
		c.tgtStart, c.tgtEnd = sideRange(tgtEdits, memberTgt, bs, be)

		srcText := joinRange(a.srcLines, c.srcStart, c.srcEnd)
		tgtText := joinRange(a.tgtLines, c.tgtStart, c.tgtEnd)
		c.identical = srcText == tgtText

		a.clusters = append(a.clusters, c)
	}

	for idx, e := range srcEdits {
		if !inClusterSrc[idx] {
			a.cleanSrc = append(a.cleanSrc, e)
		}
	}
	for idx, e := range tgtEdits {
		if !inClusterTgt[idx] {
			a.cleanTgt = append(a.cleanTgt, e)
		}
	}
	return a
}

// sideRange maps a cluster's base range into one side's coordinates.
// members are the indexes of that side's edits inside the cluster.
func sideRange(edits []edit, members []int, bs, be int) (int, int) {
	// Net line delta contributed by edits strictly before the cluster.
	delta := 0
	first := len(edits)
	if len(members) > 0 {
		first = members[0]
	} else {
		// No edits from this side in the cluster; find the first edit
		// at or past the cluster to bound the prefix walk.
		for k, e := range edits {
			if e.baseStart >= be {
				first = k
				break
			}
		}
	}
	for k := 0; k < first; k++ {
		e := edits[k]
		if e.baseEnd <= bs {
			delta += (e.sideEnd - e.sideStart) - (e.baseEnd - e.baseStart)
		}
	}

	start := bs + delta
	end := be + delta
	for _, m := range members {
		e := edits[m]
		end += (e.sideEnd - e.sideStart) - (e.baseEnd - e.baseStart)
	}
	return start, end
}

func joinRange(lines []string, start, end int) string {
	if start < 0 {
		start = 0
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start >= end {
		return ""
	}
	return strings.Join(lines[start:end], "")
}

// regions converts the analysis clusters that truly conflict into the
// public ConflictRegion form, ordered by base position.
func (a *analysis) regions() []models.ConflictRegion {
	var out []models.ConflictRegion
	for _, c := range a.clusters {
		if c.identical {
			continue
		}
		out = append(out, models.ConflictRegion{
			BaseStart:   c.baseStart,
			BaseEnd:     c.baseEnd,
			SourceStart: c.srcStart,
			SourceEnd:   c.srcEnd,
			TargetStart: c.tgtStart,
			TargetEnd:   c.tgtEnd,
			BaseText:    joinRange(a.baseLines, c.baseStart, c.baseEnd),
			SourceText:  joinRange(a.srcLines, c.srcStart, c.srcEnd),
			TargetText:  joinRange(a.tgtLines, c.tgtStart, c.tgtEnd),
		})
	}
	return out
}

// spliceEvent is one ordered rewrite applied while assembling the
// merged output of SpliceRegions.
type spliceEvent struct {
	baseStart int
	baseEnd   int
	text      string
	order     int
}

// SpliceRegions rebuilds the merged file from the three versions: the
// non-conflicting edits of both sides compose directly, and each truly
// conflicting region is substituted with the corresponding entry of
// replacements (indexed in region order). The replacement count must
// match the region count.
func SpliceRegions(baseText, srcText, tgtText string, replacements []string) (string, error) {
	a := analyze(baseText, srcText, tgtText)

	needed := 0
	for _, c := range a.clusters {
		if !c.identical {
			needed++
		}
	}
	if needed != len(replacements) {
		return "", fmt.Errorf("splice: have %d replacements for %d conflict regions", len(replacements), needed)
	}

	var events []spliceEvent
	order := 0
	for _, e := range a.cleanSrc {
		events = append(events, spliceEvent{e.baseStart, e.baseEnd, joinRange(a.srcLines, e.sideStart, e.sideEnd), order})
		order++
	}
	for _, e := range a.cleanTgt {
		events = append(events, spliceEvent{e.baseStart, e.baseEnd, joinRange(a.tgtLines, e.sideStart, e.sideEnd), order})
		order++
	}
	ri := 0
	for _, c := range a.clusters {
		text := joinRange(a.srcLines, c.srcStart, c.srcEnd)
		if !c.identical {
			text = replacements[ri]
			ri++
		}
		events = append(events, spliceEvent{c.baseStart, c.baseEnd, text, order})
		order++
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].baseStart != events[j].baseStart {
			return events[i].baseStart < events[j].baseStart
		}
		if events[i].baseEnd != events[j].baseEnd {
			return events[i].baseEnd < events[j].baseEnd
		}
		return events[i].order < events[j].order
	})

	var sb strings.Builder
	pos := 0
	for _, ev := range events {
		if ev.baseStart > pos {
			sb.WriteString(joinRange(a.baseLines, pos, ev.baseStart))
		}
		sb.WriteString(ev.text)
		if ev.baseEnd > pos {
			pos = ev.baseEnd
		}
	}
	sb.WriteString(joinRange(a.baseLines, pos, len(a.baseLines)))
	return sb.String(), nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
