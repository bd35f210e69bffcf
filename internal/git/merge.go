package git

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/pmezard/go-difflib/difflib"
)

// span is one side's edit against the base: base[start:end) is
// replaced by lines.
type span struct {
	start, end int
	lines      []string
}

// textMerge merges two edits of the same blob line by line. ok is
// false when the edits overlap or the content is binary.
func textMerge(repo *gitlib.Repository, base, ours, theirs plumbing.Hash) ([]byte, bool, error) {
	baseData, err := blobContent(repo, base)
	if err != nil {
		return nil, false, err
	}
	oursData, err := blobContent(repo, ours)
	if err != nil {
		return nil, false, err
	}
	theirsData, err := blobContent(repo, theirs)
	if err != nil {
		return nil, false, err
	}
	if isBinary(baseData) || isBinary(oursData) || isBinary(theirsData) {
		return nil, false, nil
	}
	merged, ok := mergeLines(splitLines(baseData), splitLines(oursData), splitLines(theirsData))
	if !ok {
		return nil, false, nil
	}
	return []byte(strings.Join(merged, "")), true, nil
}

// mergeLines applies both sides' edits to the base. Non-overlapping
// edits merge cleanly; overlapping edits only when identical.
func mergeLines(base, ours, theirs []string) ([]string, bool) {
	oursChanges := sideChanges(base, ours)
	theirsChanges := sideChanges(base, theirs)

	var out []string
	pos := 0
	i, j := 0, 0
	for i < len(oursChanges) || j < len(theirsChanges) {
		var sp span
		switch {
		case i < len(oursChanges) && j < len(theirsChanges):
			a, b := oursChanges[i], theirsChanges[j]
			if overlaps(a, b) {
				if !sameSpan(a, b) {
					return nil, false
				}
				sp = a
				i++
				j++
			} else if a.start <= b.start {
				sp = a
				i++
			} else {
				sp = b
				j++
			}
		case i < len(oursChanges):
			sp = oursChanges[i]
			i++
		default:
			sp = theirsChanges[j]
			j++
		}
		out = append(out, base[pos:sp.start]...)
		out = append(out, sp.lines...)
		pos = sp.end
	}
	out = append(out, base[pos:]...)
	return out, true
}

// sideChanges extracts one side's edits as base-relative spans.
func sideChanges(base, side []string) []span {
	matcher := difflib.NewMatcher(base, side)
	var spans []span
	for _, op := range matcher.GetOpCodes() {
		if op.Tag == 'e' {
			continue
		}
		spans = append(spans, span{start: op.I1, end: op.I2, lines: side[op.J1:op.J2]})
	}
	return spans
}

func overlaps(a, b span) bool {
	// Two insertions at the same point count as overlapping even
	// though the half-open ranges are empty.
	if a.start == b.start && a.end == b.end {
		return true
	}
	return a.start < b.end && b.start < a.end
}

func sameSpan(a, b span) bool {
	if a.start != b.start || a.end != b.end || len(a.lines) != len(b.lines) {
		return false
	}
	for i := range a.lines {
		if a.lines[i] != b.lines[i] {
			return false
		}
	}
	return true
}

func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	lines := strings.SplitAfter(string(data), "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func isBinary(data []byte) bool {
	return bytes.IndexByte(data, 0) >= 0
}

func blobContent(repo *gitlib.Repository, hash plumbing.Hash) ([]byte, error) {
	if hash.IsZero() {
		return nil, nil
	}
	blob, err := repo.BlobObject(hash)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", hash, err)
	}
	reader, err := blob.Reader()
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", hash, err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", hash, err)
	}
	return data, nil
}
