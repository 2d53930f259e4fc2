// Package structid implements the dotted path encoding used to address
// positions in the hierarchy. An ID like "1.2.3." names the third child of
// the second child of the first top-level node. Segment indices are
// one-based and every ID is terminated by the separator.
package structid

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ID is a structure identifier, e.g. "1.2.3.".
type ID string

const Separator = "."

// Encode builds an ID from one-based sibling indices.
func Encode(indices []int) ID {
	if len(indices) == 0 {
		return ""
	}
	var b strings.Builder
	for _, idx := range indices {
		b.WriteString(strconv.Itoa(idx))
		b.WriteString(Separator)
	}
	return ID(b.String())
}

// Decode splits an ID back into its index segments.
func Decode(id ID) ([]int, error) {
	if id == "" {
		return nil, fmt.Errorf("empty structure id")
	}
	s := string(id)
	if !strings.HasSuffix(s, Separator) {
		return nil, fmt.Errorf("structure id %q missing trailing separator", id)
	}
	parts := strings.Split(strings.TrimSuffix(s, Separator), Separator)
	indices := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("structure id %q has invalid segment %q", id, part)
		}
		indices = append(indices, n)
	}
	return indices, nil
}

// IsWellFormed reports whether the ID matches the (\d+\.)+ shape with
// strictly positive segments.
func IsWellFormed(id ID) bool {
	_, err := Decode(id)
	return err == nil
}

// Parent returns the ID with the last segment removed. The second return
// is false for top-level IDs (single segment) and malformed input.
func Parent(id ID) (ID, bool) {
	s := strings.TrimSuffix(string(id), Separator)
	i := strings.LastIndex(s, Separator)
	if i < 0 {
		return "", false
	}
	return ID(s[:i+1]), true
}

// Child appends a one-based sibling index to a parent ID. An empty parent
// produces a top-level ID.
func Child(parent ID, index int) ID {
	return parent + ID(strconv.Itoa(index)+Separator)
}

// Depth returns the number of segments, zero for an empty ID.
func Depth(id ID) int {
	return strings.Count(string(id), Separator)
}

// SiblingIndex returns the last segment as a one-based index.
func SiblingIndex(id ID) (int, bool) {
	s := strings.TrimSuffix(string(id), Separator)
	i := strings.LastIndex(s, Separator)
	n, err := strconv.Atoi(s[i+1:])
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// IsDescendant reports whether candidate sits strictly below ancestor.
// The check is segment-wise: "1.10." is not a descendant of "1.1." even
// though it shares the raw string prefix.
func IsDescendant(candidate, ancestor ID) bool {
	if candidate == ancestor {
		return false
	}
	a := string(ancestor)
	c := string(candidate)
	if !strings.HasSuffix(a, Separator) || !strings.HasSuffix(c, Separator) {
		return false
	}
	// A trailing separator on the ancestor makes the plain prefix test
	// segment-exact: "1.1." can only prefix "1.1.<more segments>".
	return len(c) > len(a) && strings.HasPrefix(c, a)
}

// ReplacePrefix rewrites candidate so that the leading oldPrefix segments
// become newPrefix. Returns false when candidate is not oldPrefix itself or
// one of its descendants.
func ReplacePrefix(candidate, oldPrefix, newPrefix ID) (ID, bool) {
	if candidate == oldPrefix {
		return newPrefix, true
	}
	if !IsDescendant(candidate, oldPrefix) {
		return candidate, false
	}
	return newPrefix + candidate[len(oldPrefix):], true
}

// Compare orders a before b when a precedes b in a pre-order traversal.
// Corresponding segments compare numerically; when one ID is a prefix of
// the other, the shorter (the ancestor) comes first. Malformed segments
// fall back to string comparison so the order stays total.
func Compare(a, b ID) int {
	if a == b {
		return 0
	}
	sa := strings.Split(strings.TrimSuffix(string(a), Separator), Separator)
	sb := strings.Split(strings.TrimSuffix(string(b), Separator), Separator)
	n := len(sa)
	if len(sb) < n {
		n = len(sb)
	}
	for i := 0; i < n; i++ {
		na, errA := strconv.Atoi(sa[i])
		nb, errB := strconv.Atoi(sb[i])
		if errA != nil || errB != nil {
			if sa[i] == sb[i] {
				continue
			}
			return strings.Compare(sa[i], sb[i])
		}
		if na != nb {
			if na < nb {
				return -1
			}
			return 1
		}
	}
	if len(sa) < len(sb) {
		return -1
	}
	if len(sa) > len(sb) {
		return 1
	}
	return 0
}

// SortIDs orders a slice in pre-order traversal order, in place.
func SortIDs(ids []ID) {
	sort.Slice(ids, func(i, j int) bool { return Compare(ids[i], ids[j]) < 0 })
}
