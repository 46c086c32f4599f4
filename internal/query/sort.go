package query

import (
	"slices"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/sakif/codeshelf/internal/model"
)

// SortKey selects a client-side ordering for an already-delivered result set.
type SortKey string

const (
	SortNone    SortKey = ""
	SortNewest  SortKey = "newest"
	SortOldest  SortKey = "oldest"
	SortTitleAZ SortKey = "titleAZ"
	SortTitleZA SortKey = "titleZA"
)

// ParseSortKey maps a user-supplied key to a SortKey. Anything unknown means
// "no reordering"; it is not an error.
func ParseSortKey(s string) SortKey {
	switch k := SortKey(s); k {
	case SortNewest, SortOldest, SortTitleAZ, SortTitleZA:
		return k
	default:
		return SortNone
	}
}

// collate.Collator is not safe for concurrent use, so titles are compared
// under a mutex. Sorting is per-request and small.
var (
	titleMu       sync.Mutex
	titleCollator = collate.New(language.Und, collate.IgnoreCase)
)

func compareTitles(a, b string) int {
	titleMu.Lock()
	defer titleMu.Unlock()
	return titleCollator.CompareString(a, b)
}

// compareCreated orders by createdAt ascending; a missing timestamp is the
// earliest possible value.
func compareCreated(a, b model.Snippet) int {
	switch {
	case a.CreatedAt == nil && b.CreatedAt == nil:
		return 0
	case a.CreatedAt == nil:
		return -1
	case b.CreatedAt == nil:
		return 1
	default:
		return a.CreatedAt.Compare(*b.CreatedAt)
	}
}

// Sort reorders snippets in place by key. The sort is stable: snippets with
// equal keys keep their delivery order. SortNone leaves the slice untouched.
func Sort(snippets []model.Snippet, key SortKey) {
	var cmp func(a, b model.Snippet) int
	switch key {
	case SortNewest:
		cmp = func(a, b model.Snippet) int { return compareCreated(b, a) }
	case SortOldest:
		cmp = compareCreated
	case SortTitleAZ:
		cmp = func(a, b model.Snippet) int { return compareTitles(a.Title, b.Title) }
	case SortTitleZA:
		cmp = func(a, b model.Snippet) int { return compareTitles(b.Title, a.Title) }
	default:
		return
	}
	slices.SortStableFunc(snippets, cmp)
}

// Sorted is Sort on a copy.
func Sorted(snippets []model.Snippet, key SortKey) []model.Snippet {
	out := slices.Clone(snippets)
	Sort(out, key)
	return out
}
