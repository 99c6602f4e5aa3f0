// Package gaps computes which parts of a requested date range are not
// yet covered by cached data. All functions are pure.
package gaps

import (
	"sort"
	"time"

	"github.com/nerdymil30/market-data-api/types"
)

// Missing walks covered (sorted ascending, pairwise disjoint) and returns
// the sub-ranges of requested that no covered range reaches. The output is
// sorted, disjoint and non-adjacent; its union with the covered portion of
// requested reconstructs requested exactly.
func Missing(covered []types.DateRange, requested types.DateRange) []types.DateRange {
	var out []types.DateRange

	cursor := requested.Start
	for _, c := range covered {
		if c.End.Before(cursor) {
			continue
		}
		if c.Start.After(requested.End) {
			break
		}
		if c.Start.After(cursor) {
			out = append(out, types.DateRange{Start: cursor, End: prevDay(c.Start)})
		}
		if next := nextDay(c.End); next.After(cursor) {
			cursor = next
		}
	}
	if !cursor.After(requested.End) {
		out = append(out, types.DateRange{Start: cursor, End: requested.End})
	}
	return out
}

// Coalesce turns a set of stored dates into sorted disjoint coverage,
// merging each maximal run of calendar-adjacent dates into one range.
// Duplicates are tolerated.
func Coalesce(dates []time.Time) []types.DateRange {
	if len(dates) == 0 {
		return nil
	}

	days := make([]time.Time, len(dates))
	for i, d := range dates {
		days[i] = types.Day(d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	out := []types.DateRange{{Start: days[0], End: days[0]}}
	for _, d := range days[1:] {
		last := &out[len(out)-1]
		switch {
		case !d.After(last.End):
			// duplicate
		case d.Equal(nextDay(last.End)):
			last.End = d
		default:
			out = append(out, types.DateRange{Start: d, End: d})
		}
	}
	return out
}

func nextDay(d time.Time) time.Time { return d.AddDate(0, 0, 1) }
func prevDay(d time.Time) time.Time { return d.AddDate(0, 0, -1) }
