// Package facets derives filter suggestions (type, author, year) from an
// item collection and marks the ones the current query already applies.
package facets

import (
	"cmp"
	"slices"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/indexer/normalize"
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/proto"
)

const (
	DefaultBudget = 30 * time.Millisecond
	checkEvery    = 100
	topAuthors    = 5
)

// Group names.
const (
	GroupType   = "Type"
	GroupAuthor = "Author"
	GroupYear   = "Year"
)

type Facet struct {
	Label    string `json:"label"`
	Count    int    `json:"count"`
	Fragment string `json:"fragment"`
	Active   bool   `json:"active"`
}

type Group struct {
	Name   string  `json:"name"`
	Facets []Facet `json:"facets"`
}

type Result struct {
	Groups    []Group `json:"groups"`
	Delayed   bool    `json:"delayed"`
	ComputeMs int64   `json:"computeMs"`
}

type Options struct {
	// Budget bounds the counting pass. Zero means DefaultBudget.
	Budget time.Duration

	now func() time.Time
}

// Compute counts facets over items. When the budget runs out it returns
// no groups and Delayed set; callers retry rather than treat it as an
// error.
func Compute(items []proto.Item, query string, opts Options) Result {
	now := opts.now
	if now == nil {
		now = time.Now
	}
	budget := opts.Budget
	if budget <= 0 {
		budget = DefaultBudget
	}
	start := now()

	typeCounts := map[proto.ItemType]int{}
	authorCounts := map[string]int{}
	yearCounts := map[int]int{}
	for i := range items {
		if i > 0 && i%checkEvery == 0 && now().Sub(start) > budget {
			return Result{Groups: []Group{}, Delayed: true, ComputeMs: now().Sub(start).Milliseconds()}
		}
		item := &items[i]
		typeCounts[item.Type()]++
		if name := item.User.Name(); name != "" {
			authorCounts[name]++
		}
		if ms := index.ParsePostedAt(item.PostedAt); ms != 0 {
			yearCounts[time.UnixMilli(ms).UTC().Year()]++
		}
	}

	active := activeFilters(query)
	groups := make([]Group, 0, 3)
	if g := typeGroup(typeCounts, active); len(g.Facets) > 0 {
		groups = append(groups, g)
	}
	if g := authorGroup(authorCounts, active); len(g.Facets) > 0 {
		groups = append(groups, g)
	}
	if len(yearCounts) >= 2 {
		groups = append(groups, yearGroup(yearCounts, active))
	}
	return Result{Groups: groups, ComputeMs: now().Sub(start).Milliseconds()}
}

type filters struct {
	types   map[string]bool
	authors map[string]bool
	years   map[int]bool
}

// activeFilters collects the positive type, author and exact single-year
// date clauses of query.
func activeFilters(query string) filters {
	f := filters{types: map[string]bool{}, authors: map[string]bool{}, years: map[int]bool{}}
	for _, c := range parser.Parse(query).Clauses {
		if c.Negated {
			continue
		}
		switch c.Kind {
		case parser.KindType:
			f.types[c.Value] = true
		case parser.KindAuthor:
			f.authors[c.Value] = true
		case parser.KindDate:
			if c.Range.Op != parser.OpRange || !c.Range.HasMin {
				continue
			}
			year := time.UnixMilli(c.Range.Min).UTC().Year()
			if c.Range == parser.YearRange(year) {
				f.years[year] = true
			}
		}
	}
	return f
}

func typeGroup(counts map[proto.ItemType]int, active filters) Group {
	g := Group{Name: GroupType}
	for _, t := range []proto.ItemType{proto.ItemPost, proto.ItemComment} {
		if counts[t] == 0 {
			continue
		}
		g.Facets = append(g.Facets, Facet{
			Label:    string(t),
			Count:    counts[t],
			Fragment: "type:" + string(t),
			Active:   active.types[string(t)],
		})
	}
	return g
}

func authorGroup(counts map[string]int, active filters) Group {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		if c := cmp.Compare(counts[b], counts[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	if len(names) > topAuthors {
		names = names[:topAuthors]
	}
	g := Group{Name: GroupAuthor}
	for _, name := range names {
		g.Facets = append(g.Facets, Facet{
			Label:    name,
			Count:    counts[name],
			Fragment: parser.FieldFragment("author", name),
			Active:   active.authors[normalize.Normalize(name)],
		})
	}
	return g
}

func yearGroup(counts map[int]int, active filters) Group {
	years := make([]int, 0, len(counts))
	for y := range counts {
		years = append(years, y)
	}
	slices.Sort(years)
	slices.Reverse(years)
	g := Group{Name: GroupYear}
	for _, y := range years {
		label := strconv.Itoa(y)
		g.Facets = append(g.Facets, Facet{
			Label:    label,
			Count:    counts[y],
			Fragment: "date:" + label + "-01-01.." + label + "-12-31",
			Active:   active.years[y],
		})
	}
	return g
}
