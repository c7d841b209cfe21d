package facets

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/proto"
)

func strPtr(s string) *string { return &s }

func item(id, postedAt, author string, post bool) proto.Item {
	it := proto.Item{ID: id, PostedAt: postedAt, User: &proto.User{DisplayName: author}}
	if post {
		it.Title = strPtr("title " + id)
	}
	return it
}

func fixture() []proto.Item {
	return []proto.Item{
		item("1", "2024-03-01T00:00:00Z", "Jane Doe", true),
		item("2", "2025-03-01T00:00:00Z", "Jane Doe", false),
		item("3", "2025-04-01T00:00:00Z", "bob", false),
		item("4", "2023-04-01T00:00:00Z", `Q"uote`, false),
	}
}

func group(t *testing.T, res Result, name string) Group {
	t.Helper()
	for _, g := range res.Groups {
		if g.Name == name {
			return g
		}
	}
	require.Failf(t, "missing group", "group %s not found", name)
	return Group{}
}

func TestComputeGroups(t *testing.T) {
	res := Compute(fixture(), "", Options{})
	require.False(t, res.Delayed)
	require.Len(t, res.Groups, 3)

	types := group(t, res, GroupType)
	assert.Equal(t, []Facet{
		{Label: "post", Count: 1, Fragment: "type:post"},
		{Label: "comment", Count: 3, Fragment: "type:comment"},
	}, types.Facets)

	authors := group(t, res, GroupAuthor)
	require.Len(t, authors.Facets, 3)
	assert.Equal(t, "Jane Doe", authors.Facets[0].Label)
	assert.Equal(t, 2, authors.Facets[0].Count)
	assert.Equal(t, `author:"Jane Doe"`, authors.Facets[0].Fragment)
	assert.Equal(t, `author:"Q\"uote"`, authors.Facets[1].Fragment)
	assert.Equal(t, "author:bob", authors.Facets[2].Fragment)

	years := group(t, res, GroupYear)
	labels := make([]string, 0, len(years.Facets))
	for _, f := range years.Facets {
		labels = append(labels, f.Label)
	}
	assert.Equal(t, []string{"2025", "2024", "2023"}, labels)
	assert.Equal(t, "date:2025-01-01..2025-12-31", years.Facets[0].Fragment)
}

func TestComputeZeroCountTypesFiltered(t *testing.T) {
	res := Compute([]proto.Item{item("1", "2025-01-01T00:00:00Z", "a", false)}, "", Options{})
	assert.Equal(t, []Facet{{Label: "comment", Count: 1, Fragment: "type:comment"}}, group(t, res, GroupType).Facets)
	for _, g := range res.Groups {
		assert.NotEqual(t, GroupYear, g.Name, "single year emits no year group")
	}
}

func TestComputeTopFiveAuthors(t *testing.T) {
	var items []proto.Item
	for i := 0; i < 8; i++ {
		for j := 0; j <= i; j++ {
			items = append(items, item(fmt.Sprintf("%d-%d", i, j), "2025-01-01T00:00:00Z", fmt.Sprintf("user%d", i), false))
		}
	}
	authors := group(t, Compute(items, "", Options{}), GroupAuthor)
	require.Len(t, authors.Facets, 5)
	assert.Equal(t, "user7", authors.Facets[0].Label)
	assert.Equal(t, "user3", authors.Facets[4].Label)
}

func TestComputeActive(t *testing.T) {
	res := Compute(fixture(), `type:comment author:"Jane Doe" date:2025-01-01..2025-12-31`, Options{})
	assert.True(t, group(t, res, GroupType).Facets[1].Active)
	assert.False(t, group(t, res, GroupType).Facets[0].Active)
	assert.True(t, group(t, res, GroupAuthor).Facets[0].Active)
	years := group(t, res, GroupYear)
	assert.True(t, years.Facets[0].Active)
	assert.False(t, years.Facets[1].Active)
}

func TestComputeLooseDatesNeverActive(t *testing.T) {
	for _, q := range []string{"date:>2025-01-01", "date:2024-01-01..2025-12-31", "date:2025-01-01..", "-date:2025-01-01..2025-12-31"} {
		res := Compute(fixture(), q, Options{})
		for _, f := range group(t, res, GroupYear).Facets {
			assert.False(t, f.Active, "%s marks %s", q, f.Label)
		}
	}
}

func TestComputeDelayed(t *testing.T) {
	items := make([]proto.Item, 250)
	for i := range items {
		items[i] = item(fmt.Sprint(i), "2025-01-01T00:00:00Z", "a", false)
	}
	start := time.Unix(0, 0)
	calls := 0
	clock := func() time.Time {
		calls++
		return start.Add(time.Duration(calls-1) * 20 * time.Millisecond)
	}
	res := Compute(items, "", Options{now: clock})
	assert.True(t, res.Delayed)
	assert.Empty(t, res.Groups)
}
