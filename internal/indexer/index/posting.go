package index

import "sort"

// PostingList is a sorted, deduplicated list of document ordinals.
type PostingList []int32

// Contains reports whether ordinal is present.
func (p PostingList) Contains(ordinal int32) bool {
	i := sort.Search(len(p), func(i int) bool { return p[i] >= ordinal })
	return i < len(p) && p[i] == ordinal
}

// Intersect returns the ordinals present in both lists. The smaller list
// drives the walk and the larger one is galloped through by binary search.
func Intersect(a, b PostingList) PostingList {
	if len(a) > len(b) {
		a, b = b, a
	}
	out := make(PostingList, 0, len(a))
	lo := 0
	for _, ord := range a {
		rest := b[lo:]
		i := sort.Search(len(rest), func(i int) bool { return rest[i] >= ord })
		lo += i
		if lo >= len(b) {
			break
		}
		if b[lo] == ord {
			out = append(out, ord)
			lo++
		}
	}
	return out
}

// IntersectAll intersects every list, smallest first, stopping as soon as
// the running result is empty.
func IntersectAll(lists []PostingList) PostingList {
	if len(lists) == 0 {
		return nil
	}
	sorted := make([]PostingList, len(lists))
	copy(sorted, lists)
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) < len(sorted[j]) })
	result := sorted[0]
	for _, next := range sorted[1:] {
		if len(result) == 0 {
			break
		}
		result = Intersect(result, next)
	}
	return result
}

// All returns the ordinals 0..n-1.
func All(n int) PostingList {
	out := make(PostingList, n)
	for i := range out {
		out[i] = int32(i)
	}
	return out
}

// compact sorts, deduplicates and right-sizes a growable list.
func compact(grown []int32) PostingList {
	if len(grown) == 0 {
		return nil
	}
	sort.Slice(grown, func(i, j int) bool { return grown[i] < grown[j] })
	n := 1
	for i := 1; i < len(grown); i++ {
		if grown[i] != grown[n-1] {
			grown[n] = grown[i]
			n++
		}
	}
	out := make(PostingList, n)
	copy(out, grown[:n])
	return out
}
