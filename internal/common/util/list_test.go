package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContainsString(t *testing.T) {
	assert.True(t, ContainsString([]string{"T1_A", "T2_B"}, "T2_B"))
	assert.False(t, ContainsString(nil, "T2_B"))
}

func TestSortedUnion(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SortedUnion([]string{"c", "a"}, []string{"b", "a"}))
	assert.Equal(t, []string{}, SortedUnion())
}

func TestSortedIntersection(t *testing.T) {
	assert.Equal(t, []string{"a"}, SortedIntersection([]string{"c", "a"}, []string{"b", "a", "a"}))
	assert.Equal(t, []string{}, SortedIntersection([]string{"c"}, []string{"b"}))
	assert.Nil(t, SortedIntersection())
}

func TestFilter(t *testing.T) {
	includeOver5 := func(val int) bool { return val > 5 }
	assert.Equal(t, []int{7, 9}, Filter([]int{1, 3, 5, 7, 9}, includeOver5))
	assert.Equal(t, []int(nil), Filter([]int{1, 3}, includeOver5))
}

func TestStableId(t *testing.T) {
	assert.Equal(t, StableId("r1", "t1", "/a#1"), StableId("r1", "t1", "/a#1"))
	assert.NotEqual(t, StableId("r1", "t1", "/a#1"), StableId("r1", "t1", "/a#2"))
	assert.NotEqual(t, StableId("r1t", "1"), StableId("r1", "t1"))
}

func TestNewULID(t *testing.T) {
	a, b := NewULID(), NewULID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 26)
}
