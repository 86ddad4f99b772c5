package util

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

func StringListToSet(list []string) map[string]bool {
	set := map[string]bool{}
	for _, item := range list {
		set[item] = true
	}
	return set
}

func ContainsString(list []string, val string) bool {
	return slices.Contains(list, val)
}

// SortedUnion returns the sorted, de-duplicated union of the given lists.
func SortedUnion(lists ...[]string) []string {
	set := map[string]bool{}
	for _, list := range lists {
		for _, item := range list {
			set[item] = true
		}
	}
	result := maps.Keys(set)
	if result == nil {
		result = []string{}
	}
	slices.Sort(result)
	return result
}

// SortedIntersection returns the sorted items present in every list. No lists gives nil.
func SortedIntersection(lists ...[]string) []string {
	if len(lists) == 0 {
		return nil
	}
	counts := map[string]int{}
	for _, list := range lists {
		for item := range StringListToSet(list) {
			counts[item]++
		}
	}
	result := []string{}
	for item, n := range counts {
		if n == len(lists) {
			result = append(result, item)
		}
	}
	slices.Sort(result)
	return result
}

func Filter[T any](list []T, predicate func(T) bool) []T {
	var result []T
	for _, item := range list {
		if predicate(item) {
			result = append(result, item)
		}
	}
	return result
}
