package conflict

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/armadaproject/workqueue/internal/workqueue/element"
)

func genProgress() gopter.Gen {
	return gen.Struct(reflect.TypeOf(Progress{}), map[string]gopter.Gen{
		"Status": gen.IntRange(int(element.Available), int(element.Done)).
			Map(func(i int) element.Status { return element.Status(i) }),
		"PercentComplete": gen.Float64Range(0, 100),
		"PercentSuccess":  gen.Float64Range(0, 100),
	})
}

func TestMergeProgress_Properties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("merge is commutative", prop.ForAll(
		func(a, b Progress) bool {
			return MergeProgress(a, b) == MergeProgress(b, a)
		},
		genProgress(), genProgress(),
	))
	properties.Property("merge is associative", prop.ForAll(
		func(a, b, c Progress) bool {
			return MergeProgress(MergeProgress(a, b), c) == MergeProgress(a, MergeProgress(b, c))
		},
		genProgress(), genProgress(), genProgress(),
	))
	properties.Property("merge is idempotent", prop.ForAll(
		func(a, b Progress) bool {
			merged := MergeProgress(a, b)
			return MergeProgress(a, a) == a && MergeProgress(merged, b) == merged
		},
		genProgress(), genProgress(),
	))
	properties.Property("merge never goes backwards", prop.ForAll(
		func(a, b Progress) bool {
			merged := MergeProgress(a, b)
			return merged.Status >= a.Status && merged.Status >= b.Status &&
				merged.PercentComplete >= a.PercentComplete && merged.PercentSuccess >= b.PercentSuccess
		},
		genProgress(), genProgress(),
	))

	properties.TestingRun(t)
}

func TestMergeProgress_StatusRank(t *testing.T) {
	tests := map[string]struct {
		a, b     element.Status
		expected element.Status
	}{
		"done beats cancelled":           {a: element.Done, b: element.Canceled, expected: element.Done},
		"done beats cancel requested":    {a: element.CancelRequested, b: element.Done, expected: element.Done},
		"cancelled beats running":        {a: element.Running, b: element.Canceled, expected: element.Canceled},
		"cancel requested beats running": {a: element.CancelRequested, b: element.Running, expected: element.CancelRequested},
		"running beats acquired":         {a: element.Acquired, b: element.Running, expected: element.Running},
		"acquired beats available":       {a: element.Available, b: element.Acquired, expected: element.Acquired},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expected, MergeProgress(Progress{Status: tc.a}, Progress{Status: tc.b}).Status)
		})
	}
}

func TestResolveElement(t *testing.T) {
	current := &element.Element{Id: "e1", Status: element.Acquired, ChildQueueURL: "local-1", PercentComplete: 10}
	reported := &element.Element{Id: "e1", Status: element.Running, ChildQueueURL: "local-2", SubscriptionId: "sub", PercentComplete: 5, PercentSuccess: 4}

	merged, changed := ResolveElement(current, reported)
	assert.True(t, changed)
	assert.Equal(t, element.Running, merged.Status)
	assert.Equal(t, "local-1", merged.ChildQueueURL)
	assert.Equal(t, "sub", merged.SubscriptionId)
	assert.Equal(t, float64(10), merged.PercentComplete)
	assert.Equal(t, float64(4), merged.PercentSuccess)
	assert.Equal(t, element.Acquired, current.Status)

	again, changed := ResolveElement(merged, reported)
	assert.False(t, changed)
	assert.Equal(t, merged, again)
}

func TestResolveInbox(t *testing.T) {
	current := &element.Inbox{Id: "i1", Status: element.Running, PercentComplete: 50}
	merged, changed := ResolveInbox(current, Progress{Status: element.Done, PercentComplete: 100, PercentSuccess: 90})
	assert.True(t, changed)
	assert.Equal(t, element.Done, merged.Status)
	assert.Equal(t, float64(100), merged.PercentComplete)

	_, changed = ResolveInbox(merged, Progress{Status: element.Running})
	assert.False(t, changed)
}
