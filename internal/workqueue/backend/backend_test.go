package backend

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/workqueue/internal/common/wqerrors"
	"github.com/armadaproject/workqueue/internal/workqueue/element"
)

// forEachBackend runs test against every Backend implementation.
func forEachBackend(t *testing.T, test func(t *testing.T, db Backend)) {
	t.Run("memdb", func(t *testing.T) {
		db, err := NewMemDb()
		require.NoError(t, err)
		test(t, db)
	})
	t.Run("redis", func(t *testing.T) {
		withRedisBackend(t, func(db *Redis) {
			test(t, db)
		})
	})
}

func withRedisBackend(t *testing.T, action func(db *Redis)) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()
	action(NewRedis(client, "test"))
}

func testElement(id, request string, status element.Status) *element.Element {
	return &element.Element{
		Id:          id,
		RequestName: request,
		Inputs:      map[string][]string{"/a#1": {"A"}},
		InputKind:   element.BlockInput,
		Status:      status,
	}
}

func TestBackend_InsertIfAbsent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db Backend) {
		ctx := context.Background()
		inserted, err := db.InsertElements(ctx, testElement("e1", "r1", element.Available), testElement("e2", "r1", element.Available))
		require.NoError(t, err)
		require.Len(t, inserted, 2)
		assert.Equal(t, int64(1), inserted[0].Revision)

		changed := testElement("e1", "r1", element.Running)
		inserted, err = db.InsertElements(ctx, changed, testElement("e3", "r1", element.Available))
		require.NoError(t, err)
		require.Len(t, inserted, 1)
		assert.Equal(t, "e3", inserted[0].Id)

		stored, err := db.GetElement(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, element.Available, stored.Status)
	})
}

func TestBackend_GetMissing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db Backend) {
		_, err := db.GetElement(context.Background(), "missing")
		assert.True(t, wqerrors.IsNotFound(err))
		_, err = db.GetInbox(context.Background(), "missing")
		assert.True(t, wqerrors.IsNotFound(err))
	})
}

func TestBackend_SwapElement(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db Backend) {
		ctx := context.Background()
		_, err := db.InsertElements(ctx, testElement("e1", "r1", element.Available))
		require.NoError(t, err)

		first, err := db.GetElement(ctx, "e1")
		require.NoError(t, err)
		second, err := db.GetElement(ctx, "e1")
		require.NoError(t, err)

		first.Status = element.Acquired
		first.ChildQueueURL = "local-1"
		swapped, err := db.SwapElement(ctx, first)
		require.NoError(t, err)
		assert.Equal(t, int64(2), swapped.Revision)

		second.Status = element.Acquired
		second.ChildQueueURL = "local-2"
		_, err = db.SwapElement(ctx, second)
		assert.True(t, wqerrors.IsConflict(err))

		stored, err := db.GetElement(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, "local-1", stored.ChildQueueURL)

		_, err = db.SwapElement(ctx, testElement("missing", "r1", element.Available))
		assert.True(t, wqerrors.IsNotFound(err))
	})
}

func TestBackend_ReturnedRecordsAreCopies(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db Backend) {
		ctx := context.Background()
		el := testElement("e1", "r1", element.Available)
		_, err := db.InsertElements(ctx, el)
		require.NoError(t, err)
		el.Inputs["/a#1"][0] = "changed"

		stored, err := db.GetElement(ctx, "e1")
		require.NoError(t, err)
		stored.Inputs["/a#1"][0] = "changed again"

		again, err := db.GetElement(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, []string{"A"}, again.Inputs["/a#1"])
	})
}

func TestBackend_ListElements(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db Backend) {
		ctx := context.Background()
		claimed := testElement("e3", "r2", element.Acquired)
		claimed.ChildQueueURL = "local-1"
		claimed.ParentElementId = "p1"
		_, err := db.InsertElements(ctx,
			testElement("e1", "r1", element.Available),
			testElement("e2", "r1", element.Done),
			claimed,
		)
		require.NoError(t, err)

		tests := map[string]struct {
			filter   Filter
			expected []string
		}{
			"all":         {filter: Filter{}, expected: []string{"e1", "e2", "e3"}},
			"by request":  {filter: Filter{RequestName: "r1"}, expected: []string{"e1", "e2"}},
			"by status":   {filter: Filter{Statuses: []element.Status{element.Available, element.Acquired}}, expected: []string{"e1", "e3"}},
			"by child":    {filter: Filter{ChildQueueURL: "local-1"}, expected: []string{"e3"}},
			"by parent":   {filter: Filter{ParentElementId: "p1"}, expected: []string{"e3"}},
			"by ids":      {filter: Filter{Ids: []string{"e2", "missing"}}, expected: []string{"e2"}},
			"combination": {filter: Filter{RequestName: "r1", Statuses: []element.Status{element.Done}}, expected: []string{"e2"}},
			"no match":    {filter: Filter{RequestName: "r3"}, expected: []string{}},
		}
		for name, tc := range tests {
			t.Run(name, func(t *testing.T) {
				elements, err := db.ListElements(ctx, tc.filter)
				require.NoError(t, err)
				ids := make([]string, 0, len(elements))
				for _, el := range elements {
					ids = append(ids, el.Id)
				}
				assert.ElementsMatch(t, tc.expected, ids)
			})
		}
	})
}

func TestBackend_DeleteElements(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db Backend) {
		ctx := context.Background()
		_, err := db.InsertElements(ctx, testElement("e1", "r1", element.Done), testElement("e2", "r1", element.Done))
		require.NoError(t, err)

		require.NoError(t, db.DeleteElements(ctx, "e1", "missing"))
		elements, err := db.ListElements(ctx, Filter{})
		require.NoError(t, err)
		require.Len(t, elements, 1)
		assert.Equal(t, "e2", elements[0].Id)
		require.NoError(t, db.DeleteElements(ctx))
	})
}

func TestBackend_Inbox(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db Backend) {
		ctx := context.Background()
		inbox := &element.Inbox{Id: "i1", RequestName: "r1", Status: element.Running}
		ok, err := db.InsertInbox(ctx, inbox)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = db.InsertInbox(ctx, &element.Inbox{Id: "i1", RequestName: "r1", Status: element.Done})
		require.NoError(t, err)
		assert.False(t, ok)

		stub := &element.Inbox{Id: "i2", RequestName: "r2", ParentElementId: "p1", Status: element.Negotiating}
		_, err = db.InsertInbox(ctx, stub)
		require.NoError(t, err)

		stubs, err := db.ListInbox(ctx, Filter{ParentElementId: "p1"})
		require.NoError(t, err)
		require.Len(t, stubs, 1)
		assert.Equal(t, "i2", stubs[0].Id)

		none, err := db.ListInbox(ctx, Filter{ChildQueueURL: "local"})
		require.NoError(t, err)
		assert.Empty(t, none)

		stored, err := db.GetInbox(ctx, "i1")
		require.NoError(t, err)
		stored.Status = element.Done
		swapped, err := db.SwapInbox(ctx, stored)
		require.NoError(t, err)
		assert.Equal(t, int64(2), swapped.Revision)
		_, err = db.SwapInbox(ctx, stored)
		assert.True(t, wqerrors.IsConflict(err))

		require.NoError(t, db.DeleteInbox(ctx, "i1"))
		_, err = db.GetInbox(ctx, "i1")
		assert.True(t, wqerrors.IsNotFound(err))
	})
}

func TestUpdateElement(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db Backend) {
		ctx := context.Background()
		_, err := db.InsertElements(ctx, testElement("e1", "r1", element.Available))
		require.NoError(t, err)

		updated, err := UpdateElement(ctx, db, "e1", func(el *element.Element) error {
			return el.SetStatus(element.Acquired)
		})
		require.NoError(t, err)
		assert.Equal(t, element.Acquired, updated.Status)

		skipped, err := UpdateElement(ctx, db, "e1", func(el *element.Element) error {
			return ErrSkip
		})
		require.NoError(t, err)
		assert.Equal(t, updated.Revision, skipped.Revision)

		_, err = UpdateElement(ctx, db, "e1", func(el *element.Element) error {
			return el.SetStatus(element.Available)
		})
		var invalid *wqerrors.ErrInvalidTransition
		assert.ErrorAs(t, err, &invalid)

		_, err = UpdateElement(ctx, db, "missing", func(el *element.Element) error { return nil })
		assert.True(t, wqerrors.IsNotFound(err))
	})
}

// conflictingBackend makes the first swaps fail as if another writer got there first.
type conflictingBackend struct {
	Backend
	mu        sync.Mutex
	conflicts int
}

func (b *conflictingBackend) SwapInbox(ctx context.Context, inbox *element.Inbox) (*element.Inbox, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conflicts > 0 {
		b.conflicts--
		return nil, &wqerrors.ErrConflict{Table: inboxTable, Id: inbox.Id}
	}
	return b.Backend.SwapInbox(ctx, inbox)
}

func TestUpdateInbox_RetriesConflicts(t *testing.T) {
	memDb, err := NewMemDb()
	require.NoError(t, err)
	db := &conflictingBackend{Backend: memDb, conflicts: 2}
	ctx := context.Background()
	_, err = db.InsertInbox(ctx, &element.Inbox{Id: "i1", RequestName: "r1"})
	require.NoError(t, err)

	calls := 0
	updated, err := UpdateInbox(ctx, db, "i1", func(inbox *element.Inbox) error {
		calls++
		inbox.Priority = 10
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, int32(10), updated.Priority)

	db.conflicts = 3 * updateAttempts
	calls = 0
	_, err = UpdateInbox(ctx, db, "i1", func(inbox *element.Inbox) error {
		calls++
		inbox.Priority = 20
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3*updateAttempts+1, calls)
}

func TestUpdateInbox_ConflictsStopWithContext(t *testing.T) {
	memDb, err := NewMemDb()
	require.NoError(t, err)
	db := &conflictingBackend{Backend: memDb, conflicts: math.MaxInt32}
	_, err = db.InsertInbox(context.Background(), &element.Inbox{Id: "i1", RequestName: "r1"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = UpdateInbox(ctx, db, "i1", func(inbox *element.Inbox) error { return nil })
	assert.Error(t, err)
	assert.Error(t, ctx.Err())
}

func TestUpdateElement_ConcurrentWriters(t *testing.T) {
	db, err := NewMemDb()
	require.NoError(t, err)
	ctx := context.Background()
	_, err = db.InsertElements(ctx, testElement("e1", "r1", element.Available))
	require.NoError(t, err)

	// Only one of the claimants can move the element out of Available.
	var wg sync.WaitGroup
	winners := make(chan string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(claimant string) {
			defer wg.Done()
			_, err := UpdateElement(ctx, db, "e1", func(el *element.Element) error {
				if el.Status != element.Available {
					return ErrSkip
				}
				el.ChildQueueURL = claimant
				return el.SetStatus(element.Acquired)
			})
			if err == nil {
				winners <- claimant
			}
		}(string(rune('a' + i)))
	}
	wg.Wait()
	close(winners)

	stored, err := db.GetElement(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, element.Acquired, stored.Status)
	assert.Equal(t, int64(2), stored.Revision)
	found := false
	for w := range winners {
		found = found || w == stored.ChildQueueURL
	}
	assert.True(t, found)
}
