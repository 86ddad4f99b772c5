package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/armadaproject/workqueue/internal/common/wqerrors"
	"github.com/armadaproject/workqueue/internal/workqueue/element"
)

// Redis is a Backend that stores records as JSON documents, one key per record, with a
// set of ids per table. Compare-and-swap uses WATCH on the record's key, so it is safe for
// several queue instances, e.g. a parent and its children, to share one redis.
type Redis struct {
	db     *redis.Client
	prefix string
}

// NewRedis returns a backend keeping the records of the named queue instance under
// wq:{instance}:.
func NewRedis(db *redis.Client, instance string) *Redis {
	return &Redis{db: db, prefix: fmt.Sprintf("wq:%s", instance)}
}

// records adapts one record type to the generic document operations.
type records[T any] struct {
	table       string
	id          func(T) string
	revision    func(T) int64
	setRevision func(T, int64)
	decode      func([]byte) (T, error)
}

var elementRecords = records[*element.Element]{
	table:       elementsTable,
	id:          func(el *element.Element) string { return el.Id },
	revision:    func(el *element.Element) int64 { return el.Revision },
	setRevision: func(el *element.Element, r int64) { el.Revision = r },
	decode: func(data []byte) (*element.Element, error) {
		el := &element.Element{}
		return el, errors.WithStack(json.Unmarshal(data, el))
	},
}

var inboxRecords = records[*element.Inbox]{
	table:       inboxTable,
	id:          func(inbox *element.Inbox) string { return inbox.Id },
	revision:    func(inbox *element.Inbox) int64 { return inbox.Revision },
	setRevision: func(inbox *element.Inbox, r int64) { inbox.Revision = r },
	decode: func(data []byte) (*element.Inbox, error) {
		inbox := &element.Inbox{}
		return inbox, errors.WithStack(json.Unmarshal(data, inbox))
	},
}

func (r *Redis) recordKey(table, id string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, table, id)
}

func (r *Redis) idsKey(table string) string {
	return fmt.Sprintf("%s:%s", r.prefix, table)
}

func (r *Redis) InsertElements(ctx context.Context, elements ...*element.Element) ([]*element.Element, error) {
	inserted := make([]*element.Element, 0, len(elements))
	for _, el := range elements {
		stored := el.DeepCopy()
		ok, err := insert(ctx, r, elementRecords, stored)
		if err != nil {
			return nil, err
		}
		if ok {
			inserted = append(inserted, stored)
		}
	}
	return inserted, nil
}

func (r *Redis) GetElement(ctx context.Context, id string) (*element.Element, error) {
	return get(ctx, r, elementRecords, id)
}

func (r *Redis) ListElements(ctx context.Context, filter Filter) ([]*element.Element, error) {
	all, err := list(ctx, r, elementRecords, filter.Ids)
	if err != nil {
		return nil, err
	}
	result := make([]*element.Element, 0, len(all))
	for _, el := range all {
		if filter.MatchesElement(el) {
			result = append(result, el)
		}
	}
	return result, nil
}

func (r *Redis) SwapElement(ctx context.Context, el *element.Element) (*element.Element, error) {
	return swap(ctx, r, elementRecords, el.DeepCopy())
}

func (r *Redis) DeleteElements(ctx context.Context, ids ...string) error {
	return r.delete(ctx, elementsTable, ids)
}

func (r *Redis) InsertInbox(ctx context.Context, inbox *element.Inbox) (bool, error) {
	return insert(ctx, r, inboxRecords, inbox.DeepCopy())
}

func (r *Redis) GetInbox(ctx context.Context, id string) (*element.Inbox, error) {
	return get(ctx, r, inboxRecords, id)
}

func (r *Redis) ListInbox(ctx context.Context, filter Filter) ([]*element.Inbox, error) {
	all, err := list(ctx, r, inboxRecords, filter.Ids)
	if err != nil {
		return nil, err
	}
	result := make([]*element.Inbox, 0, len(all))
	for _, inbox := range all {
		if filter.MatchesInbox(inbox) {
			result = append(result, inbox)
		}
	}
	return result, nil
}

func (r *Redis) SwapInbox(ctx context.Context, inbox *element.Inbox) (*element.Inbox, error) {
	return swap(ctx, r, inboxRecords, inbox.DeepCopy())
}

func (r *Redis) DeleteInbox(ctx context.Context, ids ...string) error {
	return r.delete(ctx, inboxTable, ids)
}

func insert[T any](ctx context.Context, r *Redis, rec records[T], record T) (bool, error) {
	key := r.recordKey(rec.table, rec.id(record))
	rec.setRevision(record, 1)
	data, err := json.Marshal(record)
	if err != nil {
		return false, errors.WithStack(err)
	}
	db := r.db.WithContext(ctx)
	inserted := false
	err = db.Watch(func(tx *redis.Tx) error {
		exists, err := tx.Exists(key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return nil
		}
		_, err = tx.Pipelined(func(pipe redis.Pipeliner) error {
			pipe.Set(key, data, 0)
			pipe.SAdd(r.idsKey(rec.table), rec.id(record))
			return nil
		})
		if err == nil {
			inserted = true
		}
		return err
	}, key)
	if err == redis.TxFailedErr {
		// Someone else created the record between our check and our write.
		return false, nil
	}
	if err != nil {
		return false, errors.WithStack(err)
	}
	return inserted, nil
}

func get[T any](ctx context.Context, r *Redis, rec records[T], id string) (T, error) {
	var zero T
	data, err := r.db.WithContext(ctx).Get(r.recordKey(rec.table, id)).Bytes()
	if err == redis.Nil {
		return zero, errors.WithStack(&wqerrors.ErrNotFound{Table: rec.table, Id: id})
	}
	if err != nil {
		return zero, errors.WithStack(err)
	}
	return rec.decode(data)
}

// list loads the records with the given ids, or all records of the table if ids is empty.
// Records are returned in id order; ids without a record are skipped.
func list[T any](ctx context.Context, r *Redis, rec records[T], ids []string) ([]T, error) {
	db := r.db.WithContext(ctx)
	if len(ids) == 0 {
		members, err := db.SMembers(r.idsKey(rec.table)).Result()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		ids = members
	}
	ids = append([]string{}, ids...)
	sort.Strings(ids)
	if len(ids) == 0 {
		return []T{}, nil
	}

	pipe := db.Pipeline()
	cmds := make([]*redis.StringCmd, 0, len(ids))
	for _, id := range ids {
		cmds = append(cmds, pipe.Get(r.recordKey(rec.table, id)))
	}
	if _, err := pipe.Exec(); err != nil && err != redis.Nil {
		return nil, errors.WithStack(err)
	}

	result := make([]T, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, errors.WithStack(err)
		}
		record, err := rec.decode(data)
		if err != nil {
			return nil, err
		}
		result = append(result, record)
	}
	return result, nil
}

func swap[T any](ctx context.Context, r *Redis, rec records[T], record T) (T, error) {
	var zero T
	id := rec.id(record)
	key := r.recordKey(rec.table, id)
	expected := rec.revision(record)
	err := r.db.WithContext(ctx).Watch(func(tx *redis.Tx) error {
		data, err := tx.Get(key).Bytes()
		if err == redis.Nil {
			return errors.WithStack(&wqerrors.ErrNotFound{Table: rec.table, Id: id})
		}
		if err != nil {
			return errors.WithStack(err)
		}
		current, err := rec.decode(data)
		if err != nil {
			return err
		}
		if rec.revision(current) != expected {
			return errors.WithStack(&wqerrors.ErrConflict{
				Table:            rec.table,
				Id:               id,
				ExpectedRevision: expected,
				ActualRevision:   rec.revision(current),
			})
		}
		rec.setRevision(record, expected+1)
		updated, err := json.Marshal(record)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = tx.Pipelined(func(pipe redis.Pipeliner) error {
			pipe.Set(key, updated, 0)
			return nil
		})
		return err
	}, key)
	if err == redis.TxFailedErr {
		return zero, errors.WithStack(&wqerrors.ErrConflict{Table: rec.table, Id: id, ExpectedRevision: expected, ActualRevision: -1})
	}
	if err != nil {
		return zero, err
	}
	return record, nil
}

func (r *Redis) delete(ctx context.Context, table string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.WithContext(ctx).TxPipelined(func(pipe redis.Pipeliner) error {
		members := make([]interface{}, 0, len(ids))
		for _, id := range ids {
			pipe.Del(r.recordKey(table, id))
			members = append(members, id)
		}
		pipe.SRem(r.idsKey(table), members...)
		return nil
	})
	return errors.WithStack(err)
}
