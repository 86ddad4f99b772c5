package backend

import (
	"context"

	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"

	"github.com/armadaproject/workqueue/internal/common/wqerrors"
	"github.com/armadaproject/workqueue/internal/workqueue/element"
)

const (
	idIndex      = "id"      // primary key
	requestIndex = "request" // records of one request
)

// MemDb is a Backend held in memory, built on https://github.com/hashicorp/go-memdb.
// Stored records are never modified in place: every write inserts a fresh copy.
type MemDb struct {
	db *memdb.MemDB
}

func NewMemDb() (*MemDb, error) {
	db, err := memdb.NewMemDB(memDbSchema())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &MemDb{db: db}, nil
}

func (m *MemDb) InsertElements(_ context.Context, elements ...*element.Element) ([]*element.Element, error) {
	txn := m.db.Txn(true)
	defer txn.Abort()
	inserted := make([]*element.Element, 0, len(elements))
	for _, el := range elements {
		existing, err := txn.First(elementsTable, idIndex, el.Id)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if existing != nil {
			continue
		}
		stored := el.DeepCopy()
		stored.Revision = 1
		if err := txn.Insert(elementsTable, stored); err != nil {
			return nil, errors.WithStack(err)
		}
		inserted = append(inserted, stored.DeepCopy())
	}
	txn.Commit()
	return inserted, nil
}

func (m *MemDb) GetElement(_ context.Context, id string) (*element.Element, error) {
	obj, err := m.db.Txn(false).First(elementsTable, idIndex, id)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if obj == nil {
		return nil, errors.WithStack(&wqerrors.ErrNotFound{Table: elementsTable, Id: id})
	}
	return obj.(*element.Element).DeepCopy(), nil
}

func (m *MemDb) ListElements(_ context.Context, filter Filter) ([]*element.Element, error) {
	result := make([]*element.Element, 0)
	err := m.scan(elementsTable, filter, func(obj interface{}) {
		el := obj.(*element.Element)
		if filter.MatchesElement(el) {
			result = append(result, el.DeepCopy())
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (m *MemDb) SwapElement(_ context.Context, el *element.Element) (*element.Element, error) {
	txn := m.db.Txn(true)
	defer txn.Abort()
	obj, err := txn.First(elementsTable, idIndex, el.Id)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if obj == nil {
		return nil, errors.WithStack(&wqerrors.ErrNotFound{Table: elementsTable, Id: el.Id})
	}
	current := obj.(*element.Element)
	if current.Revision != el.Revision {
		return nil, errors.WithStack(&wqerrors.ErrConflict{
			Table:            elementsTable,
			Id:               el.Id,
			ExpectedRevision: el.Revision,
			ActualRevision:   current.Revision,
		})
	}
	stored := el.DeepCopy()
	stored.Revision = current.Revision + 1
	if err := txn.Insert(elementsTable, stored); err != nil {
		return nil, errors.WithStack(err)
	}
	txn.Commit()
	return stored.DeepCopy(), nil
}

func (m *MemDb) DeleteElements(_ context.Context, ids ...string) error {
	return m.delete(elementsTable, ids)
}

func (m *MemDb) InsertInbox(_ context.Context, inbox *element.Inbox) (bool, error) {
	txn := m.db.Txn(true)
	defer txn.Abort()
	existing, err := txn.First(inboxTable, idIndex, inbox.Id)
	if err != nil {
		return false, errors.WithStack(err)
	}
	if existing != nil {
		return false, nil
	}
	stored := inbox.DeepCopy()
	stored.Revision = 1
	if err := txn.Insert(inboxTable, stored); err != nil {
		return false, errors.WithStack(err)
	}
	txn.Commit()
	return true, nil
}

func (m *MemDb) GetInbox(_ context.Context, id string) (*element.Inbox, error) {
	obj, err := m.db.Txn(false).First(inboxTable, idIndex, id)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if obj == nil {
		return nil, errors.WithStack(&wqerrors.ErrNotFound{Table: inboxTable, Id: id})
	}
	return obj.(*element.Inbox).DeepCopy(), nil
}

func (m *MemDb) ListInbox(_ context.Context, filter Filter) ([]*element.Inbox, error) {
	result := make([]*element.Inbox, 0)
	err := m.scan(inboxTable, filter, func(obj interface{}) {
		inbox := obj.(*element.Inbox)
		if filter.MatchesInbox(inbox) {
			result = append(result, inbox.DeepCopy())
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (m *MemDb) SwapInbox(_ context.Context, inbox *element.Inbox) (*element.Inbox, error) {
	txn := m.db.Txn(true)
	defer txn.Abort()
	obj, err := txn.First(inboxTable, idIndex, inbox.Id)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if obj == nil {
		return nil, errors.WithStack(&wqerrors.ErrNotFound{Table: inboxTable, Id: inbox.Id})
	}
	current := obj.(*element.Inbox)
	if current.Revision != inbox.Revision {
		return nil, errors.WithStack(&wqerrors.ErrConflict{
			Table:            inboxTable,
			Id:               inbox.Id,
			ExpectedRevision: inbox.Revision,
			ActualRevision:   current.Revision,
		})
	}
	stored := inbox.DeepCopy()
	stored.Revision = current.Revision + 1
	if err := txn.Insert(inboxTable, stored); err != nil {
		return nil, errors.WithStack(err)
	}
	txn.Commit()
	return stored.DeepCopy(), nil
}

func (m *MemDb) DeleteInbox(_ context.Context, ids ...string) error {
	return m.delete(inboxTable, ids)
}

// scan visits the records that may match filter, using the narrowest index available.
func (m *MemDb) scan(table string, filter Filter, visit func(obj interface{})) error {
	txn := m.db.Txn(false)
	if len(filter.Ids) > 0 {
		for _, id := range filter.Ids {
			obj, err := txn.First(table, idIndex, id)
			if err != nil {
				return errors.WithStack(err)
			}
			if obj != nil {
				visit(obj)
			}
		}
		return nil
	}
	var it memdb.ResultIterator
	var err error
	if filter.RequestName != "" {
		it, err = txn.Get(table, requestIndex, filter.RequestName)
	} else {
		it, err = txn.Get(table, idIndex)
	}
	if err != nil {
		return errors.WithStack(err)
	}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		visit(obj)
	}
	return nil
}

// delete removes the records with the given ids. Ids that are not in the database are ignored.
func (m *MemDb) delete(table string, ids []string) error {
	txn := m.db.Txn(true)
	defer txn.Abort()
	for _, id := range ids {
		obj, err := txn.First(table, idIndex, id)
		if err != nil {
			return errors.WithStack(err)
		}
		if obj == nil {
			continue
		}
		if err := txn.Delete(table, obj); err != nil {
			return errors.WithStack(err)
		}
	}
	txn.Commit()
	return nil
}

// memDbSchema creates the database schema: an elements and an inbox table, each indexed
// by id and by request name.
func memDbSchema() *memdb.DBSchema {
	table := func(name string) *memdb.TableSchema {
		return &memdb.TableSchema{
			Name: name,
			Indexes: map[string]*memdb.IndexSchema{
				idIndex: {
					Name:    idIndex,
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "Id"},
				},
				requestIndex: {
					Name:    requestIndex,
					Unique:  false,
					Indexer: &memdb.StringFieldIndex{Field: "RequestName"},
				},
			},
		}
	}
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			elementsTable: table(elementsTable),
			inboxTable:    table(inboxTable),
		},
	}
}
