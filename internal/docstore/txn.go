package docstore

import (
	"context"
	"database/sql"
)

// Txn is a read-write transaction. Reads go through the transaction and see
// committed state; writes are buffered and applied in order when the
// transaction function returns nil.
//
// Inside a transaction function use Txn.Get, never Store.Get: the store has
// a single connection and it is held by the transaction.
type Txn struct {
	ctx    context.Context
	s      *Store
	tx     *sql.Tx
	writes []write
	err    error
}

// RunTransaction runs fn inside a serialised transaction. If fn returns an
// error nothing is written and the error is returned unchanged.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, t *Txn) error) error {
	return s.withTx(ctx, "transaction", func(tx *sql.Tx, st stamp) (changeSet, error) {
		t := &Txn{ctx: ctx, s: s, tx: tx}
		if err := fn(ctx, t); err != nil {
			return nil, err
		}
		if t.err != nil {
			return nil, t.err
		}
		changed := changeSet{}
		for _, w := range t.writes {
			if err := applyWrite(ctx, tx, st, w, changed); err != nil {
				return nil, err
			}
		}
		return changed, nil
	})
}

// Get reads a document inside the transaction.
func (t *Txn) Get(path string) (*Document, error) {
	if _, _, err := splitDocPath(path); err != nil {
		return nil, invalid("get", path, err)
	}
	row := t.tx.QueryRowContext(t.ctx, `SELECT `+documentColumns+` FROM documents WHERE path = ?`, path)
	return getRow(row, "get", path)
}

// Query runs q inside the transaction.
func (t *Txn) Query(q Query) ([]*Document, error) {
	return runQuery(t.ctx, t.tx, q)
}

// Set buffers a set.
func (t *Txn) Set(path string, data Data, opts ...SetOption) {
	w := write{kind: writeSet, path: path, data: data}
	for _, opt := range opts {
		opt(&w)
	}
	t.add(w)
}

// Create buffers a create with an auto-assigned id and returns the id.
func (t *Txn) Create(collection string, data Data) string {
	if err := validCollection(collection); err != nil {
		t.fail(invalid("create", collection, err))
		return ""
	}
	id := t.s.NewID()
	t.add(write{kind: writeCreate, path: Join(collection, id), data: data})
	return id
}

// Update buffers a field-path update.
func (t *Txn) Update(path string, updates map[string]any) {
	t.add(write{kind: writeUpdate, path: path, updates: updates})
}

// Delete buffers a recursive delete.
func (t *Txn) Delete(path string) {
	t.add(write{kind: writeDelete, path: path})
}

func (t *Txn) add(w write) {
	if _, _, err := splitDocPath(w.path); err != nil {
		t.fail(invalid("transaction", w.path, err))
		return
	}
	t.writes = append(t.writes, w)
}

func (t *Txn) fail(err error) {
	if t.err == nil {
		t.err = err
	}
}
