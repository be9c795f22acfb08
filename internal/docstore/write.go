package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type writeKind int

const (
	writeSet writeKind = iota + 1
	writeCreate
	writeUpdate
	writeDelete
)

type write struct {
	kind    writeKind
	path    string
	data    Data
	merge   bool
	updates map[string]any
}

// SetOption configures Set.
type SetOption func(*write)

// Merge makes Set merge into the existing document instead of replacing it.
// Nested maps are merged recursively.
func Merge() SetOption {
	return func(w *write) { w.merge = true }
}

// changeSet records the collections touched by a commit.
type changeSet map[string]struct{}

func (c changeSet) add(collection string) {
	c[collection] = struct{}{}
}

// Get reads one document. Returns a NOT_FOUND error if it does not exist.
func (s *Store) Get(ctx context.Context, path string) (*Document, error) {
	if _, _, err := splitDocPath(path); err != nil {
		return nil, invalid("get", path, err)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE path = ?`, path)
	return getRow(row, "get", path)
}

func getRow(row *sql.Row, op, path string) (*Document, error) {
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(op, path)
	}
	if err != nil {
		return nil, unavailable(op, path, err)
	}
	return d, nil
}

// Set writes a document, replacing it unless Merge is given.
func (s *Store) Set(ctx context.Context, path string, data Data, opts ...SetOption) error {
	b := s.Batch()
	b.Set(path, data, opts...)
	return b.Commit(ctx)
}

// Create writes a new document with an auto-assigned id in collection and
// returns the id.
func (s *Store) Create(ctx context.Context, collection string, data Data) (string, error) {
	b := s.Batch()
	id := b.Create(collection, data)
	if err := b.Commit(ctx); err != nil {
		return "", err
	}
	return id, nil
}

// Update applies dotted field-path updates to an existing document.
// Returns a NOT_FOUND error if the document does not exist.
func (s *Store) Update(ctx context.Context, path string, updates map[string]any) error {
	b := s.Batch()
	b.Update(path, updates)
	return b.Commit(ctx)
}

// Delete removes a document and every document beneath it.
// Deleting a missing document is not an error.
func (s *Store) Delete(ctx context.Context, path string) error {
	b := s.Batch()
	b.Delete(path)
	return b.Commit(ctx)
}

// Batch collects writes that commit atomically.
type Batch struct {
	s      *Store
	writes []write
	err    error
}

// Batch starts a new write batch.
func (s *Store) Batch() *Batch {
	return &Batch{s: s}
}

// Set queues a set.
func (b *Batch) Set(path string, data Data, opts ...SetOption) *Batch {
	w := write{kind: writeSet, path: path, data: data}
	for _, opt := range opts {
		opt(&w)
	}
	b.add(w)
	return b
}

// Create queues a create with an auto-assigned id and returns the id.
func (b *Batch) Create(collection string, data Data) string {
	if err := validCollection(collection); err != nil {
		b.fail(invalid("create", collection, err))
		return ""
	}
	id := b.s.NewID()
	b.add(write{kind: writeCreate, path: Join(collection, id), data: data})
	return id
}

// Update queues a field-path update of an existing document.
func (b *Batch) Update(path string, updates map[string]any) *Batch {
	b.add(write{kind: writeUpdate, path: path, updates: updates})
	return b
}

// Delete queues a recursive delete.
func (b *Batch) Delete(path string) *Batch {
	b.add(write{kind: writeDelete, path: path})
	return b
}

// Len returns the number of queued writes.
func (b *Batch) Len() int {
	return len(b.writes)
}

func (b *Batch) add(w write) {
	if _, _, err := splitDocPath(w.path); err != nil {
		b.fail(invalid("batch", w.path, err))
		return
	}
	b.writes = append(b.writes, w)
}

func (b *Batch) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Commit applies every queued write in one transaction.
// An empty batch commits without touching the database.
func (b *Batch) Commit(ctx context.Context) error {
	if b.err != nil {
		return b.err
	}
	if len(b.writes) == 0 {
		return nil
	}
	return b.s.withTx(ctx, "commit", func(tx *sql.Tx, st stamp) (changeSet, error) {
		changed := changeSet{}
		for _, w := range b.writes {
			if err := applyWrite(ctx, tx, st, w, changed); err != nil {
				return nil, err
			}
		}
		return changed, nil
	})
}

func loadForWrite(ctx context.Context, tx *sql.Tx, path string) (*Document, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE path = ?`, path)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("load", path, err)
	}
	return d, nil
}

func applyWrite(ctx context.Context, tx *sql.Tx, st stamp, w write, changed changeSet) error {
	collection, id, err := splitDocPath(w.path)
	if err != nil {
		return invalid("write", w.path, err)
	}

	if w.kind == writeDelete {
		return deleteTree(ctx, tx, w.path, changed)
	}

	cur, err := loadForWrite(ctx, tx, w.path)
	if err != nil {
		return err
	}

	var body map[string]any
	switch w.kind {
	case writeCreate:
		if cur != nil {
			return &Error{Code: CodeAlreadyExists, Op: "create", Path: w.path}
		}
		body = map[string]any{}
		if err := mergeInto(body, w.data, st, false); err != nil {
			return invalid("create", w.path, err)
		}
	case writeSet:
		body = map[string]any{}
		if w.merge && cur != nil {
			body = deepCopy(cur.Data).(map[string]any)
		}
		if err := mergeInto(body, w.data, st, w.merge); err != nil {
			return invalid("set", w.path, err)
		}
	case writeUpdate:
		if cur == nil {
			return notFound("update", w.path)
		}
		body = deepCopy(cur.Data).(map[string]any)
		for field, v := range w.updates {
			parts, err := splitFieldPath(field)
			if err != nil {
				return invalid("update", w.path, err)
			}
			if err := setPath(body, parts, v, st); err != nil {
				return invalid("update", w.path, fmt.Errorf("field %s: %w", field, err))
			}
		}
	}

	raw, _, err := encodeData(body)
	if err != nil {
		return invalid("write", w.path, err)
	}

	if cur == nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (path, collection, doc_id, data, seq, create_time, update_time)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, w.path, collection, id, string(raw), st.clock.Next(), st.millis(), st.millis())
	} else {
		// seq and create_time are fixed at insertion.
		_, err = tx.ExecContext(ctx, `
			UPDATE documents SET data = ?, update_time = ? WHERE path = ?
		`, string(raw), st.millis(), w.path)
	}
	if err != nil {
		return unavailable("write", w.path, err)
	}

	changed.add(collection)
	return nil
}

// deleteTree removes a document and all descendants. The prefix is compared
// with substr because ids may contain LIKE wildcards such as '_'.
func deleteTree(ctx context.Context, tx *sql.Tx, path string, changed changeSet) error {
	prefix := path + "/"
	rows, err := tx.QueryContext(ctx, `
		SELECT DISTINCT collection FROM documents
		WHERE path = ? OR substr(path, 1, ?) = ?
	`, path, len(prefix), prefix)
	if err != nil {
		return unavailable("delete", path, err)
	}
	var collections []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			rows.Close()
			return unavailable("delete", path, err)
		}
		collections = append(collections, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return unavailable("delete", path, err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM documents WHERE path = ? OR substr(path, 1, ?) = ?
	`, path, len(prefix), prefix); err != nil {
		return unavailable("delete", path, err)
	}

	for _, c := range collections {
		changed.add(c)
	}
	return nil
}
