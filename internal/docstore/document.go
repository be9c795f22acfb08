package docstore

import (
	"encoding/json"
	"fmt"
	"time"
)

// Document is a read snapshot of one stored document.
type Document struct {
	Path       string
	ID         string
	Collection string
	Data       Data
	Seq        int64
	CreateTime time.Time
	UpdateTime time.Time

	raw []byte
}

// DataTo decodes the document body into v using JSON field tags.
func (d *Document) DataTo(v any) error {
	if err := json.Unmarshal(d.raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", d.Path, err)
	}
	return nil
}

// Field returns the value at a dotted field path.
func (d *Document) Field(field string) (any, bool) {
	parts, err := splitFieldPath(field)
	if err != nil {
		return nil, false
	}
	return lookup(d.Data, parts)
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

const documentColumns = `path, collection, doc_id, data, seq, create_time, update_time`

func scanDocument(row scanner) (*Document, error) {
	var d Document
	var raw string
	var created, updated int64
	if err := row.Scan(&d.Path, &d.Collection, &d.ID, &raw, &d.Seq, &created, &updated); err != nil {
		return nil, err
	}
	data, err := decodeData([]byte(raw))
	if err != nil {
		return nil, err
	}
	d.Data = data
	d.raw = []byte(raw)
	d.CreateTime = time.UnixMilli(created)
	d.UpdateTime = time.UnixMilli(updated)
	return &d, nil
}
