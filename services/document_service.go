package services

import (
	"context"
	"errors"
	"time"
)

// Collection names on the remote document store.
const (
	UsersCollection   = "users"
	GroupsCollection  = "studyGroups"
	InvitesCollection = "groupInvites"
)

var ErrDocNotFound = errors.New("document not found")

// Document is a plain field-typed document — string/number/bool/timestamp
// values only, matching what the remote store accepts.
type Document map[string]interface{}

// DocumentSnapshot pairs a document with its id for query results.
type DocumentSnapshot struct {
	ID   string
	Data Document
}

// QueryOp is the comparison applied by DocumentService.Query.
type QueryOp string

const (
	OpEqual         QueryOp = "=="
	OpArrayContains QueryOp = "array-contains"
)

// DocumentService is the remote multi-user document store. It is eventually
// consistent and offers no multi-document transactions; all cross-client
// coordination on top of it is advisory check-then-write.
type DocumentService interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	// List returns every document in the collection.
	List(ctx context.Context, collection string) ([]DocumentSnapshot, error)
	Query(ctx context.Context, collection, field string, op QueryOp, value interface{}) ([]DocumentSnapshot, error)
	// Set writes fields; with merge=true untouched fields survive.
	Set(ctx context.Context, collection, id string, fields Document, merge bool) error
	// Update fails with ErrDocNotFound when the document does not exist.
	Update(ctx context.Context, collection, id string, fields Document) error
	Delete(ctx context.Context, collection, id string) error
	// Subscribe delivers the current document state on every change until the
	// returned unsubscribe func is called. Callers own the cancellation.
	Subscribe(collection, id string, onChange func(Document)) (func(), error)
}

// Field accessors. Remote payloads arrive as decoded JSON, so numbers may be
// float64 and timestamps RFC3339 strings; local writes keep native types.

func (d Document) String(key string) string {
	if v, ok := d[key].(string); ok {
		return v
	}
	return ""
}

func (d Document) Bool(key string) bool {
	v, ok := d[key].(bool)
	return ok && v
}

// Has reports whether the field is present at all (nil counts as present).
func (d Document) Has(key string) bool {
	_, ok := d[key]
	return ok
}

func (d Document) Int64(key string) (int64, bool) {
	switch v := d[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	}
	return 0, false
}

func (d Document) Time(key string) (time.Time, bool) {
	switch v := d[key].(type) {
	case time.Time:
		return v, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}

func (d Document) StringSlice(key string) []string {
	switch v := d[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Clone returns a shallow copy so subscribers cannot mutate stored state.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
