package docstore

import (
	"context"
	"strings"
	"time"
)

// Document is a snapshot of a stored document
type Document struct {
	Path       string         `json:"path"`
	Fields     map[string]any `json:"fields"`
	UpdateTime time.Time      `json:"update_time"`
}

// ID returns the last segment of the document path
func (d *Document) ID() string {
	return Base(d.Path)
}

// Clone returns a copy of the document with its own top-level field map
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	fields := make(map[string]any, len(d.Fields))
	for k, v := range d.Fields {
		fields[k] = v
	}
	return &Document{Path: d.Path, Fields: fields, UpdateTime: d.UpdateTime}
}

// Unsubscribe cancels a subscription. Calling it more than once is a no-op.
type Unsubscribe func()

// Store is the remote document store the timer core reads, writes and observes.
//
// Subscribe delivers the current document immediately when it exists and then
// every later write, in write order, at least once. Callers must tolerate the
// initial replay and duplicate deliveries.
type Store interface {
	Get(ctx context.Context, path string) (*Document, error)
	Set(ctx context.Context, path string, fields map[string]any, opts ...SetOption) error
	Subscribe(ctx context.Context, path string, fn func(*Document)) (Unsubscribe, error)
	List(ctx context.Context, collection string) ([]*Document, error)
	Close() error
}

type setOptions struct {
	merge bool
}

// SetOption configures a Set call
type SetOption func(*setOptions)

// WithMerge merges the given fields into the existing document instead of replacing it
func WithMerge() SetOption {
	return func(o *setOptions) {
		o.merge = true
	}
}

func applySetOptions(opts []SetOption) setOptions {
	var o setOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// mergeFields applies a shallow merge of update onto base
func mergeFields(base, update map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(update))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range update {
		merged[k] = v
	}
	return merged
}

// Join builds a document path from its segments
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// Parent returns the collection path containing path
func Parent(path string) string {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return ""
	}
	return path[:i]
}

// Base returns the last segment of path
func Base(path string) string {
	return path[strings.LastIndex(path, "/")+1:]
}

func validatePath(path string) error {
	if path == "" || strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") || strings.Contains(path, "//") {
		return ErrInvalidPath
	}
	return nil
}

func timeFromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}
