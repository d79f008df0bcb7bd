package docstore

import (
	"testing"
	"time"
)

func TestEncodeKeyRoundTrip(t *testing.T) {
	path := "(default)/MilitApp/TimerControl/startTime"
	key := encodeKey(path)
	for _, r := range key {
		ok := r == '.' || r == '-' || r == '_' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			t.Fatalf("key %q has invalid rune %q", key, r)
		}
	}
	got, err := decodeKey(key)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != path {
		t.Fatalf("round trip: got %q want %q", got, path)
	}
}

func TestDocumentStructConversion(t *testing.T) {
	ts := time.Date(2025, 3, 4, 12, 0, 0, 500, time.UTC)
	doc := &Document{
		Path:       "a/b",
		Fields:     map[string]any{"startTime": float64(1700000000000), "list": "l1"},
		UpdateTime: ts,
	}

	msg, err := DocumentToStruct(doc)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DocumentFromStruct(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Path != "a/b" || !got.UpdateTime.Equal(ts) {
		t.Fatalf("unexpected document %+v", got)
	}
	if got.Fields["startTime"] != float64(1700000000000) || got.Fields["list"] != "l1" {
		t.Fatalf("unexpected fields %v", got.Fields)
	}
}

func TestSubscriberDropsOlderDocuments(t *testing.T) {
	ch := make(chan *Document, 4)
	s := newSubscriber("a/b", func(d *Document) { ch <- d })
	defer s.close()

	now := time.Now()
	s.push(&Document{Path: "a/b", Fields: map[string]any{"n": 2}, UpdateTime: now})
	s.push(&Document{Path: "a/b", Fields: map[string]any{"n": 1}, UpdateTime: now.Add(-time.Second)})
	s.push(&Document{Path: "a/b", Fields: map[string]any{"n": 2}, UpdateTime: now})

	for i := 0; i < 2; i++ {
		select {
		case d := <-ch:
			if d.Fields["n"] != 2 {
				t.Fatalf("older document delivered: %v", d.Fields)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out")
		}
	}
	select {
	case d := <-ch:
		t.Fatalf("unexpected delivery %v", d.Fields)
	case <-time.After(50 * time.Millisecond):
	}
}
