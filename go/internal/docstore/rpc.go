package docstore

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

// Document service procedures served by the gateway. Messages are
// google.protobuf.Struct so the service needs no generated code.
const (
	DocumentServiceName    = "militapp.docstore.v1.DocumentService"
	GetDocumentProcedure   = "/" + DocumentServiceName + "/GetDocument"
	SetDocumentProcedure   = "/" + DocumentServiceName + "/SetDocument"
	ListDocumentsProcedure = "/" + DocumentServiceName + "/ListDocuments"

	// WatchRoute streams ChangeEvents for the document named by the path query parameter
	WatchRoute = "/ws/docs"

	// UserIDHeader carries the caller identity on every gateway request
	UserIDHeader = "X-User-ID"
)

// EventTypeDocumentChanged is the only event type sent on the watch stream
const EventTypeDocumentChanged = "document_changed"

// ChangeEvent is a document delivery on the watch stream
type ChangeEvent struct {
	Type       string         `json:"type"`
	Path       string         `json:"path"`
	Fields     map[string]any `json:"fields"`
	UpdateTime time.Time      `json:"update_time"`
}

func NewChangeEvent(doc *Document) ChangeEvent {
	return ChangeEvent{
		Type:       EventTypeDocumentChanged,
		Path:       doc.Path,
		Fields:     doc.Fields,
		UpdateTime: doc.UpdateTime,
	}
}

func (e ChangeEvent) Document() *Document {
	fields := e.Fields
	if fields == nil {
		fields = make(map[string]any)
	}
	return &Document{Path: e.Path, Fields: fields, UpdateTime: e.UpdateTime}
}

// DocumentToStruct encodes doc for the document service
func DocumentToStruct(doc *Document) (*structpb.Struct, error) {
	fields, err := structpb.NewStruct(doc.Fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode fields of %s: %w", doc.Path, err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"path":        structpb.NewStringValue(doc.Path),
		"fields":      structpb.NewStructValue(fields),
		"update_time": structpb.NewStringValue(doc.UpdateTime.UTC().Format(time.RFC3339Nano)),
	}}, nil
}

// DocumentFromStruct decodes a document produced by DocumentToStruct
func DocumentFromStruct(msg *structpb.Struct) (*Document, error) {
	if msg == nil {
		return nil, fmt.Errorf("empty document message")
	}
	doc := &Document{
		Path:   msg.GetFields()["path"].GetStringValue(),
		Fields: msg.GetFields()["fields"].GetStructValue().AsMap(),
	}
	if ts := msg.GetFields()["update_time"].GetStringValue(); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("failed to parse update time %q: %w", ts, err)
		}
		doc.UpdateTime = t
	}
	if doc.Fields == nil {
		doc.Fields = make(map[string]any)
	}
	return doc, nil
}

// StringField reads a string field from a request message
func StringField(msg *structpb.Struct, key string) string {
	return msg.GetFields()[key].GetStringValue()
}
