package gateway

import (
	"context"
	"errors"
	"net/http"

	"connectrpc.com/connect"
	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/militapp/militapp/go/internal/docstore"
	"github.com/militapp/militapp/go/internal/models"
)

const documentServicePathPrefix = "/" + docstore.DocumentServiceName + "/"

// DocumentService serves the document store to remote devices, applying AccessRules
type DocumentService struct {
	store docstore.Store
	rules *AccessRules
}

// NewDocumentService creates a document service over store
func NewDocumentService(store docstore.Store, rules *AccessRules) *DocumentService {
	return &DocumentService{
		store: store,
		rules: rules,
	}
}

// Handler returns the path prefix and handler serving every DocumentService procedure
func (s *DocumentService) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(docstore.GetDocumentProcedure, connect.NewUnaryHandler(docstore.GetDocumentProcedure, s.GetDocument, opts...))
	mux.Handle(docstore.SetDocumentProcedure, connect.NewUnaryHandler(docstore.SetDocumentProcedure, s.SetDocument, opts...))
	mux.Handle(docstore.ListDocumentsProcedure, connect.NewUnaryHandler(docstore.ListDocumentsProcedure, s.ListDocuments, opts...))
	return documentServicePathPrefix, mux
}

// GetDocument returns the document named by the path field
func (s *DocumentService) GetDocument(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	userID := req.Header().Get(docstore.UserIDHeader)
	path := docstore.StringField(req.Msg, "path")

	if err := s.rules.CanRead(ctx, userID, path); err != nil {
		return nil, toConnectError(err)
	}

	doc, err := s.store.Get(ctx, path)
	if err != nil {
		return nil, toConnectError(err)
	}

	msg, err := docstore.DocumentToStruct(doc)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// SetDocument writes the fields field to path, merging when merge is true
func (s *DocumentService) SetDocument(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	userID := req.Header().Get(docstore.UserIDHeader)
	path := docstore.StringField(req.Msg, "path")
	fields := req.Msg.GetFields()["fields"].GetStructValue().AsMap()
	if fields == nil {
		fields = make(map[string]any)
	}

	merge := req.Msg.GetFields()["merge"].GetBoolValue()

	if err := s.rules.CanWrite(ctx, userID, path, fields, merge); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Str("path", path).Bool("merge", merge).Msg("document write rejected")
		return nil, toConnectError(err)
	}

	var opts []docstore.SetOption
	if merge {
		opts = append(opts, docstore.WithMerge())
	}
	if err := s.store.Set(ctx, path, fields, opts...); err != nil {
		return nil, toConnectError(err)
	}

	log.Debug().Str("user_id", userID).Str("path", path).Msg("document written")
	return connect.NewResponse(&structpb.Struct{}), nil
}

// ListDocuments returns the direct children of the collection field
func (s *DocumentService) ListDocuments(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	userID := req.Header().Get(docstore.UserIDHeader)
	collection := docstore.StringField(req.Msg, "collection")

	if err := s.rules.CanRead(ctx, userID, collection); err != nil {
		return nil, toConnectError(err)
	}

	docs, err := s.store.List(ctx, collection)
	if err != nil {
		return nil, toConnectError(err)
	}

	values := make([]*structpb.Value, 0, len(docs))
	for _, doc := range docs {
		msg, err := docstore.DocumentToStruct(doc)
		if err != nil {
			return nil, connect.NewError(connect.CodeInternal, err)
		}
		values = append(values, structpb.NewStructValue(msg))
	}

	return connect.NewResponse(&structpb.Struct{Fields: map[string]*structpb.Value{
		"documents": structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}), nil
}

func toConnectError(err error) error {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return connect.NewError(connect.CodeUnauthenticated, err)
	case errors.Is(err, ErrPermissionDenied):
		return connect.NewError(connect.CodePermissionDenied, err)
	case errors.Is(err, docstore.ErrNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, docstore.ErrInvalidPath), errors.Is(err, models.ErrMalformedStartTime):
		return connect.NewError(connect.CodeInvalidArgument, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
