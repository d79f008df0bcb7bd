package users

import (
	"context"
	"errors"
	"net/http"

	"connectrpc.com/connect"
	"github.com/militapp/militapp/go/internal/docstore"
	"github.com/militapp/militapp/go/internal/models"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	UserServiceName          = "militapp.users.v1.UserService"
	GetProfileProcedure      = "/" + UserServiceName + "/GetProfile"
	RegisterProfileProcedure = "/" + UserServiceName + "/RegisterProfile"
	userServicePathPrefix    = "/" + UserServiceName + "/"
)

// UsersApp defines what the service layer needs from the users application
type UsersApp interface {
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	Register(ctx context.Context, req RegisterRequest) (*models.UserProfile, error)
	IsPrivileged(rank models.Rank) bool
}

// Service exposes the caller's own profile over connect. The caller is
// identified by the X-User-ID header.
type Service struct {
	app UsersApp
}

// NewService creates a new users connect service
func NewService(app UsersApp) *Service {
	return &Service{
		app: app,
	}
}

// Handler returns the path prefix and handler serving every UserService procedure
func (s *Service) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(GetProfileProcedure, connect.NewUnaryHandler(GetProfileProcedure, s.GetProfile, opts...))
	mux.Handle(RegisterProfileProcedure, connect.NewUnaryHandler(RegisterProfileProcedure, s.RegisterProfile, opts...))
	return userServicePathPrefix, mux
}

// GetProfile returns the caller's profile
func (s *Service) GetProfile(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	userID := req.Header().Get(docstore.UserIDHeader)
	if userID == "" {
		return nil, connect.NewError(connect.CodeUnauthenticated, errors.New("missing user id"))
	}

	profile, err := s.app.GetProfile(ctx, userID)
	if errors.Is(err, ErrProfileNotFound) {
		return nil, connect.NewError(connect.CodeNotFound, err)
	}
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	return connect.NewResponse(s.profileToStruct(profile)), nil
}

// RegisterProfile creates or replaces the caller's profile
func (s *Service) RegisterProfile(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	userID := req.Header().Get(docstore.UserIDHeader)
	if userID == "" {
		return nil, connect.NewError(connect.CodeUnauthenticated, errors.New("missing user id"))
	}

	profile, err := s.app.Register(ctx, s.structToRegisterRequest(userID, req.Msg))
	if errors.Is(err, ErrInvalidProfile) {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	return connect.NewResponse(s.profileToStruct(profile)), nil
}

func (s *Service) structToRegisterRequest(userID string, msg *structpb.Struct) RegisterRequest {
	return RegisterRequest{
		UserID: userID,
		Name:   docstore.StringField(msg, "nombre"),
		Rank:   models.Rank(docstore.StringField(msg, "rango")),
		Zone:   docstore.StringField(msg, "zona"),
	}
}

func (s *Service) profileToStruct(p *models.UserProfile) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"user_id":    structpb.NewStringValue(p.UserID),
		"nombre":     structpb.NewStringValue(p.Name),
		"rango":      structpb.NewStringValue(string(p.Rank)),
		"zona":       structpb.NewStringValue(p.Zone),
		"privileged": structpb.NewBoolValue(s.app.IsPrivileged(p.Rank)),
	}}
}
