package users

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"
	"github.com/jonboulle/clockwork"
	"github.com/militapp/militapp/go/internal/docstore"
	"github.com/militapp/militapp/go/internal/models"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

func newTestApp(t *testing.T, privileged ...models.Rank) (*App, docstore.Store) {
	t.Helper()
	store := docstore.NewMemoryStore(clockwork.NewFakeClock())
	t.Cleanup(func() { store.Close() })
	return NewApp(NewRepository(store), privileged), store
}

func TestGetProfileMissing(t *testing.T) {
	app, _ := newTestApp(t)

	_, err := app.GetProfile(context.Background(), "nobody")
	if !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestGetProfileReadsStoredDocument(t *testing.T) {
	ctx := context.Background()
	app, store := newTestApp(t)
	_ = store.Set(ctx, models.UserProfilePath("u1"), map[string]any{
		"nombre": "Ana", "rango": "Sargento", "zona": "Norte", "imagen": "x.png",
	})

	profile, err := app.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if profile.Rank != models.RankSargento || profile.Zone != "Norte" || profile.Name != "Ana" {
		t.Fatalf("unexpected profile %+v", profile)
	}
}

func TestGetProfileInvalidRank(t *testing.T) {
	ctx := context.Background()
	app, store := newTestApp(t)
	_ = store.Set(ctx, models.UserProfilePath("u1"), map[string]any{"rango": "General", "zona": "Norte"})

	if _, err := app.GetProfile(ctx, "u1"); err == nil {
		t.Fatal("expected error for unknown rank")
	}
}

func TestRegisterKeepsForeignFields(t *testing.T) {
	ctx := context.Background()
	app, store := newTestApp(t)
	_ = store.Set(ctx, models.UserProfilePath("u1"), map[string]any{"imagen": "x.png"})

	_, err := app.Register(ctx, RegisterRequest{UserID: "u1", Name: " Ana ", Rank: models.RankCabo, Zone: "Norte"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	doc, _ := store.Get(ctx, models.UserProfilePath("u1"))
	if doc.Fields["imagen"] != "x.png" || doc.Fields["nombre"] != "Ana" || doc.Fields["rango"] != "Cabo" {
		t.Fatalf("unexpected document %v", doc.Fields)
	}
}

func TestRegisterCannotChangeRank(t *testing.T) {
	ctx := context.Background()
	app, _ := newTestApp(t)

	if _, err := app.Register(ctx, RegisterRequest{UserID: "u1", Rank: models.RankCabo, Zone: "Norte"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := app.Register(ctx, RegisterRequest{UserID: "u1", Rank: models.RankCabo, Zone: "Sur"}); err != nil {
		t.Fatalf("zone change: %v", err)
	}
	_, err := app.Register(ctx, RegisterRequest{UserID: "u1", Rank: models.RankTeniente, Zone: "Sur"})
	if !errors.Is(err, ErrInvalidProfile) {
		t.Fatalf("expected ErrInvalidProfile, got %v", err)
	}
}

func TestRegisterKeepsInvalidStoredRank(t *testing.T) {
	ctx := context.Background()
	app, store := newTestApp(t)
	_ = store.Set(ctx, models.UserProfilePath("u1"), map[string]any{"rango": "General", "zona": "Norte"})

	_, err := app.Register(ctx, RegisterRequest{UserID: "u1", Rank: models.RankTeniente, Zone: "Norte"})
	if !errors.Is(err, ErrInvalidProfile) {
		t.Fatalf("expected ErrInvalidProfile, got %v", err)
	}

	rank, present, err := app.StoredRank(ctx, "u1")
	if err != nil || !present || rank != "General" {
		t.Fatalf("stored rank changed: %q %v %v", rank, present, err)
	}
	if _, _, err := app.StoredRank(ctx, "nobody"); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	app, _ := newTestApp(t)

	cases := []RegisterRequest{
		{UserID: "", Rank: models.RankCabo, Zone: "Norte"},
		{UserID: "a/b", Rank: models.RankCabo, Zone: "Norte"},
		{UserID: "u1", Rank: "General", Zone: "Norte"},
		{UserID: "u1", Rank: models.RankCabo, Zone: "  "},
	}
	for _, req := range cases {
		if _, err := app.Register(context.Background(), req); !errors.Is(err, ErrInvalidProfile) {
			t.Errorf("%+v: expected ErrInvalidProfile, got %v", req, err)
		}
	}
}

func TestIsPrivileged(t *testing.T) {
	app, _ := newTestApp(t)
	for rank, want := range map[models.Rank]bool{
		models.RankCabo:     false,
		models.RankSargento: false,
		models.RankTeniente: true,
		models.RankCoronel:  true,
	} {
		if got := app.IsPrivileged(rank); got != want {
			t.Errorf("%s: got %v want %v", rank, got, want)
		}
	}

	strict, _ := newTestApp(t, models.RankTeniente)
	if strict.IsPrivileged(models.RankCoronel) {
		t.Error("strict set should not include Coronel")
	}
	if got := strict.PrivilegedRanks(); len(got) != 1 || got[0] != models.RankTeniente {
		t.Errorf("unexpected privileged ranks %v", got)
	}
}

func TestServiceProfileRoundTrip(t *testing.T) {
	app, _ := newTestApp(t)
	path, handler := NewService(app).Handler()
	if path != "/militapp.users.v1.UserService/" {
		t.Fatalf("unexpected path %s", path)
	}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	register := connect.NewClient[structpb.Struct, structpb.Struct](srv.Client(), srv.URL+RegisterProfileProcedure)
	get := connect.NewClient[emptypb.Empty, structpb.Struct](srv.Client(), srv.URL+GetProfileProcedure)

	getReq := connect.NewRequest(&emptypb.Empty{})
	getReq.Header().Set(docstore.UserIDHeader, "u1")
	if _, err := get.CallUnary(context.Background(), getReq); connect.CodeOf(err) != connect.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}

	msg, _ := structpb.NewStruct(map[string]any{"nombre": "Ana", "rango": "Teniente", "zona": "Norte"})
	regReq := connect.NewRequest(msg)
	regReq.Header().Set(docstore.UserIDHeader, "u1")
	resp, err := register.CallUnary(context.Background(), regReq)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !resp.Msg.GetFields()["privileged"].GetBoolValue() {
		t.Fatalf("teniente should be privileged: %v", resp.Msg)
	}

	getReq = connect.NewRequest(&emptypb.Empty{})
	getReq.Header().Set(docstore.UserIDHeader, "u1")
	got, err := get.CallUnary(context.Background(), getReq)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Msg.GetFields()["zona"].GetStringValue() != "Norte" {
		t.Fatalf("unexpected profile %v", got.Msg)
	}

	bad, _ := structpb.NewStruct(map[string]any{"rango": "General", "zona": "Norte"})
	badReq := connect.NewRequest(bad)
	badReq.Header().Set(docstore.UserIDHeader, "u1")
	if _, err := register.CallUnary(context.Background(), badReq); connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}

	anon := connect.NewRequest(&emptypb.Empty{})
	if _, err := get.CallUnary(context.Background(), anon); connect.CodeOf(err) != connect.CodeUnauthenticated {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}
