package catalog

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harborops/slotkeeper/services/booking-service/internal/apperr"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestLoadStatic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.json")
	body := `{
		"vessels": [{"id": "aurora", "name": "Aurora", "operating_start": "09:00", "operating_end": "17:00",
			"slot_minutes": 120, "special_starts": ["12:00"], "running_cost_per_hour": 10000, "capacity": 8}],
		"names": {"skipper": "Sam Skipper"}
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, err := LoadStatic(path)
	if err != nil {
		t.Fatalf("LoadStatic: %v", err)
	}
	v, err := s.Vessel(context.Background(), "aurora")
	if err != nil {
		t.Fatalf("Vessel: %v", err)
	}
	if v.OperatingStart.String() != "09:00" || len(v.SpecialStarts) != 1 || v.SpecialStarts[0].String() != "12:00" {
		t.Fatalf("unexpected vessel %+v", v)
	}
	if _, err := s.Vessel(context.Background(), "ghost"); apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if name, _ := s.DisplayName(context.Background(), "skipper"); name != "Sam Skipper" {
		t.Fatalf("unexpected name %q", name)
	}
	if name, _ := s.DisplayName(context.Background(), "unknown"); name != "unknown" {
		t.Fatalf("expected id fallback, got %q", name)
	}
}

func TestLoadStaticRejectsBadSlotMinutes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.json")
	if err := os.WriteFile(path, []byte(`{"vessels":[{"id":"x","operating_start":"09:00","operating_end":"10:00"}]}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadStatic(path); err == nil {
		t.Fatalf("expected error for missing slot_minutes")
	}
}

func startFleet(t *testing.T) *GRPC {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	desc := grpc.ServiceDesc{
		ServiceName: "fleet.v1.VesselCatalog",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "GetVessel",
			Handler: func(_ any, _ context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				in := &structpb.Struct{}
				if err := dec(in); err != nil {
					return nil, err
				}
				if in.GetFields()["vessel_id"].GetStringValue() != "aurora" {
					return nil, status.Error(codes.NotFound, "no such vessel")
				}
				return structpb.NewStruct(map[string]any{
					"id":                    "aurora",
					"operating_start":       "20:00",
					"operating_end":         "02:00",
					"slot_minutes":          90,
					"special_starts":        []any{"23:00", "bogus"},
					"running_cost_per_hour": 15000,
					"capacity":              6,
				})
			},
		}},
	}
	srv.RegisterService(&desc, struct{}{})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	client, err := NewGRPC("passthrough:///fleet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	if err != nil {
		t.Fatalf("NewGRPC: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestGRPCVessel(t *testing.T) {
	client := startFleet(t)
	ctx := context.Background()

	v, err := client.Vessel(ctx, "aurora")
	if err != nil {
		t.Fatalf("Vessel: %v", err)
	}
	if v.SlotMinutes != 90 || v.Capacity != 6 || v.OperatingEnd.String() != "02:00" || len(v.SpecialStarts) != 1 {
		t.Fatalf("unexpected vessel %+v", v)
	}
	if _, err := client.Vessel(ctx, "ghost"); apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

type fakeKV struct {
	data map[string]string
	sets int
}

func (f *fakeKV) Get(_ context.Context, key string) *redis.StringCmd {
	if v, ok := f.data[key]; ok {
		return redis.NewStringResult(v, nil)
	}
	return redis.NewStringResult("", redis.Nil)
}

func (f *fakeKV) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	f.sets++
	f.data[key] = value.(string)
	return redis.NewStatusResult("OK", nil)
}

type countingDirectory struct{ calls int }

func (d *countingDirectory) DisplayName(_ context.Context, id string) (string, error) {
	d.calls++
	return "Name of " + id, nil
}

func TestCachedDirectory(t *testing.T) {
	kv := &fakeKV{data: map[string]string{}}
	next := &countingDirectory{}
	c := NewCachedDirectory(next, kv, time.Minute)

	for i := 0; i < 3; i++ {
		name, err := c.DisplayName(context.Background(), "skipper")
		if err != nil || name != "Name of skipper" {
			t.Fatalf("unexpected %q %v", name, err)
		}
	}
	if next.calls != 1 || kv.sets != 1 {
		t.Fatalf("expected one upstream call and one cache fill, got %d and %d", next.calls, kv.sets)
	}
}
