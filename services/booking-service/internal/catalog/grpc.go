package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/harborops/slotkeeper/libs/grpcx"
	"github.com/harborops/slotkeeper/services/booking-service/internal/apperr"
	"github.com/harborops/slotkeeper/services/booking-service/internal/model"
	"github.com/harborops/slotkeeper/services/booking-service/internal/slots"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	methodGetVessel      = "/fleet.v1.VesselCatalog/GetVessel"
	methodGetDisplayName = "/fleet.v1.Directory/GetDisplayName"
)

// GRPC talks to the fleet service. Messages are google.protobuf.Struct so no generated
// stubs are needed on this side.
type GRPC struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

func NewGRPC(addr string, extra ...grpc.DialOption) (*GRPC, error) {
	conn, err := grpcx.Dial(addr, grpcx.DialOptions{}, extra...)
	if err != nil {
		return nil, err
	}
	return &GRPC{conn: conn, timeout: 3 * time.Second}, nil
}

func (g *GRPC) Close() error { return g.conn.Close() }

func (g *GRPC) invoke(ctx context.Context, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	out := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, method, in, out); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, apperr.Wrap(apperr.NotFound, err, "not found in fleet catalog")
		}
		return nil, err
	}
	return out, nil
}

func (g *GRPC) Vessel(ctx context.Context, id string) (model.Vessel, error) {
	resp, err := g.invoke(ctx, methodGetVessel, map[string]any{"vessel_id": id})
	if err != nil {
		return model.Vessel{}, err
	}
	return vesselFromStruct(resp)
}

func (g *GRPC) DisplayName(ctx context.Context, id string) (string, error) {
	resp, err := g.invoke(ctx, methodGetDisplayName, map[string]any{"id": id})
	if err != nil {
		return "", err
	}
	if name := resp.GetFields()["display_name"].GetStringValue(); name != "" {
		return name, nil
	}
	return id, nil
}

func vesselFromStruct(s *structpb.Struct) (model.Vessel, error) {
	f := s.GetFields()
	v := model.Vessel{
		ID:                 f["id"].GetStringValue(),
		Name:               f["name"].GetStringValue(),
		SlotMinutes:        int(f["slot_minutes"].GetNumberValue()),
		RunningCostPerHour: int64(f["running_cost_per_hour"].GetNumberValue()),
		Capacity:           int(f["capacity"].GetNumberValue()),
	}
	var err error
	if v.OperatingStart, err = slots.ParseTimeOfDay(f["operating_start"].GetStringValue()); err != nil {
		return model.Vessel{}, apperr.Wrap(apperr.InvalidConfiguration, err, fmt.Sprintf("vessel %s operating_start", v.ID))
	}
	if v.OperatingEnd, err = slots.ParseTimeOfDay(f["operating_end"].GetStringValue()); err != nil {
		return model.Vessel{}, apperr.Wrap(apperr.InvalidConfiguration, err, fmt.Sprintf("vessel %s operating_end", v.ID))
	}
	for _, item := range f["special_starts"].GetListValue().GetValues() {
		// Unparseable specials are dropped like any other malformed special.
		if t, err := slots.ParseTimeOfDay(item.GetStringValue()); err == nil {
			v.SpecialStarts = append(v.SpecialStarts, t)
		}
	}
	return v, nil
}
