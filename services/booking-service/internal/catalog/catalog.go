// Package catalog reads vessel configuration and people's display names from the fleet
// and identity collaborators.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/harborops/slotkeeper/services/booking-service/internal/apperr"
	"github.com/harborops/slotkeeper/services/booking-service/internal/model"
)

// Directory resolves actor and customer ids to display names.
type Directory interface {
	DisplayName(ctx context.Context, id string) (string, error)
}

// Static serves a fixed fleet and directory, loaded from a JSON file or built in code.
type Static struct {
	vessels map[string]model.Vessel
	names   map[string]string
}

type staticFile struct {
	Vessels []model.Vessel    `json:"vessels"`
	Names   map[string]string `json:"names"`
}

func NewStatic(vessels []model.Vessel, names map[string]string) *Static {
	s := &Static{vessels: make(map[string]model.Vessel, len(vessels)), names: map[string]string{}}
	for _, v := range vessels {
		s.vessels[v.ID] = v
	}
	for id, name := range names {
		s.names[id] = name
	}
	return s
}

func LoadStatic(path string) (*Static, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f staticFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for _, v := range f.Vessels {
		if v.ID == "" {
			return nil, fmt.Errorf("parse %s: vessel without id", path)
		}
		if v.SlotMinutes <= 0 {
			return nil, fmt.Errorf("parse %s: vessel %s has slot_minutes %d", path, v.ID, v.SlotMinutes)
		}
	}
	return NewStatic(f.Vessels, f.Names), nil
}

func (s *Static) Vessel(_ context.Context, id string) (model.Vessel, error) {
	v, ok := s.vessels[id]
	if !ok {
		return model.Vessel{}, apperr.New(apperr.NotFound, "vessel %s not found", id)
	}
	return v, nil
}

func (s *Static) DisplayName(_ context.Context, id string) (string, error) {
	if name, ok := s.names[id]; ok {
		return name, nil
	}
	return id, nil
}
