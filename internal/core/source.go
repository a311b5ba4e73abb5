package core

import (
	"context"
	"time"

	"github.com/kenedwardtan/real-time-logistics-tracker/internal/models"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/sample"
)

// Source supplies the initial snapshot of the fleet
type Source interface {
	ListDrivers(ctx context.Context) ([]models.Driver, error)
	ListDeliveries(ctx context.Context) ([]models.Delivery, error)
}

// StaticSource serves the demonstration fleet when no database is configured
type StaticSource struct {
	Now func() time.Time
}

func (s StaticSource) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s StaticSource) ListDrivers(ctx context.Context) ([]models.Driver, error) {
	return sample.Drivers(s.now()), nil
}

func (s StaticSource) ListDeliveries(ctx context.Context) ([]models.Delivery, error) {
	return sample.Deliveries(s.now()), nil
}
