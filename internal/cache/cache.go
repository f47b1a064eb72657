package cache

import (
	"context"
	"time"

	"salepa/backend/internal/domain"
)

// ScheduleCache holds the non-cancelled appointments of a calendar day so
// repeated availability checks do not rescan the repository.
type ScheduleCache interface {
	GetDay(ctx context.Context, date string) ([]domain.Appointment, bool, error)
	SetDay(ctx context.Context, date string, appointments []domain.Appointment, ttl time.Duration) error
	InvalidateDay(ctx context.Context, date string) error
}

type NoopScheduleCache struct{}

func (NoopScheduleCache) GetDay(_ context.Context, _ string) ([]domain.Appointment, bool, error) {
	return nil, false, nil
}

func (NoopScheduleCache) SetDay(_ context.Context, _ string, _ []domain.Appointment, _ time.Duration) error {
	return nil
}

func (NoopScheduleCache) InvalidateDay(_ context.Context, _ string) error {
	return nil
}
