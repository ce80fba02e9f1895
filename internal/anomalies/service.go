// Package anomalies implements the operator actions on anomalies.
package anomalies

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/technosupport/ts-vms-monitor/internal/data"
	"github.com/technosupport/ts-vms-monitor/internal/store"
)

var ErrEmptyID = errors.New("anomaly id is required")

type Client interface {
	UpdateAnomalyStatus(ctx context.Context, id string, status data.AnomalyStatus) (data.Anomaly, error)
	DeleteAnomaly(ctx context.Context, id string) error
}

type Refresher interface {
	RefreshAll(ctx context.Context, kinds ...data.Kind) map[data.Kind]error
}

type Service struct {
	client    Client
	store     *store.Store
	refresher Refresher
	log       zerolog.Logger
}

func NewService(c Client, s *store.Store, r Refresher, log zerolog.Logger) *Service {
	return &Service{client: c, store: s, refresher: r, log: log}
}

func (s *Service) Acknowledge(ctx context.Context, id string) (data.Anomaly, error) {
	return s.setStatus(ctx, id, data.AnomalyAcknowledged)
}

func (s *Service) Resolve(ctx context.Context, id string) (data.Anomaly, error) {
	return s.setStatus(ctx, id, data.AnomalyResolved)
}

func (s *Service) setStatus(ctx context.Context, id string, status data.AnomalyStatus) (data.Anomaly, error) {
	if id == "" {
		return data.Anomaly{}, ErrEmptyID
	}
	a, err := s.client.UpdateAnomalyStatus(ctx, id, status)
	if err != nil {
		return data.Anomaly{}, fmt.Errorf("set anomaly %s %s: %w", id, status, err)
	}

	// an empty or partial reply falls back to the stored copy
	if a.Validate() != nil {
		stored, ok := s.store.Anomaly(id)
		if !ok {
			s.refresh(ctx, data.KindAnomalyStats)
			return data.Anomaly{ID: id, Status: status}, nil
		}
		stored.Status = status
		a = stored
	}
	s.store.UpsertAnomaly(a)
	s.refresh(ctx, data.KindAnomalyStats)
	return a, nil
}

// Delete removes the anomaly on the backend and from the store, then
// reloads the anomaly lists and stats.
func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrEmptyID
	}
	if err := s.client.DeleteAnomaly(ctx, id); err != nil {
		return fmt.Errorf("delete anomaly %s: %w", id, err)
	}
	s.store.RemoveAnomaly(id)
	s.refresh(ctx, data.KindAnomalies, data.KindAnomalyStats, data.KindRecentAnomalies)
	return nil
}

func (s *Service) refresh(ctx context.Context, kinds ...data.Kind) {
	for kind, err := range s.refresher.RefreshAll(ctx, kinds...) {
		if err != nil {
			s.log.Warn().Err(err).Str("kind", string(kind)).Msg("refresh after anomaly change failed")
		}
	}
}
