package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mshibata0117/gitlab-mirror-manager/internal/config"
	"github.com/mshibata0117/gitlab-mirror-manager/internal/domain"
	apperrors "github.com/mshibata0117/gitlab-mirror-manager/internal/errors"
	"github.com/mshibata0117/gitlab-mirror-manager/internal/gitlab"
	"github.com/mshibata0117/gitlab-mirror-manager/internal/orchestrator"
	"github.com/mshibata0117/gitlab-mirror-manager/internal/storage"
)

// InstanceService manages registered GitLab instances and the batch flows
// that sweep over them
type InstanceService struct {
	deps
}

// NewInstanceService creates a new instance service
func NewInstanceService(store storage.Storage, clients gitlab.Factory, cfg *config.Config, log *logrus.Entry) *InstanceService {
	return &InstanceService{deps: newDeps(store, clients, cfg, log)}
}

// Create registers a new instance
func (s *InstanceService) Create(ctx context.Context, name, url, token string) (*domain.GitLabInstance, error) {
	if name == "" || url == "" || token == "" {
		return nil, apperrors.NewBadRequestError("name, url and token are required")
	}

	now := time.Now()
	instance := &domain.GitLabInstance{
		ID:        uuid.New().String(),
		Name:      name,
		URL:       url,
		Token:     token,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.SaveInstance(ctx, instance); err != nil {
		return nil, err
	}
	return instance, nil
}

// Get retrieves one instance
func (s *InstanceService) Get(ctx context.Context, id string) (*domain.GitLabInstance, error) {
	return s.store.GetInstance(ctx, id)
}

// List retrieves all instances
func (s *InstanceService) List(ctx context.Context) ([]*domain.GitLabInstance, error) {
	return s.store.ListInstances(ctx)
}

// Projects lists remote projects on one instance
func (s *InstanceService) Projects(ctx context.Context, id string, opts gitlab.ListOptions) ([]*gitlab.ProjectInfo, error) {
	client, err := s.clientFor(ctx, id)
	if err != nil {
		return nil, err
	}
	return client.ListProjects(ctx, opts)
}

// Groups lists remote groups on one instance
func (s *InstanceService) Groups(ctx context.Context, id string, opts gitlab.ListOptions) ([]*gitlab.GroupInfo, error) {
	client, err := s.clientFor(ctx, id)
	if err != nil {
		return nil, err
	}
	return client.ListGroups(ctx, opts)
}

// Delete removes an instance. Every mirror whose pair references the
// instance is first deleted on its hosting remote, best-effort and rate
// limited; the local rows are then removed in one transaction regardless of
// per-mirror remote failures. Remote side effects are not transactional: if
// the local delete fails, cleanup already performed on the remotes stands.
func (s *InstanceService) Delete(ctx context.Context, id string) (*domain.CascadeResult, error) {
	if _, err := s.store.GetInstance(ctx, id); err != nil {
		return nil, err
	}

	mirrors, err := s.store.ListMirrorsByInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	pairs, err := s.pairIndex(ctx)
	if err != nil {
		return nil, err
	}

	cache := s.newClientCache()
	items := make([]orchestrator.BatchItem, 0, len(mirrors))
	for _, mirror := range mirrors {
		mirror := mirror
		items = append(items, orchestrator.BatchItem{
			Name: fmt.Sprintf("mirror %s (%s)", mirror.ID, mirror.RemoteURL),
			Run: func(ctx context.Context) error {
				pair, ok := pairs[mirror.PairID]
				if !ok {
					return apperrors.NewNotFoundError("pair for mirror")
				}
				client, err := cache.get(ctx, mirror.HostInstanceID(pair))
				if err != nil {
					return err
				}
				return client.DeleteMirror(ctx, mirror.Direction, mirror.HostProjectID, mirror.RemoteMirrorID)
			},
		})
	}

	report, err := orchestrator.RunBatch(ctx, s.log, s.batchCfg, "instance cleanup", items)
	if err != nil {
		// Cancelled mid-cleanup: surface the partial report, keep local rows.
		return &domain.CascadeResult{InstanceID: id, RemoteCleanup: report}, err
	}

	mirrorsRemoved, pairsRemoved, err := s.store.DeleteInstanceCascade(ctx, id)
	if err != nil {
		return &domain.CascadeResult{InstanceID: id, RemoteCleanup: report}, err
	}

	return &domain.CascadeResult{
		InstanceID:     id,
		RemoteCleanup:  report,
		MirrorsRemoved: mirrorsRemoved,
		PairsRemoved:   pairsRemoved,
	}, nil
}

// HealthSweep checks connectivity and version of every registered instance,
// one at a time, rate limited
func (s *InstanceService) HealthSweep(ctx context.Context) (*domain.HealthReport, error) {
	instances, err := s.store.ListInstances(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]*domain.InstanceHealth, len(instances))
	items := make([]orchestrator.BatchItem, len(instances))
	for i, instance := range instances {
		i, instance := i, instance
		items[i] = orchestrator.BatchItem{
			Name: fmt.Sprintf("instance %s (%s)", instance.Name, instance.URL),
			Run: func(ctx context.Context) error {
				health := &domain.InstanceHealth{
					InstanceID: instance.ID,
					Name:       instance.Name,
					URL:        instance.URL,
					CheckedAt:  time.Now(),
				}
				results[i] = health

				client, err := s.clients(instance, s.timeout)
				if err != nil {
					health.Error = err.Error()
					return err
				}
				if err := client.TestConnection(ctx); err != nil {
					health.Error = err.Error()
					return err
				}
				version, err := client.Version(ctx)
				if err != nil {
					health.Error = err.Error()
					return err
				}

				health.Reachable = true
				health.Error = ""
				health.Version = version.Version
				health.Edition = version.Edition
				return nil
			},
		}
	}

	report, err := orchestrator.RunBatch(ctx, s.log, s.batchCfg, "health sweep", items)
	return &domain.HealthReport{Instances: compactHealth(results), Report: report}, err
}

// compactHealth drops slots never reached, e.g. after a cancellation
func compactHealth(results []*domain.InstanceHealth) []*domain.InstanceHealth {
	out := make([]*domain.InstanceHealth, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}
