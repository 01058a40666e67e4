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

// MirrorService manages instance pairs and the mirrors configured under them
type MirrorService struct {
	deps
}

// NewMirrorService creates a new mirror service
func NewMirrorService(store storage.Storage, clients gitlab.Factory, cfg *config.Config, log *logrus.Entry) *MirrorService {
	return &MirrorService{deps: newDeps(store, clients, cfg, log)}
}

// CreatePair registers a new instance pair with default mirror settings
func (s *MirrorService) CreatePair(ctx context.Context, pair *domain.InstancePair) (*domain.InstancePair, error) {
	if pair.Name == "" || pair.SourceInstanceID == "" || pair.TargetInstanceID == "" {
		return nil, apperrors.NewBadRequestError("name, source_instance_id and target_instance_id are required")
	}
	if pair.Direction == "" {
		pair.Direction = domain.MirrorDirectionPush
	}
	if pair.Direction != domain.MirrorDirectionPush && pair.Direction != domain.MirrorDirectionPull {
		return nil, apperrors.NewBadRequestError("direction must be 'push' or 'pull'")
	}

	// Both sides must exist.
	if _, err := s.store.GetInstance(ctx, pair.SourceInstanceID); err != nil {
		return nil, err
	}
	if _, err := s.store.GetInstance(ctx, pair.TargetInstanceID); err != nil {
		return nil, err
	}

	now := time.Now()
	pair.ID = uuid.New().String()
	pair.CreatedAt = now
	pair.UpdatedAt = now
	if err := s.store.SavePair(ctx, pair); err != nil {
		return nil, err
	}
	return pair, nil
}

// GetPair retrieves one pair
func (s *MirrorService) GetPair(ctx context.Context, id string) (*domain.InstancePair, error) {
	return s.store.GetPair(ctx, id)
}

// ListPairs retrieves all pairs
func (s *MirrorService) ListPairs(ctx context.Context) ([]*domain.InstancePair, error) {
	return s.store.ListPairs(ctx)
}

// DeletePair removes a pair after best-effort remote cleanup of its mirrors
func (s *MirrorService) DeletePair(ctx context.Context, id string) (*domain.BatchReport, error) {
	report, err := s.Cleanup(ctx, id)
	if err != nil {
		return report, err
	}
	if err := s.store.DeletePair(ctx, id); err != nil {
		return report, err
	}
	return report, nil
}

// CreateMirror configures a mirror on the remote host project and persists
// the local record. Pair defaults fill the mirror settings.
func (s *MirrorService) CreateMirror(ctx context.Context, pairID string, hostProjectID int, remoteURL string) (*domain.Mirror, error) {
	if hostProjectID <= 0 || remoteURL == "" {
		return nil, apperrors.NewBadRequestError("host_project_id and remote_url are required")
	}

	pair, err := s.store.GetPair(ctx, pairID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	mirror := &domain.Mirror{
		ID:            uuid.New().String(),
		PairID:        pair.ID,
		HostProjectID: hostProjectID,
		RemoteURL:     remoteURL,
		Direction:     pair.Direction,
		Enabled:       pair.Enabled,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	client, err := s.clientFor(ctx, mirror.HostInstanceID(pair))
	if err != nil {
		return nil, err
	}

	// A single-item batch: no pacing, but the same bounded-retry semantics
	// as the bulk flows.
	var info *gitlab.MirrorInfo
	items := []orchestrator.BatchItem{{
		Name: fmt.Sprintf("create mirror on project %d", hostProjectID),
		Run: func(ctx context.Context) error {
			created, err := client.CreateMirror(ctx, gitlab.CreateMirrorOptions{
				ProjectID:             hostProjectID,
				URL:                   remoteURL,
				Direction:             pair.Direction,
				Enabled:               pair.Enabled,
				OnlyProtectedBranches: pair.OnlyProtectedBranches,
				KeepDivergentRefs:     pair.KeepDivergentRefs,
			})
			if err != nil {
				return err
			}
			info = created
			return nil
		},
	}}

	report, err := orchestrator.RunBatch(ctx, s.log, s.batchCfg, "create mirror", items)
	if err != nil {
		return nil, err
	}
	if report.Summary.Failed > 0 {
		return nil, apperrors.NewRemoteError("failed to create remote mirror", fmt.Errorf("%s", report.Summary.Warnings[0]))
	}

	mirror.RemoteMirrorID = info.ID
	mirror.UpdateStatus = info.UpdateStatus
	if err := s.store.SaveMirror(ctx, mirror); err != nil {
		return nil, err
	}
	return mirror, nil
}

// GetMirror retrieves one mirror
func (s *MirrorService) GetMirror(ctx context.Context, id string) (*domain.Mirror, error) {
	return s.store.GetMirror(ctx, id)
}

// ListMirrors retrieves the mirrors of a pair
func (s *MirrorService) ListMirrors(ctx context.Context, pairID string) ([]*domain.Mirror, error) {
	return s.store.ListMirrorsByPair(ctx, pairID)
}

// UpdateMirror changes a mirror's settings remotely and locally
func (s *MirrorService) UpdateMirror(ctx context.Context, id string, opts gitlab.UpdateMirrorOptions) (*domain.Mirror, error) {
	mirror, err := s.store.GetMirror(ctx, id)
	if err != nil {
		return nil, err
	}
	pair, err := s.store.GetPair(ctx, mirror.PairID)
	if err != nil {
		return nil, err
	}
	client, err := s.clientFor(ctx, mirror.HostInstanceID(pair))
	if err != nil {
		return nil, err
	}

	items := []orchestrator.BatchItem{{
		Name: fmt.Sprintf("update mirror %s", mirror.ID),
		Run: func(ctx context.Context) error {
			_, err := client.UpdateMirror(ctx, mirror.Direction, mirror.HostProjectID, mirror.RemoteMirrorID, opts)
			return err
		},
	}}
	report, err := orchestrator.RunBatch(ctx, s.log, s.batchCfg, "update mirror", items)
	if err != nil {
		return nil, err
	}
	if report.Summary.Failed > 0 {
		return nil, apperrors.NewRemoteError("failed to update remote mirror", fmt.Errorf("%s", report.Summary.Warnings[0]))
	}

	if opts.Enabled != nil {
		mirror.Enabled = *opts.Enabled
	}
	mirror.UpdatedAt = time.Now()
	if err := s.store.SaveMirror(ctx, mirror); err != nil {
		return nil, err
	}
	return mirror, nil
}

// DeleteMirror removes one mirror remotely and locally. The remote delete
// must succeed (a 404 counts as success) before the local row is removed.
func (s *MirrorService) DeleteMirror(ctx context.Context, id string) error {
	mirror, err := s.store.GetMirror(ctx, id)
	if err != nil {
		return err
	}
	pair, err := s.store.GetPair(ctx, mirror.PairID)
	if err != nil {
		return err
	}
	client, err := s.clientFor(ctx, mirror.HostInstanceID(pair))
	if err != nil {
		return err
	}

	items := []orchestrator.BatchItem{{
		Name: fmt.Sprintf("delete mirror %s", mirror.ID),
		Run: func(ctx context.Context) error {
			return client.DeleteMirror(ctx, mirror.Direction, mirror.HostProjectID, mirror.RemoteMirrorID)
		},
	}}
	report, err := orchestrator.RunBatch(ctx, s.log, s.batchCfg, "delete mirror", items)
	if err != nil {
		return err
	}
	if report.Summary.Failed > 0 {
		return apperrors.NewRemoteError("failed to delete remote mirror", fmt.Errorf("%s", report.Summary.Warnings[0]))
	}

	return s.store.DeleteMirror(ctx, id)
}

// Cleanup deletes all of a pair's mirrors on their remote hosts,
// best-effort, then removes the local rows for the whole batch regardless of
// per-item remote failures
func (s *MirrorService) Cleanup(ctx context.Context, pairID string) (*domain.BatchReport, error) {
	pair, err := s.store.GetPair(ctx, pairID)
	if err != nil {
		return nil, err
	}
	mirrors, err := s.store.ListMirrorsByPair(ctx, pairID)
	if err != nil {
		return nil, err
	}

	cache := s.newClientCache()
	ids := make([]string, 0, len(mirrors))
	items := make([]orchestrator.BatchItem, 0, len(mirrors))
	for _, mirror := range mirrors {
		mirror := mirror
		ids = append(ids, mirror.ID)
		items = append(items, orchestrator.BatchItem{
			Name: fmt.Sprintf("mirror %s (%s)", mirror.ID, mirror.RemoteURL),
			Run: func(ctx context.Context) error {
				client, err := cache.get(ctx, mirror.HostInstanceID(pair))
				if err != nil {
					return err
				}
				return client.DeleteMirror(ctx, mirror.Direction, mirror.HostProjectID, mirror.RemoteMirrorID)
			},
		})
	}

	report, err := orchestrator.RunBatch(ctx, s.log, s.batchCfg, "mirror cleanup", items)
	if err != nil {
		return report, err
	}

	if err := s.store.DeleteMirrors(ctx, ids); err != nil {
		return report, err
	}
	return report, nil
}

// RefreshStatus polls the remote update status of every push mirror in a
// pair and persists it
func (s *MirrorService) RefreshStatus(ctx context.Context, pairID string) (*domain.BatchReport, error) {
	pair, err := s.store.GetPair(ctx, pairID)
	if err != nil {
		return nil, err
	}
	mirrors, err := s.store.ListMirrorsByPair(ctx, pairID)
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
				// Pull mirror status is a project setting the remote mirrors
				// API does not expose; only push mirrors are polled.
				if mirror.Direction == domain.MirrorDirectionPull {
					return nil
				}

				client, err := cache.get(ctx, mirror.HostInstanceID(pair))
				if err != nil {
					return err
				}
				remotes, err := client.ListProjectMirrors(ctx, mirror.HostProjectID)
				if err != nil {
					return err
				}

				for _, remote := range remotes {
					if remote.ID == mirror.RemoteMirrorID {
						return s.store.UpdateMirrorStatus(ctx, mirror.ID, remote.UpdateStatus, remote.LastError, remote.LastSuccessfulUpdateAt)
					}
				}
				return s.store.UpdateMirrorStatus(ctx, mirror.ID, "removed", "mirror no longer exists on remote", nil)
			},
		})
	}

	return orchestrator.RunBatch(ctx, s.log, s.batchCfg, "status refresh", items)
}
