package storage

import (
	"context"
	"time"

	"github.com/mshibata0117/gitlab-mirror-manager/internal/domain"
)

// Storage is the abstract interface for the persistence layer
type Storage interface {
	// Instance operations
	SaveInstance(ctx context.Context, instance *domain.GitLabInstance) error
	GetInstance(ctx context.Context, id string) (*domain.GitLabInstance, error)
	ListInstances(ctx context.Context) ([]*domain.GitLabInstance, error)

	// DeleteInstanceCascade removes the instance plus every pair and mirror
	// referencing it as a single transaction, after the remote cleanup phase
	// has already run. Returns how many mirror and pair rows were removed.
	DeleteInstanceCascade(ctx context.Context, id string) (mirrors int, pairs int, err error)

	// Pair operations
	SavePair(ctx context.Context, pair *domain.InstancePair) error
	GetPair(ctx context.Context, id string) (*domain.InstancePair, error)
	ListPairs(ctx context.Context) ([]*domain.InstancePair, error)
	DeletePair(ctx context.Context, id string) error

	// Mirror operations
	SaveMirror(ctx context.Context, mirror *domain.Mirror) error
	GetMirror(ctx context.Context, id string) (*domain.Mirror, error)
	ListMirrorsByPair(ctx context.Context, pairID string) ([]*domain.Mirror, error)
	ListMirrorsByInstance(ctx context.Context, instanceID string) ([]*domain.Mirror, error)
	UpdateMirrorStatus(ctx context.Context, id, status, lastError string, syncedAt *time.Time) error
	DeleteMirror(ctx context.Context, id string) error
	DeleteMirrors(ctx context.Context, ids []string) error

	// Migration
	Migrate(ctx context.Context) error

	// Connection management
	Close() error
}
