package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mshibata0117/gitlab-mirror-manager/internal/domain"
	apperrors "github.com/mshibata0117/gitlab-mirror-manager/internal/errors"
)

// seedInstancePair stores two instances, a push pair between them, and n
// mirrors hosted on the source side with remote mirror IDs 1..n
func seedInstancePair(store *fakeStore, n int) (*domain.GitLabInstance, *domain.InstancePair, []*domain.Mirror) {
	source := &domain.GitLabInstance{ID: "inst-a", Name: "primary", URL: "https://gitlab-a.example.com", Token: "t"}
	target := &domain.GitLabInstance{ID: "inst-b", Name: "replica", URL: "https://gitlab-b.example.com", Token: "t"}
	store.instances[source.ID] = source
	store.instances[target.ID] = target

	pair := &domain.InstancePair{
		ID:               "pair-1",
		Name:             "primary-to-replica",
		SourceInstanceID: source.ID,
		TargetInstanceID: target.ID,
		Direction:        domain.MirrorDirectionPush,
		Enabled:          true,
	}
	store.pairs[pair.ID] = pair

	mirrors := make([]*domain.Mirror, n)
	for i := 0; i < n; i++ {
		mirrors[i] = &domain.Mirror{
			ID:             string(rune('a' + i)),
			PairID:         pair.ID,
			HostProjectID:  10 + i,
			RemoteURL:      "https://gitlab-b.example.com/group/app.git",
			Direction:      domain.MirrorDirectionPush,
			RemoteMirrorID: i + 1,
			CreatedAt:      time.Now(),
		}
		store.mirrors = append(store.mirrors, mirrors[i])
	}
	return source, pair, mirrors
}

func TestInstanceDeleteCascadeBestEffort(t *testing.T) {
	store := newFakeStore()
	source, _, _ := seedInstancePair(store, 3)

	client := newFakeClient()
	// The remote delete for mirror #2 always fails.
	client.deleteErrs[2] = errors.New("500 internal server error")

	svc := NewInstanceService(store, fakeFactory(map[string]*fakeClient{source.ID: client}), testConfig(), testLogger())

	result, err := svc.Delete(context.Background(), source.ID)
	require.NoError(t, err)

	// Partial remote failure is a warning, not an error.
	require.NotNil(t, result.RemoteCleanup)
	assert.Equal(t, 2, result.RemoteCleanup.Summary.Succeeded)
	assert.Equal(t, 1, result.RemoteCleanup.Summary.Failed)
	assert.Equal(t, 1, result.RemoteCleanup.WarningCount())

	// Remote deletes happened in input order, skipping the failed one.
	assert.Equal(t, []int{1, 3}, client.deleted)

	// The local cascade still removed every row.
	assert.Equal(t, 3, result.MirrorsRemoved)
	assert.Equal(t, 1, result.PairsRemoved)
	assert.Empty(t, store.mirrors)
	assert.Empty(t, store.pairs)
	assert.NotContains(t, store.instances, source.ID)
}

func TestInstanceDeletePersistenceFailureAborts(t *testing.T) {
	store := newFakeStore()
	source, _, _ := seedInstancePair(store, 2)
	store.cascadeErr = apperrors.NewPersistenceError("commit failed", errors.New("disk full"))

	client := newFakeClient()
	svc := NewInstanceService(store, fakeFactory(map[string]*fakeClient{source.ID: client}), testConfig(), testLogger())

	result, err := svc.Delete(context.Background(), source.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsPersistence(err))

	// Remote cleanup already ran and is surfaced even though the local
	// delete rolled back.
	require.NotNil(t, result.RemoteCleanup)
	assert.Equal(t, 2, result.RemoteCleanup.Summary.Succeeded)
	assert.Len(t, store.mirrors, 2)
}

func TestInstanceDeleteNotFound(t *testing.T) {
	store := newFakeStore()
	svc := NewInstanceService(store, fakeFactory(nil), testConfig(), testLogger())

	_, err := svc.Delete(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestHealthSweep(t *testing.T) {
	store := newFakeStore()
	store.instances["up"] = &domain.GitLabInstance{ID: "up", Name: "healthy", URL: "https://a.example.com", Token: "t"}
	store.instances["down"] = &domain.GitLabInstance{ID: "down", Name: "unreachable", URL: "https://b.example.com", Token: "t"}

	okClient := newFakeClient()
	badClient := newFakeClient()
	badClient.connErr = errors.New("connection refused")

	svc := NewInstanceService(store, fakeFactory(map[string]*fakeClient{
		"up":   okClient,
		"down": badClient,
	}), testConfig(), testLogger())

	report, err := svc.HealthSweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Report.Summary.Succeeded)
	assert.Equal(t, 1, report.Report.Summary.Failed)
	require.Len(t, report.Instances, 2)

	byID := make(map[string]*domain.InstanceHealth)
	for _, h := range report.Instances {
		byID[h.InstanceID] = h
	}
	assert.True(t, byID["up"].Reachable)
	assert.Equal(t, "16.9.1-ee", byID["up"].Version)
	assert.Equal(t, "ee", byID["up"].Edition)
	assert.False(t, byID["down"].Reachable)
	assert.Contains(t, byID["down"].Error, "connection refused")
}

func TestInstanceCreateValidates(t *testing.T) {
	store := newFakeStore()
	svc := NewInstanceService(store, fakeFactory(nil), testConfig(), testLogger())

	_, err := svc.Create(context.Background(), "", "https://a.example.com", "t")
	require.Error(t, err)

	instance, err := svc.Create(context.Background(), "primary", "https://a.example.com", "t")
	require.NoError(t, err)
	assert.NotEmpty(t, instance.ID)
	assert.Contains(t, store.instances, instance.ID)
}
