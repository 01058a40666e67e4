package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mshibata0117/gitlab-mirror-manager/internal/domain"
	apperrors "github.com/mshibata0117/gitlab-mirror-manager/internal/errors"
	"github.com/mshibata0117/gitlab-mirror-manager/internal/gitlab"
)

func TestCreateMirrorUsesPairDefaults(t *testing.T) {
	store := newFakeStore()
	source, pair, _ := seedInstancePair(store, 0)
	pair.OnlyProtectedBranches = true
	pair.KeepDivergentRefs = true

	client := newFakeClient()
	svc := NewMirrorService(store, fakeFactory(map[string]*fakeClient{source.ID: client}), testConfig(), testLogger())

	mirror, err := svc.CreateMirror(context.Background(), pair.ID, 42, "https://gitlab-b.example.com/group/app.git")
	require.NoError(t, err)

	require.Len(t, client.created, 1)
	assert.Equal(t, 42, client.created[0].ProjectID)
	assert.True(t, client.created[0].OnlyProtectedBranches)
	assert.True(t, client.created[0].KeepDivergentRefs)
	assert.Equal(t, domain.MirrorDirectionPush, client.created[0].Direction)

	assert.Equal(t, client.nextID, mirror.RemoteMirrorID)
	stored, err := store.GetMirror(context.Background(), mirror.ID)
	require.NoError(t, err)
	assert.Equal(t, pair.ID, stored.PairID)
}

func TestCreateMirrorValidates(t *testing.T) {
	store := newFakeStore()
	_, pair, _ := seedInstancePair(store, 0)
	svc := NewMirrorService(store, fakeFactory(nil), testConfig(), testLogger())

	_, err := svc.CreateMirror(context.Background(), pair.ID, 0, "https://x.example.com/a.git")
	require.Error(t, err)

	_, err = svc.CreateMirror(context.Background(), "missing-pair", 42, "https://x.example.com/a.git")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestCleanupRemovesRowsDespiteRemoteFailures(t *testing.T) {
	store := newFakeStore()
	source, pair, _ := seedInstancePair(store, 3)

	client := newFakeClient()
	client.deleteErrs[2] = errors.New("503 service unavailable")

	svc := NewMirrorService(store, fakeFactory(map[string]*fakeClient{source.ID: client}), testConfig(), testLogger())

	report, err := svc.Cleanup(context.Background(), pair.ID)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Summary.Succeeded)
	assert.Equal(t, 1, report.Summary.Failed)
	require.Len(t, report.Summary.Warnings, 1)

	// Best-effort: local rows for the whole batch are gone regardless.
	assert.Empty(t, store.mirrors)
}

func TestDeleteMirrorRemoteFailureKeepsRow(t *testing.T) {
	store := newFakeStore()
	source, _, mirrors := seedInstancePair(store, 1)

	client := newFakeClient()
	client.deleteErrs[1] = errors.New("403 forbidden")

	svc := NewMirrorService(store, fakeFactory(map[string]*fakeClient{source.ID: client}), testConfig(), testLogger())

	err := svc.DeleteMirror(context.Background(), mirrors[0].ID)
	require.Error(t, err)
	assert.Len(t, store.mirrors, 1)
}

func TestDeleteMirror(t *testing.T) {
	store := newFakeStore()
	source, _, mirrors := seedInstancePair(store, 1)

	client := newFakeClient()
	svc := NewMirrorService(store, fakeFactory(map[string]*fakeClient{source.ID: client}), testConfig(), testLogger())

	require.NoError(t, svc.DeleteMirror(context.Background(), mirrors[0].ID))
	assert.Equal(t, []int{1}, client.deleted)
	assert.Empty(t, store.mirrors)
}

func TestRefreshStatus(t *testing.T) {
	store := newFakeStore()
	source, pair, mirrors := seedInstancePair(store, 2)

	client := newFakeClient()
	// Mirror 1 reports a finished sync; mirror 2 is gone remotely.
	client.remoteMirrors[mirrors[0].HostProjectID] = []*gitlab.MirrorInfo{
		{ID: 1, UpdateStatus: "finished"},
	}

	svc := NewMirrorService(store, fakeFactory(map[string]*fakeClient{source.ID: client}), testConfig(), testLogger())

	report, err := svc.RefreshStatus(context.Background(), pair.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Summary.Succeeded)

	first, _ := store.GetMirror(context.Background(), mirrors[0].ID)
	assert.Equal(t, "finished", first.UpdateStatus)
	second, _ := store.GetMirror(context.Background(), mirrors[1].ID)
	assert.Equal(t, "removed", second.UpdateStatus)
}

func TestCreatePairValidatesInstances(t *testing.T) {
	store := newFakeStore()
	seedInstancePair(store, 0)
	svc := NewMirrorService(store, fakeFactory(nil), testConfig(), testLogger())

	_, err := svc.CreatePair(context.Background(), &domain.InstancePair{
		Name:             "bad",
		SourceInstanceID: "inst-a",
		TargetInstanceID: "missing",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))

	pair, err := svc.CreatePair(context.Background(), &domain.InstancePair{
		Name:             "ok",
		SourceInstanceID: "inst-a",
		TargetInstanceID: "inst-b",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.MirrorDirectionPush, pair.Direction)
	assert.NotEmpty(t, pair.ID)
}
