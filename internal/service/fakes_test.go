package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mshibata0117/gitlab-mirror-manager/internal/config"
	"github.com/mshibata0117/gitlab-mirror-manager/internal/domain"
	apperrors "github.com/mshibata0117/gitlab-mirror-manager/internal/errors"
	"github.com/mshibata0117/gitlab-mirror-manager/internal/gitlab"
)

func testConfig() *config.Config {
	return &config.Config{
		StorageType:         "sqlite",
		GitLabAPIDelay:      0,
		GitLabAPIMaxRetries: 0,
		GitLabAPITimeout:    time.Second,
	}
}

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(log)
}

// fakeStore is an in-memory Storage that preserves mirror insertion order
type fakeStore struct {
	instances  map[string]*domain.GitLabInstance
	pairs      map[string]*domain.InstancePair
	mirrors    []*domain.Mirror
	cascadeErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		instances: make(map[string]*domain.GitLabInstance),
		pairs:     make(map[string]*domain.InstancePair),
	}
}

func (f *fakeStore) SaveInstance(_ context.Context, instance *domain.GitLabInstance) error {
	f.instances[instance.ID] = instance
	return nil
}

func (f *fakeStore) GetInstance(_ context.Context, id string) (*domain.GitLabInstance, error) {
	instance, ok := f.instances[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("instance")
	}
	return instance, nil
}

func (f *fakeStore) ListInstances(_ context.Context) ([]*domain.GitLabInstance, error) {
	var out []*domain.GitLabInstance
	for _, instance := range f.instances {
		out = append(out, instance)
	}
	return out, nil
}

func (f *fakeStore) DeleteInstanceCascade(_ context.Context, id string) (int, int, error) {
	if f.cascadeErr != nil {
		return 0, 0, f.cascadeErr
	}
	if _, ok := f.instances[id]; !ok {
		return 0, 0, apperrors.NewNotFoundError("instance")
	}

	var pairsRemoved, mirrorsRemoved int
	for pairID, pair := range f.pairs {
		if pair.SourceInstanceID != id && pair.TargetInstanceID != id {
			continue
		}
		var kept []*domain.Mirror
		for _, mirror := range f.mirrors {
			if mirror.PairID == pairID {
				mirrorsRemoved++
			} else {
				kept = append(kept, mirror)
			}
		}
		f.mirrors = kept
		delete(f.pairs, pairID)
		pairsRemoved++
	}
	delete(f.instances, id)
	return mirrorsRemoved, pairsRemoved, nil
}

func (f *fakeStore) SavePair(_ context.Context, pair *domain.InstancePair) error {
	f.pairs[pair.ID] = pair
	return nil
}

func (f *fakeStore) GetPair(_ context.Context, id string) (*domain.InstancePair, error) {
	pair, ok := f.pairs[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("pair")
	}
	return pair, nil
}

func (f *fakeStore) ListPairs(_ context.Context) ([]*domain.InstancePair, error) {
	var out []*domain.InstancePair
	for _, pair := range f.pairs {
		out = append(out, pair)
	}
	return out, nil
}

func (f *fakeStore) DeletePair(_ context.Context, id string) error {
	if _, ok := f.pairs[id]; !ok {
		return apperrors.NewNotFoundError("pair")
	}
	delete(f.pairs, id)
	return nil
}

func (f *fakeStore) SaveMirror(_ context.Context, mirror *domain.Mirror) error {
	for i, existing := range f.mirrors {
		if existing.ID == mirror.ID {
			f.mirrors[i] = mirror
			return nil
		}
	}
	f.mirrors = append(f.mirrors, mirror)
	return nil
}

func (f *fakeStore) GetMirror(_ context.Context, id string) (*domain.Mirror, error) {
	for _, mirror := range f.mirrors {
		if mirror.ID == id {
			return mirror, nil
		}
	}
	return nil, apperrors.NewNotFoundError("mirror")
}

func (f *fakeStore) ListMirrorsByPair(_ context.Context, pairID string) ([]*domain.Mirror, error) {
	var out []*domain.Mirror
	for _, mirror := range f.mirrors {
		if mirror.PairID == pairID {
			out = append(out, mirror)
		}
	}
	return out, nil
}

func (f *fakeStore) ListMirrorsByInstance(_ context.Context, instanceID string) ([]*domain.Mirror, error) {
	var out []*domain.Mirror
	for _, mirror := range f.mirrors {
		pair, ok := f.pairs[mirror.PairID]
		if !ok {
			continue
		}
		if pair.SourceInstanceID == instanceID || pair.TargetInstanceID == instanceID {
			out = append(out, mirror)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateMirrorStatus(_ context.Context, id, status, lastError string, syncedAt *time.Time) error {
	for _, mirror := range f.mirrors {
		if mirror.ID == id {
			mirror.UpdateStatus = status
			mirror.LastError = lastError
			mirror.LastSyncedAt = syncedAt
			return nil
		}
	}
	return apperrors.NewNotFoundError("mirror")
}

func (f *fakeStore) DeleteMirror(_ context.Context, id string) error {
	for i, mirror := range f.mirrors {
		if mirror.ID == id {
			f.mirrors = append(f.mirrors[:i], f.mirrors[i+1:]...)
			return nil
		}
	}
	return apperrors.NewNotFoundError("mirror")
}

func (f *fakeStore) DeleteMirrors(_ context.Context, ids []string) error {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	var kept []*domain.Mirror
	for _, mirror := range f.mirrors {
		if !drop[mirror.ID] {
			kept = append(kept, mirror)
		}
	}
	f.mirrors = kept
	return nil
}

func (f *fakeStore) Migrate(_ context.Context) error { return nil }
func (f *fakeStore) Close() error                    { return nil }

// fakeClient is a scriptable gitlab.Client
type fakeClient struct {
	connErr       error
	version       *gitlab.VersionInfo
	remoteMirrors map[int][]*gitlab.MirrorInfo // by project ID
	deleteErrs    map[int]error                // by remote mirror ID
	listErr       error

	deleted []int
	created []gitlab.CreateMirrorOptions
	nextID  int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		version:       &gitlab.VersionInfo{Version: "16.9.1-ee", Edition: "ee"},
		remoteMirrors: make(map[int][]*gitlab.MirrorInfo),
		deleteErrs:    make(map[int]error),
		nextID:        100,
	}
}

func (f *fakeClient) TestConnection(_ context.Context) error { return f.connErr }

func (f *fakeClient) CurrentUser(_ context.Context) (*gitlab.UserInfo, error) {
	if f.connErr != nil {
		return nil, f.connErr
	}
	return &gitlab.UserInfo{ID: 1, Username: "mirror-bot"}, nil
}

func (f *fakeClient) Version(_ context.Context) (*gitlab.VersionInfo, error) {
	if f.connErr != nil {
		return nil, f.connErr
	}
	return f.version, nil
}

func (f *fakeClient) ListProjects(_ context.Context, _ gitlab.ListOptions) ([]*gitlab.ProjectInfo, error) {
	return nil, f.listErr
}

func (f *fakeClient) ListGroups(_ context.Context, _ gitlab.ListOptions) ([]*gitlab.GroupInfo, error) {
	return nil, f.listErr
}

func (f *fakeClient) ListProjectMirrors(_ context.Context, projectID int) ([]*gitlab.MirrorInfo, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.remoteMirrors[projectID], nil
}

func (f *fakeClient) CreateMirror(_ context.Context, opts gitlab.CreateMirrorOptions) (*gitlab.MirrorInfo, error) {
	f.created = append(f.created, opts)
	f.nextID++
	return &gitlab.MirrorInfo{ID: f.nextID, URL: opts.URL, Enabled: opts.Enabled}, nil
}

func (f *fakeClient) UpdateMirror(_ context.Context, _ domain.MirrorDirection, _, mirrorID int, opts gitlab.UpdateMirrorOptions) (*gitlab.MirrorInfo, error) {
	info := &gitlab.MirrorInfo{ID: mirrorID}
	if opts.Enabled != nil {
		info.Enabled = *opts.Enabled
	}
	return info, nil
}

func (f *fakeClient) DeleteMirror(_ context.Context, _ domain.MirrorDirection, _, mirrorID int) error {
	if err := f.deleteErrs[mirrorID]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, mirrorID)
	return nil
}

// fakeFactory hands out one scripted client per instance ID
func fakeFactory(clients map[string]*fakeClient) gitlab.Factory {
	return func(instance *domain.GitLabInstance, _ time.Duration) (gitlab.Client, error) {
		client, ok := clients[instance.ID]
		if !ok {
			return nil, fmt.Errorf("no client scripted for instance %s", instance.ID)
		}
		return client, nil
	}
}
