package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mshibata0117/gitlab-mirror-manager/internal/config"
	"github.com/mshibata0117/gitlab-mirror-manager/internal/domain"
	"github.com/mshibata0117/gitlab-mirror-manager/internal/gitlab"
	"github.com/mshibata0117/gitlab-mirror-manager/internal/orchestrator"
	"github.com/mshibata0117/gitlab-mirror-manager/internal/storage"
)

// deps bundles what every orchestration service needs: the datastore, a way
// to build a client for one instance, and the batch pacing configuration.
type deps struct {
	store    storage.Storage
	clients  gitlab.Factory
	batchCfg orchestrator.Config
	timeout  time.Duration
	log      *logrus.Entry
}

func newDeps(store storage.Storage, clients gitlab.Factory, cfg *config.Config, log *logrus.Entry) deps {
	return deps{
		store:   store,
		clients: clients,
		batchCfg: orchestrator.Config{
			Delay:      cfg.GitLabAPIDelay,
			MaxRetries: cfg.GitLabAPIMaxRetries,
		},
		timeout: cfg.GitLabAPITimeout,
		log:     log,
	}
}

// clientFor builds a client for the given instance ID
func (d deps) clientFor(ctx context.Context, instanceID string) (gitlab.Client, error) {
	instance, err := d.store.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return d.clients(instance, d.timeout)
}

// pairIndex loads all pairs once and indexes them by ID, so a batch over
// many mirrors does not hit the datastore per item
func (d deps) pairIndex(ctx context.Context) (map[string]*domain.InstancePair, error) {
	pairs, err := d.store.ListPairs(ctx)
	if err != nil {
		return nil, err
	}
	index := make(map[string]*domain.InstancePair, len(pairs))
	for _, pair := range pairs {
		index[pair.ID] = pair
	}
	return index, nil
}

// clientCache hands out one client per instance within a single batch run.
// Clients are never shared across batches.
type clientCache struct {
	deps
	clients map[string]gitlab.Client
}

func (d deps) newClientCache() *clientCache {
	return &clientCache{deps: d, clients: make(map[string]gitlab.Client)}
}

func (c *clientCache) get(ctx context.Context, instanceID string) (gitlab.Client, error) {
	if client, ok := c.clients[instanceID]; ok {
		return client, nil
	}
	client, err := c.clientFor(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	c.clients[instanceID] = client
	return client, nil
}
