package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	gitlab "github.com/xanzy/go-gitlab"

	"github.com/mshibata0117/gitlab-mirror-manager/internal/domain"
)

// apiClient implements Client on top of the GitLab REST API
type apiClient struct {
	client *gitlab.Client
}

// NewClient creates a Client for the given instance. The timeout applies to
// every individual API call.
func NewClient(instance *domain.GitLabInstance, timeout time.Duration) (Client, error) {
	httpClient := &http.Client{Timeout: timeout}
	client, err := gitlab.NewClient(instance.Token,
		gitlab.WithBaseURL(instance.URL),
		gitlab.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", instance.URL, err)
	}
	return &apiClient{client: client}, nil
}

// TestConnection verifies reachability and token validity
func (c *apiClient) TestConnection(ctx context.Context) error {
	_, err := c.CurrentUser(ctx)
	return err
}

// CurrentUser returns the user the token authenticates as
func (c *apiClient) CurrentUser(ctx context.Context) (*UserInfo, error) {
	user, _, err := c.client.Users.CurrentUser(gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}
	return &UserInfo{
		ID:       user.ID,
		Username: user.Username,
		Name:     user.Name,
	}, nil
}

// Version returns the instance version and edition
func (c *apiClient) Version(ctx context.Context) (*VersionInfo, error) {
	version, _, err := c.client.Version.GetVersion(gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get version: %w", err)
	}

	edition := "ce"
	if strings.HasSuffix(version.Version, "-ee") {
		edition = "ee"
	}
	return &VersionInfo{
		Version:  version.Version,
		Revision: version.Revision,
		Edition:  edition,
	}, nil
}

// ListProjects lists projects visible to the token
func (c *apiClient) ListProjects(ctx context.Context, opts ListOptions) ([]*ProjectInfo, error) {
	listOpts := &gitlab.ListProjectsOptions{
		ListOptions: pagination(opts),
		Membership:  gitlab.Ptr(true),
	}
	if opts.Search != "" {
		listOpts.Search = gitlab.Ptr(opts.Search)
	}

	var all []*ProjectInfo
	for {
		projects, resp, err := c.client.Projects.ListProjects(listOpts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("failed to list projects: %w", err)
		}

		for _, p := range projects {
			all = append(all, &ProjectInfo{
				ID:     p.ID,
				Path:   p.PathWithNamespace,
				Name:   p.Name,
				WebURL: p.WebURL,
			})
		}

		if !opts.All || resp.NextPage == 0 {
			break
		}
		listOpts.Page = resp.NextPage
	}

	return all, nil
}

// ListGroups lists groups visible to the token
func (c *apiClient) ListGroups(ctx context.Context, opts ListOptions) ([]*GroupInfo, error) {
	listOpts := &gitlab.ListGroupsOptions{
		ListOptions: pagination(opts),
	}
	if opts.Search != "" {
		listOpts.Search = gitlab.Ptr(opts.Search)
	}

	var all []*GroupInfo
	for {
		groups, resp, err := c.client.Groups.ListGroups(listOpts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("failed to list groups: %w", err)
		}

		for _, g := range groups {
			all = append(all, &GroupInfo{
				ID:     g.ID,
				Path:   g.FullPath,
				Name:   g.Name,
				WebURL: g.WebURL,
			})
		}

		if !opts.All || resp.NextPage == 0 {
			break
		}
		listOpts.Page = resp.NextPage
	}

	return all, nil
}

// ListProjectMirrors lists the push mirrors configured on a project
func (c *apiClient) ListProjectMirrors(ctx context.Context, projectID int) ([]*MirrorInfo, error) {
	opts := &gitlab.ListProjectMirrorOptions{PerPage: 100}

	var all []*MirrorInfo
	for {
		mirrors, resp, err := c.client.ProjectMirrors.ListProjectMirror(projectID, opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("failed to list mirrors for project %d: %w", projectID, err)
		}

		for _, m := range mirrors {
			all = append(all, mirrorInfo(m))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// CreateMirror configures a new mirror on the given project. Push mirrors
// use the remote mirror API; pull mirrors are a project setting.
func (c *apiClient) CreateMirror(ctx context.Context, opts CreateMirrorOptions) (*MirrorInfo, error) {
	if opts.Direction == domain.MirrorDirectionPull {
		_, _, err := c.client.Projects.EditProject(opts.ProjectID, &gitlab.EditProjectOptions{
			ImportURL:                   gitlab.Ptr(opts.URL),
			Mirror:                      gitlab.Ptr(opts.Enabled),
			OnlyMirrorProtectedBranches: gitlab.Ptr(opts.OnlyProtectedBranches),
		}, gitlab.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("failed to configure pull mirror on project %d: %w", opts.ProjectID, err)
		}
		return &MirrorInfo{
			URL:                   opts.URL,
			Enabled:               opts.Enabled,
			OnlyProtectedBranches: opts.OnlyProtectedBranches,
		}, nil
	}

	mirror, _, err := c.client.ProjectMirrors.AddProjectMirror(opts.ProjectID, &gitlab.AddProjectMirrorOptions{
		URL:                   gitlab.Ptr(opts.URL),
		Enabled:               gitlab.Ptr(opts.Enabled),
		OnlyProtectedBranches: gitlab.Ptr(opts.OnlyProtectedBranches),
		KeepDivergentRefs:     gitlab.Ptr(opts.KeepDivergentRefs),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to add push mirror on project %d: %w", opts.ProjectID, err)
	}
	return mirrorInfo(mirror), nil
}

// UpdateMirror changes the settings of an existing mirror
func (c *apiClient) UpdateMirror(ctx context.Context, direction domain.MirrorDirection, projectID, mirrorID int, opts UpdateMirrorOptions) (*MirrorInfo, error) {
	if direction == domain.MirrorDirectionPull {
		editOpts := &gitlab.EditProjectOptions{
			Mirror:                      opts.Enabled,
			OnlyMirrorProtectedBranches: opts.OnlyProtectedBranches,
		}
		_, _, err := c.client.Projects.EditProject(projectID, editOpts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("failed to update pull mirror on project %d: %w", projectID, err)
		}
		info := &MirrorInfo{}
		if opts.Enabled != nil {
			info.Enabled = *opts.Enabled
		}
		return info, nil
	}

	mirror, _, err := c.client.ProjectMirrors.EditProjectMirror(projectID, mirrorID, &gitlab.EditProjectMirrorOptions{
		Enabled:               opts.Enabled,
		OnlyProtectedBranches: opts.OnlyProtectedBranches,
		KeepDivergentRefs:     opts.KeepDivergentRefs,
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to update mirror %d on project %d: %w", mirrorID, projectID, err)
	}
	return mirrorInfo(mirror), nil
}

// DeleteMirror removes a mirror. A 404 means the mirror (or its project) is
// already gone on the remote side, which is success-equivalent: cleanup must
// stay idempotent so a retried cascade does not report fresh failures.
func (c *apiClient) DeleteMirror(ctx context.Context, direction domain.MirrorDirection, projectID, mirrorID int) error {
	if direction == domain.MirrorDirectionPull {
		_, resp, err := c.client.Projects.EditProject(projectID, &gitlab.EditProjectOptions{
			Mirror: gitlab.Ptr(false),
		}, gitlab.WithContext(ctx))
		if err != nil {
			if isNotFound(resp) {
				return nil
			}
			return fmt.Errorf("failed to disable pull mirror on project %d: %w", projectID, err)
		}
		return nil
	}

	resp, err := c.client.ProjectMirrors.DeleteProjectMirror(projectID, mirrorID, gitlab.WithContext(ctx))
	if err != nil {
		if isNotFound(resp) {
			return nil
		}
		return fmt.Errorf("failed to delete mirror %d on project %d: %w", mirrorID, projectID, err)
	}
	return nil
}

// pagination translates list options, defaulting to 100 per page
func pagination(opts ListOptions) gitlab.ListOptions {
	perPage := opts.PerPage
	if perPage <= 0 {
		perPage = 100
	}
	return gitlab.ListOptions{Page: opts.Page, PerPage: perPage}
}

func mirrorInfo(m *gitlab.ProjectMirror) *MirrorInfo {
	return &MirrorInfo{
		ID:                     m.ID,
		URL:                    m.URL,
		Enabled:                m.Enabled,
		UpdateStatus:           m.UpdateStatus,
		LastError:              m.LastError,
		LastUpdateAt:           m.LastUpdateAt,
		LastSuccessfulUpdateAt: m.LastSuccessfulUpdateAt,
		OnlyProtectedBranches:  m.OnlyProtectedBranches,
		KeepDivergentRefs:      m.KeepDivergentRefs,
	}
}

func isNotFound(resp *gitlab.Response) bool {
	return resp != nil && resp.StatusCode == http.StatusNotFound
}
