package gitlab

import (
	"context"
	"time"

	"github.com/mshibata0117/gitlab-mirror-manager/internal/domain"
)

// Client is the capability surface the orchestration flows need from one
// GitLab instance. Implementations are synchronous; callers are responsible
// for pacing and retries.
type Client interface {
	// TestConnection verifies the instance is reachable and the token is
	// accepted
	TestConnection(ctx context.Context) error

	// CurrentUser returns the user the token authenticates as
	CurrentUser(ctx context.Context) (*UserInfo, error)

	// Version returns the instance version and edition
	Version(ctx context.Context) (*VersionInfo, error)

	// ListProjects lists projects visible to the token
	ListProjects(ctx context.Context, opts ListOptions) ([]*ProjectInfo, error)

	// ListGroups lists groups visible to the token
	ListGroups(ctx context.Context, opts ListOptions) ([]*GroupInfo, error)

	// ListProjectMirrors lists the push mirrors configured on a project
	ListProjectMirrors(ctx context.Context, projectID int) ([]*MirrorInfo, error)

	// CreateMirror configures a new mirror on the given project
	CreateMirror(ctx context.Context, opts CreateMirrorOptions) (*MirrorInfo, error)

	// UpdateMirror changes the settings of an existing mirror
	UpdateMirror(ctx context.Context, direction domain.MirrorDirection, projectID, mirrorID int, opts UpdateMirrorOptions) (*MirrorInfo, error)

	// DeleteMirror removes a mirror from the given project. Deleting a
	// mirror that is already gone on the remote side is treated as success.
	DeleteMirror(ctx context.Context, direction domain.MirrorDirection, projectID, mirrorID int) error
}

// Factory constructs a Client for one instance. Injected into services so
// tests can substitute fakes.
type Factory func(instance *domain.GitLabInstance, timeout time.Duration) (Client, error)

// UserInfo identifies the authenticated user
type UserInfo struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name,omitempty"`
}

// VersionInfo describes a GitLab instance build
type VersionInfo struct {
	Version  string `json:"version"`
	Revision string `json:"revision,omitempty"`
	Edition  string `json:"edition"`
}

// ProjectInfo is a slim view of a remote project
type ProjectInfo struct {
	ID     int    `json:"id"`
	Path   string `json:"path"`
	Name   string `json:"name"`
	WebURL string `json:"web_url,omitempty"`
}

// GroupInfo is a slim view of a remote group
type GroupInfo struct {
	ID     int    `json:"id"`
	Path   string `json:"path"`
	Name   string `json:"name"`
	WebURL string `json:"web_url,omitempty"`
}

// MirrorInfo is a slim view of a remote mirror configuration
type MirrorInfo struct {
	ID                     int        `json:"id,omitempty"`
	URL                    string     `json:"url"`
	Enabled                bool       `json:"enabled"`
	UpdateStatus           string     `json:"update_status,omitempty"`
	LastError              string     `json:"last_error,omitempty"`
	LastUpdateAt           *time.Time `json:"last_update_at,omitempty"`
	LastSuccessfulUpdateAt *time.Time `json:"last_successful_update_at,omitempty"`
	OnlyProtectedBranches  bool       `json:"only_protected_branches"`
	KeepDivergentRefs      bool       `json:"keep_divergent_refs"`
}

// ListOptions controls pagination for list calls
type ListOptions struct {
	Search  string
	Page    int
	PerPage int
	All     bool
}

// CreateMirrorOptions holds the settings for a new mirror. For push mirrors
// the configuration is created on the source project; for pull mirrors on
// the target project.
type CreateMirrorOptions struct {
	ProjectID             int
	URL                   string
	Direction             domain.MirrorDirection
	Enabled               bool
	OnlyProtectedBranches bool
	KeepDivergentRefs     bool
}

// UpdateMirrorOptions holds the mutable settings of an existing mirror. Nil
// fields are left unchanged.
type UpdateMirrorOptions struct {
	Enabled               *bool
	OnlyProtectedBranches *bool
	KeepDivergentRefs     *bool
}
