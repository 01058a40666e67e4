package domain

import "time"

// GitLabInstance represents a registered GitLab server
type GitLabInstance struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Token     string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MirrorDirection represents the direction of a mirror relationship
type MirrorDirection string

const (
	MirrorDirectionPush MirrorDirection = "push"
	MirrorDirectionPull MirrorDirection = "pull"
)

// InstancePair represents a named source/target relationship between two
// GitLab instances, carrying the default settings applied to mirrors
// created under it
type InstancePair struct {
	ID                    string          `json:"id"`
	Name                  string          `json:"name"`
	SourceInstanceID      string          `json:"source_instance_id"`
	TargetInstanceID      string          `json:"target_instance_id"`
	Direction             MirrorDirection `json:"direction"`
	Enabled               bool            `json:"enabled"`
	OnlyProtectedBranches bool            `json:"only_protected_branches"`
	KeepDivergentRefs     bool            `json:"keep_divergent_refs"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// Mirror represents one configured push/pull mirror between a project on the
// pair's source instance and a project on its target instance.
//
// For push mirrors the mirror configuration lives on the source project and
// HostProjectID identifies it there; for pull mirrors it lives on the target
// project. RemoteMirrorID is GitLab's own ID for a push mirror (pull mirrors
// are project-level settings and have no separate ID).
type Mirror struct {
	ID             string          `json:"id"`
	PairID         string          `json:"pair_id"`
	HostProjectID  int             `json:"host_project_id"`
	RemoteURL      string          `json:"remote_url"`
	Direction      MirrorDirection `json:"direction"`
	RemoteMirrorID int             `json:"remote_mirror_id,omitempty"`
	Enabled        bool            `json:"enabled"`
	UpdateStatus   string          `json:"update_status,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
	LastSyncedAt   *time.Time      `json:"last_synced_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// HostInstanceID returns which side of the pair hosts this mirror's
// configuration.
func (m *Mirror) HostInstanceID(pair *InstancePair) string {
	if m.Direction == MirrorDirectionPull {
		return pair.TargetInstanceID
	}
	return pair.SourceInstanceID
}
