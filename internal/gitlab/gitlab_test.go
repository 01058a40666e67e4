package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mshibata0117/gitlab-mirror-manager/internal/domain"
)

func testClient(t *testing.T, handler http.Handler) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(&domain.GitLabInstance{
		Name:  "test",
		URL:   srv.URL,
		Token: "glpat-test",
	}, 5*time.Second)
	require.NoError(t, err)
	return client
}

func TestVersionEdition(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"version":"16.9.1-ee","revision":"abc123"}`)
	})

	client := testClient(t, mux)
	info, err := client.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "16.9.1-ee", info.Version)
	assert.Equal(t, "ee", info.Edition)
}

func TestDeleteMirrorAlreadyGoneIsSuccess(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/projects/7/remote_mirrors/3", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"404 Not Found"}`)
	})

	client := testClient(t, mux)
	err := client.DeleteMirror(context.Background(), domain.MirrorDirectionPush, 7, 3)
	assert.NoError(t, err)
}

func TestDeleteMirror(t *testing.T) {
	deleted := false
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/projects/7/remote_mirrors/3", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		deleted = true
		w.WriteHeader(http.StatusNoContent)
	})

	client := testClient(t, mux)
	err := client.DeleteMirror(context.Background(), domain.MirrorDirectionPush, 7, 3)
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestListProjectMirrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/projects/7/remote_mirrors", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"id":3,"url":"https://target.example.com/group/app.git","enabled":true,"update_status":"finished","only_protected_branches":false,"keep_divergent_refs":true}]`)
	})

	client := testClient(t, mux)
	mirrors, err := client.ListProjectMirrors(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, mirrors, 1)
	assert.Equal(t, 3, mirrors[0].ID)
	assert.Equal(t, "finished", mirrors[0].UpdateStatus)
	assert.True(t, mirrors[0].KeepDivergentRefs)
}
