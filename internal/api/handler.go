package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mshibata0117/gitlab-mirror-manager/internal/domain"
	apperrors "github.com/mshibata0117/gitlab-mirror-manager/internal/errors"
	"github.com/mshibata0117/gitlab-mirror-manager/internal/gitlab"
	"github.com/mshibata0117/gitlab-mirror-manager/internal/service"
)

// Handler handles API requests
type Handler struct {
	instances *service.InstanceService
	mirrors   *service.MirrorService
}

// NewHandler creates a new API handler
func NewHandler(instances *service.InstanceService, mirrors *service.MirrorService) *Handler {
	return &Handler{
		instances: instances,
		mirrors:   mirrors,
	}
}

type createInstanceRequest struct {
	Name  string `json:"name" binding:"required"`
	URL   string `json:"url" binding:"required"`
	Token string `json:"token" binding:"required"`
}

// CreateInstance registers a GitLab instance
// POST /api/v1/instances
func (h *Handler) CreateInstance(c *gin.Context) {
	var req createInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewBadRequestError(err.Error()))
		return
	}

	instance, err := h.instances.Create(c.Request.Context(), req.Name, req.URL, req.Token)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"data": instance,
	})
}

// ListInstances returns all registered instances
// GET /api/v1/instances
func (h *Handler) ListInstances(c *gin.Context) {
	instances, err := h.instances.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": instances,
	})
}

// GetInstance returns a single instance
// GET /api/v1/instances/:id
func (h *Handler) GetInstance(c *gin.Context) {
	instance, err := h.instances.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": instance,
	})
}

// DeleteInstance removes an instance after cleaning up its remote mirrors
// DELETE /api/v1/instances/:id
func (h *Handler) DeleteInstance(c *gin.Context) {
	result, err := h.instances.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": result,
	})
}

// ListInstanceProjects lists projects visible on an instance
// GET /api/v1/instances/:id/projects
func (h *Handler) ListInstanceProjects(c *gin.Context) {
	projects, err := h.instances.Projects(c.Request.Context(), c.Param("id"), parseListOptions(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": projects,
	})
}

// ListInstanceGroups lists groups visible on an instance
// GET /api/v1/instances/:id/groups
func (h *Handler) ListInstanceGroups(c *gin.Context) {
	groups, err := h.instances.Groups(c.Request.Context(), c.Param("id"), parseListOptions(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": groups,
	})
}

// HealthSweep probes every registered instance
// POST /api/v1/instances/health
func (h *Handler) HealthSweep(c *gin.Context) {
	report, err := h.instances.HealthSweep(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": report,
	})
}

type createPairRequest struct {
	Name                  string `json:"name" binding:"required"`
	SourceInstanceID      string `json:"source_instance_id" binding:"required"`
	TargetInstanceID      string `json:"target_instance_id" binding:"required"`
	Direction             string `json:"direction"`
	Enabled               *bool  `json:"enabled"`
	OnlyProtectedBranches bool   `json:"only_protected_branches"`
	KeepDivergentRefs     bool   `json:"keep_divergent_refs"`
}

func (req *createPairRequest) toDomain() *domain.InstancePair {
	pair := &domain.InstancePair{
		Name:                  req.Name,
		SourceInstanceID:      req.SourceInstanceID,
		TargetInstanceID:      req.TargetInstanceID,
		Direction:             domain.MirrorDirection(req.Direction),
		Enabled:               true,
		OnlyProtectedBranches: req.OnlyProtectedBranches,
		KeepDivergentRefs:     req.KeepDivergentRefs,
	}
	if req.Enabled != nil {
		pair.Enabled = *req.Enabled
	}
	return pair
}

// CreatePair links two instances for mirroring
// POST /api/v1/pairs
func (h *Handler) CreatePair(c *gin.Context) {
	var req createPairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewBadRequestError(err.Error()))
		return
	}

	created, err := h.mirrors.CreatePair(c.Request.Context(), req.toDomain())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"data": created,
	})
}

// ListPairs returns all instance pairs
// GET /api/v1/pairs
func (h *Handler) ListPairs(c *gin.Context) {
	pairs, err := h.mirrors.ListPairs(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": pairs,
	})
}

// GetPair returns a single pair
// GET /api/v1/pairs/:id
func (h *Handler) GetPair(c *gin.Context) {
	pair, err := h.mirrors.GetPair(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": pair,
	})
}

// DeletePair removes a pair after cleaning up its mirrors
// DELETE /api/v1/pairs/:id
func (h *Handler) DeletePair(c *gin.Context) {
	report, err := h.mirrors.DeletePair(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": report,
	})
}

// CleanupPair deletes the remote mirrors of a pair and forgets them locally
// POST /api/v1/pairs/:id/cleanup
func (h *Handler) CleanupPair(c *gin.Context) {
	report, err := h.mirrors.Cleanup(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": report,
	})
}

// RefreshPairStatus pulls the current sync state of a pair's mirrors
// POST /api/v1/pairs/:id/refresh
func (h *Handler) RefreshPairStatus(c *gin.Context) {
	report, err := h.mirrors.RefreshStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": report,
	})
}

type createMirrorRequest struct {
	HostProjectID int    `json:"host_project_id" binding:"required"`
	RemoteURL     string `json:"remote_url" binding:"required"`
}

// CreateMirror configures a mirror on the pair's host instance
// POST /api/v1/pairs/:id/mirrors
func (h *Handler) CreateMirror(c *gin.Context) {
	var req createMirrorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewBadRequestError(err.Error()))
		return
	}

	mirror, err := h.mirrors.CreateMirror(c.Request.Context(), c.Param("id"), req.HostProjectID, req.RemoteURL)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"data": mirror,
	})
}

// ListMirrors returns the mirrors of a pair
// GET /api/v1/pairs/:id/mirrors
func (h *Handler) ListMirrors(c *gin.Context) {
	mirrors, err := h.mirrors.ListMirrors(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": mirrors,
	})
}

// GetMirror returns a single mirror
// GET /api/v1/mirrors/:id
func (h *Handler) GetMirror(c *gin.Context) {
	mirror, err := h.mirrors.GetMirror(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": mirror,
	})
}

type updateMirrorRequest struct {
	Enabled               *bool `json:"enabled"`
	OnlyProtectedBranches *bool `json:"only_protected_branches"`
	KeepDivergentRefs     *bool `json:"keep_divergent_refs"`
}

// UpdateMirror changes a mirror's settings on the remote and locally
// PUT /api/v1/mirrors/:id
func (h *Handler) UpdateMirror(c *gin.Context) {
	var req updateMirrorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewBadRequestError(err.Error()))
		return
	}

	mirror, err := h.mirrors.UpdateMirror(c.Request.Context(), c.Param("id"), gitlab.UpdateMirrorOptions{
		Enabled:               req.Enabled,
		OnlyProtectedBranches: req.OnlyProtectedBranches,
		KeepDivergentRefs:     req.KeepDivergentRefs,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": mirror,
	})
}

// DeleteMirror removes a mirror remotely and locally
// DELETE /api/v1/mirrors/:id
func (h *Handler) DeleteMirror(c *gin.Context) {
	if err := h.mirrors.DeleteMirror(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// HealthCheck returns the health status of the API
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// parseListOptions parses pagination and search query parameters
func parseListOptions(c *gin.Context) gitlab.ListOptions {
	return gitlab.ListOptions{
		Search:  c.Query("search"),
		Page:    parseIntQuery(c, "page", 0),
		PerPage: parseIntQuery(c, "per_page", 0),
		All:     c.Query("all") == "true",
	}
}

// parseIntQuery parses an integer query parameter with a default value
func parseIntQuery(c *gin.Context, key string, defaultValue int) int {
	valueStr := c.Query(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}

// respondError sends an error response
func respondError(c *gin.Context, err error) {
	if appErr, ok := err.(*apperrors.AppError); ok {
		status := http.StatusInternalServerError
		switch appErr.Code {
		case apperrors.ErrCodeNotFound:
			status = http.StatusNotFound
		case apperrors.ErrCodeBadRequest, apperrors.ErrCodeConfiguration:
			status = http.StatusBadRequest
		case apperrors.ErrCodeRemote, apperrors.ErrCodeExhaustedRetries:
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{
			"error": gin.H{
				"code":    appErr.Code,
				"message": appErr.Message,
			},
		})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{
			"code":    "INTERNAL_ERROR",
			"message": err.Error(),
		},
	})
}
