package api

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SetupRoutes sets up the API routes
func SetupRoutes(handler *Handler, log *logrus.Entry) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(Recovery())
	router.Use(CORS())
	router.Use(Logger(log))

	// Health check
	router.GET("/health", handler.HealthCheck)

	// API v1
	v1 := router.Group("/api/v1")
	{
		instances := v1.Group("/instances")
		{
			instances.POST("", handler.CreateInstance)
			instances.GET("", handler.ListInstances)
			instances.POST("/health", handler.HealthSweep)
			instances.GET("/:id", handler.GetInstance)
			instances.DELETE("/:id", handler.DeleteInstance)
			instances.GET("/:id/projects", handler.ListInstanceProjects)
			instances.GET("/:id/groups", handler.ListInstanceGroups)
		}

		pairs := v1.Group("/pairs")
		{
			pairs.POST("", handler.CreatePair)
			pairs.GET("", handler.ListPairs)
			pairs.GET("/:id", handler.GetPair)
			pairs.DELETE("/:id", handler.DeletePair)
			pairs.POST("/:id/cleanup", handler.CleanupPair)
			pairs.POST("/:id/refresh", handler.RefreshPairStatus)
			pairs.POST("/:id/mirrors", handler.CreateMirror)
			pairs.GET("/:id/mirrors", handler.ListMirrors)
		}

		mirrors := v1.Group("/mirrors")
		{
			mirrors.GET("/:id", handler.GetMirror)
			mirrors.PUT("/:id", handler.UpdateMirror)
			mirrors.DELETE("/:id", handler.DeleteMirror)
		}
	}

	return router
}
