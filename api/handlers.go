package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gcbaptista/go-track-reconciler/index"
	"github.com/gcbaptista/go-track-reconciler/services"
)

// API holds dependencies for API handlers, primarily the reconciler engine.
type API struct {
	engine services.Reconciler
}

// NewAPI creates a new API handler structure.
func NewAPI(engine services.Reconciler) *API {
	return &API{engine: engine}
}

// SetupRoutes defines all the API routes of the reconciler.
func SetupRoutes(router *gin.Engine, engine services.Reconciler) {
	apiHandler := NewAPI(engine)

	// Health check route
	router.GET("/health", apiHandler.HealthCheckHandler)

	// Search routes
	router.POST("/search", apiHandler.SearchHandler)
	router.POST("/multi_search", apiHandler.MultiSearchHandler)

	// Library file routes
	libraryRoutes := router.Group("/library")
	{
		libraryRoutes.PUT("", apiHandler.AddLibraryFilesHandler)                // Add/Update library files
		libraryRoutes.GET("", apiHandler.FindByNameHandler(index.ClassLibrary)) // Find by name fragment
		libraryRoutes.GET("/:id", apiHandler.GetLibraryFileHandler)             // Get a library file
		libraryRoutes.DELETE("/:id", apiHandler.DeleteLibraryFileHandler)       // Delete a library file
	}

	// Reference routes
	referenceRoutes := router.Group("/references")
	{
		referenceRoutes.PUT("", apiHandler.AddReferencesHandler)                    // Add/Update references
		referenceRoutes.GET("", apiHandler.FindByNameHandler(index.ClassReference)) // Find by name fragment
		referenceRoutes.GET("/:id", apiHandler.GetReferenceHandler)                 // Get a reference with its match state
		referenceRoutes.DELETE("/:id", apiHandler.DeleteReferenceHandler)           // Delete a reference
	}

	// Index maintenance routes
	indexRoutes := router.Group("/index")
	{
		indexRoutes.POST("/_rebuild", apiHandler.RebuildIndexHandler) // Rebuild postings (async)
		indexRoutes.POST("/_repair", apiHandler.RepairIndexHandler)   // Drop orphan postings (async)
	}

	// Matching routes
	matchingRoutes := router.Group("/matching")
	{
		matchingRoutes.POST("/_run", apiHandler.RunMatchingHandler)        // Run the pipeline (async)
		matchingRoutes.GET("/stats", apiHandler.GetMatchStatisticsHandler) // Match statistics
	}

	// Job management routes
	jobRoutes := router.Group("/jobs")
	{
		jobRoutes.GET("", apiHandler.ListJobsHandler)                  // List jobs
		jobRoutes.GET("/:jobId", apiHandler.GetJobHandler)             // Get job status by ID
		jobRoutes.POST("/:jobId/_cancel", apiHandler.CancelJobHandler) // Cancel a running job
		jobRoutes.GET("/metrics", apiHandler.GetJobMetricsHandler)     // Get job performance metrics
	}
}

// HealthCheckHandler provides a simple health check endpoint.
func (api *API) HealthCheckHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"version":   "1.0.0",
	})
}
