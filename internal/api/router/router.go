package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/studioforge/genrunner/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "runner-service",
		})
	})

	jobHandler := handler.NewJobHandler(deps)
	profileHandler := handler.NewProfileHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Submit a new generation job
			jobs.POST("", jobHandler.SubmitJob)

			// GET /api/v1/jobs - List jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)
		}

		// GET /api/v1/history - Recently archived runs
		v1.GET("/history", jobHandler.ListHistory)

		profiles := v1.Group("/profiles")
		{
			// GET /api/v1/profiles - List browser profiles
			profiles.GET("", profileHandler.ListProfiles)

			// POST /api/v1/profiles - Create a browser profile
			profiles.POST("", profileHandler.CreateProfile)

			// DELETE /api/v1/profiles/:name - Delete a browser profile
			profiles.DELETE("/:name", profileHandler.DeleteProfile)

			// POST /api/v1/profiles/:name/launch - Launch a profile for manual login
			profiles.POST("/:name/launch", profileHandler.LaunchProfile)
		}
	}

	return r
}
