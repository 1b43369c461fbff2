package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/studioforge/genrunner/internal/api/dto"
	"github.com/studioforge/genrunner/internal/profile"
)

// ListProfiles handles GET /api/v1/profiles
func (h *ProfileHandler) ListProfiles(c *gin.Context) {
	names, err := h.profiles.List()
	if err != nil {
		h.logger.Error("Failed to list profiles", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list profiles",
		})
		return
	}

	if names == nil {
		names = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"profiles": names,
	})
}

// CreateProfile handles POST /api/v1/profiles
func (h *ProfileHandler) CreateProfile(c *gin.Context) {
	var req dto.CreateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	name, err := h.profiles.Create(req.Name)
	if err != nil {
		switch {
		case errors.Is(err, profile.ErrInvalidName):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid profile name"})
		case errors.Is(err, profile.ErrExists):
			c.JSON(http.StatusConflict, gin.H{"error": "profile already exists"})
		default:
			h.logger.Error("Failed to create profile", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create profile"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"name": name,
	})
}

// DeleteProfile handles DELETE /api/v1/profiles/:name
func (h *ProfileHandler) DeleteProfile(c *gin.Context) {
	name := c.Param("name")

	if err := h.profiles.Delete(name); err != nil {
		switch {
		case errors.Is(err, profile.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		case errors.Is(err, profile.ErrInvalidName):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid profile name"})
		default:
			h.logger.Error("Failed to delete profile", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete profile"})
		}
		return
	}

	c.Status(http.StatusNoContent)
}

// LaunchProfile handles POST /api/v1/profiles/:name/launch
// Asks the agent to open a headful browser window so the user can log in.
func (h *ProfileHandler) LaunchProfile(c *gin.Context) {
	name := c.Param("name")

	if !h.profiles.Exists(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}

	if err := h.launcher.LaunchProfile(c.Request.Context(), name); err != nil {
		h.logger.Error("Failed to launch profile",
			slog.String("profile", name),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to launch profile"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"name":     name,
		"launched": true,
	})
}
