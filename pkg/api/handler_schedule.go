package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetSchedule returns the tenant's current schedule state.
func (s *Server) GetSchedule(c *gin.Context) {
	tenant := currentTenant(c)
	c.JSON(http.StatusOK, scheduleResponse{
		Enabled:          tenant.ScheduleEnabled,
		FrequencyMinutes: tenant.ScheduleFrequency,
	})
}

// SetSchedule updates enablement and/or frequency in one call.
func (s *Server) SetSchedule(c *gin.Context) {
	tenant := currentTenant(c)

	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if req.Enabled == nil && req.FrequencyMinutes == nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "nothing to update"})
		return
	}
	if req.FrequencyMinutes != nil {
		if *req.FrequencyMinutes < 1 {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "frequency_minutes must be >= 1"})
			return
		}
		if err := s.schedule.UpdateFrequency(c.Request.Context(), tenant, *req.FrequencyMinutes); err != nil {
			mapServiceError(c, err)
			return
		}
	}
	if req.Enabled != nil {
		var err error
		if *req.Enabled {
			err = s.schedule.Resume(c.Request.Context(), tenant)
		} else {
			err = s.schedule.Pause(c.Request.Context(), tenant)
		}
		if err != nil {
			mapServiceError(c, err)
			return
		}
		tenant.ScheduleEnabled = *req.Enabled
	}

	c.JSON(http.StatusOK, scheduleResponse{
		Enabled:          tenant.ScheduleEnabled,
		FrequencyMinutes: tenant.ScheduleFrequency,
	})
}

// PauseSchedule disables periodic harvesting; a running job is unaffected.
func (s *Server) PauseSchedule(c *gin.Context) {
	tenant := currentTenant(c)
	if err := s.schedule.Pause(c.Request.Context(), tenant); err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, scheduleResponse{
		Enabled:          false,
		FrequencyMinutes: tenant.ScheduleFrequency,
	})
}

// ResumeSchedule re-enables periodic harvesting.
func (s *Server) ResumeSchedule(c *gin.Context) {
	tenant := currentTenant(c)
	if err := s.schedule.Resume(c.Request.Context(), tenant); err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, scheduleResponse{
		Enabled:          true,
		FrequencyMinutes: tenant.ScheduleFrequency,
	})
}
