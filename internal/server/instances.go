package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	instancedomain "github.com/nimbushost/fleet/internal/instance/domain"
)

type createInstanceRequest struct {
	Name          string `json:"name" binding:"required"`
	Domain        string `json:"domain"`
	ContainerName string `json:"container_name"`
	TenantID      string `json:"tenant_id"`
}

func (s *Server) CreateInstance(c *gin.Context) {
	var req createInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var tenantID snowflake.ID
	if raw := strings.TrimSpace(req.TenantID); raw != "" {
		parsed, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		tenantID = parsed
	}

	instance, err := s.instanceSvc.Create(c.Request.Context(), instancedomain.CreateRequest{
		TenantID:      tenantID,
		Name:          req.Name,
		Domain:        strings.TrimSpace(req.Domain),
		ContainerName: strings.TrimSpace(req.ContainerName),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"data": instance})
}

func (s *Server) ListInstances(c *gin.Context) {
	instances, err := s.instanceSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": instances})
}

func (s *Server) GetInstance(c *gin.Context) {
	id, ok := instanceID(c)
	if !ok {
		return
	}

	instance, err := s.instanceSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": instance})
}

func (s *Server) ListInstanceLogs(c *gin.Context) {
	id, ok := instanceID(c)
	if !ok {
		return
	}

	logs, err := s.instanceSvc.Logs(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": logs})
}

func (s *Server) commandHandler(cmd instancedomain.Command) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := instanceID(c)
		if !ok {
			return
		}

		if err := s.instanceSvc.Command(c.Request.Context(), id, cmd); err != nil {
			AbortWithError(c, err)
			return
		}

		// Retry queues the workflow, the rest complete synchronously.
		if cmd == instancedomain.CommandRetry {
			c.Status(http.StatusAccepted)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func instanceID(c *gin.Context) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return 0, false
	}
	return id, true
}
