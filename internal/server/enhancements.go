package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	generationdomain "github.com/listinglens/listinglens/internal/generation/domain"
	"github.com/listinglens/listinglens/pkg/db/pagination"
)

type CreateEnhancementRequest struct {
	Tool           string  `json:"tool"`
	SourceImageURL string  `json:"source_image_url"`
	TemplateID     *string `json:"template_id"`
}

func (s *Server) CreateEnhancement(c *gin.Context) {
	workspaceID, err := workspaceIDFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req CreateEnhancementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	createReq := generationdomain.CreateJobRequest{
		WorkspaceID:    workspaceID,
		Tool:           req.Tool,
		SourceImageURL: req.SourceImageURL,
	}
	if req.TemplateID != nil {
		templateID, err := snowflake.ParseString(*req.TemplateID)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		createReq.TemplateID = &templateID
	}

	job, err := s.generationSvc.Create(c.Request.Context(), createReq)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, job)
}

func (s *Server) ListEnhancements(c *gin.Context) {
	workspaceID, err := workspaceIDFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	jobs, pageInfo, err := s.generationSvc.List(c.Request.Context(), workspaceID, page)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      jobs,
		"page_info": pageInfo,
	})
}

func (s *Server) GetEnhancement(c *gin.Context) {
	workspaceID, err := workspaceIDFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	jobID, err := jobIDFromPath(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	job, err := s.generationSvc.Get(c.Request.Context(), workspaceID, jobID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

func (s *Server) RetryEnhancement(c *gin.Context) {
	workspaceID, err := workspaceIDFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	jobID, err := jobIDFromPath(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	job, err := s.generationSvc.Retry(c.Request.Context(), workspaceID, jobID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

func jobIDFromPath(c *gin.Context) (snowflake.ID, error) {
	raw := strings.TrimSpace(c.Param("id"))
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, generationdomain.ErrJobNotFound
	}
	return id, nil
}
