package trackerd

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/roach88/treesync/internal/tracker"
)

func (s *Server) handleCreate(c *gin.Context) {
	var req tracker.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	if req.Title == "" || req.ContainerID == "" {
		abort(c, http.StatusBadRequest, CodeInvalidRequest, "title and container_id are required")
		return
	}

	created, err := s.backend.CreateObject(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleGet(c *gin.Context) {
	obj, err := s.backend.GetObject(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, obj)
}

func (s *Server) handleList(c *gin.Context) {
	containerID := c.Query("container_id")
	if containerID == "" {
		abort(c, http.StatusBadRequest, CodeInvalidRequest, "container_id is required")
		return
	}

	objs, err := s.backend.ListObjects(c.Request.Context(), containerID, c.Query("title"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tracker.ListResponse{Objects: objs})
}

func (s *Server) handleUpdateStatus(c *gin.Context) {
	var req tracker.StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	if !req.Status.Valid() {
		abort(c, http.StatusBadRequest, CodeInvalidRequest, "unknown status "+string(req.Status))
		return
	}

	if err := s.backend.UpdateObjectStatus(c.Request.Context(), c.Param("id"), req.Status); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleComment(c *gin.Context) {
	var req tracker.CommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	if req.Text == "" {
		abort(c, http.StatusBadRequest, CodeInvalidRequest, "text is required")
		return
	}

	if err := s.backend.AddComment(c.Request.Context(), c.Param("id"), req.Text); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
