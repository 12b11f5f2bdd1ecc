package bridge

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/user/mapic/internal/synchronizer"
	"github.com/user/mapic/internal/types"
	"github.com/user/mapic/pkg/imagegen"
)

type generateRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

type sessionRequest struct {
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
}

// statusFor maps synchronizer errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, synchronizer.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, synchronizer.ErrSignedOut):
		return http.StatusUnauthorized
	case errors.Is(err, synchronizer.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, synchronizer.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, synchronizer.ErrRemoteFailure):
		return http.StatusBadGateway
	case errors.Is(err, synchronizer.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("bridge request failed", "route", c.FullPath(), "error", err)
	}
	c.JSON(code, gin.H{"error": imagegen.UserMessage(err)})
}

func (s *Server) handleSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, s.core.Snapshot())
}

func (s *Server) handleGenerate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON"})
		return
	}
	gen, err := s.core.SubmitGeneration(c.Request.Context(), req.Prompt, req.Model)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gen)
}

func (s *Server) handleSelect(c *gin.Context) {
	if err := s.core.SelectFromHistory(c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"selected": c.Param("id")})
}

func (s *Server) handleNewSession(c *gin.Context) {
	if err := s.core.StartNewSession(); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDelete(c *gin.Context) {
	if err := s.core.DeleteGeneration(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleSignIn(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON"})
		return
	}

	userID := req.UserID
	if req.AccessToken != "" {
		if s.verifier == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "access tokens are not accepted"})
			return
		}
		uid, err := s.verifier.UserID(req.AccessToken)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		userID = uid
	}

	if err := s.core.SignIn(c.Request.Context(), userID); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID})
}

func (s *Server) handleSignOut(c *gin.Context) {
	if err := s.core.SignOut(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRefresh(c *gin.Context) {
	if err := s.core.Refresh(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.core.Snapshot())
}

func (s *Server) handleActivity(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "activity journal not configured"})
		return
	}
	snap := s.core.Snapshot()
	if !snap.SignedIn {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not signed in"})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	entries, err := s.journal.Tail(c.Request.Context(), types.UserID(snap.UserID), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	if entries == nil {
		entries = []*types.ActivityEntry{}
	}
	c.JSON(http.StatusOK, entries)
}
