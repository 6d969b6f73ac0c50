package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Iron-Ham/council/internal/errors"
	"github.com/Iron-Ham/council/internal/fanout"
	"github.com/Iron-Ham/council/internal/persona"
)

type questionRequest struct {
	Question string `json:"question"`
}

type pauseRequest struct {
	Reason string `json:"reason"`
}

type privateRequest struct {
	Message string `json:"message"`
}

type nudgeRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": s.sessions.Len()})
}

func (s *Server) createSession(c *gin.Context) {
	sess, err := s.sessions.Create()
	if err != nil {
		s.fail(c, err)
		return
	}
	s.logger.Info("session created", "session_id", sess.ID())
	c.JSON(http.StatusCreated, gin.H{"id": sess.ID()})
}

func (s *Server) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.sessions.IDs()})
}

func (s *Server) getSession(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

func (s *Server) deleteSession(c *gin.Context) {
	if err := s.sessions.Delete(c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) clearSession(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	sess.Clear()
	c.Status(http.StatusNoContent)
}

// askQuestion accepts the question and runs the round in the background;
// progress arrives on the events stream.
func (s *Server) askQuestion(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var req questionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errors.NewValidationError("invalid request body").WithCause(err))
		return
	}

	s.wg.Add(1)
	err := sess.AskAsync(s.ctx, req.Question, func(res fanout.Result, err error) {
		defer s.wg.Done()
		s.logger.Debug("ask finished",
			"session_id", sess.ID(),
			"answers", len(res.Answers),
			"debate", res.Debate != nil,
			"error", err,
		)
	})
	if err != nil {
		s.wg.Done()
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": sess.ID(), "status": "asking"})
}

func (s *Server) continueDebate(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	out, err := sess.Continue(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) pauseDebate(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var req pauseRequest
	// The body is optional.
	_ = c.ShouldBindJSON(&req)
	sess.RequestPause(req.Reason)
	c.JSON(http.StatusAccepted, sess.Snapshot().Debate)
}

func (s *Server) endDebate(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"ended": sess.End()})
}

func (s *Server) getConversation(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	p := persona.ID(c.Param("persona"))
	// Reading a conversation opens it, which clears its unread count.
	if err := sess.OpenPrivate(p); err != nil {
		s.fail(c, err)
		return
	}
	conv, _ := sess.Private().Conversation(p)
	c.JSON(http.StatusOK, conv)
}

func (s *Server) sendPrivate(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var req privateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errors.NewValidationError("invalid request body").WithCause(err))
		return
	}
	msg, err := sess.SendPrivate(c.Request.Context(), persona.ID(c.Param("persona")), req.Message)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (s *Server) nudge(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var req nudgeRequest
	// The body is optional.
	_ = c.ShouldBindJSON(&req)
	msg, err := sess.Nudge(c.Request.Context(), persona.ID(c.Param("persona")), req.Reason)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (s *Server) cancelGossip(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	p := persona.ID(c.Param("persona"))
	if _, known := persona.Get(p); !known {
		s.fail(c, errors.NewValidationError("no such grandma").WithValue(string(p)).WithCause(errors.ErrUnknownPersona))
		return
	}
	c.JSON(http.StatusOK, gin.H{"canceled": sess.CancelGossip(p)})
}
