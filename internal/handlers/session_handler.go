package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/xpanvictor/migoto-coach/internal/domains/attempt"
	"github.com/xpanvictor/migoto-coach/pkg/Logger"
	"github.com/xpanvictor/migoto-coach/pkg/io/chatapi"
)

// ReportSource fetches scoring reports from the chat service on behalf of
// a learner.
type ReportSource interface {
	Report(c *gin.Context, token, sessionID string) (json.RawMessage, error)
}

type chatReports struct {
	client *chatapi.Client
}

// NewChatReportSource forwards the caller's token to the chat service.
func NewChatReportSource(client *chatapi.Client) ReportSource {
	return chatReports{client: client}
}

func (r chatReports) Report(c *gin.Context, token, sessionID string) (json.RawMessage, error) {
	return r.client.WithToken(token).Report(c.Request.Context(), sessionID)
}

type SessionHandler struct {
	attempts *attempt.Service
	reports  ReportSource
	logger   *Logger.Logger
}

func NewSessionHandler(attempts *attempt.Service, reports ReportSource, logger *Logger.Logger) *SessionHandler {
	return &SessionHandler{attempts: attempts, reports: reports, logger: logger}
}

// GetTranscript returns the stored history of a concluded session
// @Summary Get session transcript
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Param id path string true "Chat session ID"
// @Success 200 {object} TranscriptResponse
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{id}/transcript [get]
func (h *SessionHandler) GetTranscript(c *gin.Context) {
	userInfo, ok := ExtractUserInfo(c)
	if !ok {
		return
	}

	t, err := h.attempts.Transcript(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, attempt.ErrTranscriptNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Transcript not found"})
			return
		}
		h.logger.Errorf("get transcript error: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"})
		return
	}
	// transcripts of anonymous conversations belong to no learner
	if t.LearnerID != userInfo.UserID {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Transcript not found"})
		return
	}

	c.JSON(http.StatusOK, TranscriptResponse{Transcript: t})
}

// GetReport proxies the chat service's scoring report
// @Summary Get session report
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Param id path string true "Chat session ID"
// @Success 200 {object} ReportResponse
// @Failure 502 {object} ErrorResponse
// @Router /sessions/{id}/report [get]
func (h *SessionHandler) GetReport(c *gin.Context) {
	userInfo, ok := ExtractUserInfo(c)
	if !ok {
		return
	}

	sessionID := c.Param("id")
	report, err := h.reports.Report(c, userInfo.Token, sessionID)
	if err != nil {
		if errors.Is(err, chatapi.ErrStatus) {
			h.logger.Warnf("report for %s rejected upstream: %v", sessionID, err)
			c.JSON(http.StatusBadGateway, ErrorResponse{Error: "Report not available", Details: err.Error()})
			return
		}
		h.logger.Errorf("report for %s failed: %v", sessionID, err)
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "Report service unreachable"})
		return
	}

	c.JSON(http.StatusOK, ReportResponse{SessionID: sessionID, Report: report})
}

// ListAttempts lists the learner's concluded conversations
// @Summary List attempts
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Param offset query int false "Offset" default(0)
// @Param limit query int false "Limit" default(20)
// @Success 200 {object} ListAttemptsResponse
// @Router /attempts [get]
func (h *SessionHandler) ListAttempts(c *gin.Context) {
	userInfo, ok := ExtractUserInfo(c)
	if !ok {
		return
	}

	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, limit = attempt.ClampPage(offset, limit)

	attempts, total, err := h.attempts.List(c.Request.Context(), userInfo.UserID, offset, limit)
	if err != nil {
		h.logger.Errorf("list attempts error: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, ListAttemptsResponse{
		Attempts:   attempts,
		Pagination: PaginationInfo{Total: total, Offset: offset, Limit: limit},
	})
}
