package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/afsalb/deep-researcher/internal/chat"
	"github.com/afsalb/deep-researcher/internal/research"
	"github.com/afsalb/deep-researcher/internal/session"
)

func (s *Server) registerChat(g *echo.Group) {
	g.POST("/:id/chat", s.postMessage)
	g.GET("/:id", s.getSession)
	g.GET("/:id/history", s.getHistory)
	g.GET("/:id/report", s.downloadReport)
}

// postMessage handles one chat turn. Plain JSON for text-only messages,
// multipart form (message + files) when documents are attached.
func (s *Server) postMessage(c echo.Context) error {
	id := c.Param("id")
	var message string
	var uploads []chat.Upload

	ctype := c.Request().Header.Get(echo.HeaderContentType)
	if strings.HasPrefix(ctype, echo.MIMEMultipartForm) {
		message = c.FormValue("message")
		parsed, err := s.formUploads(c)
		if err != nil {
			return err
		}
		for _, up := range parsed {
			uploads = append(uploads, chat.Upload{Filename: up.Filename, Data: up.Data, MimeType: up.MimeType})
		}
	} else {
		var req struct {
			Message string `json:"message"`
		}
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		message = req.Message
	}

	turn, err := s.chat.HandleMessage(c.Request().Context(), id, message, uploads)
	if err != nil {
		if err == session.ErrNotFound {
			return echo.NewHTTPError(http.StatusNotFound, "unknown session")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s.archiveTurn(c.Request().Context(), id, turn)
	return c.JSON(http.StatusOK, ChatResponse{Turn: turn})
}

// archiveTurn persists a committed turn when the archive is configured and
// the session's run has finished. Best effort: the turn already succeeded.
func (s *Server) archiveTurn(ctx context.Context, sessionID string, turn research.Turn) {
	if s.archive == nil {
		return
	}
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return
	}
	result, ok := sess.Result()
	if !ok {
		return
	}
	if err := s.archive.ArchiveTurn(ctx, sessionID, result.ID, turn); err != nil {
		s.logger.Printf("session %s: archiving turn failed: %v", sessionID, err)
	}
}

func (s *Server) getSession(c echo.Context) error {
	sess, err := s.sessions.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "unknown session")
	}
	result, ok := sess.Result()
	if !ok {
		return c.JSON(http.StatusOK, map[string]interface{}{"session_id": sess.ID(), "ready": false})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"session_id": sess.ID(), "ready": true, "result": result})
}

func (s *Server) getHistory(c echo.Context) error {
	id := c.Param("id")
	sess, err := s.sessions.Get(c.Request().Context(), id)
	if err != nil {
		// The live session may have expired; the archived transcript
		// outlives it.
		if s.archive != nil {
			turns, aerr := s.archive.ListTurns(c.Request().Context(), id)
			if aerr == nil && len(turns) > 0 {
				return c.JSON(http.StatusOK, HistoryResponse{Turns: turns})
			}
		}
		return echo.NewHTTPError(http.StatusNotFound, "unknown session")
	}
	return c.JSON(http.StatusOK, HistoryResponse{Turns: sess.History()})
}

// downloadReport renders the finished report as markdown, pdf or bibtex.
func (s *Server) downloadReport(c echo.Context) error {
	sess, err := s.sessions.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "unknown session")
	}
	result, ok := sess.Result()
	if !ok || result.Report.FullText == "" {
		return echo.NewHTTPError(http.StatusConflict, "report not ready")
	}

	switch c.QueryParam("format") {
	case "", "markdown", "md":
		c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="report.md"`)
		return c.Blob(http.StatusOK, "text/markdown; charset=utf-8", s.renderer.RenderMarkdown(result.Report))
	case "pdf":
		data, err := s.renderer.RenderPDF(result.Report)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="report.pdf"`)
		return c.Blob(http.StatusOK, "application/pdf", data)
	case "bibtex", "bib":
		c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="report.bib"`)
		return c.Blob(http.StatusOK, "application/x-bibtex", []byte(s.renderer.RenderBibTeX(result.Report)))
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown format")
	}
}
