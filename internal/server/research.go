package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/afsalb/deep-researcher/internal/ingest"
	"github.com/afsalb/deep-researcher/internal/research"
)

func (s *Server) registerResearch(g *echo.Group) {
	g.POST("", s.startResearch)
	g.GET("/:run_id/status", s.researchStatus)
	g.GET("/runs", s.listRuns)
	g.GET("/runs/:run_id", s.getRun)
	g.DELETE("/runs/:run_id", s.deleteRun)
}

// startResearch accepts a topic (JSON body or multipart form with optional
// document uploads), creates a session, and kicks off the pipeline in the
// background. Clients poll the status endpoint with the returned run ID.
func (s *Server) startResearch(c echo.Context) error {
	topic, uploaded, err := s.parseResearchRequest(c)
	if err != nil {
		return err
	}
	if err := s.guard.ValidateQuery(topic); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	topic = s.guard.RedactPII(s.guard.SanitizeQuery(topic))

	sess, err := s.sessions.Create(c.Request().Context(), userID(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	runID := uuid.NewString()
	owner := userID(c)

	go func() {
		ctx := context.Background()
		result, err := s.orch.RunWithID(ctx, runID, topic, uploaded)
		if err != nil {
			s.logger.Printf("run %s failed: %v", runID, err)
			return
		}
		if err := sess.SetResult(result); err != nil {
			s.logger.Printf("run %s: session indexing failed: %v", runID, err)
		}
		if err := s.sessions.Save(ctx, sess); err != nil {
			s.logger.Printf("run %s: session save failed: %v", runID, err)
		}
		if s.archive != nil && owner != "" {
			if err := s.archive.ArchiveResult(ctx, owner, result); err != nil {
				s.logger.Printf("run %s: archive failed: %v", runID, err)
			}
		}
	}()

	return c.JSON(http.StatusAccepted, StartResearchResponse{SessionID: sess.ID(), RunID: runID})
}

func (s *Server) parseResearchRequest(c echo.Context) (string, []research.Source, error) {
	ctype := c.Request().Header.Get(echo.HeaderContentType)
	if strings.HasPrefix(ctype, echo.MIMEMultipartForm) {
		topic := c.FormValue("topic")
		uploads, err := s.formUploads(c)
		if err != nil {
			return "", nil, err
		}
		parser := ingest.NewParser()
		var sources []research.Source
		for _, up := range uploads {
			text, err := parser.Parse(up.Filename, up.Data, up.MimeType)
			if err != nil {
				var unsupported *ingest.UnsupportedFormatError
				if errors.As(err, &unsupported) {
					return "", nil, echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
				}
				return "", nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
			}
			sources = append(sources, parser.ToSource(up.Filename, text))
		}
		return topic, sources, nil
	}

	var req StartResearchRequest
	if err := c.Bind(&req); err != nil {
		return "", nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return req.Topic, nil, nil
}

func (s *Server) researchStatus(c echo.Context) error {
	status, ok := s.orch.GetStatus(c.Param("run_id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown run")
	}
	return c.JSON(http.StatusOK, StatusResponse{
		RunID:    status.RunID,
		Stage:    string(status.Stage),
		Progress: status.Progress,
		Error:    status.Error,
	})
}

func (s *Server) listRuns(c echo.Context) error {
	if s.archive == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "run archive not configured")
	}
	runs, err := s.archive.ListRuns(c.Request().Context(), userID(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) getRun(c echo.Context) error {
	if s.archive == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "run archive not configured")
	}
	result, ok, err := s.archive.GetResult(c.Request().Context(), c.Param("run_id"), userID(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown run")
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) deleteRun(c echo.Context) error {
	if s.archive == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "run archive not configured")
	}
	if err := s.archive.DeleteRun(c.Request().Context(), c.Param("run_id"), userID(c)); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// formUploads reads multipart file attachments under the configured size cap.
func (s *Server) formUploads(c echo.Context) ([]formUpload, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	maxBytes := s.cfg.Server.MaxUploadMB * 1024 * 1024
	if maxBytes <= 0 {
		maxBytes = 10 * 1024 * 1024
	}
	var out []formUpload
	for _, fh := range form.File["files"] {
		if fh.Size > maxBytes {
			return nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "file too large: "+fh.Filename)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
		_ = f.Close()
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if int64(len(data)) > maxBytes {
			return nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "file too large: "+fh.Filename)
		}
		out = append(out, formUpload{
			Filename: fh.Filename,
			Data:     data,
			MimeType: fh.Header.Get("Content-Type"),
		})
	}
	return out, nil
}

type formUpload struct {
	Filename string
	Data     []byte
	MimeType string
}
