/**
 * HTTP transport for label verification
 *
 * Thin gin layer over the Verification Orchestrator and Batch Processor.
 * Verification outcomes (including FAIL and NEEDS_REVIEW) are 200 responses;
 * only failures to verify at all come back as {"error": ErrorReport}.
 */

package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/adverant/nexus/labelverify-worker/internal/archive"
	"github.com/adverant/nexus/labelverify-worker/internal/batch"
	apperrors "github.com/adverant/nexus/labelverify-worker/internal/errors"
	"github.com/adverant/nexus/labelverify-worker/internal/logging"
	"github.com/adverant/nexus/labelverify-worker/internal/processor"
	"github.com/adverant/nexus/labelverify-worker/internal/queue"
)

// DefaultMaxUploadBytes bounds a single label image upload
const DefaultMaxUploadBytes = 25 << 20

// JobQueue is the part of the queue the server needs
type JobQueue interface {
	EnqueueBatch(ctx context.Context, payload *queue.BatchPayload) (string, error)
	Status(ctx context.Context, jobID string) (*queue.JobStatus, error)
}

// Options wires the server
type Options struct {
	Verifier       processor.Verifier
	Batch          *batch.Processor // defaults to one over Verifier
	BatchOptions   batch.Options
	ArchiveLimits  archive.Limits
	MaxUploadBytes int64
	Queue          JobQueue // optional; job endpoints answer 503 without it
	EngineName     string
}

// Server serves the verification API
type Server struct {
	opts   Options
	logger *logging.Logger
}

// New creates a server
func New(opts Options) (*Server, error) {
	if opts.Verifier == nil {
		return nil, fmt.Errorf("Verifier is required")
	}
	if opts.Batch == nil {
		opts.Batch = batch.NewProcessor(opts.Verifier)
	}
	if opts.ArchiveLimits.MaxEntries == 0 && opts.ArchiveLimits.MaxTotalBytes == 0 {
		opts.ArchiveLimits = archive.DefaultLimits()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Server{opts: opts, logger: logging.NewLogger("HTTPServer")}, nil
}

// SetupRouter builds the gin engine
func (s *Server) SetupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", s.Health)

	api := r.Group("/api")
	api.POST("/verify", s.Verify)
	api.POST("/verify-with-application-json", s.VerifyWithApplicationJSON)
	api.POST("/verify-batch", s.VerifyBatch)
	api.POST("/verify-batch-pairs", s.VerifyBatchPairs)
	api.POST("/jobs/batch-pairs", s.EnqueueBatchPairs)
	api.GET("/jobs/:id", s.JobStatus)

	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("Request handled",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// Health reports liveness and the OCR engine in use
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"engine": s.opts.EngineName,
		"queue":  s.opts.Queue != nil,
	})
}

// Verify checks one label against form fields
func (s *Server) Verify(c *gin.Context) {
	image, err := s.readUpload(c, "file", s.opts.MaxUploadBytes)
	if err != nil {
		s.fail(c, err)
		return
	}
	app, err := applicationFromForm(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.verify(c, image, app)
}

// VerifyWithApplicationJSON checks one label against an application descriptor
func (s *Server) VerifyWithApplicationJSON(c *gin.Context) {
	image, err := s.readUpload(c, "file", s.opts.MaxUploadBytes)
	if err != nil {
		s.fail(c, err)
		return
	}
	raw, ok := c.GetPostForm("application_json")
	if !ok {
		s.fail(c, apperrors.NewValidationError("application_json", "field is required"))
		return
	}
	app, err := processor.ParseApplicationJSON([]byte(raw))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.verify(c, image, app)
}

func (s *Server) verify(c *gin.Context, image []byte, app processor.ApplicationRecord) {
	result, err := s.opts.Verifier.Verify(c.Request.Context(), &processor.VerifyRequest{
		Image:       image,
		Application: app,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// VerifyBatch checks every image in an archive against one shared application
func (s *Server) VerifyBatch(c *gin.Context) {
	data, err := s.readUpload(c, "zip_file", s.opts.ArchiveLimits.MaxTotalBytes)
	if err != nil {
		s.fail(c, err)
		return
	}
	app, err := applicationFromForm(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := app.Validate(); err != nil {
		s.fail(c, err)
		return
	}
	entries, err := archive.ReadLabels(data, s.opts.ArchiveLimits)
	if err != nil {
		s.fail(c, err)
		return
	}

	opts := s.opts.BatchOptions
	opts.SharedApplication = &app
	s.runBatch(c, entries, opts)
}

// VerifyBatchPairs checks an archive of label/application pairs
func (s *Server) VerifyBatchPairs(c *gin.Context) {
	data, err := s.readUpload(c, "zip_file", s.opts.ArchiveLimits.MaxTotalBytes)
	if err != nil {
		s.fail(c, err)
		return
	}
	entries, err := archive.ReadPairs(data, s.opts.ArchiveLimits)
	if err != nil {
		s.fail(c, err)
		return
	}

	opts := s.opts.BatchOptions
	opts.SharedApplication = nil
	s.runBatch(c, entries, opts)
}

func (s *Server) runBatch(c *gin.Context, entries []archive.Entry, opts batch.Options) {
	res, err := s.opts.Batch.Run(c.Request.Context(), entries, opts)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// EnqueueBatchPairs hands a paired archive to the worker queue
func (s *Server) EnqueueBatchPairs(c *gin.Context) {
	if s.opts.Queue == nil {
		queueUnavailable(c)
		return
	}
	data, err := s.readUpload(c, "zip_file", s.opts.ArchiveLimits.MaxTotalBytes)
	if err != nil {
		s.fail(c, err)
		return
	}

	jobID, err := s.opts.Queue.EnqueueBatch(c.Request.Context(), &queue.BatchPayload{
		Archive: data,
		Mode:    queue.BatchModePairs,
	})
	if err != nil {
		s.logger.Error("Failed to enqueue batch", "error", err)
		s.fail(c, apperrors.NewInternalError("failed to enqueue batch", err))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
}

// JobStatus reports a queued job's state and, once finished, its result
func (s *Server) JobStatus(c *gin.Context) {
	if s.opts.Queue == nil {
		queueUnavailable(c)
		return
	}
	status, err := s.opts.Queue.Status(c.Request.Context(), c.Param("id"))
	if stderrors.Is(err, queue.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": &apperrors.ErrorReport{
			Kind:    apperrors.KindValidation,
			Message: "Unknown job: " + c.Param("id"),
		}})
		return
	}
	if err != nil {
		s.fail(c, apperrors.NewInternalError("failed to read job status", err))
		return
	}
	c.JSON(http.StatusOK, status)
}

func queueUnavailable(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": &apperrors.ErrorReport{
		Kind:    apperrors.KindInternal,
		Message: "Job queue is not configured",
	}})
}

// fail writes an error report with the status its kind maps to
func (s *Server) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "path", c.FullPath(), "kind", apperrors.KindOf(err), "error", err)
	}
	c.JSON(status, gin.H{"error": apperrors.ReportOf(err)})
}

// StatusFor maps an error kind to an HTTP status
func StatusFor(err error) int {
	switch apperrors.KindOf(err) {
	case apperrors.KindValidation, apperrors.KindPairing:
		return http.StatusBadRequest
	case apperrors.KindDecode:
		return http.StatusUnprocessableEntity
	case apperrors.KindEngineUnavailable:
		return http.StatusServiceUnavailable
	case apperrors.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) readUpload(c *gin.Context, field string, limit int64) ([]byte, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, apperrors.NewValidationError(field, "file is required")
	}
	if limit > 0 && fh.Size > limit {
		return nil, apperrors.NewValidationError(field, fmt.Sprintf("file exceeds %d bytes", limit))
	}
	return readFileHeader(fh)
}

func readFileHeader(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to open upload", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to read upload", err)
	}
	return data, nil
}

func applicationFromForm(c *gin.Context) (processor.ApplicationRecord, error) {
	app := processor.NewApplicationRecord(
		c.PostForm("brand_name"),
		c.PostForm("abv"),
		c.PostForm("net_contents"),
	)
	if raw := c.PostForm("require_gov_warning"); raw != "" {
		required, err := strconv.ParseBool(raw)
		if err != nil {
			return app, apperrors.NewValidationError("require_gov_warning", "must be true or false")
		}
		app.GovernmentWarningRequired = required
	}
	return app, nil
}
