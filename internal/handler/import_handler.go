package handler

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/c3ll256/etsy-helper-server-sub000/internal/domain"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	headerUserID   = "X-User-ID"
	headerUserRole = "X-User-Role"
	roleAdmin      = "admin"
)

// ImportAPI is the service surface consumed by the import routes.
type ImportAPI interface {
	Submit(ctx context.Context, file io.Reader, ownerID string) (*domain.Job, error)
	GetJob(id, callerID string, elevated bool) (*domain.Job, error)
	Cancel(id, callerID string, elevated bool, reason string) (bool, error)
}

type ImportHandler struct {
	imports ImportAPI
	logger  *zap.Logger
}

func NewImportHandler(imports ImportAPI, logger *zap.Logger) (*ImportHandler, error) {
	if imports == nil {
		return nil, fmt.Errorf("import service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImportHandler{imports: imports, logger: logger}, nil
}

func RegisterImportRoutes(app fiber.Router, h *ImportHandler) {
	v1 := app.Group("/v1")
	v1.Post("/imports", h.SubmitImport)
	v1.Get("/imports/jobs/:id", h.GetJob)
	v1.Post("/imports/jobs/:id/cancel", h.CancelJob)
}

// SubmitImport accepts a multipart order spreadsheet and starts an
// asynchronous import job.
func (h *ImportHandler) SubmitImport(c *fiber.Ctx) error {
	ownerID := strings.TrimSpace(c.Get(headerUserID))
	if ownerID == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "X-User-ID header is required")
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return fmt.Errorf("%w: multipart field \"file\" is required", domain.ErrValidation)
	}

	file, err := fileHeader.Open()
	if err != nil {
		return fmt.Errorf("%w: failed to open uploaded file", domain.ErrValidation)
	}
	defer func() { _ = file.Close() }()

	job, err := h.imports.Submit(c.UserContext(), file, ownerID)
	if err != nil {
		return err
	}

	h.logger.Info("import submitted",
		zap.String("jobId", job.ID),
		zap.String("ownerId", ownerID),
		zap.String("filename", fileHeader.Filename),
	)

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"jobId":  job.ID,
		"status": job.Status,
	})
}

// GetJob returns the job snapshot for polling callers.
func (h *ImportHandler) GetJob(c *fiber.Ctx) error {
	job, err := h.imports.GetJob(c.Params("id"), callerID(c), isAdmin(c))
	if err != nil {
		return err
	}

	body := fiber.Map{
		"jobId":    job.ID,
		"status":   job.Status,
		"progress": job.Progress,
		"message":  job.Message,
	}
	if job.Result != nil {
		body["result"] = job.Result
	}
	if job.Error != "" {
		body["error"] = job.Error
	}

	return c.Status(fiber.StatusOK).JSON(body)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// CancelJob requests cooperative cancellation. The batch stops at its next
// row boundary; success=false means the job was already terminal.
func (h *ImportHandler) CancelJob(c *fiber.Ctx) error {
	var req cancelRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fmt.Errorf("%w: invalid cancel request body", domain.ErrValidation)
		}
	}

	ok, err := h.imports.Cancel(c.Params("id"), callerID(c), isAdmin(c), req.Reason)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": ok,
	})
}

func callerID(c *fiber.Ctx) string {
	return strings.TrimSpace(c.Get(headerUserID))
}

func isAdmin(c *fiber.Ctx) bool {
	return strings.EqualFold(strings.TrimSpace(c.Get(headerUserRole)), roleAdmin)
}
