package server

import (
	"bytes"
	"errors"
	"image"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-panorama/pkg/capture"
	"github.com/teslashibe/go-panorama/pkg/compose"
	"github.com/teslashibe/go-panorama/pkg/export"
	"github.com/teslashibe/go-panorama/pkg/preview"
	"github.com/teslashibe/go-panorama/pkg/session"
)

// ComposeRequest is the body of POST /api/compose. An empty mode selects
// the session default.
type ComposeRequest struct {
	Mode string `json:"mode"`
}

// ExportRequest is the body of POST /api/export.
type ExportRequest struct {
	Path string `json:"path"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error  string          `json:"error"`
	Result *compose.Result `json:"result,omitempty"`
}

// statusCode maps a session error onto an HTTP status.
func statusCode(err error) int {
	switch {
	case errors.Is(err, session.ErrCollecting),
		errors.Is(err, session.ErrNotCollecting),
		errors.Is(err, capture.ErrNoFrame):
		return fiber.StatusConflict
	case errors.Is(err, session.ErrFrameNotFound),
		errors.Is(err, compose.ErrNoComposite),
		errors.Is(err, preview.ErrNoFrames):
		return fiber.StatusNotFound
	case errors.Is(err, export.ErrNoImage), errors.Is(err, export.ErrUnsafePath):
		return fiber.StatusBadRequest
	case errors.Is(err, export.ErrIO), errors.Is(err, export.ErrEncode):
		return fiber.StatusInternalServerError
	}

	switch compose.StatusOf(err) {
	case compose.StatusInsufficientInput, compose.StatusInvalidInput:
		return fiber.StatusBadRequest
	case compose.StatusAlignmentFailed:
		return fiber.StatusUnprocessableEntity
	case compose.StatusCanceled:
		return fiber.StatusRequestTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

func (s *Server) fail(c *fiber.Ctx, err error, res *compose.Result) error {
	code := statusCode(err)
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(ErrorResponse{Error: err.Error(), Result: res})
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.sess.Status())
}

func (s *Server) handleStart(c *fiber.Ctx) error {
	if err := s.sess.Start(c.UserContext()); err != nil {
		return s.fail(c, err, nil)
	}
	return c.JSON(s.sess.Status())
}

func (s *Server) handleCapture(c *fiber.Ctx) error {
	index, err := s.sess.Capture(c.UserContext())
	if err != nil {
		return s.fail(c, err, nil)
	}
	return c.JSON(fiber.Map{"index": index})
}

func (s *Server) handleStop(c *fiber.Ctx) error {
	if err := s.sess.Stop(); err != nil {
		return s.fail(c, err, nil)
	}
	return c.JSON(s.sess.Status())
}

func (s *Server) handleReset(c *fiber.Ctx) error {
	s.sess.Reset()
	return c.JSON(s.sess.Status())
}

func (s *Server) handleFrame(c *fiber.Ctx) error {
	index, err := strconv.Atoi(c.Params("index"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid frame index"})
	}
	img, err := s.sess.Frame(index)
	if err != nil {
		return s.fail(c, err, nil)
	}
	return s.sendImage(c, img, export.FormatPNG)
}

func (s *Server) handlePreview(c *fiber.Ctx) error {
	img, err := s.sess.Preview()
	if err != nil {
		return s.fail(c, err, nil)
	}
	return s.sendImage(c, img, export.FormatPNG)
}

func (s *Server) handleLive(c *fiber.Ctx) error {
	img, err := s.sess.Live()
	if err != nil {
		return s.fail(c, err, nil)
	}
	return s.sendImage(c, img, export.FormatJPEG)
}

func (s *Server) handleCompose(c *fiber.Ctx) error {
	var req ComposeRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
		}
	}

	mode := s.sess.DefaultMode()
	if req.Mode != "" {
		m, err := compose.ParseMode(req.Mode)
		if err != nil {
			return s.fail(c, err, nil)
		}
		mode = m
	}

	res, err := s.sess.Compose(c.UserContext(), mode)
	if err != nil {
		return s.fail(c, err, &res)
	}
	return c.JSON(res)
}

func (s *Server) handleComposite(c *fiber.Ctx) error {
	format := export.FormatPNG
	if q := c.Query("format"); q != "" {
		f, err := export.ParseFormat(q)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
		}
		format = f
	}

	img, err := s.sess.Composite()
	if err != nil {
		return s.fail(c, err, nil)
	}
	return s.sendImage(c, img, format)
}

func (s *Server) handleExport(c *fiber.Ctx) error {
	var req ExportRequest
	if err := c.BodyParser(&req); err != nil || req.Path == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "path is required"})
	}

	path, err := s.sess.Export(req.Path)
	if err != nil {
		return s.fail(c, err, nil)
	}
	return c.JSON(fiber.Map{"path": path})
}

func (s *Server) sendImage(c *fiber.Ctx, img image.Image, format export.Format) error {
	var buf bytes.Buffer
	if err := export.Encode(&buf, img, format, 0); err != nil {
		return s.fail(c, &export.Error{Kind: export.ErrEncode, Format: format, Err: err}, nil)
	}
	c.Set(fiber.HeaderContentType, format.ContentType())
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Send(buf.Bytes())
}
