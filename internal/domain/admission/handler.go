package admission

import (
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

// ContentTypeER7 is the media type of every acknowledgement reply.
const ContentTypeER7 = "x-application/hl7-v2+er; charset=utf-8"

// DefaultMaxBody caps the size of an inbound message.
const DefaultMaxBody int64 = 1 << 20

// Handler exposes the converter over HTTP. Every reply is a 200 carrying
// an ACK or NAK.
type Handler struct {
	svc     *Service
	maxBody int64
}

func NewHandler(svc *Service, maxBody int64) *Handler {
	if maxBody <= 0 {
		maxBody = DefaultMaxBody
	}
	return &Handler{svc: svc, maxBody: maxBody}
}

// RegisterRoutes registers the ER7 endpoints.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/", h.Convert)
	e.POST("/hl7/v2/er7", h.Convert)
}

func (h *Handler) Convert(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, h.maxBody+1))
	if err != nil {
		return h.reply(c, h.svc.Reject(body, fmt.Errorf("read request body: %w", err)))
	}
	if int64(len(body)) > h.maxBody {
		tooLarge := newError(KindMessageTooLarge,
			fmt.Sprintf("Message exceeds the maximum size of %d bytes", h.maxBody), nil)
		return h.reply(c, h.svc.Reject(body[:h.maxBody], tooLarge))
	}
	return h.reply(c, h.svc.Process(c.Request().Context(), body))
}

func (h *Handler) reply(c echo.Context, out *Outcome) error {
	return c.Blob(http.StatusOK, ContentTypeER7, []byte(out.Ack))
}
