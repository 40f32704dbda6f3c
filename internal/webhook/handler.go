package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"whatsapp-campaigns/internal/config"
	"whatsapp-campaigns/internal/delivery"

	"github.com/gin-gonic/gin"
)

const maxPayload = 1 << 20

// Processor applies one parsed callback.
type Processor interface {
	Handle(ctx context.Context, fields map[string]string, raw string) delivery.Result
}

type Handler struct {
	Config    *config.Config
	Processor Processor
	log       *slog.Logger
}

func NewHandler(cfg *config.Config, processor Processor, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{Config: cfg, Processor: processor, log: log}
}

// VerifyWebhook answers the subscription handshake some gateways perform
// before they start posting callbacks.
func (h *Handler) VerifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "" || token == "" {
		c.Status(http.StatusBadRequest)
		return
	}
	if mode == "subscribe" && h.Config.VerifyToken != "" && token == h.Config.VerifyToken {
		h.log.Info("webhook verified")
		c.String(http.StatusOK, challenge)
		return
	}
	c.Status(http.StatusForbidden)
}

// HandleCallback accepts a form-encoded or JSON callback. It always answers
// 200 so the gateway does not retry; failures are logged by the processor.
func (h *Handler) HandleCallback(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPayload))
	if err != nil {
		h.log.Warn("read webhook body", "error", err)
	}
	fields, err := parseFields(c.ContentType(), raw)
	if err != nil {
		h.log.Warn("unparseable webhook body", "error", err, "content_type", c.ContentType())
		fields = map[string]string{}
	}
	for k, v := range c.Request.URL.Query() {
		if _, ok := fields[k]; !ok && len(v) > 0 {
			fields[k] = v[0]
		}
	}

	// the gateway hanging up must not abort a half-applied callback
	ctx := context.WithoutCancel(c.Request.Context())
	res := h.Processor.Handle(ctx, fields, string(raw))
	c.JSON(http.StatusOK, gin.H{"success": true, "outcome": res.Outcome})
}

func parseFields(contentType string, raw []byte) (map[string]string, error) {
	fields := map[string]string{}
	body := strings.TrimSpace(string(raw))
	if body == "" {
		return fields, nil
	}

	if contentType == "application/json" || strings.HasPrefix(body, "{") {
		var generic map[string]any
		if err := json.Unmarshal([]byte(body), &generic); err != nil {
			return fields, err
		}
		for k, v := range generic {
			switch val := v.(type) {
			case string:
				fields[k] = val
			case nil:
			case float64:
				fields[k] = strconv.FormatFloat(val, 'f', -1, 64)
			default:
				fields[k] = fmt.Sprint(val)
			}
		}
		return fields, nil
	}

	values, err := url.ParseQuery(body)
	if err != nil {
		return fields, err
	}
	for k, v := range values {
		if len(v) > 0 {
			fields[k] = v[0]
		}
	}
	return fields, nil
}
