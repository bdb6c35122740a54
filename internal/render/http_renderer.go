package render

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/c3ll256/etsy-helper-server-sub000/internal/domain"
	"github.com/go-resty/resty/v2"
)

const defaultRenderTimeout = 60 * time.Second

// statusClientClosedRequest is the non-standard code the engine uses to
// signal that rendering was aborted by an operator cancellation.
const statusClientClosedRequest = 499

type renderRequest struct {
	TemplateID         string               `json:"templateId"`
	TextElements       []domain.TextElement `json:"textElements"`
	ConvertTextToPaths bool                 `json:"convertTextToPaths"`
}

type renderResponse struct {
	ImageURL        string             `json:"imageUrl"`
	ImageBase64     string             `json:"imageBase64,omitempty"`
	FontAdjustments map[string]float64 `json:"fontAdjustments,omitempty"`
	Cancelled       bool               `json:"cancelled,omitempty"`
	Error           string             `json:"error,omitempty"`
}

var _ Renderer = (*HTTPRenderer)(nil)

// HTTPRenderer invokes the rendering engine over HTTP.
type HTTPRenderer struct {
	client   *resty.Client
	endpoint string
}

func NewHTTPRenderer(endpoint string) (*HTTPRenderer, error) {
	client := resty.New()
	client.SetTimeout(defaultRenderTimeout)
	client.SetRetryCount(0)

	return NewHTTPRendererWithClient(endpoint, client)
}

func NewHTTPRendererWithClient(endpoint string, client *resty.Client) (*HTTPRenderer, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("render endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid render endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultRenderTimeout)
	}
	client.SetRetryCount(0)

	return &HTTPRenderer{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (r *HTTPRenderer) Render(ctx context.Context, req Request) (*Response, error) {
	if r == nil || r.client == nil {
		return nil, fmt.Errorf("renderer is not initialized")
	}
	if req.Template.ID == "" {
		return nil, &RenderError{Message: "template id is required"}
	}
	if len(req.TextElements) == 0 {
		return nil, &RenderError{Message: "at least one text element is required"}
	}

	body := renderRequest{
		TemplateID:         req.Template.ID,
		TextElements:       req.TextElements,
		ConvertTextToPaths: req.ConvertTextToPaths,
	}

	response, err := r.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(r.endpoint)
	if err != nil {
		return nil, &RenderError{
			Message:   "render request failed",
			Transient: ctx.Err() == nil,
			Cause:     err,
		}
	}

	statusCode := response.StatusCode()
	if statusCode == statusClientClosedRequest {
		return nil, fmt.Errorf("%w: rendering engine aborted", domain.ErrJobCancelled)
	}

	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return nil, &RenderError{
			StatusCode: statusCode,
			Message:    renderErrorMessage(statusCode, strings.TrimSpace(response.String())),
			Transient:  isTransientHTTPStatus(statusCode),
		}
	}

	var decoded renderResponse
	if err := json.Unmarshal(response.Body(), &decoded); err != nil {
		return nil, &RenderError{
			StatusCode: statusCode,
			Message:    "invalid render response",
			Cause:      err,
		}
	}

	if decoded.Cancelled {
		return nil, fmt.Errorf("%w: rendering engine aborted", domain.ErrJobCancelled)
	}
	if decoded.Error != "" {
		return nil, &RenderError{
			StatusCode: statusCode,
			Message:    decoded.Error,
		}
	}
	if strings.TrimSpace(decoded.ImageURL) == "" {
		return nil, &RenderError{
			StatusCode: statusCode,
			Message:    "render response missing image url",
		}
	}

	var imageBytes []byte
	if decoded.ImageBase64 != "" {
		imageBytes, err = base64.StdEncoding.DecodeString(decoded.ImageBase64)
		if err != nil {
			return nil, &RenderError{
				StatusCode: statusCode,
				Message:    "render response carried malformed image bytes",
				Cause:      err,
			}
		}
	}

	return &Response{
		ImageURL:        decoded.ImageURL,
		ImageBytes:      imageBytes,
		FontAdjustments: decoded.FontAdjustments,
	}, nil
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func renderErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("rendering engine returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}
