package render

import (
	"context"

	"github.com/c3ll256/etsy-helper-server-sub000/internal/domain"
)

// Renderer is the outbound port to the stamp rendering engine. The engine is
// opaque to the pipeline: it receives a template plus resolved text elements
// and returns a stored image.
type Renderer interface {
	Render(ctx context.Context, req Request) (*Response, error)
}

// Request describes one personalization group to render.
type Request struct {
	Template           domain.StampTemplate
	TextElements       []domain.TextElement
	ConvertTextToPaths bool
}

// Response carries the rendered artifact. FontAdjustments maps text-element
// id to the per-element font scale the engine applied to make long values fit.
type Response struct {
	ImageURL        string
	ImageBytes      []byte
	FontAdjustments map[string]float64
}
