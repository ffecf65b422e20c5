package mail

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"net/http"

	"github.com/gofiber/template/html/v2"
)

//go:embed templates/*.html
var templateFS embed.FS

// Template names, one per notification kind.
const (
	TemplateWelcome       = "welcome"
	TemplateReceipt       = "receipt"
	TemplatePaymentFailed = "payment_failed"
	TemplateCancellation  = "cancellation"
	TemplateTrialEnding   = "trial_ending"

	layoutTemplate = "layout"
)

var knownTemplates = map[string]bool{
	TemplateWelcome:       true,
	TemplateReceipt:       true,
	TemplatePaymentFailed: true,
	TemplateCancellation:  true,
	TemplateTrialEnding:   true,
}

// Renderer turns a template name and its data into an HTML body wrapped in the shared layout.
type Renderer struct {
	engine *html.Engine
}

func NewRenderer() (*Renderer, error) {
	sub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, err
	}
	engine := html.NewFileSystem(http.FS(sub), ".html")
	if err := engine.Load(); err != nil {
		return nil, fmt.Errorf("load email templates: %w", err)
	}
	return &Renderer{engine: engine}, nil
}

func (r *Renderer) Render(name string, data map[string]string) (string, error) {
	if !knownTemplates[name] {
		return "", fmt.Errorf("unknown email template %q", name)
	}
	var buf bytes.Buffer
	if err := r.engine.Render(&buf, name, data, layoutTemplate); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}
