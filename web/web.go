// Package web provides the embedded web UI for browsing rules and trying
// expressions.
package web

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/lemonberrylabs/exprtree/pkg/expr"
	"github.com/lemonberrylabs/exprtree/pkg/service"
	"github.com/lemonberrylabs/exprtree/pkg/store"
)

//go:embed templates/*.html
var templateFS embed.FS

// Handler serves the web UI pages.
type Handler struct {
	svc     *service.Service
	funcMap template.FuncMap
}

// pageData wraps all page-specific data with common fields.
type pageData struct {
	NavActive string
	Data      any
}

// New creates a new web UI handler.
func New(svc *service.Service) *Handler {
	return &Handler{
		svc: svc,
		funcMap: template.FuncMap{
			"timeAgo":    timeAgo,
			"formatTime": formatTime,
			"truncate":   truncate,
			"rpn":        expr.FormatRPN,
		},
	}
}

func (h *Handler) render(c *fiber.Ctx, page string, navActive string, data any) error {
	// Parse per page so define blocks do not collide across pages.
	tmpl, err := template.New("").Funcs(h.funcMap).ParseFS(templateFS, "templates/layout.html", "templates/"+page)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString(fmt.Sprintf("template error: %v", err))
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, page, pageData{NavActive: navActive, Data: data}); err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString(fmt.Sprintf("template error: %v", err))
	}

	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.Send(buf.Bytes())
}

// Register adds web UI routes to the Fiber app.
func (h *Handler) Register(app *fiber.App) {
	app.Get("/ui", h.ruleList)
	app.Get("/ui/rules/:id", h.ruleDetail)
	app.Get("/ui/playground", h.playground)

	app.Get("/", func(c *fiber.Ctx) error {
		return c.Redirect("/ui")
	})
}

type ruleListContent struct {
	Rules    []*store.Rule
	Contexts []string
}

type ruleDetailContent struct {
	Rule       *store.Rule
	Expression *expr.Expression
	Result     string
	ResultType string
	Error      string
}

type playgroundContent struct {
	Source     string
	Contexts   string
	Canonical  string
	RPN        string
	Result     string
	ResultType string
	Error      string
}

type notFoundContent struct {
	Message string
}

func (h *Handler) ruleList(c *fiber.Ctx) error {
	rules, err := h.svc.Rules().List()
	if err != nil {
		return err
	}
	return h.render(c, "rules.html", "rules", ruleListContent{
		Rules:    rules,
		Contexts: h.svc.Scope().Names(),
	})
}

// ruleDetail shows a rule and its value against the base contexts.
func (h *Handler) ruleDetail(c *fiber.Ctx) error {
	id := c.Params("id")
	r, e, err := h.svc.Rules().Expression(id)
	if errors.Is(err, store.ErrNotFound) {
		return h.render(c, "not_found.html", "", notFoundContent{
			Message: fmt.Sprintf("Rule '%s' not found", id),
		})
	}
	if err != nil {
		return err
	}

	content := ruleDetailContent{Rule: r, Expression: e}
	v, err := h.svc.EvaluateExpression(c.UserContext(), e, nil)
	if err != nil {
		content.Error = err.Error()
	} else {
		content.Result = v.String()
		content.ResultType = v.Type().String()
	}
	return h.render(c, "rule_detail.html", "rules", content)
}

// playground evaluates the q query parameter. The optional contexts
// parameter holds a YAML document layered over the base contexts.
func (h *Handler) playground(c *fiber.Ctx) error {
	content := playgroundContent{
		Source:   c.Query("q"),
		Contexts: c.Query("contexts"),
	}
	if strings.TrimSpace(content.Source) == "" {
		return h.render(c, "playground.html", "playground", content)
	}

	e, err := h.svc.Compile(c.UserContext(), content.Source)
	if err != nil {
		content.Error = err.Error()
		return h.render(c, "playground.html", "playground", content)
	}
	content.Canonical = e.String()
	content.RPN = expr.FormatRPN(e.RPN())

	sc := h.svc.Scope()
	if strings.TrimSpace(content.Contexts) != "" {
		if err := sc.LoadYAML([]byte(content.Contexts)); err != nil {
			content.Error = err.Error()
			return h.render(c, "playground.html", "playground", content)
		}
	}

	v, err := h.svc.EvaluateExpression(c.UserContext(), e, sc)
	if err != nil {
		content.Error = err.Error()
	} else {
		content.Result = v.String()
		content.ResultType = v.Type().String()
	}
	return h.render(c, "playground.html", "playground", content)
}

func timeAgo(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		m := int(d.Minutes())
		if m == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", m)
	case d < 24*time.Hour:
		h := int(d.Hours())
		if h == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", h)
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
