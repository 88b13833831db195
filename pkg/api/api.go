// Package api implements the REST API for evaluating expressions and
// managing stored rules.
package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/lemonberrylabs/exprtree/pkg/expr"
	"github.com/lemonberrylabs/exprtree/pkg/scope"
	"github.com/lemonberrylabs/exprtree/pkg/service"
	"github.com/lemonberrylabs/exprtree/pkg/store"
	"github.com/lemonberrylabs/exprtree/pkg/types"
)

// Server is the HTTP API server.
type Server struct {
	app    *fiber.App
	svc    *service.Service
	logger *slog.Logger
}

// New creates a new API server. A nil logger discards output.
func New(svc *service.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	srv := &Server{svc: svc, logger: logger}

	// Immutable: request values such as rule IDs outlive the handler.
	app := fiber.New(fiber.Config{
		Immutable:             true,
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		ErrorHandler:          srv.handleError,
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(srv.logRequest)

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Expressions API
	app.Post("/v1/expressions\\:evaluate", srv.evaluate)
	app.Post("/v1/expressions\\:rpn", srv.toRPN)
	app.Post("/v1/expressions\\:parse", srv.parse)

	// Rules API
	app.Post("/v1/rules", srv.createRule)
	app.Get("/v1/rules", srv.listRules)
	app.Get("/v1/rules/:rule", srv.getRule)
	app.Patch("/v1/rules/:rule", srv.updateRule)
	app.Delete("/v1/rules/:rule", srv.deleteRule)
	app.Post("/v1/rules/:rule\\:evaluate", srv.evaluateRule)

	srv.app = app
	return srv
}

// Listen starts the HTTP server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Serve starts the HTTP server on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) logRequest(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.logger.Debug("request",
		"method", c.Method(),
		"path", c.Path(),
		"status", c.Response().StatusCode(),
		"duration", time.Since(start),
		"request_id", c.GetRespHeader(fiber.HeaderXRequestID),
	)
	return err
}

// --- Expression Handlers ---

type expressionRequest struct {
	Expression string      `json:"expression"`
	Contexts   rawContexts `json:"contexts"`
}

func (s *Server) evaluate(c *fiber.Ctx) error {
	var req expressionRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidArgument(c, fmt.Sprintf("invalid request body: %v", err))
	}
	if req.Expression == "" {
		return invalidArgument(c, "expression is required")
	}

	sc, err := s.requestScope(req.Contexts)
	if err != nil {
		return invalidArgument(c, err.Error())
	}
	v, err := s.svc.Evaluate(c.UserContext(), req.Expression, sc)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(valueToJSON(v))
}

func (s *Server) toRPN(c *fiber.Ctx) error {
	var req expressionRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidArgument(c, fmt.Sprintf("invalid request body: %v", err))
	}

	e, err := s.svc.Compile(c.UserContext(), req.Expression)
	if err != nil {
		return s.writeError(c, err)
	}
	rpn := e.RPN()
	tokens := make([]fiber.Map, len(rpn))
	for i, tok := range rpn {
		tokens[i] = fiber.Map{
			"type": tok.Type.String(),
			"text": tok.Text,
			"pos":  tok.Pos,
		}
	}
	return c.JSON(fiber.Map{
		"rpn":    expr.FormatRPN(rpn),
		"tokens": tokens,
	})
}

func (s *Server) parse(c *fiber.Ctx) error {
	var req expressionRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidArgument(c, fmt.Sprintf("invalid request body: %v", err))
	}

	e, err := s.svc.Compile(c.UserContext(), req.Expression)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"canonical": e.String(),
		"tree":      e.Root(),
	})
}

// --- Rule Handlers ---

type ruleRequest struct {
	Name        *string `json:"name"`
	Expression  *string `json:"expression"`
	Description *string `json:"description"`
}

func (s *Server) createRule(c *fiber.Ctx) error {
	var req ruleRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidArgument(c, fmt.Sprintf("invalid request body: %v", err))
	}
	if req.Expression == nil || *req.Expression == "" {
		return invalidArgument(c, "expression is required")
	}

	id := c.Query("ruleId")
	if id != "" && !store.ValidID(id) {
		return invalidArgument(c, fmt.Sprintf("invalid ruleId %q: must start with a lowercase letter and contain only lowercase letters, digits, '_' or '-' (max 128 characters)", id))
	}
	r := store.Rule{ID: id, Expression: *req.Expression}
	if req.Name != nil {
		r.Name = *req.Name
	}
	if req.Description != nil {
		r.Description = *req.Description
	}
	created, err := s.svc.Rules().Create(r)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(created)
}

func (s *Server) getRule(c *fiber.Ctx) error {
	r, err := s.svc.Rules().Get(c.Params("rule"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(r)
}

func (s *Server) listRules(c *fiber.Ctx) error {
	rules, err := s.svc.Rules().List()
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"rules": rules,
	})
}

func (s *Server) updateRule(c *fiber.Ctx) error {
	var req ruleRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidArgument(c, fmt.Sprintf("invalid request body: %v", err))
	}

	r, err := s.svc.Rules().Get(c.Params("rule"))
	if err != nil {
		return s.writeError(c, err)
	}
	if req.Name != nil {
		r.Name = *req.Name
	}
	if req.Expression != nil {
		r.Expression = *req.Expression
	}
	if req.Description != nil {
		r.Description = *req.Description
	}
	updated, err := s.svc.Rules().Update(*r)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(updated)
}

func (s *Server) deleteRule(c *fiber.Ctx) error {
	if err := s.svc.Rules().Delete(c.Params("rule")); err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(fiber.Map{})
}

func (s *Server) evaluateRule(c *fiber.Ctx) error {
	var req expressionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return invalidArgument(c, fmt.Sprintf("invalid request body: %v", err))
		}
	}

	sc, err := s.requestScope(req.Contexts)
	if err != nil {
		return invalidArgument(c, err.Error())
	}
	r, v, err := s.svc.EvaluateRule(c.UserContext(), c.Params("rule"), sc)
	if err != nil {
		return s.writeError(c, err)
	}
	out := valueToJSON(v)
	out["rule"] = r.ID
	out["revision"] = r.Revision
	return c.JSON(out)
}

// --- Helpers ---

// rawContexts keeps the contexts object undecoded so numbers can be read
// with integer precision.
type rawContexts []byte

func (r *rawContexts) UnmarshalJSON(data []byte) error {
	*r = append((*r)[:0], data...)
	return nil
}

func (s *Server) requestScope(raw rawContexts) (*scope.Store, error) {
	sc := s.svc.Scope()
	if len(raw) == 0 || string(raw) == "null" {
		return sc, nil
	}
	if err := sc.LoadJSON(raw); err != nil {
		return nil, fmt.Errorf("invalid contexts: %w", err)
	}
	return sc, nil
}

func valueToJSON(v types.Value) fiber.Map {
	return fiber.Map{
		"result": v,
		"type":   v.Type().String(),
	}
}

func errorBody(code int, status, message string) fiber.Map {
	return fiber.Map{
		"error": fiber.Map{
			"code":    code,
			"message": message,
			"status":  status,
		},
	}
}

func invalidArgument(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(errorBody(fiber.StatusBadRequest, "INVALID_ARGUMENT", message))
}

// writeError maps domain errors to HTTP status codes.
func (s *Server) writeError(c *fiber.Ctx, err error) error {
	var (
		pe      expr.ParseError
		invalid *store.InvalidExpressionError
		evalErr *types.EvalError
		ie      *types.InternalError
	)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(errorBody(fiber.StatusNotFound, "NOT_FOUND", err.Error()))
	case errors.Is(err, store.ErrAlreadyExists):
		return c.Status(fiber.StatusConflict).JSON(errorBody(fiber.StatusConflict, "ALREADY_EXISTS", err.Error()))
	case errors.Is(err, store.ErrClosed):
		return c.Status(fiber.StatusServiceUnavailable).JSON(errorBody(fiber.StatusServiceUnavailable, "UNAVAILABLE", err.Error()))
	case errors.As(err, &invalid), errors.As(err, &pe):
		return invalidArgument(c, err.Error())
	case errors.As(err, &evalErr):
		body := errorBody(fiber.StatusUnprocessableEntity, "FAILED_PRECONDITION", evalErr.Message)
		body["error"].(fiber.Map)["tags"] = evalErr.Tags
		return c.Status(fiber.StatusUnprocessableEntity).JSON(body)
	case errors.As(err, &ie):
		s.logger.Error("internal error", "path", c.Path(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(errorBody(fiber.StatusInternalServerError, "INTERNAL", err.Error()))
	default:
		s.logger.Error("request failed", "path", c.Path(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(errorBody(fiber.StatusInternalServerError, "INTERNAL", err.Error()))
	}
}

// handleError renders errors returned by middleware and routing, including
// recovered panics, in the same envelope as handler errors.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	status := "INTERNAL"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		switch code {
		case fiber.StatusNotFound:
			status = "NOT_FOUND"
		case fiber.StatusMethodNotAllowed:
			status = "UNIMPLEMENTED"
		case fiber.StatusBadRequest, fiber.StatusUnprocessableEntity:
			status = "INVALID_ARGUMENT"
		}
	} else {
		s.logger.Error("unhandled error", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(errorBody(code, status, err.Error()))
}
