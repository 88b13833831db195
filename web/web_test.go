package web

import (
	"context"
	"html"
	"io"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/lemonberrylabs/exprtree/pkg/scope"
	"github.com/lemonberrylabs/exprtree/pkg/service"
	"github.com/lemonberrylabs/exprtree/pkg/store"
	"github.com/lemonberrylabs/exprtree/pkg/types"
)

func setupTestApp(t *testing.T) (*fiber.App, *service.Service) {
	t.Helper()
	base := scope.New()
	base.Set("order", "total", types.NewInt(120))
	svc := service.New(store.NewCompiled(store.NewMemory()), service.WithBaseScope(base))
	app := fiber.New()
	New(svc).Register(app)
	return app, svc
}

// get returns the status and the body with HTML entities decoded, so
// assertions can use the text as rendered.
func get(t *testing.T, app *fiber.App, target string) (int, string) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest("GET", target, nil), -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, html.UnescapeString(string(body))
}

// countingRecorder counts compilations and evaluations.
type countingRecorder struct {
	parses, evals atomic.Int64
}

func (r *countingRecorder) RecordEvaluation(context.Context, time.Duration, error) { r.evals.Add(1) }

func (r *countingRecorder) RecordParse(context.Context, error) { r.parses.Add(1) }

func TestRuleListEmpty(t *testing.T) {
	app, _ := setupTestApp(t)

	code, body := get(t, app, "/ui")
	if code != 200 {
		t.Fatalf("expected 200, got %d: %s", code, body)
	}
	if !strings.Contains(body, "No rules defined") {
		t.Error("expected empty state message")
	}
	if !strings.Contains(body, "<code>order</code>") {
		t.Error("expected base context name in response")
	}
}

func TestRuleListWithData(t *testing.T) {
	app, svc := setupTestApp(t)

	if _, err := svc.Rules().Create(store.Rule{ID: "big-order", Name: "Big order", Expression: "order.total -gt 100"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	code, body := get(t, app, "/ui")
	if code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
	if !strings.Contains(body, `href="/ui/rules/big-order"`) {
		t.Error("expected rule link in response")
	}
	if !strings.Contains(body, "Big order") {
		t.Error("expected rule name in response")
	}
}

func TestRuleDetail(t *testing.T) {
	app, svc := setupTestApp(t)

	if _, err := svc.Rules().Create(store.Rule{ID: "big-order", Expression: "order.total -gt 100"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	code, body := get(t, app, "/ui/rules/big-order")
	if code != 200 {
		t.Fatalf("expected 200, got %d: %s", code, body)
	}
	if !strings.Contains(body, "order.total -gt 100") {
		t.Error("expected canonical form in response")
	}
	if !strings.Contains(body, "<code>true</code> (bool)") {
		t.Errorf("expected result in response, got %s", body)
	}
}

func TestRuleDetailNotFound(t *testing.T) {
	app, _ := setupTestApp(t)

	_, body := get(t, app, "/ui/rules/missing")
	if !strings.Contains(body, "Rule 'missing' not found") {
		t.Errorf("expected not found message, got %s", body)
	}
}

func TestPlayground(t *testing.T) {
	app, _ := setupTestApp(t)

	code, body := get(t, app, "/ui/playground")
	if code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
	if strings.Contains(body, "<h2>Result</h2>") {
		t.Error("expected no result without an expression")
	}

	q := url.Values{"q": {"x.n * 3 + 1"}, "contexts": {"x:\n  n: 1\n"}}
	_, body = get(t, app, "/ui/playground?"+q.Encode())
	if !strings.Contains(body, "<code>4</code> (int)") {
		t.Errorf("expected result in response, got %s", body)
	}
	if !strings.Contains(body, "<code>x n . 3 * 1 +</code>") {
		t.Errorf("expected rpn in response, got %s", body)
	}

	q = url.Values{"q": {"1 / 0"}}
	_, body = get(t, app, "/ui/playground?"+q.Encode())
	if !strings.Contains(body, `class="error"`) {
		t.Errorf("expected error in response, got %s", body)
	}
}

func TestPlaygroundCompilesOnce(t *testing.T) {
	rec := &countingRecorder{}
	svc := service.New(store.NewCompiled(store.NewMemory()), service.WithRecorder(rec))
	app := fiber.New()
	New(svc).Register(app)

	q := url.Values{"q": {"2 + 2"}}
	_, page := get(t, app, "/ui/playground?"+q.Encode())
	if !strings.Contains(page, "<code>4</code> (int)") {
		t.Fatalf("expected result in response, got %s", page)
	}
	if got := rec.parses.Load(); got != 1 {
		t.Errorf("expected 1 compilation, got %d", got)
	}
	if got := rec.evals.Load(); got != 1 {
		t.Errorf("expected 1 evaluation, got %d", got)
	}
}

func TestRuleDetailShowsResultOfDisplayedRevision(t *testing.T) {
	app, svc := setupTestApp(t)

	if _, err := svc.Rules().Create(store.Rule{ID: "big-order", Expression: "order.total -gt 100"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	r, err := svc.Rules().Get("big-order")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	r.Expression = "order.total -gt 1000"
	if _, err := svc.Rules().Update(*r); err != nil {
		t.Fatalf("Update: %v", err)
	}

	_, page := get(t, app, "/ui/rules/big-order")
	if !strings.Contains(page, "order.total -gt 1000") {
		t.Errorf("expected updated expression in response, got %s", page)
	}
	if !strings.Contains(page, "<code>false</code> (bool)") {
		t.Errorf("expected result of the updated expression, got %s", page)
	}
}

func TestRootRedirect(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil), -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusFound {
		t.Fatalf("expected 302, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/ui" {
		t.Fatalf("expected redirect to /ui, got %q", loc)
	}
}
