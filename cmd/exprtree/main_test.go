package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func TestEvalCommand(t *testing.T) {
	out, err := run(t, "eval", "1 + 2 * 3")
	require.NoError(t, err)
	assert.Equal(t, "7\n", out)

	out, err = run(t, "eval", "order.total -gt 100 && order.vip",
		"--set", "order.total=150", "--set", "order.vip=true")
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)
}

func TestEvalCommandContextFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctx.yaml")
	require.NoError(t, os.WriteFile(path, []byte("order:\n  total: 2.5\n"), 0o644))

	out, err := run(t, "eval", "order.total * 2", "--context", path, "--json")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, float64(5), got["result"])
	assert.Equal(t, "float", got["type"])
}

func TestEvalCommandErrors(t *testing.T) {
	_, err := run(t, "eval", "(1 + 2")
	assert.Error(t, err)

	_, err = run(t, "eval", "1 / 0")
	assert.ErrorContains(t, err, "division by zero")

	_, err = run(t, "eval", "1", "--set", "nodot=1")
	assert.Error(t, err)

	_, err = run(t, "eval", "1 + 2 + 3", "--max-length", "3")
	assert.ErrorContains(t, err, "maximum length")
}

func TestEvalCommandLimitsFromEnv(t *testing.T) {
	t.Setenv("EXPRTREE_MAX_EXPRESSION_LENGTH", "3")

	_, err := run(t, "eval", "1 + 2 + 3")
	assert.ErrorContains(t, err, "maximum length")

	_, err = run(t, "rpn", "1 + 2 + 3")
	assert.ErrorContains(t, err, "maximum length")

	out, err := run(t, "eval", "1 + 2 + 3", "--max-length", "0")
	require.NoError(t, err, "an explicit flag overrides the environment")
	assert.Equal(t, "6\n", out)
}

func TestEvalCommandInvalidEnv(t *testing.T) {
	t.Setenv("EXPRTREE_MAX_DEPTH", "deep")
	_, err := run(t, "eval", "1")
	assert.Error(t, err)
}

func TestFunctionsCommand(t *testing.T) {
	out, err := run(t, "functions")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Greater(t, len(lines), 2)
	assert.Equal(t, []string{"NAME", "KIND", "ARITY", "PRECEDENCE", "ASSOCIATIVITY"}, strings.Fields(lines[0]))
	assert.NotContains(t, out, "_neg")

	var sawFunction bool
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		require.Len(t, fields, 5, line)
		switch fields[1] {
		case "function":
			sawFunction = true
		case "operator":
			assert.False(t, sawFunction, "operators are listed before functions: %q", line)
		}
	}
	assert.True(t, sawFunction)
	assert.Contains(t, out, "sin")
}

func TestRPNCommand(t *testing.T) {
	out, err := run(t, "rpn", "2 * sin(x) + cos 3")
	require.NoError(t, err)
	assert.Equal(t, "2 x sin * 3 cos +\n", out)
}

func TestTreeCommand(t *testing.T) {
	out, err := run(t, "tree", "(1+2)*-x")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 7)
	assert.Equal(t, "(1 + 2) * - x", lines[0])
	assert.Equal(t, "operator *", lines[1])
	assert.Equal(t, "  operator +", lines[2])
	assert.Equal(t, "    int 1", lines[3])
	assert.Equal(t, "  operator _neg", lines[5])
	assert.Equal(t, "    variable x", lines[6])

	out, err = run(t, "tree", "pow(2, 3)", "--json")
	require.NoError(t, err)
	var tree map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &tree))
	assert.Equal(t, "function", tree["kind"])
	assert.Equal(t, "pow", tree["name"])
}

func TestVersion(t *testing.T) {
	out, err := run(t, "--version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "exprtree version dev"))
}

func TestLoadServeConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exprtree.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http_addr: 127.0.0.1:1\nmax_depth: 9\n"), 0o644))

	root := newRootCmd(&bytes.Buffer{}, &bytes.Buffer{})
	serve, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)
	require.NoError(t, root.ParseFlags(nil))
	require.NoError(t, serve.ParseFlags([]string{"--config", path, "--grpc-addr", "127.0.0.1:2", "--max-length", "64"}))

	cfg, err := loadServeConfig(serve)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:1", cfg.HTTPAddr)
	assert.Equal(t, "127.0.0.1:2", cfg.GRPCAddr)
	assert.Equal(t, 9, cfg.MaxDepth)
	assert.Equal(t, 64, cfg.MaxExpressionLength)
}

func TestOpenStore(t *testing.T) {
	s, err := openStore("")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = openStore(filepath.Join(t.TempDir(), "rules.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
}
