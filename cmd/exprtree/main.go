// Package main is the exprtree command line tool.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lemonberrylabs/exprtree/pkg/config"
	"github.com/lemonberrylabs/exprtree/pkg/expr"
	"github.com/lemonberrylabs/exprtree/pkg/scope"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "exprtree",
		Short:         "Parse and evaluate exprtree expressions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.Version = version + " (commit=" + commit + ", built=" + date + ")"
	root.SetVersionTemplate("exprtree version {{.Version}}\n")
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (default info, env EXPRTREE_LOG_LEVEL)")
	root.PersistentFlags().String("log-format", "", "Log format: text or json (default text, env EXPRTREE_LOG_FORMAT)")
	root.PersistentFlags().Int("max-depth", expr.DefaultMaxDepth, "Maximum expression nesting depth, 0 disables the limit (env EXPRTREE_MAX_DEPTH)")
	root.PersistentFlags().Int("max-length", expr.DefaultMaxLength, "Maximum expression length in bytes, 0 disables the limit (env EXPRTREE_MAX_EXPRESSION_LENGTH)")

	root.AddCommand(newEvalCmd(), newRPNCmd(), newTreeCmd(), newFunctionsCmd(), newServeCmd())
	return root
}

func newEvalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval EXPRESSION",
		Short: "Evaluate an expression",
		Long: `Evaluate an expression against contexts loaded from a YAML or JSON file
and individual --set assignments.

  exprtree eval 'order.total -gt 100' --set order.total=150`,
		Args: cobra.ExactArgs(1),
		RunE: runEval,
	}
	cmd.Flags().StringP("context", "c", "", "YAML or JSON file of contexts ({context: {property: value}})")
	cmd.Flags().StringArrayP("set", "s", nil, "Set a property as context.property=value (repeatable)")
	cmd.Flags().Bool("json", false, "Print the result as JSON")
	return cmd
}

func runEval(cmd *cobra.Command, args []string) error {
	opts, err := compileOptions(cmd)
	if err != nil {
		return err
	}

	sc := scope.New()
	if path, _ := cmd.Flags().GetString("context"); path != "" {
		if err := sc.LoadFile(path); err != nil {
			return err
		}
	}
	sets, _ := cmd.Flags().GetStringArray("set")
	for _, s := range sets {
		ctxName, prop, v, err := scope.ParseAssignment(s)
		if err != nil {
			return err
		}
		sc.Set(ctxName, prop, v)
	}

	e, err := expr.Compile(args[0], opts...)
	if err != nil {
		return err
	}
	v, err := e.Eval(sc)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return json.NewEncoder(out).Encode(map[string]any{
			"result": v,
			"type":   v.Type().String(),
		})
	}
	fmt.Fprintln(out, v.String())
	return nil
}

func newRPNCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rpn EXPRESSION",
		Short: "Print the reverse Polish notation of an expression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := compileOptions(cmd)
			if err != nil {
				return err
			}
			e, err := expr.Compile(args[0], opts...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), expr.FormatRPN(e.RPN()))
			return nil
		},
	}
}

func newTreeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tree EXPRESSION",
		Short: "Print the parsed expression tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := compileOptions(cmd)
			if err != nil {
				return err
			}
			e, err := expr.Compile(args[0], opts...)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(e.Root())
			}
			fmt.Fprintln(out, e.String())
			printTree(out, e.Root(), 0)
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "Print the tree as JSON")
	return cmd
}

func newFunctionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "functions",
		Short: "List the operators and functions expressions can use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tKIND\tARITY\tPRECEDENCE\tASSOCIATIVITY")
			for _, info := range expr.DefaultRegistry().Entries() {
				if strings.HasPrefix(info.Name, "_") {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", info.Name, info.Kind, info.Arity, info.Precedence, info.Associativity)
			}
			return w.Flush()
		},
	}
}

func printTree(w io.Writer, n *expr.Node, depth int) {
	indent := strings.Repeat("  ", depth)
	switch n.Kind {
	case expr.NodeLiteral:
		fmt.Fprintf(w, "%s%s %s\n", indent, n.Value.Type(), n.Value.String())
	case expr.NodeVariable:
		fmt.Fprintf(w, "%svariable %s\n", indent, n.Name)
	default:
		fmt.Fprintf(w, "%s%s %s\n", indent, n.Kind, n.Name)
	}
	for _, child := range n.Children {
		printTree(w, child, depth+1)
	}
}

// cliConfig layers explicitly set flags over the environment over defaults.
func cliConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if err := cfg.ApplyEnv(nil); err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if v, _ := flags.GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := flags.GetString("log-format"); v != "" {
		cfg.LogFormat = v
	}
	if flags.Changed("max-depth") {
		cfg.MaxDepth, _ = flags.GetInt("max-depth")
	}
	if flags.Changed("max-length") {
		cfg.MaxExpressionLength, _ = flags.GetInt("max-length")
	}
	return cfg, cfg.Validate()
}

// compileOptions returns the compile options for one-shot commands and
// installs the process logger as the slog default.
func compileOptions(cmd *cobra.Command) ([]expr.Option, error) {
	cfg, err := cliConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cmd.ErrOrStderr(), cfg)
	if err != nil {
		return nil, err
	}
	return append(cfg.ExprOptions(), expr.WithLogger(logger)), nil
}

func newLogger(w io.Writer, cfg config.Config) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.LogFormat) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.LogFormat)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}
