package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/spf13/cobra"

	"github.com/petal-labs/smartcalc/config"
	"github.com/petal-labs/smartcalc/expr"
	"github.com/petal-labs/smartcalc/otel"
)

// NewEvalCmd creates the "eval" subcommand.
func NewEvalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval [expression]",
		Short: "Evaluate an arithmetic expression",
		Example: `  smartcalc eval "2 * (3 + 4)"
  smartcalc eval "rate * hours" --var rate=12.5 --var hours=8
  echo "1 / 3" | smartcalc eval -f -`,
		Args: cobra.MaximumNArgs(1),
		RunE: runEval,
	}

	cmd.Flags().StringArray("var", nil, "Bind a variable as name=value (repeatable)")
	cmd.Flags().String("format", "text", "Output format: text | json")
	cmd.Flags().StringP("file", "f", "", "Read the expression from a file (- for stdin)")
	cmd.Flags().String("config", "", "Path to smartcalc.yaml")
	cmd.Flags().Int("max-depth", 0, "Maximum expression nesting depth (default from config)")

	return cmd
}

type evalOutput struct {
	Expression string             `json:"expression"`
	Variables  map[string]float64 `json:"variables"`
	Result     *float64           `json:"result,omitempty"`
	Error      *evalOutputError   `json:"error,omitempty"`
}

type evalOutputError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func runEval(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	if format != "text" && format != "json" {
		return exitError(exitInputParse, "unknown format %q: expected text or json", format)
	}

	source, err := readExpression(cmd, args)
	if err != nil {
		return err
	}
	varFlags, _ := cmd.Flags().GetStringArray("var")
	vars, err := parseVars(varFlags)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd, func(c *config.Config) {
		if cmd.Flags().Changed("max-depth") {
			c.Limits.MaxDepth, _ = cmd.Flags().GetInt("max-depth")
		}
	})
	if err != nil {
		return err
	}

	observer, err := otel.NewGlobalObserver()
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	ctx, ev := observer.StartEvaluation(cmd.Context(), otel.SourceCLI, source)

	out := evalOutput{Expression: source, Variables: vars}
	result, evalErr := cfg.ExprConfig().EvalString(source, vars)
	exitCode := exitSuccess
	switch {
	case evalErr != nil:
		kind, ok := expr.Classify(evalErr)
		if !ok {
			ev.End("INTERNAL_ERROR")
			slog.ErrorContext(ctx, "evaluation failed", "err", evalErr)
			return exitError(exitRuntime, "internal evaluation error: %v", evalErr)
		}
		out.Error = &evalOutputError{Code: kind.Code(), Message: evalErr.Error()}
		exitCode = exitValidation
	case math.IsInf(result, 0) || math.IsNaN(result):
		out.Error = &evalOutputError{Code: "NON_FINITE_RESULT", Message: "result is not a finite number"}
		exitCode = exitValidation
	default:
		out.Result = &result
	}

	if out.Error != nil {
		ev.End(out.Error.Code)
	} else {
		ev.End("")
	}

	printEvalOutput(cmd.OutOrStdout(), out, format)
	if exitCode != exitSuccess {
		return exitError(exitCode, "%s: %s", out.Error.Code, out.Error.Message)
	}
	return nil
}

func printEvalOutput(w io.Writer, out evalOutput, format string) {
	if format == "json" {
		if out.Variables == nil {
			out.Variables = map[string]float64{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
		return
	}
	if out.Error != nil {
		// The error itself reaches stderr through cobra.
		return
	}
	fmt.Fprintln(w, formatNumber(*out.Result))
}
