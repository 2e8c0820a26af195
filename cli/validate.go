package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petal-labs/smartcalc/config"
	"github.com/petal-labs/smartcalc/expr"
)

// NewValidateCmd creates the "validate" subcommand.
func NewValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [expression]",
		Short: "Check an expression without evaluating it",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runValidate,
	}

	cmd.Flags().String("format", "text", "Output format: text | json")
	cmd.Flags().Bool("tree", false, "Print the parsed tree fully parenthesized")
	cmd.Flags().StringP("file", "f", "", "Read the expression from a file (- for stdin)")
	cmd.Flags().String("config", "", "Path to smartcalc.yaml")
	cmd.Flags().Int("max-depth", 0, "Maximum expression nesting depth (default from config)")

	return cmd
}

type validateOutput struct {
	Valid     bool             `json:"valid"`
	Variables []string         `json:"variables"`
	Depth     int              `json:"depth,omitempty"`
	Tree      string           `json:"tree,omitempty"`
	Error     *evalOutputError `json:"error,omitempty"`
}

func runValidate(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	if format != "text" && format != "json" {
		return exitError(exitInputParse, "unknown format %q: expected text or json", format)
	}
	showTree, _ := cmd.Flags().GetBool("tree")

	source, err := readExpression(cmd, args)
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
	limits := cfg.ExprConfig()

	out := validateOutput{Variables: []string{}}
	if err := limits.Validate(source); err != nil {
		kind, _ := expr.Classify(err)
		out.Error = &evalOutputError{Code: kind.Code(), Message: err.Error()}
		printValidateOutput(cmd.OutOrStdout(), out, format)
		return exitError(exitValidation, "validation failed")
	}

	tree, err := limits.Parse(source)
	if err != nil {
		return exitError(exitRuntime, "parse: %v", err)
	}
	out.Valid = true
	out.Variables = expr.Variables(tree)
	out.Depth = expr.Depth(tree)
	if showTree {
		out.Tree = tree.String()
	}
	printValidateOutput(cmd.OutOrStdout(), out, format)
	return nil
}

func printValidateOutput(w io.Writer, out validateOutput, format string) {
	if format == "json" {
		if out.Variables == nil {
			out.Variables = []string{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
		return
	}

	if out.Error != nil {
		fmt.Fprintf(w, "ERROR [%s]: %s\n", out.Error.Code, out.Error.Message)
		return
	}
	if out.Tree != "" {
		fmt.Fprintf(w, "Tree: %s\n", out.Tree)
	}
	if len(out.Variables) > 0 {
		fmt.Fprintf(w, "Variables: %s\n", strings.Join(out.Variables, ", "))
	}
	fmt.Fprintln(w, "Valid!")
}
