package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petal-labs/smartcalc/config"
	"github.com/petal-labs/smartcalc/expr"
)

// readExpression returns the expression from the single positional argument
// or from --file, where "-" reads stdin.
func readExpression(cmd *cobra.Command, args []string) (string, error) {
	filePath, _ := cmd.Flags().GetString("file")
	switch {
	case filePath != "" && len(args) > 0:
		return "", exitError(exitInputParse, "pass an expression argument or --file, not both")
	case filePath == "" && len(args) == 0:
		return "", exitError(exitInputParse, "an expression argument or --file is required")
	case filePath == "":
		return args[0], nil
	}

	var (
		data []byte
		err  error
	)
	if filePath == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		// #nosec G304 -- path provided explicitly by the user.
		data, err = os.ReadFile(filePath)
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", exitError(exitFileNotFound, "file not found: %s", filePath)
		}
		return "", fmt.Errorf("reading expression: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

// parseVars parses repeatable name=value flags into bindings. Later flags
// override earlier ones.
func parseVars(flags []string) (expr.Bindings, error) {
	vars := make(expr.Bindings, len(flags))
	for _, flag := range flags {
		name, raw, ok := strings.Cut(flag, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, exitError(exitInputParse, "invalid --var %q: expected name=value", flag)
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || math.IsInf(value, 0) || math.IsNaN(value) {
			return nil, exitError(exitInputParse, "invalid --var %q: value must be a finite number", flag)
		}
		vars[name] = value
	}
	return vars, nil
}

// loadConfig discovers the config file named by --config and applies
// override before validating the result.
func loadConfig(cmd *cobra.Command, override func(*config.Config)) (config.Config, error) {
	explicit, _ := cmd.Flags().GetString("config")
	cfg, path, err := config.LoadDiscovered(explicit)
	if err != nil {
		return config.Config{}, exitError(exitConfig, "%v", err)
	}
	if override != nil {
		override(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		if path == "" {
			path = "defaults"
		}
		return config.Config{}, exitError(exitConfig, "invalid config (%s): %v", path, err)
	}
	if path != "" {
		slog.Debug("loaded config", "path", path)
	}
	return cfg, nil
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
