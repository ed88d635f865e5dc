package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/hpungsan/capture/internal/errors"
)

// output writes v to stdout in the format chosen by the global --format flag.
func output(c *cli.Context, v any) error {
	switch strings.ToLower(strings.TrimSpace(c.String("format"))) {
	case "", "json":
		return outputJSON(v)
	case "yaml", "yml":
		return outputYAML(v)
	default:
		return outputError(errors.NewInvalidRequest("format must be json or yaml"))
	}
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputYAML writes v as YAML. It goes through JSON first so field names and
// custom encodings match the JSON output; the yaml.Node keeps key order.
func outputYAML(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return fmt.Errorf("convert to yaml: %w", err)
	}
	resetStyle(&node)

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return err
	}
	return enc.Close()
}

// resetStyle drops the flow and quoting styles JSON input carries so output
// is plain block YAML. The encoder still quotes strings that need it.
func resetStyle(n *yaml.Node) {
	n.Style = 0
	for _, child := range n.Content {
		resetStyle(child)
	}
}

// outputError formats error for CLI.
func outputError(err error) error {
	var capErr *errors.CaptureError
	if errors.As(err, &capErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", capErr.Code, capErr.Message), 1)
	}
	if errors.IsContext(err) {
		return cli.Exit(fmt.Sprintf("[%s] %v", errors.ErrCancelled, err), 1)
	}
	return cli.Exit(err.Error(), 1)
}
