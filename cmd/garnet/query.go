package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/garnet-dev/garnet"
)

var flagIncludeDecl bool

func init() {
	refsCmd.Flags().BoolVar(&flagIncludeDecl, "include-declaration", true, "include the declaring site in the results")
}

// parsePosition splits a file:line:col argument. Line and column are
// one-based on the command line, zero-based internally.
func parsePosition(arg string) (path string, line, col int, err error) {
	parts := strings.Split(arg, ":")
	if len(parts) < 3 {
		return "", 0, 0, fmt.Errorf("position %q: want file:line:col", arg)
	}
	colStr := parts[len(parts)-1]
	lineStr := parts[len(parts)-2]
	path = strings.Join(parts[:len(parts)-2], ":")
	line, err = strconv.Atoi(lineStr)
	if err != nil {
		return "", 0, 0, fmt.Errorf("position %q: bad line: %w", arg, err)
	}
	col, err = strconv.Atoi(colStr)
	if err != nil {
		return "", 0, 0, fmt.Errorf("position %q: bad column: %w", arg, err)
	}
	return path, line - 1, col - 1, nil
}

var defCmd = &cobra.Command{
	Use:   "def <file:line:col>",
	Short: "Find the definition of the symbol at a position",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, line, col, err := parsePosition(args[0])
		if err != nil {
			return err
		}
		e, err := newEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()
		return outputLocations(e.Definition(path, line, col))
	},
}

var refsCmd = &cobra.Command{
	Use:   "refs <file:line:col>",
	Short: "Find all references to the symbol at a position",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, line, col, err := parsePosition(args[0])
		if err != nil {
			return err
		}
		e, err := newEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()
		return outputLocations(e.References(path, line, col, flagIncludeDecl))
	},
}

var hoverCmd = &cobra.Command{
	Use:   "hover <file:line:col>",
	Short: "Show hover content for the position",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, line, col, err := parsePosition(args[0])
		if err != nil {
			return err
		}
		e, err := newEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()
		hov := e.Hover(cmd.Context(), path, line, col)
		if hov == nil {
			return output(map[string]any{})
		}
		if flagFormat == "json" {
			return output(hov)
		}
		fmt.Println(hov.Signature)
		if hov.TypeName != "" {
			fmt.Printf("type: %s (%s)\n", hov.TypeName, hov.TypeSource)
		}
		if hov.Documentation != "" {
			fmt.Println()
			fmt.Println(hov.Documentation)
		}
		return nil
	},
}

var diagCmd = &cobra.Command{
	Use:   "diag <file>",
	Short: "Show syntax diagnostics for a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()
		diags := e.Diagnostics(cmd.Context(), args[0])
		if flagFormat == "json" {
			return output(diags)
		}
		for _, d := range diags {
			fmt.Printf("%s:%d:%d: %s\n", args[0], d.Span.StartLine+1, d.Span.StartCol+1, d.Message)
		}
		return nil
	},
}

func outputLocations(locs []garnet.Location) error {
	if flagFormat == "json" {
		return output(locs)
	}
	for _, loc := range locs {
		fmt.Printf("%s:%d:%d\n", loc.Path, loc.Span.StartLine+1, loc.Span.StartCol+1)
	}
	return nil
}

func output(v any) error {
	if flagFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	switch m := v.(type) {
	case map[string]any:
		for k, val := range m {
			fmt.Printf("%s: %v\n", k, val)
		}
		return nil
	default:
		fmt.Printf("%v\n", v)
		return nil
	}
}
