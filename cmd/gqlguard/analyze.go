package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/vyrodovalexey/gqlguard/internal/config"
	"github.com/vyrodovalexey/gqlguard/internal/graphql/analysis"
	"github.com/vyrodovalexey/gqlguard/internal/graphql/document"
	"github.com/vyrodovalexey/gqlguard/internal/graphql/router"
	"github.com/vyrodovalexey/gqlguard/internal/observability"
)

// Exit codes of the analyze command.
const (
	exitOK       = 0
	exitAnalysis = 1
	exitUsage    = 2
)

const (
	formatText = "text"
	formatJSON = "json"

	anonymousOperation = "(anonymous)"
)

var errLimitExceeded = errors.New("limit exceeded")

type analyzeFlags struct {
	queryPath     string
	schemaPath    string
	operationName string
	costMapPath   string
	format        string
	maxRecursion  int
	maxDepth      int
	maxCost       uint64
	verbose       bool
}

// analyzeReport is the JSON form of an analysis.
type analyzeReport struct {
	OperationType string  `json:"operationType"`
	OperationName string  `json:"operationName"`
	Depth         int     `json:"depth"`
	Cost          *uint64 `json:"cost,omitempty"`
}

// runAnalyze computes the depth, and with a schema the cost, of one
// operation read from a file or stdin.
func runAnalyze(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	flags, err := parseAnalyzeFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	logger := observability.NopLogger()
	if flags.verbose {
		logger, err = observability.NewLogger(observability.LogConfig{
			Level:  "debug",
			Format: "console",
			Output: "stderr",
		})
		if err != nil {
			fmt.Fprintf(stderr, "failed to initialize logger: %v\n", err)
			return exitUsage
		}
	}

	report, err := analyze(flags, stdin, logger)
	if err != nil && !errors.Is(err, errLimitExceeded) {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitAnalysis
	}

	if werr := writeReport(stdout, flags.format, report); werr != nil {
		fmt.Fprintf(stderr, "error: %v\n", werr)
		return exitAnalysis
	}

	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitAnalysis
	}
	return exitOK
}

func parseAnalyzeFlags(args []string, output io.Writer) (analyzeFlags, error) {
	fs := flag.NewFlagSet("gqlguard "+analyzeCommand, flag.ContinueOnError)
	fs.SetOutput(output)

	var flags analyzeFlags
	fs.StringVar(&flags.queryPath, "query", "-", "Operation file, or - for stdin")
	fs.StringVar(&flags.schemaPath, "schema", "", "Schema SDL file; enables cost analysis")
	fs.StringVar(&flags.operationName, "operation", "", "Operation name to analyze")
	fs.StringVar(&flags.costMapPath, "cost-map", "", "Cost map file (YAML or JSON)")
	fs.StringVar(&flags.format, "format", formatText, "Output format (text, json)")
	fs.IntVar(&flags.maxRecursion, "max-recursion", 0, "Selection nesting ceiling (0 uses the default)")
	fs.IntVar(&flags.maxDepth, "max-depth", 0, "Fail when depth exceeds this value (0 disables)")
	fs.Uint64Var(&flags.maxCost, "max-cost", 0, "Fail when cost exceeds this value (0 disables)")
	fs.BoolVar(&flags.verbose, "verbose", false, "Log analysis details to stderr")

	if err := fs.Parse(args); err != nil {
		return analyzeFlags{}, err
	}

	if fs.NArg() > 0 {
		fmt.Fprintf(output, "unexpected arguments: %v\n", fs.Args())
		return analyzeFlags{}, errors.New("unexpected arguments")
	}
	if flags.format != formatText && flags.format != formatJSON {
		fmt.Fprintf(output, "unknown format %q\n", flags.format)
		return analyzeFlags{}, errors.New("unknown format")
	}
	if flags.costMapPath != "" && flags.schemaPath == "" {
		fmt.Fprintln(output, "-cost-map requires -schema")
		return analyzeFlags{}, errors.New("cost map without schema")
	}
	if flags.maxCost > 0 && flags.schemaPath == "" {
		fmt.Fprintln(output, "-max-cost requires -schema")
		return analyzeFlags{}, errors.New("cost limit without schema")
	}
	if flags.maxRecursion < 0 || flags.maxDepth < 0 {
		fmt.Fprintln(output, "-max-recursion and -max-depth must not be negative")
		return analyzeFlags{}, errors.New("negative limit")
	}

	return flags, nil
}

// analyze returns a report even when a limit is exceeded so the caller can
// print what was measured.
func analyze(flags analyzeFlags, stdin io.Reader, logger observability.Logger) (*analyzeReport, error) {
	query, err := readSource(flags.queryPath, stdin)
	if err != nil {
		return nil, fmt.Errorf("failed to read operation: %w", err)
	}

	doc, err := document.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", analysis.ErrParse, err)
	}

	op, err := router.OperationOf(doc, flags.operationName)
	if err != nil {
		return nil, err
	}

	opts := []analysis.Option{analysis.WithLogger(logger)}
	if flags.maxRecursion > 0 {
		opts = append(opts, analysis.WithMaxRecursion(flags.maxRecursion))
	}

	depth, err := analysis.NewDepthAnalyzer(opts...).DepthOf(doc, flags.operationName)
	if err != nil {
		return nil, fmt.Errorf("failed to compute depth: %w", err)
	}

	report := &analyzeReport{
		OperationType: op.Type,
		OperationName: op.Name,
		Depth:         depth,
	}
	logger.Debug("depth computed",
		observability.String("operation", op.Name),
		observability.Int("depth", depth),
	)

	if flags.schemaPath != "" {
		cost, err := computeCost(flags, doc, opts)
		if err != nil {
			return nil, err
		}
		c := uint64(cost)
		report.Cost = &c
		logger.Debug("cost computed",
			observability.String("operation", op.Name),
			observability.Uint64("cost", c),
		)
	}

	if flags.maxDepth > 0 && depth > flags.maxDepth {
		return report, fmt.Errorf("%w: depth %d exceeds maximum %d", errLimitExceeded, depth, flags.maxDepth)
	}
	if flags.maxCost > 0 && report.Cost != nil && *report.Cost > flags.maxCost {
		return report, fmt.Errorf("%w: cost %d exceeds maximum %d", errLimitExceeded, *report.Cost, flags.maxCost)
	}
	return report, nil
}

func computeCost(flags analyzeFlags, doc *document.Document, opts []analysis.Option) (analysis.Cost, error) {
	schema, err := os.ReadFile(flags.schemaPath)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema: %w", err)
	}

	var weights map[string]int64
	if flags.costMapPath != "" {
		weights, err = config.LoadCostMap(flags.costMapPath)
		if err != nil {
			return 0, err
		}
		if err := config.ValidateCostMap(weights); err != nil {
			return 0, fmt.Errorf("invalid cost map %s: %w", flags.costMapPath, err)
		}
	}

	analyzer, err := analysis.NewCostAnalyzer(string(schema), analysis.CostMapFromWeights(weights), opts...)
	if err != nil {
		return 0, fmt.Errorf("failed to load schema: %w", err)
	}

	cost, err := analyzer.CostOf(doc, flags.operationName)
	if err != nil {
		return 0, fmt.Errorf("failed to compute cost: %w", err)
	}
	return cost, nil
}

func readSource(path string, stdin io.Reader) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		return string(data), err
	}
	data, err := os.ReadFile(path)
	return string(data), err
}

func writeReport(w io.Writer, format string, report *analyzeReport) error {
	if format == formatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	name := report.OperationName
	if name == "" {
		name = anonymousOperation
	}
	fmt.Fprintf(w, "operation: %s %s\n", report.OperationType, name)
	fmt.Fprintf(w, "depth:     %d\n", report.Depth)
	if report.Cost != nil {
		fmt.Fprintf(w, "cost:      %d\n", *report.Cost)
	}
	return nil
}
