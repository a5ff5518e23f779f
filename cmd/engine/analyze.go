package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rawblock/mule-engine/internal/heuristics"
	"github.com/rawblock/mule-engine/internal/ledger"
	"github.com/rawblock/mule-engine/internal/metrics"
	"github.com/rawblock/mule-engine/pkg/models"
)

type analyzeOptions struct {
	output  string
	labels  string
	noGraph bool
	pretty  bool
}

func analyzeCmd() *cobra.Command {
	var opts analyzeOptions

	cmd := &cobra.Command{
		Use:   "analyze <transactions.csv>",
		Short: "Analyze a ledger file and print the result as JSON",
		Long: `Analyze runs the detectors over one CSV ledger and writes the analysis
result as JSON. With --labels, precision/recall and partition agreement
against a ground-truth account_id,ring_id file are logged as well.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "write JSON to this file instead of stdout")
	cmd.Flags().StringVar(&opts.labels, "labels", "", "ground-truth CSV (account_id,ring_id) to score the result against")
	cmd.Flags().BoolVar(&opts.noGraph, "no-graph", false, "omit graph_data from the output")
	cmd.Flags().BoolVar(&opts.pretty, "pretty", true, "indent JSON output")
	return cmd
}

func runAnalyze(cmd *cobra.Command, path string, opts analyzeOptions) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	txs, err := ledger.Parse(f)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	engineCfg := cfg.Detection.Engine()
	if opts.noGraph {
		engineCfg.IncludeGraph = false
	}
	engine := heuristics.NewEngine(engineCfg, nil, logger)
	defer engine.Close()

	result, err := engine.Analyze(cmd.Context(), txs)
	if err != nil {
		return err
	}

	if opts.labels != "" {
		report, err := evaluate(result, opts.labels)
		if err != nil {
			return err
		}
		logger.Info("detection quality",
			zap.Int("truePositives", report.TruePositives),
			zap.Int("falsePositives", report.FalsePositives),
			zap.Int("falseNegatives", report.FalseNegatives),
			zap.Float64("precision", report.Precision),
			zap.Float64("recall", report.Recall),
			zap.Float64("f1", report.F1),
			zap.Float64("ari", report.ARI),
			zap.Float64("vi", report.VI),
		)
	}

	var out io.Writer = cmd.OutOrStdout()
	if opts.output != "" {
		file, err := os.Create(opts.output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer file.Close()
		out = file
	}

	enc := json.NewEncoder(out)
	if opts.pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(result)
}

func evaluate(result models.AnalysisResult, path string) (metrics.Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return metrics.Report{}, fmt.Errorf("open labels: %w", err)
	}
	defer f.Close()

	labels, err := metrics.ParseLabels(f)
	if err != nil {
		return metrics.Report{}, fmt.Errorf("parse labels: %w", err)
	}
	return metrics.Evaluate(result, labels), nil
}
