package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/resistance-prediction-engine/internal/domain"
	"github.com/resistance-prediction-engine/internal/service"
)

func newPredictCmd(opts *rootOptions) *cobra.Command {
	var (
		file    string
		output  string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Run a resistance prediction for one request file",
		Long: `Predict reads a request document and prints the prediction.

Example:
  resistctl predict --file patient.yaml
  resistctl predict --file request.json --output json
  cat request.yaml | resistctl predict --file -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			req, err := loadRequest(file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if err := req.Validate(); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			container, err := opts.buildContainer(ctx)
			if err != nil {
				return err
			}
			defer container.Close()

			prediction, err := container.Service().Predict(ctx, req)
			if err != nil {
				return fmt.Errorf("prediction failed: %w", err)
			}
			return writePrediction(cmd.OutOrStdout(), prediction, output)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "request file (YAML or JSON, - for stdin)")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json or yaml")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall prediction timeout")
	return cmd
}

// loadRequest decodes a request file. JSON files use encoding/json; everything else goes through
// YAML, which also accepts JSON documents.
func loadRequest(path string, stdin io.Reader) (*service.PredictionRequest, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read request: %w", err)
	}

	req := &service.PredictionRequest{}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, req)
	} else {
		err = yaml.Unmarshal(data, req)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode request %s: %w", path, err)
	}
	return req, nil
}

func writePrediction(w io.Writer, p *domain.Prediction, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	case "yaml":
		// Round-trip through JSON so YAML keys follow the JSON field names.
		raw, err := json.Marshal(p)
		if err != nil {
			return err
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(doc)
	case "text", "":
		return writeText(w, p)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func writeText(w io.Writer, p *domain.Prediction) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Prediction %s\n", p.ID)
	fmt.Fprintf(&b, "Risk:        %s (%s)\n", p.RiskLevel, p.Urgency)
	fmt.Fprintf(&b, "Probability: %.2f\n", p.Probability)
	if p.ConfidenceCap != "" {
		fmt.Fprintf(&b, "Confidence:  %.2f (capped at %s)\n", p.Confidence, p.ConfidenceCap)
	} else {
		fmt.Fprintf(&b, "Confidence:  %.2f\n", p.Confidence)
	}
	fmt.Fprintf(&b, "Baseline:    %s\n", p.BaselineSource)

	if len(p.Signals) > 0 {
		b.WriteString("\nSignals:\n")
		for _, s := range p.Signals {
			mark := "-"
			if s.Detected {
				mark = "+"
			}
			fmt.Fprintf(&b, "  %s %-24s p=%.2f conf=%.2f\n", mark, s.SignalType, s.Probability, s.Confidence)
		}
	}

	b.WriteString("\nActions:\n")
	for _, a := range p.RecommendedActions {
		fmt.Fprintf(&b, "  %d. %s [%s]\n", a.Priority, a.Action, a.Timeframe)
	}

	if len(p.NextLineOptions) > 0 {
		b.WriteString("\nNext-line options:\n")
		for _, o := range p.NextLineOptions {
			fmt.Fprintf(&b, "  %d. %s (%s)\n", o.Priority, o.Drug, o.DrugClass)
		}
	}

	if len(p.Warnings) > 0 {
		fmt.Fprintf(&b, "\nWarnings: %s\n", strings.Join(p.Warnings, ", "))
	}

	b.WriteString("\nRationale:\n")
	for _, line := range p.Rationale {
		fmt.Fprintf(&b, "  %s\n", line)
	}

	_, err := io.WriteString(w, b.String())
	return err
}
