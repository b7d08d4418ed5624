package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/resistance-prediction-engine/internal/domain"
	"github.com/resistance-prediction-engine/internal/service"
)

type mutationInput struct {
	Gene           string `json:"gene" jsonschema:"HGNC gene symbol, e.g. DIS3"`
	Classification string `json:"classification,omitempty" jsonschema:"Variant classification; benign variants are ignored"`
}

type ca125Input struct {
	Value      float64 `json:"value" jsonschema:"CA-125 level in U/mL"`
	MeasuredAt string  `json:"measured_at,omitempty" jsonschema:"RFC 3339 timestamp of the measurement"`
}

type treatmentInput struct {
	Regimen   string `json:"regimen" jsonschema:"Regimen name"`
	DrugClass string `json:"drug_class,omitempty" jsonschema:"Drug class of the regimen"`
	Line      int    `json:"line,omitempty" jsonschema:"Treatment line the regimen was given in"`
}

type predictResistanceInput struct {
	PatientID        string             `json:"patient_id,omitempty" jsonschema:"Patient identifier, only used for audit and playbook lookups"`
	Disease          string             `json:"disease" jsonschema:"Disease, e.g. ovarian or myeloma"`
	CurrentFeatures  map[string]float64 `json:"current_features,omitempty" jsonschema:"Current molecular features, e.g. dna_repair_capacity"`
	BaselineFeatures map[string]float64 `json:"baseline_features,omitempty" jsonschema:"Patient baseline features; population averages are used when absent"`
	CA125History     []ca125Input       `json:"ca125_history,omitempty" jsonschema:"CA-125 measurements, oldest first"`
	TreatmentHistory []treatmentInput   `json:"treatment_history,omitempty" jsonschema:"Previous regimens"`
	CurrentRegimen   string             `json:"current_regimen,omitempty" jsonschema:"Current regimen"`
	CurrentDrugClass string             `json:"current_drug_class,omitempty" jsonschema:"Drug class of the current regimen"`
	Mutations        []mutationInput    `json:"mutations,omitempty" jsonschema:"Reported mutations"`
	TreatmentLine    int                `json:"treatment_line,omitempty" jsonschema:"Current treatment line (1 = first line)"`
	PriorTherapies   []string           `json:"prior_therapies,omitempty" jsonschema:"Drug classes received before the current line"`
	ExpressionData   map[string]float64 `json:"expression_data,omitempty" jsonschema:"Post-treatment gene expression keyed by gene symbol"`
}

type actionOutput struct {
	Priority  int    `json:"priority"`
	Action    string `json:"action"`
	Timeframe string `json:"timeframe"`
}

type signalOutput struct {
	SignalType  string  `json:"signal_type"`
	Detected    bool    `json:"detected"`
	Probability float64 `json:"probability"`
	Confidence  float64 `json:"confidence"`
	Rationale   string  `json:"rationale"`
}

type predictResistanceOutput struct {
	PredictionID    string         `json:"prediction_id" jsonschema:"Prediction identifier"`
	RiskLevel       string         `json:"risk_level" jsonschema:"HIGH, MEDIUM or LOW"`
	Urgency         string         `json:"urgency" jsonschema:"CRITICAL, ELEVATED or ROUTINE"`
	Probability     float64        `json:"probability" jsonschema:"Resistance probability in [0, 1]"`
	Confidence      float64        `json:"confidence" jsonschema:"Confidence in [0, 1]"`
	ConfidenceCap   string         `json:"confidence_cap,omitempty" jsonschema:"Set when sparse evidence capped the confidence"`
	SignalCount     int            `json:"signal_count" jsonschema:"Number of detected signals"`
	Signals         []signalOutput `json:"signals"`
	Actions         []actionOutput `json:"actions"`
	NextLineOptions []string       `json:"next_line_options" jsonschema:"Alternative drugs from the playbook, best first"`
	Rationale       []string       `json:"rationale"`
	Warnings        []string       `json:"warnings"`
}

type listDetectorsInput struct{}

type listDetectorsOutput struct {
	ModelVersion string   `json:"model_version"`
	Detectors    []string `json:"detectors" jsonschema:"Detector names in invocation order"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "predict_resistance",
		Description: "Predict whether the patient's current cancer therapy is failing. Combines DNA repair restoration, myeloma high-risk genes and post-treatment pathway signals into a risk level, confidence, recommended actions and next-line options.",
	}, s.handlePredictResistance)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_detectors",
		Description: "List the resistance signal detectors and the model version.",
	}, s.handleListDetectors)
}

func (s *Server) handlePredictResistance(ctx context.Context, req *mcp.CallToolRequest, args predictResistanceInput) (*mcp.CallToolResult, predictResistanceOutput, error) {
	predReq, err := args.toRequest()
	if err != nil {
		return nil, predictResistanceOutput{}, err
	}
	if err := predReq.Validate(); err != nil {
		return nil, predictResistanceOutput{}, err
	}

	prediction, err := s.container.Service().Predict(ctx, predReq)
	if err != nil {
		return nil, predictResistanceOutput{}, fmt.Errorf("prediction failed: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"tool":          "predict_resistance",
		"prediction_id": prediction.ID,
		"risk_level":    prediction.RiskLevel,
	}).Debug("Tool call completed")

	output := toOutput(prediction)
	full, err := json.MarshalIndent(prediction, "", "  ")
	if err != nil {
		return nil, predictResistanceOutput{}, fmt.Errorf("failed to encode prediction: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: summary(prediction)},
			&mcp.TextContent{Text: string(full)},
		},
	}, output, nil
}

func (s *Server) handleListDetectors(ctx context.Context, req *mcp.CallToolRequest, args listDetectorsInput) (*mcp.CallToolResult, listDetectorsOutput, error) {
	svc := s.container.Service()
	output := listDetectorsOutput{ModelVersion: svc.ModelVersion()}
	for _, d := range svc.Detectors() {
		output.Detectors = append(output.Detectors, d.Name())
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("%s: %s", output.ModelVersion, strings.Join(output.Detectors, ", "))},
		},
	}, output, nil
}

func (in predictResistanceInput) toRequest() (*service.PredictionRequest, error) {
	req := &service.PredictionRequest{
		PatientID:        in.PatientID,
		Disease:          in.Disease,
		CurrentFeatures:  in.CurrentFeatures,
		BaselineFeatures: in.BaselineFeatures,
		CurrentRegimen:   in.CurrentRegimen,
		CurrentDrugClass: in.CurrentDrugClass,
		TreatmentLine:    in.TreatmentLine,
		PriorTherapies:   in.PriorTherapies,
		ExpressionData:   in.ExpressionData,
	}

	for i, m := range in.CA125History {
		measurement := domain.CA125Measurement{Value: m.Value}
		if m.MeasuredAt != "" {
			ts, err := time.Parse(time.RFC3339, m.MeasuredAt)
			if err != nil {
				return nil, domain.NewValidationError(fmt.Sprintf("ca125_history[%d].measured_at", i), "must be an RFC 3339 timestamp", m.MeasuredAt)
			}
			measurement.MeasuredAt = ts
		}
		req.CA125History = append(req.CA125History, measurement)
	}
	for _, t := range in.TreatmentHistory {
		req.TreatmentHistory = append(req.TreatmentHistory, domain.TreatmentEvent{Regimen: t.Regimen, DrugClass: t.DrugClass, Line: t.Line})
	}
	for _, m := range in.Mutations {
		req.Mutations = append(req.Mutations, domain.MutationRecord{Gene: m.Gene, Classification: m.Classification})
	}
	return req, nil
}

func toOutput(p *domain.Prediction) predictResistanceOutput {
	out := predictResistanceOutput{
		PredictionID:    p.ID,
		RiskLevel:       string(p.RiskLevel),
		Urgency:         string(p.Urgency),
		Probability:     p.Probability,
		Confidence:      p.Confidence,
		ConfidenceCap:   p.ConfidenceCap,
		SignalCount:     p.SignalCount,
		Signals:         make([]signalOutput, 0, len(p.Signals)),
		Actions:         make([]actionOutput, 0, len(p.RecommendedActions)),
		NextLineOptions: make([]string, 0, len(p.NextLineOptions)),
		Rationale:       p.Rationale,
		Warnings:        p.Warnings,
	}
	for _, sig := range p.Signals {
		out.Signals = append(out.Signals, signalOutput{
			SignalType:  string(sig.SignalType),
			Detected:    sig.Detected,
			Probability: sig.Probability,
			Confidence:  sig.Confidence,
			Rationale:   sig.Rationale,
		})
	}
	for _, a := range p.RecommendedActions {
		out.Actions = append(out.Actions, actionOutput{Priority: a.Priority, Action: a.Action, Timeframe: a.Timeframe})
	}
	for _, o := range p.NextLineOptions {
		out.NextLineOptions = append(out.NextLineOptions, o.Drug)
	}
	return out
}

func summary(p *domain.Prediction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s risk (%s): probability %.2f, confidence %.2f, %d signal(s) detected",
		p.RiskLevel, p.Urgency, p.Probability, p.Confidence, p.SignalCount)
	if len(p.Warnings) > 0 {
		fmt.Fprintf(&b, "\nWarnings: %s", strings.Join(p.Warnings, ", "))
	}
	for _, a := range p.RecommendedActions {
		fmt.Fprintf(&b, "\n%d. %s (%s)", a.Priority, a.Action, a.Timeframe)
	}
	return b.String()
}

