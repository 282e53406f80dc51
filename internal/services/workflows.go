package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/qamind/qamind/internal/llm"
	"github.com/qamind/qamind/internal/models"
)

// MaxGenerationAttempts bounds regeneration when validation fails.
const MaxGenerationAttempts = 3

// WorkflowInput carries everything a workflow needs to build its prompt.
type WorkflowInput struct {
	Message     string
	ProjectID   string
	ContextText string
	HistoryText string
}

// WorkflowResult is a workflow's outcome. Validated is false for workflows
// without output validation only when generation fell back; validation-heavy
// workflows set it from their rules.
type WorkflowResult struct {
	Result    *models.ProviderCallResult
	Validated bool
	Attempts  int
}

// Workflows routes each intent to its generation function.
type Workflows struct {
	gateway *llm.Gateway
	rules   ValidationRules
	params  models.ModelParameters
	logger  *logrus.Logger
}

// NewWorkflows creates the workflow set.
func NewWorkflows(gateway *llm.Gateway, rules ValidationRules, params models.ModelParameters, logger *logrus.Logger) *Workflows {
	if logger == nil {
		logger = logrus.New()
	}
	return &Workflows{gateway: gateway, rules: rules, params: params, logger: logger}
}

// WorkflowName maps an intent to its workflow identifier.
func WorkflowName(intent Intent) string {
	switch intent {
	case IntentTestCaseGeneration:
		return "generate_test_cases"
	case IntentBugReportFormatting:
		return "format_bug_report"
	case IntentTestPlanCreation:
		return "create_test_plan"
	case IntentAutomationSuggestion:
		return "suggest_automation"
	case IntentDocumentAnalysis:
		return "analyze_document"
	default:
		return "answer_question"
	}
}

// Run executes the workflow for intent. emit reports stage transitions and
// may be nil.
func (w *Workflows) Run(ctx context.Context, intent Intent, in WorkflowInput, emit func(Stage, string)) (*WorkflowResult, error) {
	if emit == nil {
		emit = func(Stage, string) {}
	}
	system, task := w.instructions(intent)
	prompt := buildPrompt(in, task)
	opts := llm.CallOptions{
		Intent:    string(intent),
		ProjectID: in.ProjectID,
		Params:    w.params,
	}

	if intent == IntentTestCaseGeneration {
		return w.generateValidated(ctx, prompt, system, opts, emit)
	}

	result, err := w.gateway.Call(ctx, prompt, system, opts)
	if err != nil {
		return nil, err
	}
	return &WorkflowResult{Result: result, Validated: !result.Fallback, Attempts: 1}, nil
}

// generateValidated re-invokes generation up to MaxGenerationAttempts until
// the output passes the distribution rules, always returning the
// best-scoring attempt even when none fully passes.
func (w *Workflows) generateValidated(ctx context.Context, prompt, system string, opts llm.CallOptions, emit func(Stage, string)) (*WorkflowResult, error) {
	var best *models.ProviderCallResult
	bestScore := -1.0
	var lastErr error

	for attempt := 1; attempt <= MaxGenerationAttempts; attempt++ {
		result, err := w.gateway.Call(ctx, prompt, system, opts)
		if err != nil {
			lastErr = err
			w.logger.WithError(err).WithField("attempt", attempt).Warn("Test case generation attempt failed")
			break
		}
		if result.Fallback {
			// A canned answer cannot satisfy the distribution rules;
			// return it as-is rather than burning attempts.
			if best == nil {
				return &WorkflowResult{Result: result, Validated: false, Attempts: attempt}, nil
			}
			break
		}

		emit(StageEvaluating, fmt.Sprintf("attempt %d", attempt))
		stats := CountTestCases(result.Content)
		passed, score := w.rules.Evaluate(stats)
		w.logger.WithFields(logrus.Fields{
			"attempt":  attempt,
			"total":    stats.Total,
			"positive": stats.Positive,
			"negative": stats.Negative,
			"edge":     stats.Edge,
			"score":    score,
			"passed":   passed,
		}).Info("Validated generated test cases")

		if score > bestScore {
			best = result
			bestScore = score
		}
		if passed {
			return &WorkflowResult{Result: best, Validated: true, Attempts: attempt}, nil
		}
	}

	if best == nil {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, fmt.Errorf("test case generation produced no attempts")
	}
	// Did not fully validate: return the best attempt with the flag unset.
	return &WorkflowResult{Result: best, Validated: false, Attempts: MaxGenerationAttempts}, nil
}

func (w *Workflows) instructions(intent Intent) (system, task string) {
	switch intent {
	case IntentTestCaseGeneration:
		return "You are a senior QA engineer. Generate thorough, well-distributed test cases.",
			`Generate test cases for the request below. Format each case on its own line as:
TC-<number> [positive|negative|edge] <title>: <steps and expected result>
Produce at least 10 cases with a mix of positive, negative, and edge cases.`
	case IntentBugReportFormatting:
		return "You are a QA engineer writing precise, reproducible bug reports.",
			"Format the information below as a bug report with Title, Severity, Environment, Steps to Reproduce, Expected Result, and Actual Result sections."
	case IntentTestPlanCreation:
		return "You are a QA lead writing pragmatic test plans.",
			"Create a test plan with Scope, Approach, Entry/Exit Criteria, Risks, and Schedule sections for the request below."
	case IntentAutomationSuggestion:
		return "You are a test automation architect.",
			"Suggest an automation approach for the request below: candidate scenarios, framework choice with rationale, and a skeleton outline."
	case IntentDocumentAnalysis:
		return "You are a QA analyst reviewing requirement documents.",
			"Analyze the referenced document content: summarize it, list testable requirements, and flag ambiguities or gaps."
	default:
		return "You are a helpful QA assistant. Answer using the provided project context when relevant.",
			"Answer the question below."
	}
}

func buildPrompt(in WorkflowInput, task string) string {
	var b strings.Builder
	if in.ContextText != "" {
		b.WriteString("PROJECT CONTEXT:\n")
		b.WriteString(in.ContextText)
		b.WriteString("\n\n")
	}
	if in.HistoryText != "" {
		b.WriteString("RECENT CONVERSATION:\n")
		b.WriteString(in.HistoryText)
		b.WriteString("\n\n")
	}
	b.WriteString(task)
	b.WriteString("\n\nREQUEST: ")
	b.WriteString(in.Message)
	return b.String()
}
