// Package services contains the intent classifier, the generation workflows,
// and the orchestrator that ties retrieval, caching, and the provider
// gateway together.
package services

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qamind/qamind/internal/llm"
	"github.com/qamind/qamind/internal/models"
)

// Intent is the classified purpose of a user request. It determines which
// generation workflow runs.
type Intent string

const (
	IntentTestCaseGeneration   Intent = "test_case_generation"
	IntentBugReportFormatting  Intent = "bug_report_formatting"
	IntentTestPlanCreation     Intent = "test_plan_creation"
	IntentAutomationSuggestion Intent = "automation_suggestion"
	IntentDocumentAnalysis     Intent = "document_analysis"
	IntentGeneralQuestion      Intent = "general_question"
)

// intentPriority is the fixed order used both for keyword matching and for
// resolving ambiguous LLM answers.
var intentPriority = []Intent{
	IntentTestCaseGeneration,
	IntentBugReportFormatting,
	IntentTestPlanCreation,
	IntentAutomationSuggestion,
	IntentDocumentAnalysis,
	IntentGeneralQuestion,
}

// intentKeywords drives the deterministic fallback classifier.
var intentKeywords = map[Intent][]string{
	IntentTestCaseGeneration:   {"test case", "test cases", "testcase", "generate tests", "write tests"},
	IntentBugReportFormatting:  {"bug report", "bug", "defect", "issue report"},
	IntentTestPlanCreation:     {"test plan", "testing strategy", "test strategy"},
	IntentAutomationSuggestion: {"automate", "automation", "selenium", "playwright", "cypress"},
	IntentDocumentAnalysis:     {"analyze", "analyse", "summarize", "summarise", "document", "spec", "requirement"},
}

const classifierSystemPrompt = `You are an intent classifier for a QA assistant.
Respond with exactly one of these tokens and nothing else:
test_case_generation, bug_report_formatting, test_plan_creation, automation_suggestion, document_analysis, general_question`

// IntentClassifier resolves a message to an Intent. Classification is itself
// a provider call; on any failure it falls back to deterministic keyword
// matching.
type IntentClassifier struct {
	gateway *llm.Gateway
	logger  *logrus.Logger
	timeout time.Duration
}

// NewIntentClassifier creates a classifier over the gateway.
func NewIntentClassifier(gateway *llm.Gateway, logger *logrus.Logger) *IntentClassifier {
	if logger == nil {
		logger = logrus.New()
	}
	return &IntentClassifier{
		gateway: gateway,
		logger:  logger,
		timeout: 10 * time.Second,
	}
}

// Classify returns the intent for a message, never an error: any LLM failure
// degrades to keyword matching.
func (c *IntentClassifier) Classify(ctx context.Context, projectID, message string) Intent {
	classifyCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := c.gateway.Call(classifyCtx, "Classify this message:\n\n"+message, classifierSystemPrompt, llm.CallOptions{
		ProjectID: projectID,
		Params:    models.ModelParameters{Temperature: 0.1, MaxTokens: 20},
	})
	if err != nil {
		c.logger.WithError(err).Debug("LLM intent classification failed, using keyword fallback")
		return KeywordClassify(message)
	}

	if intent, ok := parseIntentToken(result.Content); ok {
		return intent
	}
	c.logger.WithField("content", strings.TrimSpace(result.Content)).Debug("Unrecognized intent token, using keyword fallback")
	return KeywordClassify(message)
}

// KeywordClassify matches case-insensitive substrings per category in fixed
// priority order, defaulting to IntentGeneralQuestion.
func KeywordClassify(message string) Intent {
	lower := strings.ToLower(message)
	for _, intent := range intentPriority {
		for _, kw := range intentKeywords[intent] {
			if strings.Contains(lower, kw) {
				return intent
			}
		}
	}
	return IntentGeneralQuestion
}

func parseIntentToken(content string) (Intent, bool) {
	token := strings.ToLower(strings.TrimSpace(content))
	token = strings.Trim(token, "`\"'.")
	for _, intent := range intentPriority {
		if token == string(intent) {
			return intent, true
		}
	}
	// Some models wrap the token in prose; accept a unique substring match.
	var matched Intent
	matches := 0
	for _, intent := range intentPriority {
		if strings.Contains(token, string(intent)) {
			matched = intent
			matches++
		}
	}
	if matches == 1 {
		return matched, true
	}
	return "", false
}
