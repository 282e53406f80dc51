package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/qamind/qamind/internal/cache"
	"github.com/qamind/qamind/internal/conversation"
	"github.com/qamind/qamind/internal/models"
	"github.com/qamind/qamind/internal/observability"
	"github.com/qamind/qamind/internal/rag"
	"github.com/qamind/qamind/internal/ratelimit"
)

// OrchestratorConfig tunes retrieval and prompting.
type OrchestratorConfig struct {
	// TopK is how many chunks to retrieve per request.
	TopK int
	// MinSimilarity is the retrieval quality bar. When no chunk clears it,
	// retrieval degrades to best-effort instead of returning nothing.
	MinSimilarity float64
	// HistoryTurns is how many recent turns feed the prompt and cache key.
	HistoryTurns int
	// EmbedBatchSize is how many chunk texts go into one embedding call.
	EmbedBatchSize int
	// EmbedConcurrency bounds parallel embedding calls during ingest.
	EmbedConcurrency int
	// ModelLabel tags cache keys; requests differing only in model never
	// collide.
	ModelLabel string
}

// DefaultOrchestratorConfig returns sensible defaults.
func DefaultOrchestratorConfig() *OrchestratorConfig {
	return &OrchestratorConfig{
		TopK:             5,
		MinSimilarity:    0.4,
		HistoryTurns:     6,
		EmbedBatchSize:   16,
		EmbedConcurrency: 4,
		ModelLabel:       "default",
	}
}

// Lifecycle is a background component with explicit start/stop, such as the
// cache sweep task.
type Lifecycle interface {
	Start()
	Stop()
}

// Deps are the orchestrator's collaborators, injected at construction.
type Deps struct {
	Classifier *IntentClassifier
	Workflows  *Workflows
	Vectors    *rag.VectorStore
	Snapshots  rag.Snapshots
	Embedder   rag.Embedder
	Chunker    *rag.Chunker
	History    *conversation.History
	Cache      *cache.ResponseCache
	Sweeper    Lifecycle
	Tracker    *ratelimit.Tracker
	Metrics    *observability.Collector
}

// Orchestrator is the request dispatcher: cache, dedup, intent
// classification, retrieval, workflow routing, and generation. It is an
// explicitly constructed service with an explicit lifecycle, passed by
// handle to callers.
type Orchestrator struct {
	deps   Deps
	config *OrchestratorConfig
	bus    *ProgressBus
	logger *logrus.Logger
}

// NewOrchestrator wires the service together.
func NewOrchestrator(deps Deps, config *OrchestratorConfig, logger *logrus.Logger) *Orchestrator {
	if config == nil {
		config = DefaultOrchestratorConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewCollector()
	}
	return &Orchestrator{
		deps:   deps,
		config: config,
		bus:    NewProgressBus(),
		logger: logger,
	}
}

// Start launches background tasks (the cache sweep).
func (o *Orchestrator) Start() {
	if o.deps.Sweeper != nil {
		o.deps.Sweeper.Start()
	}
}

// Shutdown stops background tasks and closes the progress bus.
func (o *Orchestrator) Shutdown() {
	if o.deps.Sweeper != nil {
		o.deps.Sweeper.Stop()
	}
	o.bus.Close()
}

// Events subscribes to request progress events.
func (o *Orchestrator) Events() (<-chan ProgressEvent, func()) {
	return o.bus.Subscribe()
}

// Ask answers a user message for a project. Identical concurrent requests
// share one upstream computation; successful answers are cached.
func (o *Orchestrator) Ask(ctx context.Context, projectID, message string) (*models.Answer, error) {
	requestID := uuid.NewString()
	publish := func(stage Stage, detail string) {
		o.bus.Publish(ProgressEvent{RequestID: requestID, ProjectID: projectID, Stage: stage, Detail: detail})
	}
	publish(StageReceived, "")
	started := time.Now()

	historyText := renderHistory(o.deps.History.Recent(projectID, o.config.HistoryTurns))
	key := cache.Key(message, historyText, o.config.ModelLabel, projectID)

	answer, err := o.deps.Cache.GetOrCompute(ctx, key, func(runCtx context.Context) (*models.Answer, error) {
		return o.compute(runCtx, projectID, message, historyText, publish)
	})
	if err != nil {
		o.deps.Metrics.RequestCount.WithLabelValues("unknown", "error").Inc()
		o.logger.WithError(err).WithField("project", projectID).Error("Request failed")
		return nil, err
	}

	outcome := "ok"
	switch {
	case answer.Fallback:
		outcome = "fallback"
		o.deps.Metrics.Fallbacks.Inc()
	case answer.Cached:
		outcome = "cached"
	}
	if answer.FailoverUsed && !answer.Fallback {
		o.deps.Metrics.Failovers.Inc()
	}
	o.deps.Metrics.RequestCount.WithLabelValues(answer.Intent, outcome).Inc()
	o.deps.Metrics.RequestDuration.WithLabelValues(answer.Intent).Observe(time.Since(started).Seconds())

	if answer.Fallback {
		publish(StageFallback, answer.Workflow)
	} else {
		publish(StageDone, answer.Workflow)
	}
	return answer, nil
}

func (o *Orchestrator) compute(ctx context.Context, projectID, message, historyText string, publish func(Stage, string)) (*models.Answer, error) {
	publish(StageClassifying, "")
	intent := o.deps.Classifier.Classify(ctx, projectID, message)

	publish(StageRetrieving, string(intent))
	contextText, docs := o.retrieve(ctx, projectID, message)

	workflow := WorkflowName(intent)
	publish(StageRouting, workflow)
	publish(StageGenerating, workflow)

	result, err := o.deps.Workflows.Run(ctx, intent, WorkflowInput{
		Message:     message,
		ProjectID:   projectID,
		ContextText: contextText,
		HistoryText: historyText,
	}, publish)
	if err != nil {
		return nil, err
	}

	answer := &models.Answer{
		Content:       result.Result.Content,
		Provider:      result.Result.Provider,
		Model:         result.Result.Model,
		Intent:        string(intent),
		Workflow:      workflow,
		Retries:       result.Result.Retries,
		FailoverUsed:  result.Result.FailoverUsed,
		Fallback:      result.Result.Fallback,
		Validated:     result.Validated,
		DocumentsUsed: docs,
		CreatedAt:     time.Now(),
	}

	o.deps.History.Append(projectID, models.ConversationTurn{
		ID:                uuid.NewString(),
		Timestamp:         answer.CreatedAt,
		UserMessage:       message,
		AssistantResponse: answer.Content,
		Intent:            answer.Intent,
		Workflow:          answer.Workflow,
		DocumentsUsed:     docs,
	})
	return answer, nil
}

// retrieve embeds the query and searches the project's vectors. When no
// chunk clears the similarity bar it degrades to best-effort retrieval; when
// embedding fails the request proceeds without context.
func (o *Orchestrator) retrieve(ctx context.Context, projectID, message string) (string, []string) {
	if o.deps.Embedder == nil || o.deps.Vectors.Count(projectID) == 0 {
		return "", nil
	}
	vectors, err := o.deps.Embedder.Embed(ctx, []string{message})
	if err != nil || len(vectors) != 1 {
		o.logger.WithError(err).WithField("project", projectID).Warn("Query embedding failed, answering without retrieval")
		return "", nil
	}
	query := vectors[0]

	hits, err := o.deps.Vectors.Search(projectID, query, o.config.TopK, o.config.MinSimilarity)
	if err != nil {
		o.logger.WithError(err).WithField("project", projectID).Warn("Vector search failed, answering without retrieval")
		return "", nil
	}
	if len(hits) == 0 {
		hits, err = o.deps.Vectors.SearchAll(projectID, query, o.config.TopK)
		if err != nil || len(hits) == 0 {
			return "", nil
		}
		o.logger.WithField("project", projectID).Debug("No chunk cleared the similarity threshold, using best-effort retrieval")
	}
	o.deps.Metrics.ChunksRetrieved.Observe(float64(len(hits)))

	var b strings.Builder
	seen := make(map[string]bool)
	var docs []string
	for i, hit := range hits {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		label := hit.Chunk.DocumentName
		if hit.Chunk.Section != "" {
			label += " / " + hit.Chunk.Section
		}
		fmt.Fprintf(&b, "[%s]\n%s", label, hit.Chunk.Text)
		if !seen[hit.Chunk.DocumentName] {
			seen[hit.Chunk.DocumentName] = true
			docs = append(docs, hit.Chunk.DocumentName)
		}
	}
	return b.String(), docs
}

// Ingest chunks a document, embeds the chunks in bounded-concurrency
// batches, stores the vectors, and persists the project snapshot. Returns
// the number of chunks ingested.
func (o *Orchestrator) Ingest(ctx context.Context, projectID, documentName, text string) (int, error) {
	chunks := o.deps.Chunker.Chunk(text, rag.ChunkMeta{DocumentName: documentName, ProjectID: projectID})
	if len(chunks) == 0 {
		return 0, nil
	}

	vectors := make([][]float64, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.EmbedConcurrency)
	for start := 0; start < len(chunks); start += o.config.EmbedBatchSize {
		end := start + o.config.EmbedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		start, end := start, end
		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, c := range chunks[start:end] {
				texts = append(texts, c.Text)
			}
			batch, err := o.deps.Embedder.Embed(gctx, texts)
			if err != nil {
				return err
			}
			if len(batch) != end-start {
				return fmt.Errorf("embedding batch size mismatch: want %d, got %d", end-start, len(batch))
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	records := make([]models.EmbeddingRecord, len(chunks))
	for i, c := range chunks {
		records[i] = models.EmbeddingRecord{Chunk: c, Vector: vectors[i], ProjectID: projectID}
	}
	if err := o.deps.Vectors.Add(projectID, records); err != nil {
		return 0, err
	}
	if o.deps.Snapshots != nil {
		if err := o.deps.Snapshots.Save(projectID, o.deps.Vectors.Records(projectID)); err != nil {
			o.logger.WithError(err).WithField("project", projectID).Warn("Failed to persist vector snapshot")
		}
	}
	o.deps.Metrics.DocumentsStored.WithLabelValues(projectID).Set(float64(o.deps.Vectors.Count(projectID)))
	o.logger.WithFields(logrus.Fields{
		"project":  projectID,
		"document": documentName,
		"chunks":   len(chunks),
	}).Info("Ingested document")
	return len(chunks), nil
}

// LoadProject restores a project's vectors from its snapshot.
func (o *Orchestrator) LoadProject(projectID string) error {
	if o.deps.Snapshots == nil {
		return nil
	}
	records, err := o.deps.Snapshots.Load(projectID)
	if err != nil {
		return err
	}
	o.deps.Vectors.Replace(projectID, records)
	return nil
}

// DeleteProject removes a project's vectors, snapshot, and history.
func (o *Orchestrator) DeleteProject(projectID string) error {
	o.deps.Vectors.DeleteProject(projectID)
	o.deps.History.Delete(projectID)
	o.deps.Metrics.DocumentsStored.DeleteLabelValues(projectID)
	if o.deps.Snapshots != nil {
		return o.deps.Snapshots.Delete(projectID)
	}
	return nil
}

// History returns up to n recent turns for a project, oldest first. n <= 0
// returns everything retained.
func (o *Orchestrator) History(projectID string, n int) []models.ConversationTurn {
	return o.deps.History.Recent(projectID, n)
}

// ClearHistory empties a project's conversation log.
func (o *Orchestrator) ClearHistory(projectID string) {
	o.deps.History.Clear(projectID)
}

// RateStatus reports a provider's current call-rate view.
func (o *Orchestrator) RateStatus(provider string) ratelimit.Status {
	return o.deps.Tracker.Status(provider)
}

func renderHistory(turns []models.ConversationTurn) string {
	if len(turns) == 0 {
		return ""
	}
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", t.UserMessage, t.AssistantResponse)
	}
	return b.String()
}
