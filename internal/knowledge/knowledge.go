// Package knowledge remembers how issues were fixed. Successful fixes are
// embedded into a persistent local vector store; later fix runs ask for
// similar past issues and feed the outcomes into edit prompts as hints.
//
// The store is optional and best-effort: a nil *Store is a valid no-op, and
// no scan or fix ever fails because the knowledge base misbehaved.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/philippgille/chromem-go"
	lcollama "github.com/tmc/langchaingo/llms/ollama"
	"go.uber.org/zap"

	"github.com/Eng-Elias/codetective/internal/logging"
	"github.com/Eng-Elias/codetective/internal/models"
)

const collectionName = "fix-history"

// Config configures the store.
type Config struct {
	// Path is the directory the persistent DB lives in.
	Path string
	// OllamaURL is the server used for embeddings.
	OllamaURL string
	// EmbeddingModel is the embedding model name, e.g. nomic-embed-text.
	EmbeddingModel string
}

// Hint is one similar past fix.
type Hint struct {
	Title      string
	Outcome    string
	Similarity float32
}

// Store is the persistent fix memory.
type Store struct {
	coll *chromem.Collection
	log  *logging.Logger
}

// New opens (or creates) the persistent store. The embedding model is invoked
// lazily per document, so a dead Ollama server surfaces on Record/Similar,
// not here.
func New(cfg Config, log *logging.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("knowledge path is required")
	}
	if cfg.OllamaURL == "" {
		return nil, errors.New("ollama URL is required")
	}
	if cfg.EmbeddingModel == "" {
		return nil, errors.New("embedding model is required")
	}
	if log == nil {
		log = logging.NewNop()
	}

	llm, err := lcollama.New(
		lcollama.WithServerURL(cfg.OllamaURL),
		lcollama.WithModel(cfg.EmbeddingModel),
	)
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}
	embed := func(ctx context.Context, text string) ([]float32, error) {
		vectors, err := llm.CreateEmbedding(ctx, []string{text})
		if err != nil {
			return nil, fmt.Errorf("embed text: %w", err)
		}
		if len(vectors) != 1 {
			return nil, fmt.Errorf("expected 1 embedding, got %d", len(vectors))
		}
		return vectors[0], nil
	}

	return newStore(cfg.Path, embed, log)
}

func newStore(path string, embed chromem.EmbeddingFunc, log *logging.Logger) (*Store, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create knowledge directory: %w", err)
	}
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("open knowledge store: %w", err)
	}
	coll, err := db.GetOrCreateCollection(collectionName, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("open knowledge collection: %w", err)
	}
	return &Store{coll: coll, log: log.Named("knowledge")}, nil
}

// Record stores the outcome of a successfully fixed issue. Failures are
// logged and swallowed; fix memory is never worth failing a fix run over.
func (s *Store) Record(ctx context.Context, issue models.Issue, outcome string) {
	if s == nil || s.coll == nil {
		return
	}
	doc := chromem.Document{
		ID:      issue.ID,
		Content: issueText(issue),
		Metadata: map[string]string{
			"outcome":  outcome,
			"title":    issue.Title,
			"severity": string(issue.Severity),
			"agent":    issue.SourceAgent,
		},
	}
	if err := s.coll.AddDocument(ctx, doc); err != nil {
		s.log.Warn(ctx, "recording fix outcome failed",
			zap.String("issue", issue.ID), zap.Error(err))
	}
}

// Similar returns up to k past fixes resembling the issue, best first. An
// empty slice and nil error means no usable memory.
func (s *Store) Similar(ctx context.Context, issue models.Issue, k int) ([]Hint, error) {
	if s == nil || s.coll == nil || k <= 0 {
		return nil, nil
	}
	if count := s.coll.Count(); count < k {
		k = count
	}
	if k == 0 {
		return nil, nil
	}

	results, err := s.coll.Query(ctx, issueText(issue), k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query knowledge store: %w", err)
	}

	hints := make([]Hint, 0, len(results))
	for _, r := range results {
		if r.ID == issue.ID {
			continue
		}
		hints = append(hints, Hint{
			Title:      r.Metadata["title"],
			Outcome:    r.Metadata["outcome"],
			Similarity: r.Similarity,
		})
	}
	return hints, nil
}

func issueText(issue models.Issue) string {
	return issue.Title + "\n" + issue.Description
}
