package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyperengineering/distill/internal/embedding"
	"github.com/hyperengineering/distill/internal/jobstatus"
	"github.com/hyperengineering/distill/internal/types"
)

// progress turns completed units into status updates. It is shared by all
// workers so percent and item counters only ever reflect finished work.
type progress struct {
	mu     sync.Mutex
	jobs   *jobstatus.Store
	id     string
	done   int
	total  int
	saving bool
}

func (pr *progress) finish() {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	pr.done++
	items := &jobstatus.Items{Current: pr.done, Total: pr.total}

	if !pr.saving && pr.done*2 >= pr.total {
		pr.saving = true
		pr.jobs.Advance(pr.id, jobstatus.Update{
			Stage:   jobstatus.StageSaving,
			Percent: 90,
			Message: "Saving facts to knowledge base",
			Items:   items,
		})
		return
	}

	stage, percent := jobstatus.StageEmbedding, min(70+20*pr.done/pr.total, 89)
	if pr.saving {
		stage, percent = jobstatus.StageSaving, 90
	}
	pr.jobs.Advance(pr.id, jobstatus.Update{
		Stage:   stage,
		Percent: percent,
		Message: fmt.Sprintf("Processed fact %d/%d", pr.done, pr.total),
		Items:   items,
	})
}

// embedAndSave embeds and persists each fact. A failure only affects its own
// fact. The returned slice reports, per fact, whether it was saved.
func (p *Pipeline) embedAndSave(ctx context.Context, req Request, source string, embedder embedding.Embedder, facts []string) []bool {
	saved := make([]bool, len(facts))
	pr := &progress{jobs: p.jobs, id: req.RequestID, total: len(facts)}

	if p.embedPool == nil {
		for i, fact := range facts {
			saved[i] = p.saveFact(ctx, req, source, embedder, fact)
			pr.finish()
		}
		return saved
	}

	var wg sync.WaitGroup
	for i, fact := range facts {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			saved[i] = p.saveFact(ctx, req, source, embedder, fact)
			pr.finish()
		}
		if err := p.embedPool.Submit(task); err != nil {
			p.logger.Warn("embedding pool rejected task, running inline", "error", err)
			task()
		}
	}
	wg.Wait()

	return saved
}

// saveFact embeds fact and writes it. Failures are recorded for retry.
func (p *Pipeline) saveFact(ctx context.Context, req Request, source string, embedder embedding.Embedder, fact string) bool {
	ectx, cancel := context.WithTimeout(ctx, p.embedTimeout)
	vec, err := embedder.Embed(ectx, fact)
	cancel()
	if err == nil && len(vec) == 0 {
		err = embedding.ErrEmptyEmbedding
	}
	if err != nil {
		p.recordFailure(ctx, req, source, fact, fmt.Errorf("embed: %w", err))
		return false
	}

	_, err = p.store.SaveItem(ctx, types.KnowledgeItem{
		KnowledgeBaseID: req.KnowledgeBaseID,
		OwnerID:         req.OwnerID,
		Content:         fact,
		Embedding:       vec,
		EmbeddingModel:  embedder.ModelName(),
		SourceName:      source,
		SourceType:      sourceType(req),
		RequestID:       req.RequestID,
	})
	if err != nil {
		p.recordFailure(ctx, req, source, fact, fmt.Errorf("save: %w", err))
		return false
	}
	return true
}

func (p *Pipeline) recordFailure(ctx context.Context, req Request, source, fact string, cause error) {
	p.logger.Warn("fact not saved",
		"request_id", req.RequestID,
		"knowledge_base", req.KnowledgeBaseID,
		"error", cause,
	)

	_, err := p.store.RecordFailedFact(ctx, types.FailedFact{
		KnowledgeBaseID:    req.KnowledgeBaseID,
		OwnerID:            req.OwnerID,
		Content:            fact,
		SourceName:         source,
		SourceType:         sourceType(req),
		EmbeddingsProvider: req.EmbeddingsProvider,
		RequestID:          req.RequestID,
		Reason:             cause.Error(),
	})
	if err != nil {
		p.logger.Error("record failed fact", "request_id", req.RequestID, "error", err)
	}
}

func sourceType(req Request) types.SourceType {
	if req.SourceType == types.SourceFile {
		return types.SourceFile
	}
	return types.SourceText
}
