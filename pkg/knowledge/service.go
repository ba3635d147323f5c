// Package knowledge runs the curation pipeline after each processed message:
// learning promotion, session summarization, fact consolidation with safety
// gates, confidence decay, and archive.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kisohq/kiso/pkg/brain"
	"github.com/kisohq/kiso/pkg/config"
	"github.com/kisohq/kiso/pkg/models"
	"github.com/kisohq/kiso/pkg/store"
)

// Service owns the knowledge lifecycle. One instance is shared by all
// workers; every method is safe for concurrent use because the store
// serializes writes.
type Service struct {
	store *store.Store
	brain *brain.Brain
	cfg   *config.Provider
}

// NewService builds the knowledge service.
func NewService(st *store.Store, br *brain.Brain, cfg *config.Provider) *Service {
	return &Service{store: st, brain: br, cfg: cfg}
}

// AfterMessage runs the full pipeline once a message finishes processing:
// curator first, then summarization, then consolidation. Failures are logged
// and never fail the message — knowledge upkeep is best effort.
func (s *Service) AfterMessage(ctx context.Context, session string) {
	if err := s.PromoteLearnings(ctx); err != nil {
		slog.Warn("Learning promotion failed", "session", session, "error", err)
	}
	if err := s.SummarizeIfNeeded(ctx, session); err != nil {
		slog.Warn("Session summarization failed", "session", session, "error", err)
	}
	if err := s.ConsolidateIfNeeded(ctx); err != nil {
		slog.Warn("Fact consolidation failed", "error", err)
	}
}

// RecordFactUsage bumps use_count and last_used for the facts that were
// shown to the planner on a successful plan.
func (s *Service) RecordFactUsage(ctx context.Context, ids []int64) error {
	return s.store.UpdateFactUsage(ctx, ids)
}

// PromoteLearnings runs the curator over pending learnings and applies each
// evaluation: promote persists a fact, ask persists a session-scoped open
// question, discard records the reason.
func (s *Service) PromoteLearnings(ctx context.Context) error {
	pending, err := s.store.PendingLearnings(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	evals, err := s.brain.Curate(ctx, pending)
	if err != nil {
		return fmt.Errorf("curator failed: %w", err)
	}

	bySession := make(map[int64]string, len(pending))
	for _, l := range pending {
		bySession[l.ID] = l.Session
	}

	for _, e := range evals {
		session := bySession[e.LearningID]
		switch e.Verdict {
		case brain.VerdictPromote:
			fact := models.Fact{
				Content:    e.Fact.Content,
				Source:     models.FactSourceCurator,
				Category:   models.FactCategory(e.Fact.Category),
				Confidence: e.Fact.Confidence,
			}
			// Provenance: facts keep the session their learning came from.
			if session != "" {
				fact.Session = &session
			}
			if _, err := s.store.SaveFact(ctx, fact); err != nil {
				return err
			}
			if err := s.store.ResolveLearning(ctx, e.LearningID, models.LearningStatusPromoted, e.Reason); err != nil {
				return err
			}
		case brain.VerdictAsk:
			if _, err := s.store.SavePendingItem(ctx, models.PendingItem{
				Content: e.Question,
				Scope:   session,
				Source:  "curator",
			}); err != nil {
				return err
			}
			if err := s.store.ResolveLearning(ctx, e.LearningID, models.LearningStatusDiscarded,
				"converted to open question: "+e.Question); err != nil {
				return err
			}
		case brain.VerdictDiscard:
			if err := s.store.ResolveLearning(ctx, e.LearningID, models.LearningStatusDiscarded, e.Reason); err != nil {
				return err
			}
		}
	}
	slog.Info("Curated pending learnings", "count", len(evals))
	return nil
}

// SummarizeIfNeeded folds unsummarized messages into the session summary
// once their count reaches summarize_threshold.
func (s *Service) SummarizeIfNeeded(ctx context.Context, session string) error {
	limits := s.cfg.Current().Limits
	upTo, err := s.store.SummarizedTo(ctx, session)
	if err != nil {
		return err
	}
	count, err := s.store.CountMessagesAfter(ctx, session, upTo)
	if err != nil {
		return err
	}
	if count < limits.SummarizeThreshold {
		return nil
	}

	msgs, err := s.store.MessagesAfter(ctx, session, upTo, limits.SummarizeThreshold)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	outputs, err := s.store.MsgOutputsAfterMessage(ctx, session, upTo)
	if err != nil {
		return err
	}
	sess, err := s.store.GetSession(ctx, session)
	if err != nil {
		return err
	}

	summary, err := s.brain.SummarizeSession(ctx, sess.Summary, msgs, outputs)
	if err != nil {
		return fmt.Errorf("session summarizer failed: %w", err)
	}
	last := msgs[len(msgs)-1].ID
	if err := s.store.SetSessionSummary(ctx, session, summary, last); err != nil {
		return err
	}
	slog.Info("Session summarized", "session", session, "messages", len(msgs), "up_to", last)
	return nil
}

// ConsolidateIfNeeded runs decay, archive, and — when the fact count exceeds
// knowledge_max_facts — the consolidation pass with its safety gates.
func (s *Service) ConsolidateIfNeeded(ctx context.Context) error {
	limits := s.cfg.Current().Limits
	count, err := s.store.CountFacts(ctx)
	if err != nil {
		return err
	}
	if limits.KnowledgeMaxFacts <= 0 || count <= limits.KnowledgeMaxFacts {
		return nil
	}

	// Decay and archive run once per consolidation cycle.
	maxAge := time.Duration(limits.FactDecayDays) * 24 * time.Hour
	if decayed, err := s.store.DecayFacts(ctx, maxAge, limits.FactDecayRate); err != nil {
		return err
	} else if decayed > 0 {
		slog.Info("Decayed stale facts", "count", decayed)
	}
	if archived, err := s.store.ArchiveLowConfidenceFacts(ctx, limits.FactArchiveThreshold); err != nil {
		return err
	} else if archived > 0 {
		slog.Info("Archived low-confidence facts", "count", archived)
	}

	originals, err := s.store.GetFacts(ctx, "", true)
	if err != nil {
		return err
	}
	if len(originals) <= limits.KnowledgeMaxFacts {
		return nil
	}

	specs, err := s.brain.ConsolidateFacts(ctx, originals)
	if err != nil {
		return fmt.Errorf("facts summarizer failed: %w", err)
	}

	replacement := buildReplacement(specs, originals, limits.FactConsolidationMinRatio)
	if replacement == nil {
		slog.Warn("Consolidation aborted, keeping original facts",
			"original", len(originals), "consolidated", len(specs))
		return nil
	}
	if err := s.store.ReplaceFacts(ctx, replacement); err != nil {
		return err
	}
	slog.Info("Facts consolidated", "before", len(originals), "after", len(replacement))
	return nil
}

// buildReplacement applies the consolidation safety gates. Returns nil when
// the pass must be aborted.
func buildReplacement(specs []brain.FactSpec, originals []models.Fact, minRatio float64) []models.Fact {
	// A result that shrank too far is assumed lossy.
	if float64(len(specs)) < minRatio*float64(len(originals)) {
		return nil
	}

	provenance := map[string]*string{}
	for i := range originals {
		provenance[strings.TrimSpace(originals[i].Content)] = originals[i].Session
	}

	var out []models.Fact
	for _, spec := range specs {
		content := strings.TrimSpace(spec.Content)
		if utf8.RuneCountInString(content) < 3 {
			continue
		}
		fact := models.Fact{
			Content:    content,
			Source:     models.FactSourceSummarizer,
			Category:   models.FactCategory(spec.Category),
			Confidence: spec.Confidence,
		}
		if session, ok := matchProvenance(content, provenance); ok {
			fact.Session = session
		} else if fact.Category == models.FactCategoryUser {
			// A user fact with no traceable origin must not be globalized.
			continue
		}
		out = append(out, fact)
	}
	return out
}

// matchProvenance finds the originating session for a consolidated entry:
// exact content match first, then containment either way.
func matchProvenance(content string, provenance map[string]*string) (*string, bool) {
	if session, ok := provenance[content]; ok {
		return session, true
	}
	for original, session := range provenance {
		if strings.Contains(content, original) || strings.Contains(original, content) {
			return session, true
		}
	}
	return nil, false
}
