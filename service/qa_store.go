package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/tieubaoca/jwt-assistant-be/database"
	"github.com/tieubaoca/jwt-assistant-be/logger"
	"github.com/tieubaoca/jwt-assistant-be/types"
)

const (
	qaPairType          = "qa_pair"
	qaMetadataMaxChars  = 500
	qaReferencedSources = 3
	qaAnswerSeparator   = "\nAnswer: "
	qaSourcesHeader     = "\n\nSources Referenced:\n"

	DefaultQATopK          = 3
	DefaultQAMinSimilarity = 0.7
)

var qaFilter = database.Filter{"type": qaPairType}

// QAStore keeps answered questions in their own collection so later
// questions can reuse them.
type QAStore struct {
	index *VectorIndex
	now   func() time.Time
}

func NewQAStore(index *VectorIndex) *QAStore {
	return &QAStore{
		index: index,
		now:   time.Now,
	}
}

func (s *QAStore) Enabled() bool {
	return s != nil && s.index.Enabled()
}

// StoreQAPair records one exchange together with the token it was about
// and the sources the answer drew on.
func (s *QAStore) StoreQAPair(ctx context.Context, question, answer string, tc *types.TokenContext, sources []types.ContextSource, extra map[string]any) error {
	if !s.Enabled() {
		return ErrVectorIndexDisabled
	}

	now := s.now().UTC()
	algorithm := tokenAlgorithm(tc)

	var text strings.Builder
	fmt.Fprintf(&text, "Question: %s%s%s", question, qaAnswerSeparator, answer)
	if len(sources) > 0 {
		text.WriteString(qaSourcesHeader)
		for i, src := range sources[:min(len(sources), qaReferencedSources)] {
			fmt.Fprintf(&text, "%d. %s - %s\n", i+1, orDefault(src.Source.Name, "Unknown"), src.Source.URL)
		}
	}

	metadata := map[string]any{
		"type":           qaPairType,
		"question":       truncateRunes(question, qaMetadataMaxChars),
		"answer_preview": truncateRunes(answer, qaMetadataMaxChars),
		"timestamp":      now.Format(time.RFC3339Nano),
		"jwt_algorithm":  algorithm,
		"has_expiry":     tc != nil && tc.Payload["exp"] != nil,
		"sources_count":  len(sources),
		"has_sources":    len(sources) > 0,
	}
	maps.Copy(metadata, extra)
	if len(sources) > 0 {
		top := sources[0].Source
		metadata["top_source_name"] = top.Name
		metadata["top_source_url"] = top.URL
		metadata["top_source_type"] = top.Type
	}

	id := qaID(question, algorithm, now)
	if err := s.index.AddDocuments(ctx, []string{text.String()}, []map[string]any{metadata}, []string{id}, types.QACollection); err != nil {
		return fmt.Errorf("failed to store qa pair: %w", err)
	}
	logger.L().Debugw("Stored QA pair", "id", id, "sources", len(sources))
	return nil
}

// RetrieveSimilarQA returns past exchanges at least minSimilarity close to
// question, most similar first.
func (s *QAStore) RetrieveSimilarQA(ctx context.Context, question string, topK int, minSimilarity float64) ([]types.SimilarQA, error) {
	if !s.Enabled() {
		return nil, nil
	}
	if topK <= 0 {
		topK = DefaultQATopK
	}
	results, err := s.index.Query(ctx, question, topK, types.QACollection, qaFilter)
	if err != nil {
		return nil, fmt.Errorf("failed to query qa history: %w", err)
	}

	var similar []types.SimilarQA
	for _, r := range results {
		if r.SimilarityScore < minSimilarity {
			continue
		}
		q, a, srcs := ParseQAContent(r.Content)
		timestamp, _ := r.Metadata["timestamp"].(string)
		similar = append(similar, types.SimilarQA{
			Question:   q,
			Answer:     a,
			Sources:    srcs,
			Similarity: r.SimilarityScore,
			Timestamp:  timestamp,
			Metadata:   r.Metadata,
		})
	}
	return similar, nil
}

func (s *QAStore) Statistics(ctx context.Context) types.QAStatistics {
	if !s.Enabled() {
		return types.QAStatistics{}
	}
	stats := s.index.Statistics(ctx)
	if stats.Error != "" {
		return types.QAStatistics{Error: stats.Error}
	}
	return types.QAStatistics{
		TotalPairs: stats.Collections[types.QACollection].Count,
		Enabled:    true,
		Collection: types.QACollection,
	}
}

func (s *QAStore) LearningInsights(ctx context.Context) types.QAInsights {
	var insights types.QAInsights
	insights.QAStatistics = s.Statistics(ctx)
	if !insights.Enabled {
		return insights
	}
	insights.Insights.LearningEnabled = true
	insights.Insights.CanReferencePastAnswers = insights.TotalPairs > 0
	if insights.TotalPairs > 0 {
		insights.Insights.Recommendation = "The system is learning from user interactions. Past Q&A pairs will be used to provide better answers."
	} else {
		insights.Insights.Recommendation = "No Q&A pairs stored yet. Start asking questions to build knowledge."
	}
	return insights
}

// ClearOldQAPairs deletes pairs stored more than days ago and returns how
// many were removed. Pairs without a readable timestamp are kept.
func (s *QAStore) ClearOldQAPairs(ctx context.Context, days int) (int, error) {
	if !s.Enabled() {
		return 0, ErrVectorIndexDisabled
	}
	cutoff := s.now().UTC().AddDate(0, 0, -days)

	var stale []string
	err := s.index.Scan(ctx, types.QACollection, qaFilter, func(rec database.VectorRecord) error {
		raw, _ := rec.Metadata["timestamp"].(string)
		ts, ok := parseQATimestamp(raw)
		if ok && ts.Before(cutoff) {
			stale = append(stale, rec.ID)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan qa history: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := s.index.DeleteByIDs(ctx, stale, types.QACollection); err != nil {
		return 0, fmt.Errorf("failed to delete old qa pairs: %w", err)
	}
	logger.L().Infow("Cleared old QA pairs", "count", len(stale), "days", days)
	return len(stale), nil
}

// ParseQAContent splits stored QA text back into its question, answer and
// referenced sources. Text without the markers is returned as the answer.
func ParseQAContent(content string) (question, answer string, sources []types.QASource) {
	if !strings.Contains(content, "Question:") || !strings.Contains(content, "Answer:") {
		return "", content, nil
	}
	q, rest, found := strings.Cut(content, qaAnswerSeparator)
	if !found {
		q, rest, _ = strings.Cut(content, "Answer:")
	}
	question = strings.TrimSpace(strings.Replace(q, "Question:", "", 1))

	i := strings.LastIndex(rest, qaSourcesHeader)
	if i < 0 {
		return question, strings.TrimSpace(rest), nil
	}
	answer = strings.TrimSpace(rest[:i])
	refs := rest[i+len(qaSourcesHeader):]
	for _, line := range strings.Split(strings.TrimSpace(refs), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.Contains(line, "-") {
			continue
		}
		if _, after, ok := strings.Cut(line, ". "); ok {
			line = after
		}
		name, url := line, ""
		if i := strings.LastIndex(line, " -"); i >= 0 {
			name, url = line[:i], line[i+2:]
		}
		sources = append(sources, types.QASource{Name: strings.TrimSpace(name), URL: strings.TrimSpace(url)})
	}
	return question, answer, sources
}

func qaID(question, algorithm string, at time.Time) string {
	sum := md5.Sum([]byte(question + "_" + algorithm + "_" + at.Format(time.RFC3339Nano)))
	return "qa_" + hex.EncodeToString(sum[:])
}

func parseQATimestamp(raw string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func tokenAlgorithm(tc *types.TokenContext) string {
	if tc == nil {
		return "unknown"
	}
	if alg, ok := tc.Header["alg"].(string); ok && alg != "" {
		return alg
	}
	return "unknown"
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
