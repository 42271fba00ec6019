// Package retrieval extracts song-title entities from conversational
// context, fetches corroborating lyrics from the web, caches them durably,
// and translates foreign results. Best-effort by contract: it never fails
// the turn.
package retrieval

import (
	"context"
	"regexp"
	"strings"

	"github.com/edgy-raven/helper-chatbot/pkg/logger"
	"github.com/edgy-raven/helper-chatbot/pkg/providers"
	"github.com/edgy-raven/helper-chatbot/pkg/query"
)

var whitespacePattern = regexp.MustCompile(`\s+`)

var songTitleNERQuerier = &query.Querier{
	Instructions: "Extract all song titles mentioned anywhere in the provided full context when highly confident. " +
		"Treat romanized/transliterated titles, including lowercase multi-word phrases, as valid song titles when likely.",
	Tool: &providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionDefinition{
			Name:        "extract_song_title_entities",
			Description: "Extract possible song title mentions from text.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"possible_song_titles": map[string]interface{}{
						"type":  "array",
						"items": map[string]interface{}{"type": "string"},
					},
				},
				"required": []string{"possible_song_titles"},
			},
		},
	},
	Temperature:  0.0,
	TokenBudgets: []int{260, 420},
}

var songTitleVerifierQuerier = &query.Querier{
	Instructions: "Decide if candidate_text should be treated as a song title in this user message context. " +
		"Be conservative: reject casual slang, memes, or ordinary phrases unless context clearly " +
		"indicates a song title reference.",
	Tool: &providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionDefinition{
			Name:        "verify_song_title_candidate",
			Description: "Return whether the candidate is a song title in this context.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"is_song_title": map[string]interface{}{"type": "boolean"},
				},
				"required": []string{"is_song_title"},
			},
		},
	},
	Temperature:  0.0,
	TokenBudgets: []int{120, 220},
}

var translateLyricsQuerier = &query.Querier{
	Instructions: "Translate song lyrics to English. Preserve line breaks and section labels when possible. " +
		"Return only the translated lyrics text.",
	Temperature:  0.0,
	TokenBudgets: []int{600, 1200},
}

// Fetcher resolves a verified title to lyrics text. Narrow on purpose so
// the extraction algorithm can be exercised without live network access.
type Fetcher interface {
	FetchLyrics(ctx context.Context, title string) (string, error)
}

// Service runs the full retrieval pipeline for one turn.
type Service struct {
	Provider providers.LLMProvider
	Cache    *Cache
	Fetcher  Fetcher
}

// LookupKeyTextContext returns a title-to-lyrics mapping for every verified
// song title found in the context. Per-candidate failures drop that
// candidate; a top-level failure yields an empty mapping. Never panics or
// returns an error.
func (s *Service) LookupKeyTextContext(ctx context.Context, fullContext map[string]interface{}) map[string]string {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("retrieval", "context lookup panicked, continuing without retrieved context", map[string]interface{}{"panic": r})
		}
	}()

	fullContext = normalizeFullContext(fullContext)
	corpus := buildNERCorpus(fullContext)

	result := map[string]string{}
	nerResult, err := songTitleNERQuerier.Run(ctx, s.Provider, corpus, map[string]interface{}{
		"task":         "song_title_ner",
		"full_context": fullContext,
	}, nil)
	if err != nil {
		logger.WarnCF("retrieval", "entity extraction failed, continuing without retrieved context", map[string]interface{}{"error": err.Error()})
		return result
	}

	var verified []string
	for _, item := range stringList(nerResult.Arguments, "possible_song_titles") {
		title := whitespacePattern.ReplaceAllString(strings.ToLower(strings.TrimSpace(item)), " ")
		if title == "" {
			continue
		}
		verdict, err := songTitleVerifierQuerier.Run(ctx, s.Provider, title, map[string]interface{}{
			"message_text":   corpus,
			"candidate_text": title,
			"full_context":   fullContext,
		}, nil)
		if err != nil {
			logger.WarnCF("retrieval", "title verification failed", map[string]interface{}{"title": title, "error": err.Error()})
			continue
		}
		if ok, _ := verdict.Arguments["is_song_title"].(bool); ok {
			verified = append(verified, title)
		}
	}
	logger.InfoCF("retrieval", "song title candidates", map[string]interface{}{"titles": verified})

	for _, title := range verified {
		lyrics, err := s.lookupTitleLyrics(ctx, title)
		if err != nil {
			logger.WarnCF("retrieval", "song lookup failed", map[string]interface{}{"title": title, "error": err.Error()})
			continue
		}
		if lyrics == "" {
			continue
		}
		lyrics = s.translateToEnglish(ctx, title, lyrics)
		s.Cache.Put(title, lyrics)
		result[title] = lyrics
	}
	return result
}

// lookupTitleLyrics checks the cache first; on a miss it fetches. An empty
// fetch result evicts any stale cache entry instead of caching the blank.
func (s *Service) lookupTitleLyrics(ctx context.Context, title string) (string, error) {
	if lyrics, ok := s.Cache.Get(title); ok {
		return lyrics, nil
	}
	lyrics, err := s.Fetcher.FetchLyrics(ctx, title)
	if err != nil {
		return "", err
	}
	if lyrics == "" {
		s.Cache.Evict(title)
		return "", nil
	}
	s.Cache.Put(title, lyrics)
	return lyrics, nil
}

// translateToEnglish is best-effort: a failed or empty translation falls
// back to the original text.
func (s *Service) translateToEnglish(ctx context.Context, title, lyrics string) string {
	translated, err := translateLyricsQuerier.Run(ctx, s.Provider, lyrics, map[string]interface{}{
		"title": title,
	}, []int{800, 1400})
	if err != nil {
		logger.WarnCF("retrieval", "translation failed, keeping original text", map[string]interface{}{"title": title, "error": err.Error()})
		return lyrics
	}
	if text := strings.TrimSpace(translated.Response); text != "" {
		return text
	}
	return lyrics
}

func stringList(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	items := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			items = append(items, s)
		}
	}
	return items
}

// normalizeFullContext coerces the inbound context into a predictable
// shape; recent_messages may arrive as a pre-formatted transcript string.
func normalizeFullContext(fullContext map[string]interface{}) map[string]interface{} {
	if fullContext == nil {
		return map[string]interface{}{
			"input_text":      "",
			"user":            map[string]interface{}{},
			"global_memory":   "",
			"recent_messages": []interface{}{},
		}
	}
	normalized := make(map[string]interface{}, len(fullContext))
	for k, v := range fullContext {
		normalized[k] = v
	}
	switch recent := normalized["recent_messages"].(type) {
	case string:
		var lines []interface{}
		for _, line := range strings.Split(recent, "\n") {
			if text := strings.TrimSpace(line); text != "" {
				lines = append(lines, text)
			}
		}
		normalized["recent_messages"] = lines
	case nil:
		normalized["recent_messages"] = []interface{}{}
	}
	return normalized
}

// buildNERCorpus flattens the context to one fact per line for the entity
// extractor.
func buildNERCorpus(fullContext map[string]interface{}) string {
	var parts []string
	if input := stringField(fullContext, "input_text"); input != "" {
		parts = append(parts, "latest_input: "+input)
	}
	if user, ok := fullContext["user"].(map[string]interface{}); ok {
		if summary := stringField(user, "conversation_summary"); summary != "" {
			parts = append(parts, "conversation_summary: "+summary)
		}
	}
	if memory := stringField(fullContext, "global_memory"); memory != "" {
		parts = append(parts, "global_memory: "+memory)
	}
	if recent, ok := fullContext["recent_messages"].([]interface{}); ok {
		for _, msg := range recent {
			speaker := ""
			content := ""
			switch m := msg.(type) {
			case map[string]interface{}:
				speaker = stringField(m, "speaker")
				content = stringField(m, "content")
				if content == "" {
					content = stringField(m, "text")
				}
			case string:
				content = strings.TrimSpace(m)
			}
			if content != "" {
				parts = append(parts, "recent_message["+speaker+"]: "+content)
			}
		}
	}
	return strings.Join(parts, "\n")
}

func stringField(m map[string]interface{}, key string) string {
	v, _ := m[key].(string)
	return strings.TrimSpace(v)
}
