package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	sq "github.com/Masterminds/squirrel"
)

// Relevance weights.
const (
	scoreTextMatch     = 1.0
	scoreLeadingMatch  = 0.5
	scoreWholeWord     = 0.25
	scoreMetadataMatch = 0.1
)

// Search finds messages whose text, channel or sender contains query,
// case-insensitively, ranked by relevance and then recency.
func (s *Service) Search(ctx context.Context, query string, limit int) (SearchResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return SearchResponse{}, fmt.Errorf("%w: query must not be empty", ErrInvalidArgument)
	}
	switch {
	case limit == 0:
		limit = defaultSearchLimit
	case limit < 0 || limit > maxSearchLimit:
		return SearchResponse{}, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidArgument, maxSearchLimit)
	}

	needle := strings.ToLower(query)
	b := messagesQuery().
		Where(sq.Or{
			likeExpr("f.message_text", needle),
			likeExpr("f.channel_name", needle),
			likeExpr("f.chat_title", needle),
			likeExpr("f.sender_username", needle),
		}).
		OrderBy("f.message_date DESC", "f.message_id DESC").
		Limit(searchCandidates)

	var rows []messageRow
	if err := s.scan(ctx, b, &rows); err != nil {
		return SearchResponse{}, fmt.Errorf("search messages: %w", err)
	}

	results := make([]SearchResult, 0, len(rows))
	for _, r := range rows {
		text := ""
		if r.MessageText != nil {
			text = *r.MessageText
		}
		results = append(results, SearchResult{
			MessageID:      r.MessageID,
			MessageText:    text,
			SenderUsername: r.SenderUsername,
			ChannelName:    r.ChannelName,
			ChatTitle:      r.ChatTitle,
			MessageDate:    r.MessageDate.UTC(),
			RelevanceScore: Relevance(text, needle),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].RelevanceScore != results[j].RelevanceScore {
			return results[i].RelevanceScore > results[j].RelevanceScore
		}
		return results[i].MessageDate.After(results[j].MessageDate)
	})
	if len(results) > limit {
		results = results[:limit]
	}

	return SearchResponse{Query: query, Results: results, TotalCount: len(results), Limit: limit}, nil
}

// Relevance scores text against a query. A hit only in channel or sender
// metadata scores scoreMetadataMatch.
func Relevance(text, query string) float64 {
	text = strings.ToLower(text)
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" || !strings.Contains(text, query) {
		return scoreMetadataMatch
	}

	score := scoreTextMatch
	if strings.HasPrefix(strings.TrimLeftFunc(text, unicode.IsSpace), query) {
		score += scoreLeadingMatch
	}
	if containsWord(text, query) {
		score += scoreWholeWord
	}
	return score
}

// containsWord reports whether query occurs in text bounded by non-word runes.
func containsWord(text, query string) bool {
	for start := 0; start <= len(text)-len(query); {
		i := strings.Index(text[start:], query)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(query)

		before, _ := utf8.DecodeLastRuneInString(text[:i])
		after, _ := utf8.DecodeRuneInString(text[end:])
		if (i == 0 || !isWordRune(before)) && (end == len(text) || !isWordRune(after)) {
			return true
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		start = i + size
	}
	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}
