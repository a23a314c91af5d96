// Package textproc turns extracted document text into the structural
// elements an analysis is made of: cleaned text, sentence and paragraph
// nodes, ranked keywords and a leading-sentence summary.
package textproc

import (
	"html"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/docstream/docstream/internal/models"
)

var (
	urlRegex    = regexp.MustCompile(`https?://[^\s]+`)
	whitespace  = regexp.MustCompile(`\s+`)
	punctuation = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "to": {}, "in": {}, "for": {},
	"of": {}, "and": {}, "or": {}, "is": {}, "are": {}, "was": {},
	"on": {}, "at": {}, "by": {}, "with": {}, "as": {}, "be": {},
	"this": {}, "that": {}, "it": {}, "from": {}, "not": {},
}

// Clean strips HTML entities, URLs and punctuation and squeezes whitespace.
func Clean(input string) string {
	if input == "" {
		return ""
	}
	decoded := html.UnescapeString(input)
	decoded = urlRegex.ReplaceAllString(decoded, " ")
	decoded = punctuation.ReplaceAllString(decoded, " ")
	decoded = whitespace.ReplaceAllString(decoded, " ")
	return strings.TrimSpace(decoded)
}

// Sentences splits text into sentence nodes with their byte offsets in the
// original text. Terminators are . ! ? followed by whitespace or end of
// input.
func Sentences(text string, page int) []models.SyntaxNode {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var nodes []models.SyntaxNode
	start := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		atEnd := i == len(text)-1
		if c == '.' || c == '!' || c == '?' {
			if !atEnd && !isSpaceByte(text[i+1]) {
				continue
			}
			appendSentence(&nodes, text, start, i+1, page)
			start = i + 1
		} else if atEnd {
			appendSentence(&nodes, text, start, len(text), page)
		}
	}
	return nodes
}

func appendSentence(nodes *[]models.SyntaxNode, text string, start, end, page int) {
	raw := text[start:end]
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return
	}
	offset := start + strings.Index(raw, trimmed)
	*nodes = append(*nodes, models.SyntaxNode{
		Kind:       models.KindSentence,
		Text:       trimmed,
		Page:       page,
		Start:      offset,
		End:        offset + len(trimmed),
		Confidence: 1,
	})
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// Paragraphs splits text on blank lines into paragraph nodes. A short
// single-line block without sentence terminators is classified as a heading.
func Paragraphs(text string, page int) []models.SyntaxNode {
	var nodes []models.SyntaxNode
	offset := 0
	for _, block := range strings.Split(text, "\n\n") {
		trimmed := strings.TrimSpace(block)
		if trimmed != "" {
			kind := models.KindParagraph
			confidence := 1.0
			if isHeading(trimmed) {
				kind = models.KindHeading
				confidence = 0.8
			}

			start := offset + strings.Index(block, trimmed)
			nodes = append(nodes, models.SyntaxNode{
				Kind:       kind,
				Text:       trimmed,
				Page:       page,
				Start:      start,
				End:        start + len(trimmed),
				Confidence: confidence,
			})
		}
		offset += len(block) + 2
	}
	return nodes
}

func isHeading(block string) bool {
	return !strings.ContainsAny(block, ".!?\n") && len([]rune(block)) <= 80
}

// Keywords returns the most frequent words that are not stop-words, ranked
// by frequency then alphabetically, as entity nodes.
func Keywords(text string, limit, minLen int) []models.SyntaxNode {
	clean := strings.ToLower(Clean(text))
	if clean == "" {
		return nil
	}

	freq := make(map[string]int)
	for _, token := range strings.Fields(clean) {
		token = strings.TrimFunc(token, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if len([]rune(token)) < minLen {
			continue
		}
		if _, skip := stopwords[token]; skip {
			continue
		}
		freq[token]++
	}

	if len(freq) == 0 {
		return nil
	}

	type kv struct {
		word  string
		count int
	}
	pairs := make([]kv, 0, len(freq))
	total := 0
	for word, count := range freq {
		pairs = append(pairs, kv{word: word, count: count})
		total += count
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count == pairs[j].count {
			return pairs[i].word < pairs[j].word
		}
		return pairs[i].count > pairs[j].count
	})

	max := limit
	if max <= 0 || max > len(pairs) {
		max = len(pairs)
	}

	nodes := make([]models.SyntaxNode, 0, max)
	for _, p := range pairs[:max] {
		nodes = append(nodes, models.SyntaxNode{
			Kind:       models.KindEntity,
			Text:       p.word,
			Confidence: float64(p.count) / float64(total),
		})
	}
	return nodes
}

// Summarize returns the first maxSentences sentences of the text joined into
// one string, truncated with an ellipsis when more follow.
func Summarize(text string, maxSentences int) string {
	sentences := Sentences(text, 0)
	if len(sentences) == 0 {
		return ""
	}
	if maxSentences <= 0 {
		maxSentences = 1
	}

	parts := make([]string, 0, maxSentences)
	for i, s := range sentences {
		if i >= maxSentences {
			break
		}
		parts = append(parts, s.Text)
	}

	summary := strings.Join(parts, " ")
	if len(sentences) > maxSentences {
		summary += " ..."
	}
	return summary
}
