package text

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxChunkLength is the longest chunk, in characters, handed to an engine.
const DefaultMaxChunkLength = 200

const (
	// Longer forms first so that "PGS." is not consumed as "GS.".
	abbreviationRegexPattern = `\b(?:PGS|Th\.S|ThS|T\.S|TS|GS|BS|KS|TP|Tp)\.`
	conjunctionRegexPattern  = `(?:^|\s)(bởi vì|vì vậy|do đó|tuy nhiên|mặc dù|trong khi|hay là|nhưng|hoặc|và|vì|dù|nếu|để|với)`
	sentenceTerminators      = ".!?:"
	clauseTerminators        = ",;"
)

// Chunk is a span of the segmented text. StartIndex and EndIndex count
// characters (code points) and form a half-open range.
type Chunk struct {
	StartIndex int
	EndIndex   int
	Text       string
}

// Segmenter splits normalized text into chunks small enough for synthesis.
type Segmenter struct {
	maxLength    int
	abbreviation *regexp.Regexp
	conjunction  *regexp.Regexp
}

// NewSegmenter creates a segmenter. A non-positive maxLength selects
// DefaultMaxChunkLength.
func NewSegmenter(maxLength int) *Segmenter {
	if maxLength <= 0 {
		maxLength = DefaultMaxChunkLength
	}

	return &Segmenter{
		maxLength:    maxLength,
		abbreviation: regexp.MustCompile(abbreviationRegexPattern),
		conjunction:  regexp.MustCompile(conjunctionRegexPattern),
	}
}

// byteSpan is a half-open byte range inside a paragraph.
type byteSpan struct {
	start, end int
}

// Split returns the chunks of text in reading order.
func (s *Segmenter) Split(text string) []Chunk {
	var chunks []Chunk

	position := 0

	for _, paragraph := range strings.Split(text, "\n") {
		paragraphLength := utf8.RuneCountInString(paragraph)

		if strings.TrimSpace(paragraph) != "" {
			for _, span := range s.paragraphSpans(paragraph) {
				chunks = append(chunks, Chunk{
					StartIndex: position + utf8.RuneCountInString(paragraph[:span.start]),
					EndIndex:   position + utf8.RuneCountInString(paragraph[:span.end]),
					Text:       paragraph[span.start:span.end],
				})
			}
		}

		// The newline removed by the split.
		position += paragraphLength + 1
	}

	return chunks
}

// paragraphSpans locates every chunk of one paragraph.
func (s *Segmenter) paragraphSpans(paragraph string) []byteSpan {
	var spans []byteSpan

	for _, sentence := range s.sentenceSpans(paragraph) {
		if s.length(paragraph, sentence) <= s.maxLength {
			spans = append(spans, sentence)

			continue
		}

		for _, part := range s.splitLongSentence(paragraph[sentence.start:sentence.end]) {
			spans = append(spans, byteSpan{start: sentence.start + part.start, end: sentence.start + part.end})
		}
	}

	return spans
}

// sentenceSpans breaks a paragraph after sentence terminators followed by
// whitespace. Terminators inside title abbreviations never end a sentence.
func (s *Segmenter) sentenceSpans(paragraph string) []byteSpan {
	protected := map[int]bool{}

	for _, match := range s.abbreviation.FindAllStringIndex(paragraph, -1) {
		for i := match[0]; i < match[1]; i++ {
			protected[i] = true
		}
	}

	var spans []byteSpan

	start := 0

	for i, r := range paragraph {
		if protected[i] || !strings.ContainsRune(sentenceTerminators, r) {
			continue
		}

		next := i + utf8.RuneLen(r)
		if next >= len(paragraph) {
			continue
		}

		following, _ := utf8.DecodeRuneInString(paragraph[next:])
		if !unicode.IsSpace(following) {
			continue
		}

		spans = appendSpan(spans, paragraph, start, next)
		start = next
	}

	return appendSpan(spans, paragraph, start, len(paragraph))
}

// splitLongSentence cuts a sentence into clauses and packs consecutive clauses
// into parts of at most maxLength characters. Spans are relative to sentence.
func (s *Segmenter) splitLongSentence(sentence string) []byteSpan {
	clauses := s.clauseSpans(sentence)

	var pieces []byteSpan

	for _, clause := range clauses {
		if s.length(sentence, clause) <= s.maxLength {
			pieces = append(pieces, clause)

			continue
		}

		pieces = append(pieces, s.wordSpans(sentence, clause)...)
	}

	return s.pack(sentence, pieces)
}

// clauseSpans splits after "," or ";" followed by whitespace and before the
// coordinating and subordinating conjunctions.
func (s *Segmenter) clauseSpans(sentence string) []byteSpan {
	boundaries := map[int]bool{}

	for i, r := range sentence {
		if !strings.ContainsRune(clauseTerminators, r) {
			continue
		}

		next := i + utf8.RuneLen(r)
		if next < len(sentence) {
			following, _ := utf8.DecodeRuneInString(sentence[next:])
			if unicode.IsSpace(following) {
				boundaries[next] = true
			}
		}
	}

	for _, match := range s.conjunction.FindAllStringSubmatchIndex(sentence, -1) {
		wordStart, wordEnd := match[2], match[3]
		if wordStart == 0 || wordEnd >= len(sentence) {
			continue
		}

		following, _ := utf8.DecodeRuneInString(sentence[wordEnd:])
		if unicode.IsSpace(following) {
			boundaries[wordStart] = true
		}
	}

	return splitAt(sentence, boundaries)
}

// wordSpans splits an oversized clause on whitespace; a word longer than
// maxLength is cut at character boundaries.
func (s *Segmenter) wordSpans(sentence string, clause byteSpan) []byteSpan {
	var spans []byteSpan

	segment := sentence[clause.start:clause.end]
	wordStart := -1

	flush := func(end int) {
		if wordStart < 0 {
			return
		}

		spans = append(spans, s.hardCut(sentence, byteSpan{start: clause.start + wordStart, end: clause.start + end})...)
		wordStart = -1
	}

	for i, r := range segment {
		if unicode.IsSpace(r) {
			flush(i)

			continue
		}

		if wordStart < 0 {
			wordStart = i
		}
	}

	flush(len(segment))

	return spans
}

func (s *Segmenter) hardCut(sentence string, word byteSpan) []byteSpan {
	if s.length(sentence, word) <= s.maxLength {
		return []byteSpan{word}
	}

	var spans []byteSpan

	start := word.start
	count := 0

	for i := range sentence[word.start:word.end] {
		if count == s.maxLength {
			spans = append(spans, byteSpan{start: start, end: word.start + i})
			start = word.start + i
			count = 0
		}

		count++
	}

	return append(spans, byteSpan{start: start, end: word.end})
}

// pack greedily merges consecutive pieces while the merged span fits.
func (s *Segmenter) pack(sentence string, pieces []byteSpan) []byteSpan {
	var packed []byteSpan

	for _, piece := range pieces {
		if len(packed) > 0 {
			last := &packed[len(packed)-1]
			if s.length(sentence, byteSpan{start: last.start, end: piece.end}) <= s.maxLength {
				last.end = piece.end

				continue
			}
		}

		packed = append(packed, piece)
	}

	return packed
}

func (s *Segmenter) length(sentence string, span byteSpan) int {
	return utf8.RuneCountInString(sentence[span.start:span.end])
}

// splitAt cuts sentence at the given byte boundaries and trims whitespace from
// each resulting span.
func splitAt(sentence string, boundaries map[int]bool) []byteSpan {
	var spans []byteSpan

	start := 0

	for i := range sentence {
		if i > start && boundaries[i] {
			spans = appendSpan(spans, sentence, start, i)
			start = i
		}
	}

	return appendSpan(spans, sentence, start, len(sentence))
}

func appendSpan(spans []byteSpan, sentence string, start, end int) []byteSpan {
	for start < end {
		r, size := utf8.DecodeRuneInString(sentence[start:])
		if !unicode.IsSpace(r) {
			break
		}

		start += size
	}

	for end > start {
		r, size := utf8.DecodeLastRuneInString(sentence[:end])
		if !unicode.IsSpace(r) {
			break
		}

		end -= size
	}

	if start == end {
		return spans
	}

	return append(spans, byteSpan{start: start, end: end})
}
