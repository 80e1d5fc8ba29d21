// Package text provides Vietnamese text normalization and segmentation for the
// synthesis pipeline.
package text

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Regex patterns for text preprocessing.
const (
	horizontalSpacePattern  = `[^\S\n]+`
	blankLinesPattern       = `\n{2,}`
	spaceBeforePunctPattern = `[^\S\n]+([.,;:!?)\]}])`
	spaceAfterOpenPattern   = `([(\[{])[^\S\n]+`
	commaThousandsPattern   = `\d{1,3}(?:,\d{3})+`
	dotThousandsPattern     = `\d{1,3}(?:\.\d{3}){2,}`
	decimalPattern          = `(\d+)\.(\d+)`
)

// Vietnamese spoken forms of symbols and separators.
const (
	wordAnd     = " và "
	wordPercent = " phần trăm "
	wordDecimal = " phẩy "
)

// lineTerminators are the characters after which no period is appended.
const lineTerminators = ".!?:;,)]}"

// Preprocessor normalizes raw document text into the form the segmenter and
// the speech engines expect.
type Preprocessor struct {
	horizontalSpace  *regexp.Regexp
	blankLines       *regexp.Regexp
	spaceBeforePunct *regexp.Regexp
	spaceAfterOpen   *regexp.Regexp
	commaThousands   *regexp.Regexp
	dotThousands     *regexp.Regexp
	decimal          *regexp.Regexp
	symbolReplacer   *strings.Replacer
	quoteReplacer    *strings.Replacer
}

// NewPreprocessor creates a preprocessor with its patterns compiled once.
func NewPreprocessor() *Preprocessor {
	return &Preprocessor{
		horizontalSpace:  regexp.MustCompile(horizontalSpacePattern),
		blankLines:       regexp.MustCompile(blankLinesPattern),
		spaceBeforePunct: regexp.MustCompile(spaceBeforePunctPattern),
		spaceAfterOpen:   regexp.MustCompile(spaceAfterOpenPattern),
		commaThousands:   regexp.MustCompile(commaThousandsPattern),
		dotThousands:     regexp.MustCompile(dotThousandsPattern),
		decimal:          regexp.MustCompile(decimalPattern),
		symbolReplacer:   strings.NewReplacer("&", wordAnd, "%", wordPercent),
		quoteReplacer: strings.NewReplacer(
			"—", "-", // em dash
			"–", "-", // en dash
			"‒", "-", // figure dash
			"…", "...",
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
		),
	}
}

// PreprocessText returns the normalized form of text. Paragraph breaks survive
// as single newlines; everything else is collapsed to single spaces.
func (p *Preprocessor) PreprocessText(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	normalized = p.quoteReplacer.Replace(normalized)
	normalized = p.normalizeSpacing(normalized)
	normalized = p.addMissingPeriods(normalized)
	normalized = p.symbolReplacer.Replace(normalized)
	normalized = p.normalizeNumbers(normalized)

	// Expansions above introduce spaces next to punctuation and line edges.
	normalized = p.normalizeSpacing(normalized)

	return strings.TrimSpace(normalized)
}

// normalizeSpacing collapses whitespace inside lines, trims each line and
// removes blank lines.
func (p *Preprocessor) normalizeSpacing(text string) string {
	text = p.horizontalSpace.ReplaceAllString(text, " ")
	text = p.spaceBeforePunct.ReplaceAllString(text, "$1")
	text = p.spaceAfterOpen.ReplaceAllString(text, "$1")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}

	text = strings.Join(lines, "\n")

	return p.blankLines.ReplaceAllString(text, "\n")
}

// addMissingPeriods terminates every non-empty line that lacks punctuation.
func (p *Preprocessor) addMissingPeriods(text string) string {
	lines := strings.Split(text, "\n")

	for i, line := range lines {
		if line == "" {
			continue
		}

		last, _ := utf8.DecodeLastRuneInString(line)
		if !strings.ContainsRune(lineTerminators, last) {
			lines[i] = line + "."
		}
	}

	return strings.Join(lines, "\n")
}

// normalizeNumbers rewrites digit groupings into the form read aloud.
func (p *Preprocessor) normalizeNumbers(text string) string {
	ungroup := func(separator string) func(string) string {
		return func(match string) string {
			return strings.ReplaceAll(match, separator, " ")
		}
	}

	text = p.commaThousands.ReplaceAllStringFunc(text, ungroup(","))
	text = p.dotThousands.ReplaceAllStringFunc(text, ungroup("."))

	return p.decimal.ReplaceAllString(text, "$1"+wordDecimal+"$2")
}
