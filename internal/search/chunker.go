package search

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Chunker splits document content into retrieval-sized spans. Splitting is
// paragraph-first: blank-line-separated paragraphs are packed greedily into
// chunks up to MaxChunkRunes; a single oversized paragraph is hard-split on
// rune boundaries so no content is ever dropped.
type Chunker struct {
	// MaxChunkRunes caps the size of one chunk. Values <= 0 default to 1200.
	MaxChunkRunes int
	// MinChunkRunes drops trailing fragments shorter than this unless they
	// are the only content. Values < 0 default to 0 (keep everything).
	MinChunkRunes int
}

var chunkParaSplitRE = regexp.MustCompile(`\n\s*\n`)

// Split returns the chunk texts for content, in document order. Empty or
// whitespace-only content yields no chunks.
func (c Chunker) Split(content string) []string {
	maxRunes := c.MaxChunkRunes
	if maxRunes <= 0 {
		maxRunes = 1200
	}
	minRunes := c.MinChunkRunes
	if minRunes < 0 {
		minRunes = 0
	}

	paras := splitParagraphs(content)
	if len(paras) == 0 {
		return nil
	}

	var out []string
	var cur strings.Builder
	curRunes := 0

	flush := func() {
		if curRunes == 0 {
			return
		}
		out = append(out, cur.String())
		cur.Reset()
		curRunes = 0
	}

	for _, p := range paras {
		pRunes := utf8.RuneCountInString(p)

		// Oversized paragraph: flush what we have, then hard-split.
		if pRunes > maxRunes {
			flush()
			for _, piece := range hardSplit(p, maxRunes) {
				out = append(out, piece)
			}
			continue
		}

		// +2 accounts for the paragraph separator we re-insert.
		if curRunes > 0 && curRunes+pRunes+2 > maxRunes {
			flush()
		}
		if curRunes > 0 {
			cur.WriteString("\n\n")
			curRunes += 2
		}
		cur.WriteString(p)
		curRunes += pRunes
	}
	flush()

	// Drop a trailing fragment below the minimum, unless it is all we have.
	if minRunes > 0 && len(out) > 1 {
		last := out[len(out)-1]
		if utf8.RuneCountInString(last) < minRunes {
			out = out[:len(out)-1]
		}
	}
	return out
}

func splitParagraphs(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	chunks := chunkParaSplitRE.Split(s, -1)
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if t := strings.TrimSpace(c); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// hardSplit cuts s into pieces of at most max runes on rune boundaries.
func hardSplit(s string, max int) []string {
	runes := []rune(s)
	var out []string
	for len(runes) > 0 {
		n := max
		if n > len(runes) {
			n = len(runes)
		}
		out = append(out, strings.TrimSpace(string(runes[:n])))
		runes = runes[n:]
	}
	return out
}
