package xmlcall

import (
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	startMarker = "<function_calls>"
	endMarker   = "</function_calls>"
)

// Block is one complete tagged block found in the scanned text. Offsets are
// byte positions relative to the text passed to Extract.
type Block struct {
	Content string
	Start   int
	End     int
	TagName string // legacy blocks only
	Legacy  bool
}

// Extractor finds complete call blocks in accumulated text.
type Extractor struct {
	legacyTags []string
}

// NewExtractor creates an extractor. Legacy tags enable the per-tool
// single-element fallback grammar.
func NewExtractor(legacyTags ...string) *Extractor {
	return &Extractor{legacyTags: legacyTags}
}

// Extract returns all complete top-level blocks in left-to-right order and
// the text with those blocks removed. Incomplete blocks stay in the
// remaining text. Scanning trouble is logged and yields no blocks.
func (e *Extractor) Extract(text string) (blocks []Block, remaining string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Tagged-content extraction failed")
			blocks = nil
			remaining = text
		}
	}()

	blocks = e.extractStandard(text)
	if len(blocks) == 0 {
		blocks = e.extractLegacy(text)
	}

	return blocks, removeBlocks(text, blocks)
}

func (e *Extractor) extractStandard(text string) []Block {
	var blocks []Block
	pos := 0

	for {
		rel := strings.Index(text[pos:], startMarker)
		if rel < 0 {
			break
		}
		start := pos + rel

		end := scanBalanced(text, start+len(startMarker), startMarker, endMarker)
		if end < 0 {
			// End marker not seen yet; the block stays buffered.
			break
		}

		blocks = append(blocks, Block{
			Content: text[start:end],
			Start:   start,
			End:     end,
		})
		pos = end
	}

	return blocks
}

// scanBalanced walks from i counting nested open markers until the matching
// close marker, returning the offset just past it, or -1 when incomplete.
func scanBalanced(text string, i int, open, close string) int {
	depth := 1
	for depth > 0 {
		nextOpen := strings.Index(text[i:], open)
		nextClose := strings.Index(text[i:], close)
		if nextClose < 0 {
			return -1
		}
		if nextOpen >= 0 && nextOpen < nextClose {
			depth++
			i += nextOpen + len(open)
		} else {
			depth--
			i += nextClose + len(close)
		}
	}
	return i
}

func (e *Extractor) extractLegacy(text string) []Block {
	if len(e.legacyTags) == 0 {
		return nil
	}

	var blocks []Block
	pos := 0

	for pos < len(text) {
		tag, start := e.findEarliestTag(text, pos)
		if start < 0 {
			break
		}

		end := scanLegacyClose(text, start, tag)
		if end < 0 {
			break
		}

		blocks = append(blocks, Block{
			Content: text[start:end],
			Start:   start,
			End:     end,
			TagName: tag,
			Legacy:  true,
		})
		pos = end
	}

	return blocks
}

// findEarliestTag locates the leftmost opening tag of any registered legacy
// tool at or after pos.
func (e *Extractor) findEarliestTag(text string, pos int) (string, int) {
	bestTag := ""
	bestStart := -1

	for _, tag := range e.legacyTags {
		at := indexTagOpen(text, pos, tag)
		if at >= 0 && (bestStart < 0 || at < bestStart) {
			bestTag = tag
			bestStart = at
		}
	}

	return bestTag, bestStart
}

// indexTagOpen finds "<tag" followed by a tag-name boundary, so tag "ask"
// does not match "<ask_more>".
func indexTagOpen(text string, pos int, tag string) int {
	token := "<" + tag
	for {
		rel := strings.Index(text[pos:], token)
		if rel < 0 {
			return -1
		}
		at := pos + rel
		after := at + len(token)
		if after >= len(text) {
			return -1 // truncated start tag, incomplete
		}
		switch text[after] {
		case '>', ' ', '\t', '\n', '\r', '/':
			return at
		}
		pos = after
	}
}

// scanLegacyClose returns the offset just past the element closing whatever
// starts at start, handling nested same-name elements and self-closing form.
func scanLegacyClose(text string, start int, tag string) int {
	closeToken := "</" + tag + ">"

	gt := strings.Index(text[start:], ">")
	if gt < 0 {
		return -1
	}
	gt += start
	if text[gt-1] == '/' {
		return gt + 1
	}

	depth := 1
	i := gt + 1
	for depth > 0 {
		nextOpen := indexTagOpen(text, i, tag)
		nextClose := strings.Index(text[i:], closeToken)
		if nextClose < 0 {
			return -1
		}
		nextClose += i

		if nextOpen >= 0 && nextOpen < nextClose {
			g := strings.Index(text[nextOpen:], ">")
			if g < 0 {
				return -1
			}
			g += nextOpen
			if text[g-1] != '/' {
				depth++
			}
			i = g + 1
		} else {
			depth--
			i = nextClose + len(closeToken)
		}
	}

	return i
}

func removeBlocks(text string, blocks []Block) string {
	if len(blocks) == 0 {
		return text
	}

	var b strings.Builder
	pos := 0
	for _, blk := range blocks {
		b.WriteString(text[pos:blk.Start])
		pos = blk.End
	}
	b.WriteString(text[pos:])
	return b.String()
}
