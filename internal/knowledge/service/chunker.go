package service

import (
	"strings"
	"unicode/utf8"
)

const (
	chunkSize    = 1200
	chunkOverlap = 200
)

// chunkText splits document content into retrieval-sized chunks. Paragraphs
// (blank-line separated) are packed together up to size bytes; a paragraph
// that alone exceeds size is split at word boundaries. Consecutive chunks
// share an overlap tail so sentences cut at a boundary stay retrievable.
func chunkText(content string, size, overlap int) []string {
	if size <= 0 {
		return nil
	}

	var pieces []string
	for _, para := range strings.Split(content, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		pieces = append(pieces, splitLong(para, size)...)
	}

	var chunks []string
	var b strings.Builder
	for _, piece := range pieces {
		switch {
		case b.Len() == 0:
			b.WriteString(piece)
		case b.Len()+len(piece)+2 <= size:
			b.WriteString("\n\n")
			b.WriteString(piece)
		default:
			chunks = append(chunks, b.String())
			tail := overlapTail(b.String(), overlap)
			b.Reset()
			if tail != "" {
				b.WriteString(tail)
				b.WriteString("\n\n")
			}
			b.WriteString(piece)
		}
	}
	if b.Len() > 0 {
		chunks = append(chunks, b.String())
	}
	return chunks
}

// splitLong breaks one oversized paragraph into pieces of at most max bytes,
// cutting at the last space before the limit. Unbroken runs longer than max
// are cut hard, backing off so a multi-byte rune is never split.
func splitLong(para string, max int) []string {
	if len(para) <= max {
		return []string{para}
	}
	var pieces []string
	for len(para) > max {
		cut := strings.LastIndexByte(para[:max], ' ')
		if cut <= 0 {
			cut = max
			for cut > 0 && !utf8.RuneStart(para[cut]) {
				cut--
			}
			if cut == 0 {
				cut = max
			}
		}
		if piece := strings.TrimSpace(para[:cut]); piece != "" {
			pieces = append(pieces, piece)
		}
		para = strings.TrimSpace(para[cut:])
	}
	if para != "" {
		pieces = append(pieces, para)
	}
	return pieces
}

// overlapTail returns the trailing overlap bytes of chunk, preferring to
// start just after a space so the seed begins on a whole word.
func overlapTail(chunk string, overlap int) string {
	if overlap <= 0 {
		return ""
	}
	if len(chunk) <= overlap {
		return chunk
	}
	tail := chunk[len(chunk)-overlap:]
	if idx := strings.IndexByte(tail, ' '); idx >= 0 {
		return strings.TrimSpace(tail[idx+1:])
	}
	for i := 0; i < len(tail) && i < utf8.UTFMax; i++ {
		if utf8.RuneStart(tail[i]) {
			return tail[i:]
		}
	}
	return tail
}
