package tts

import (
	"math"
	"strings"
	"unicode"
)

// Chunk is a slice of assistant text that is synthesized and played as one unit.
type Chunk struct {
	Text  string
	Index int
}

// ChunkerConfig sizes chunks. The effective minimum is
// MinLength * MinScale / PlaybackSpeed, clamped to [1, MaxLength].
type ChunkerConfig struct {
	MinLength     int
	MinScale      float64
	MaxLength     int
	PlaybackSpeed float64
}

// MinEffective returns the minimum chunk length in runes.
func (c ChunkerConfig) MinEffective() int {
	scale, speed := c.MinScale, c.PlaybackSpeed
	if scale <= 0 {
		scale = 1
	}
	if speed <= 0 {
		speed = 1
	}
	base := c.MinLength
	if base <= 0 {
		base = DefaultMinChunkLength
	}
	n := int(math.Round(float64(base) * scale / speed))
	return max(1, min(n, c.maxLength()))
}

func (c ChunkerConfig) maxLength() int {
	if c.MaxLength <= 0 {
		return DefaultMaxChunkLength
	}
	return c.MaxLength
}

// Chunker accumulates deltas and cuts chunks from the front of the buffer.
// Not safe for concurrent use; one chunker serves one assistant turn.
type Chunker struct {
	minLen int
	maxLen int
	buf    []rune
	next   int
}

// NewChunker creates a chunker whose indices start at 0.
func NewChunker(cfg ChunkerConfig) *Chunker {
	return &Chunker{minLen: cfg.MinEffective(), maxLen: cfg.maxLength()}
}

// Push appends a delta and returns every chunk that can be cut.
func (c *Chunker) Push(delta string) []Chunk {
	c.buf = append(c.buf, []rune(delta)...)
	c.buf = trimLeftSpace(c.buf)

	var out []Chunk
	for {
		n := c.cutPoint()
		if n == 0 {
			return out
		}
		if ch, ok := c.take(n); ok {
			out = append(out, ch)
		}
	}
}

// Flush emits the remaining text as a final chunk unless it is blank.
func (c *Chunker) Flush() []Chunk {
	if len(c.buf) == 0 {
		return nil
	}
	if ch, ok := c.take(len(c.buf)); ok {
		return []Chunk{ch}
	}
	return nil
}

// Emitted returns how many chunks have been produced.
func (c *Chunker) Emitted() int { return c.next }

// cutPoint returns the rune count to cut from the buffer front, or 0.
func (c *Chunker) cutPoint() int {
	if len(c.buf) < c.minLen {
		return 0
	}
	limit := min(len(c.buf), c.maxLen)
	for i := c.minLen - 1; i < limit; i++ {
		if !isBoundary(c.buf[i]) {
			continue
		}
		if c.buf[i] == '\n' {
			return i + 1
		}
		// "3.5" or "e.g" is not a boundary until whitespace follows.
		if i+1 < len(c.buf) && unicode.IsSpace(c.buf[i+1]) {
			return i + 1
		}
	}
	if len(c.buf) < c.maxLen {
		return 0
	}
	for i := c.maxLen; i > c.minLen; i-- {
		if unicode.IsSpace(c.buf[i-1]) {
			return i
		}
	}
	return c.maxLen
}

func (c *Chunker) take(n int) (Chunk, bool) {
	text := strings.TrimSpace(string(c.buf[:n]))
	c.buf = trimLeftSpace(c.buf[n:])
	if text == "" {
		return Chunk{}, false
	}
	ch := Chunk{Text: text, Index: c.next}
	c.next++
	return ch, true
}

func isBoundary(r rune) bool {
	switch r {
	case '.', '!', '?', ';', ':', ',', '\n', '。', '！', '？':
		return true
	}
	return false
}

func trimLeftSpace(rs []rune) []rune {
	i := 0
	for i < len(rs) && unicode.IsSpace(rs[i]) {
		i++
	}
	return rs[i:]
}
