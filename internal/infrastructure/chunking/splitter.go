package chunking

import "strings"

const (
	DefaultChunkSize = 1000
	DefaultOverlap   = 200
)

// Splitter cuts text into overlapping windows of whitespace-delimited words.
type Splitter struct {
	ChunkSize int
	Overlap   int
}

// Window is a half-open word range [Start, End).
type Window struct {
	Start int
	End   int
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	chunkSize, overlap = normalize(chunkSize, overlap)
	return &Splitter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
	}
}

// normalize keeps the window step ChunkSize-Overlap positive.
func normalize(chunkSize, overlap int) (int, int) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return chunkSize, overlap
}

// Windows returns the word ranges for a text of n words. Each window after the
// first starts Overlap words before the previous one ended. A Splitter built
// without NewSplitter gets the same normalization.
func (s *Splitter) Windows(n int) []Window {
	if n <= 0 {
		return nil
	}
	size, overlap := normalize(s.ChunkSize, s.Overlap)
	if n <= size {
		return []Window{{Start: 0, End: n}}
	}

	out := make([]Window, 0, n/(size-overlap)+1)
	start := 0
	for {
		end := min(start+size, n)
		out = append(out, Window{Start: start, End: end})
		start = end - overlap
		if start >= n-overlap {
			break
		}
	}
	return out
}

func (s *Splitter) Split(text string) []string {
	words := strings.Fields(text)
	windows := s.Windows(len(words))
	if len(windows) == 1 {
		return []string{text}
	}
	out := make([]string, 0, len(windows))
	for _, w := range windows {
		out = append(out, strings.Join(words[w.Start:w.End], " "))
	}
	return out
}
