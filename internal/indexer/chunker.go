package indexer

// Chunker splits section text into fixed-size chunks. Chunks never cross
// section boundaries and carry no overlap.
type Chunker struct {
	chunkSize int
}

// NewChunker creates a chunker with the given chunk size in characters.
func NewChunker(chunkSize int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	return &Chunker{chunkSize: chunkSize}
}

// Split breaks each section into chunks of at most chunkSize characters.
// The final chunk of a section may be shorter; empty sections produce nothing.
func (c *Chunker) Split(sections []string) []string {
	var chunks []string
	for _, section := range sections {
		runes := []rune(section)
		for start := 0; start < len(runes); start += c.chunkSize {
			end := start + c.chunkSize
			if end > len(runes) {
				end = len(runes)
			}
			chunks = append(chunks, string(runes[start:end]))
		}
	}
	return chunks
}
