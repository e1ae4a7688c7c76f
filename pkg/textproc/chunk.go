package textproc

import "errors"

const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 100
)

var (
	ErrInvalidSize    = errors.New("chunk size must be > 0")
	ErrInvalidOverlap = errors.New("chunk overlap must be >= 0 and smaller than chunk size")
)

// ValidateChunking checks that a window of size with the given overlap always
// advances.
func ValidateChunking(size, overlap int) error {
	if size <= 0 {
		return ErrInvalidSize
	}
	if overlap < 0 || overlap >= size {
		return ErrInvalidOverlap
	}
	return nil
}

// Chunk splits text into windows of size runes, each starting overlap runes
// before the end of the previous one. Every rune is covered and windows are
// returned in increasing start order. Empty text yields no chunks.
func Chunk(text string, size, overlap int) ([]string, error) {
	if err := ValidateChunking(size, overlap); err != nil {
		return nil, err
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return []string{}, nil
	}
	chunks := make([]string, 0, ChunkCount(len(runes), size, overlap))
	for start := 0; ; {
		end := min(start+size, len(runes))
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
		start = end - overlap
	}
	return chunks, nil
}

// ChunkCount returns how many windows Chunk produces for a text of length
// runes: ceil((length-overlap)/(size-overlap)), and 1 for any non-empty text
// that fits in a single window.
func ChunkCount(length, size, overlap int) int {
	if length <= 0 || size <= 0 || overlap < 0 || overlap >= size {
		return 0
	}
	if length <= size {
		return 1
	}
	step := size - overlap
	return (length - overlap + step - 1) / step
}
