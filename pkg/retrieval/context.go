package retrieval

import (
	"fmt"
	"strings"

	"docchat/pkg/domain"
)

const contextSeparator = "\n\n---\n\n"

// BuildContext renders matches as the document context handed to the model and
// the RAGContext recorded on the assistant message. No matches yields ("", nil).
func BuildContext(matches []Match) (string, *domain.RAGContext) {
	if len(matches) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(matches))
	usage := make(map[string]*domain.DocumentUsage)
	var order []string
	for _, m := range matches {
		parts = append(parts, fmt.Sprintf("# %s (chunk %d)\n\n%s", m.DocumentName, m.ChunkIndex, m.Content))
		u, ok := usage[m.DocumentID]
		if !ok {
			u = &domain.DocumentUsage{ID: m.DocumentID, Name: m.DocumentName}
			usage[m.DocumentID] = u
			order = append(order, m.DocumentID)
		}
		u.ChunksUsed = append(u.ChunksUsed, m.ChunkIndex)
		u.RelevanceScore = max(u.RelevanceScore, m.RelevanceScore)
	}
	text := strings.Join(parts, contextSeparator)

	rag := &domain.RAGContext{
		DocumentsUsed: make([]domain.DocumentUsage, 0, len(order)),
		TotalChunks:   len(matches),
		ContextLength: len([]rune(text)),
	}
	for _, id := range order {
		rag.DocumentsUsed = append(rag.DocumentsUsed, *usage[id])
	}
	return text, rag
}
