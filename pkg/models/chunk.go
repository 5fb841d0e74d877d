package models

// Chunk content types.
const (
	ChunkTypeText       = "text"
	ChunkTypeWithImages = "text_with_images"
)

// Chunk is one indexed piece of a source document. ID is "<source>:<seq>".
type Chunk struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	Seq       int    `json:"seq"`
	Content   string `json:"content"`
	Type      string `json:"type"`
	ImagePath string `json:"image_path,omitempty"`
}

// ScoredChunk is a chunk with its retrieval relevance score.
type ScoredChunk struct {
	Chunk
	Score float64 `json:"score"`
}

// SourceInfo summarizes the indexed chunks of one source document.
// AddedAt is the day the source was last indexed, as YYYY-MM-DD.
type SourceInfo struct {
	Source  string `json:"source"`
	Chunks  int64  `json:"chunks"`
	AddedAt string `json:"added_at"`
}
