package models

// Answer is a generated response to a question, along with the retrieval
// provenance the API exposes to clients.
type Answer struct {
	Query           string     `json:"query"`
	Response        string     `json:"response"`
	Sources         []string   `json:"sources,omitempty"`
	Images          []ImageRef `json:"images,omitempty"`
	Model           string     `json:"model,omitempty"`
	TookMs          int64      `json:"took_ms"`
	CacheHit        bool       `json:"cache_hit"`
	CacheType       string     `json:"cache_type,omitempty"`
	CacheSimilarity float64    `json:"cache_similarity,omitempty"`
}

// Clone returns a copy that shares no slices with the original.
func (a Answer) Clone() Answer {
	out := a
	if a.Sources != nil {
		out.Sources = append([]string(nil), a.Sources...)
	}
	if a.Images != nil {
		out.Images = append([]ImageRef(nil), a.Images...)
	}
	return out
}

// ImageRef points at an image referenced by a retrieved chunk.
type ImageRef struct {
	Path   string `json:"path"`
	Source string `json:"source"`
}
