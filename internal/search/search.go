package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Priority string `json:"priority"`
	Status   string `json:"status"`
	Snippet  string `json:"snippet,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text         string
	FilterType   string // empty = all requirement types
	FilterStatus string
	Limit        int
	Offset       int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Record is the data we index for a requirement.
type Record struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Priority    string `json:"priority"`
	Status      string `json:"status"`
	Description string `json:"description"`
}
