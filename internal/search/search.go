// Package search defines the query-execution collaborator the screening
// pipeline depends on. A Hit is one (url, title, snippet) result; an empty or
// short page signals end-of-results for that query.
package search

import "context"

type Hit struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Query   string `json:"query"`
}

type Searcher interface {
	Search(ctx context.Context, query string, page int) ([]Hit, error)
}
