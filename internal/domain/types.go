package domain

// Pagination selects one page of a list. An empty token starts at the first page.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage holds one page of results; NextPageToken is empty on the last page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
