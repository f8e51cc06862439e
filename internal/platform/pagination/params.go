// Package pagination reads page_size and page_token from list requests and encodes the keyset
// cursors behind the tokens.
package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

const (
	DefaultPageSize    = 20
	DefaultMaxPageSize = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid page_size")
	ErrInvalidPageToken = errors.New("pagination: invalid page_token")
)

// Options bound page_size for one endpoint. Zero values take the package defaults.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

func (o Options) bounds() (def, max int) {
	def, max = o.DefaultPageSize, o.MaxPageSize
	if max <= 0 {
		max = DefaultMaxPageSize
	}
	if def <= 0 {
		def = DefaultPageSize
	}
	return min(def, max), max
}

type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
}

// FromRequest reads the page parameters of r. Oversized pages are clamped rather than rejected;
// a token that does not decode is rejected here so it never reaches storage.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	query := r.URL.Query()
	def, max := opts.bounds()

	params := Params{PageSize: def, PageToken: strings.TrimSpace(query.Get("page_token"))}
	if raw := strings.TrimSpace(query.Get("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 {
			return Params{}, fmt.Errorf("%w: %q", ErrInvalidPageSize, raw)
		}
		params.PageSize = min(size, max)
	}

	cursor, err := ParseToken(params.PageToken)
	if err != nil {
		return Params{}, err
	}
	params.Cursor = cursor
	return params, nil
}
