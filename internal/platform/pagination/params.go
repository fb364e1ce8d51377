package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	domain "github.com/alegny-health/api/internal/domain"
)

const (
	// DefaultPageSize is used when the client omits page_size.
	DefaultPageSize = 50
	// DefaultMaxPageSize caps page_size.
	DefaultMaxPageSize = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid page_size")
	ErrInvalidPageToken = errors.New("pagination: invalid page_token")
)

// Params holds the parsed paging inputs of a list request.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
}

// Pagination converts the params into the repository paging input.
func (p Params) Pagination() domain.Pagination {
	return domain.Pagination{PageSize: p.PageSize, PageToken: p.PageToken}
}

// Options bound the accepted page sizes. Zero values fall back to the package defaults.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

// FromRequest parses page_size and page_token from the request query.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse validates page_size and decodes page_token. Sizes above the maximum are clamped.
func Parse(values url.Values, opts Options) (Params, error) {
	size, limit := opts.DefaultPageSize, opts.MaxPageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	if limit <= 0 {
		limit = DefaultMaxPageSize
	}

	params := Params{PageSize: min(size, limit)}
	if raw := strings.TrimSpace(values.Get("page_size")); raw != "" {
		requested, err := strconv.Atoi(raw)
		if err != nil || requested <= 0 {
			return Params{}, fmt.Errorf("%w: %q", ErrInvalidPageSize, raw)
		}
		params.PageSize = min(requested, limit)
	}
	if raw := strings.TrimSpace(values.Get("page_token")); raw != "" {
		cursor, err := DecodeToken(raw)
		if err != nil {
			return Params{}, err
		}
		params.PageToken = raw
		params.Cursor = cursor
	}
	return params, nil
}
