package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Cursor is the last item of a page. Lists ordered by creation time carry At; lists ordered
// by id alone leave it zero.
type Cursor struct {
	At time.Time
	ID string
}

type cursorJSON struct {
	At int64  `json:"at,omitempty"`
	ID string `json:"id"`
}

// Token encodes c as an opaque URL-safe page token. The zero cursor has no token.
func (c Cursor) Token() string {
	if c.ID == "" {
		return ""
	}
	wire := cursorJSON{ID: c.ID}
	if !c.At.IsZero() {
		wire.At = c.At.UnixNano()
	}
	data, _ := json.Marshal(wire)
	return base64.RawURLEncoding.EncodeToString(data)
}

// ParseToken decodes a page token; an empty token gives the zero cursor.
func ParseToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var wire cursorJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	if wire.ID == "" {
		return Cursor{}, fmt.Errorf("%w: missing id", ErrInvalidPageToken)
	}
	c := Cursor{ID: wire.ID}
	if wire.At != 0 {
		c.At = time.Unix(0, wire.At).UTC()
	}
	return c, nil
}
