package cache

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// Entry is an immutable snapshot of a successful response.
type Entry struct {
	Method   string      `json:"method"`
	URL      string      `json:"url"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header,omitempty"`
	Body     []byte      `json:"body,omitempty"`
	StoredAt time.Time   `json:"stored_at"`
}

// Key normalizes a request into its cache key. The query string is part of
// the URL and therefore part of the key.
func Key(method, rawURL string) string { return method + " " + rawURL }

// Layout: 8 bytes big endian expiresAt || JSON entry.
func encode(e *Entry, ttl time.Duration) ([]byte, error) {
	expiresAt := int64(0)
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).Unix()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint64(buf[:8], uint64(expiresAt))
	copy(buf[8:], payload)
	return buf, nil
}

func decode(v []byte) (*Entry, error) {
	if len(v) < 8 {
		return nil, errors.New("cache: corrupt entry")
	}
	expiresAt := int64(binary.BigEndian.Uint64(v[:8]))
	if expiresAt > 0 && time.Now().Unix() > expiresAt {
		return nil, ErrExpired
	}
	var e Entry
	if err := json.Unmarshal(v[8:], &e); err != nil {
		return nil, err
	}
	return &e, nil
}
