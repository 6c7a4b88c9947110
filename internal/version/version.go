// Package version polls the site's version.json and decides whether clients
// are stale.
package version

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// Info mirrors version.json as written at build time.
type Info struct {
	Version            string `json:"version"`
	BuildTime          int64  `json:"buildTime"`
	BuildDate          string `json:"buildDate"`
	GitHash            string `json:"gitHash"`
	GitBranch          string `json:"gitBranch"`
	CacheVersion       string `json:"cacheVersion"`
	ForceUpdateVersion int64  `json:"forceUpdateVersion"`
}

type Decision string

const (
	// None: the local copy is current, or there was none to compare with.
	None Decision = "none"
	// Prompt: a newer build is deployed; clients may reload when convenient.
	Prompt Decision = "prompt"
	// Force: the deploy demands that caches are dropped and clients reload.
	Force Decision = "force"
)

// Decide compares the remote file with the local copy.
func Decide(local *Info, remote Info) Decision {
	switch {
	case local == nil:
		return None
	case remote.ForceUpdateVersion > local.ForceUpdateVersion:
		return Force
	case remote.BuildTime > local.BuildTime:
		return Prompt
	default:
		return None
	}
}

// Result is the outcome of one check.
type Result struct {
	Decision Decision `json:"decision"`
	Remote   Info     `json:"remote"`
	Local    *Info    `json:"local,omitempty"`
}

// LocalStore persists the last seen Info.
type LocalStore interface {
	Load() (*Info, error)
	Save(Info) error
}

// FileStore keeps the local copy as a JSON file.
type FileStore struct {
	Path string
	mu   sync.Mutex
}

func (s *FileStore) Load() (*Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(b, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (s *FileStore) Save(info Info) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return err
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.Path)
}

// Checker fetches version.json from the origin with a cache-busting query.
type Checker struct {
	endpoint *url.URL
	client   *http.Client
	local    LocalStore
	now      func() time.Time
}

func NewChecker(origin *url.URL, local LocalStore, timeout time.Duration) *Checker {
	return &Checker{
		endpoint: origin.JoinPath("version.json"),
		client:   &http.Client{Timeout: timeout},
		local:    local,
		now:      time.Now,
	}
}

// Fetch downloads the remote version file.
func (c *Checker) Fetch(ctx context.Context) (Info, error) {
	u := *c.endpoint
	q := u.Query()
	q.Set("t", strconv.FormatInt(c.now().UnixMilli(), 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Info{}, err
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return Info{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Info{}, fmt.Errorf("version.json status %d", resp.StatusCode)
	}
	var info Info
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&info); err != nil {
		return Info{}, fmt.Errorf("decode version.json: %w", err)
	}
	return info, nil
}

// Check fetches the remote file, decides, and records the remote file as the
// new local copy whenever it differs in a way that matters.
func (c *Checker) Check(ctx context.Context) (*Result, error) {
	remote, err := c.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	local, err := c.local.Load()
	if err != nil {
		return nil, fmt.Errorf("load local version: %w", err)
	}
	d := Decide(local, remote)
	if local == nil || d != None {
		if err := c.local.Save(remote); err != nil {
			return nil, fmt.Errorf("save local version: %w", err)
		}
	}
	return &Result{Decision: d, Remote: remote, Local: local}, nil
}
