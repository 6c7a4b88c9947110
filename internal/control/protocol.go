package control

import (
	"github.com/leonardcser/sw-cache/internal/cache"
	"github.com/leonardcser/sw-cache/internal/version"
	"github.com/leonardcser/sw-cache/internal/web"
	"github.com/leonardcser/sw-cache/internal/worker"
)

// Simple JSON protocol for the control channel. Over the unix socket each
// message is one JSON value and is answered by one JSON value; the HTTP
// message endpoint carries the same types.

const (
	TypeForceCacheClear = "FORCE_CACHE_CLEAR"
	TypeUnregister      = "UNREGISTER"
	TypeStatus          = "STATUS"
	TypeGetEntry        = "GET_ENTRY"
	TypeWarm            = "WARM"
	TypeCheckVersion    = "CHECK_VERSION"
)

type Message struct {
	Type  string `json:"type"`
	URL   string `json:"url,omitempty"`   // GET_ENTRY, WARM
	Depth int    `json:"depth,omitempty"` // WARM
}

type Reply struct {
	Success    bool                   `json:"success"`
	Error      string                 `json:"error,omitempty"`
	State      worker.State           `json:"state,omitempty"`
	Version    string                 `json:"version,omitempty"`
	Cleared    int                    `json:"cleared,omitempty"`
	Partitions []worker.PartitionStat `json:"partitions,omitempty"`
	Entry      *cache.Entry           `json:"entry,omitempty"`
	Partition  string                 `json:"partition,omitempty"`
	Warmed     *web.WarmResult        `json:"warmed,omitempty"`
	Check      *version.Result        `json:"check,omitempty"`
}

func failure(err error) Reply { return Reply{Success: false, Error: err.Error()} }
