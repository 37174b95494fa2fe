package resolver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/vormadev/assetgraph/chunkgraph"
)

type WebpackRefKind uint8

const (
	WebpackRefNone WebpackRefKind = iota
	// WebpackRefModule is a numeric module id, matched against a chunk's
	// reason modules.
	WebpackRefModule
	// WebpackRefChunk is a chunk id slug, canonicalized and used as the root
	// of a descendant walk.
	WebpackRefChunk
)

// WebpackRef is the build-time identifier attached to a route. Its kind
// follows the JSON type it was written with: numbers are module ids,
// strings are chunk slugs.
type WebpackRef struct {
	Kind   WebpackRefKind
	Module int64
	Slug   string
}

func ModuleRef(id int64) WebpackRef { return WebpackRef{Kind: WebpackRefModule, Module: id} }
func ChunkRef(slug string) WebpackRef {
	return WebpackRef{Kind: WebpackRefChunk, Slug: slug}
}

func (w WebpackRef) MarshalJSON() ([]byte, error) {
	switch w.Kind {
	case WebpackRefModule:
		return []byte(strconv.FormatInt(w.Module, 10)), nil
	case WebpackRefChunk:
		return json.Marshal(w.Slug)
	}
	return []byte("null"), nil
}

func (w *WebpackRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*w = WebpackRef{}
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*w = ChunkRef(s)
	default:
		n, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("resolver: webpack ref %s is neither a string nor an integer", data)
		}
		*w = ModuleRef(n)
	}
	return nil
}

// MatchedRoute is one route the external matcher selected for a request,
// with the build-time annotations linking it to chunks. A route without
// either annotation contributes nothing.
type MatchedRoute struct {
	Module  string     `json:"module,omitempty"`
	Webpack WebpackRef `json:"webpack,omitzero"`
}

// moduleID is the chunk graph form of a numeric ref.
func (w WebpackRef) moduleID() chunkgraph.ID {
	return chunkgraph.NumID(w.Module)
}

// signature writes a stable, unambiguous description of routes for memo keys.
func signature(sb *strings.Builder, routes []MatchedRoute) {
	for _, r := range routes {
		sb.WriteString(strconv.Quote(r.Module))
		sb.WriteByte('|')
		switch r.Webpack.Kind {
		case WebpackRefModule:
			sb.WriteByte('n')
			sb.WriteString(strconv.FormatInt(r.Webpack.Module, 10))
		case WebpackRefChunk:
			sb.WriteByte('s')
			sb.WriteString(strconv.Quote(r.Webpack.Slug))
		}
		sb.WriteByte(';')
	}
}
