// Package collectors provides upstream inventory clients for snapshot
// capture. The ledger itself never fetches anything; a collector is the
// single seam through which external configuration state enters.
package collectors

import (
	"context"
	"encoding/json"
	"os"

	"github.com/tracelock/tracelock/internal/capture"
	"github.com/tracelock/tracelock/internal/ledgererr"
	"github.com/tracelock/tracelock/pkg/types"
)

// inventoryDocument is the on-disk shape a file collector reads:
// structured datasets plus explicit disclosures for anything the
// exporting system could not deliver.
type inventoryDocument struct {
	Datasets      map[string]any      `json:"datasets"`
	Missing       []types.MissingData `json:"missing,omitempty"`
	Provenance    types.Provenance    `json:"provenance"`
	UpstreamCalls int                 `json:"upstream_calls,omitempty"`
	RateLimitHits int                 `json:"rate_limit_hits,omitempty"`
}

// File collects from an inventory document exported to disk. Used by
// the CLI capture path and anywhere upstream access is batched rather
// than live.
type File struct {
	path string
}

// NewFile creates a collector over one inventory document.
func NewFile(path string) *File {
	return &File{path: path}
}

// Name identifies the collector in run records and logs.
func (f *File) Name() string { return "file" }

// Collect reads the inventory document and applies the capture scope.
// Datasets excluded by scope are dropped entirely; they are out of
// scope, not missing.
func (f *File) Collect(ctx context.Context, kind types.SnapshotKind, scope types.Scope) (*capture.CollectionResult, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, ledgererr.Upstream(types.ReasonUpstreamError,
			"reading inventory %s", f.path).WithCause(err)
	}

	var doc inventoryDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, ledgererr.Upstream(types.ReasonUpstreamError,
			"parsing inventory %s", f.path).WithCause(err)
	}
	if len(doc.Datasets) == 0 {
		return nil, ledgererr.Upstream(types.ReasonUpstreamError,
			"inventory %s contains no datasets", f.path)
	}

	datasets := make(map[string]any, len(doc.Datasets))
	for name, payload := range doc.Datasets {
		if !inScope(name, scope) {
			continue
		}
		datasets[name] = payload
	}

	var missing []types.MissingData
	for _, m := range doc.Missing {
		if inScope(m.Dataset, scope) {
			missing = append(missing, m)
		}
	}

	return &capture.CollectionResult{
		Datasets:      datasets,
		Missing:       missing,
		Provenance:    doc.Provenance,
		UpstreamCalls: doc.UpstreamCalls,
		RateLimitHits: doc.RateLimitHits,
	}, nil
}

func inScope(dataset string, scope types.Scope) bool {
	for _, excluded := range scope.Excluded {
		if dataset == excluded {
			return false
		}
	}
	if len(scope.Included) == 0 {
		return true
	}
	for _, included := range scope.Included {
		if dataset == included {
			return true
		}
	}
	return false
}
