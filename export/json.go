package export

import (
	"context"

	"golang.org/x/xerrors"

	"github.com/vulnbuilder/vuln-builder/types"
	"github.com/vulnbuilder/vuln-builder/utils"
)

// JSON keeps the output file as one array, merging new records into what is
// already there by id. A ".gz" path is gzip compressed.
type JSON struct {
	fs   utils.Fs
	path string
}

func NewJSON(_ context.Context, opts Options) (Sink, error) {
	if opts.Path == "" {
		return nil, xerrors.New("json export requires an output path")
	}
	return &JSON{fs: utils.NewFs(opts.Fs), path: opts.Path}, nil
}

func (j *JSON) Export(_ context.Context, records []types.EnrichedRecord) (int, error) {
	var existing []types.EnrichedRecord
	if _, err := j.fs.ReadJSON(j.path, &existing); err != nil {
		return 0, xerrors.Errorf("failed to read existing export: %w", err)
	}

	seen := make(map[string]struct{}, len(existing))
	for _, r := range existing {
		seen[r.ID] = struct{}{}
	}
	merged := existing
	for _, r := range records {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		merged = append(merged, r)
	}

	written := len(merged) - len(existing)
	if written == 0 && existing != nil {
		return 0, nil
	}
	if merged == nil {
		merged = []types.EnrichedRecord{}
	}
	if err := j.fs.WriteJSON(j.path, merged); err != nil {
		return 0, xerrors.Errorf("failed to write %s: %w", j.path, err)
	}
	return written, nil
}

func (j *JSON) Close() error {
	return nil
}
