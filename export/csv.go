package export

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/vulnbuilder/vuln-builder/log"
	"github.com/vulnbuilder/vuln-builder/types"
)

// CSV appends rows to a file. Ids already present in the file when the sink
// is opened are never written again.
type CSV struct {
	fs        afero.Fs
	path      string
	seen      map[string]struct{}
	hasHeader bool
}

func NewCSV(_ context.Context, opts Options) (Sink, error) {
	if opts.Path == "" {
		return nil, xerrors.New("csv export requires an output path")
	}
	c := &CSV{fs: opts.Fs, path: opts.Path, seen: map[string]struct{}{}}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *CSV) load() error {
	f, err := c.fs.Open(c.path)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return xerrors.Errorf("unable to open %s: %w", c.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err == io.EOF {
		return nil
	} else if err != nil {
		return xerrors.Errorf("failed to read csv header of %s: %w", c.path, err)
	}
	c.hasHeader = true

	idx := -1
	for i, name := range header {
		if name == "id" {
			idx = i
			break
		}
	}
	if idx < 0 {
		return xerrors.Errorf("%s has no id column", c.path)
	}

	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return xerrors.Errorf("failed to read %s: %w", c.path, err)
		}
		if idx < len(row) {
			c.seen[row[idx]] = struct{}{}
		}
	}
	log.Logger.Debugw("Existing csv export", "path", c.path, "records", len(c.seen))
	return nil
}

func (c *CSV) Export(_ context.Context, records []types.EnrichedRecord) (int, error) {
	if dir := filepath.Dir(c.path); dir != "." {
		if err := c.fs.MkdirAll(dir, os.ModePerm); err != nil {
			return 0, xerrors.Errorf("failed to mkdir: %w", err)
		}
	}
	f, err := c.fs.OpenFile(c.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return 0, xerrors.Errorf("unable to open %s: %w", c.path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if !c.hasHeader {
		if err = w.Write(Columns); err != nil {
			return 0, xerrors.Errorf("failed to write csv header: %w", err)
		}
		c.hasHeader = true
	}

	written := 0
	for _, r := range records {
		if _, ok := c.seen[r.ID]; ok {
			continue
		}
		if err = w.Write(Row(r)); err != nil {
			return written, xerrors.Errorf("failed to write %s: %w", r.ID, err)
		}
		c.seen[r.ID] = struct{}{}
		written++
	}
	w.Flush()
	if err = w.Error(); err != nil {
		return written, xerrors.Errorf("failed to flush %s: %w", c.path, err)
	}
	return written, nil
}

func (c *CSV) Close() error {
	return nil
}
