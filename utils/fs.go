package utils

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"
)

type Fs struct {
	AppFs afero.Fs
}

func NewFs(appFs afero.Fs) Fs {
	return Fs{AppFs: appFs}
}

// WriteJSON writes data as indented JSON. Paths ending in ".gz" are gzipped.
func (fs Fs) WriteJSON(filePath string, data interface{}) error {
	if dir := filepath.Dir(filePath); dir != "." {
		if err := fs.AppFs.MkdirAll(dir, os.ModePerm); err != nil {
			return xerrors.Errorf("failed to mkdir: %w", err)
		}
	}

	f, err := fs.AppFs.Create(filePath)
	if err != nil {
		return xerrors.Errorf("unable to open a file: %w", err)
	}
	defer f.Close()

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return xerrors.Errorf("failed to marshal JSON: %w", err)
	}

	var w io.Writer = f
	if strings.HasSuffix(filePath, ".gz") {
		gw := gzip.NewWriter(f)
		defer gw.Close()
		w = gw
	}

	if _, err = w.Write(b); err != nil {
		return xerrors.Errorf("failed to save a file: %w", err)
	}
	return nil
}

// ReadJSON decodes filePath into v. A missing file reports ok=false.
func (fs Fs) ReadJSON(filePath string, v interface{}) (bool, error) {
	f, err := fs.AppFs.Open(filePath)
	if os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, xerrors.Errorf("unable to open a file: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(filePath, ".gz") {
		gr, err := gzip.NewReader(f)
		if err != nil {
			return false, xerrors.Errorf("unable to read gzip header: %w", err)
		}
		defer gr.Close()
		r = gr
	}

	if err = json.NewDecoder(r).Decode(v); err != nil {
		return false, xerrors.Errorf("failed to decode JSON %s: %w", filePath, err)
	}
	return true, nil
}
