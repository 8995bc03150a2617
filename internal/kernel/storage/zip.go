package storage

import (
	"archive/zip"
	"context"
	"encoding/json"
	"io"
	"sort"
	"strings"

	"github.com/concordkernel/appserver/internal/kernel/dict"
	"github.com/concordkernel/appserver/internal/kernel/path"
)

// ZipStorage exposes a plug-in's .zip bundle as a read-only Storage,
// loading each object body from the corresponding .json entry in the
// archive. archive/zip is standard library; no example repo in the
// pack carries a third-party zip reader (see DESIGN.md).
type ZipStorage struct {
	reader  *zip.ReadCloser
	entries map[string]*zip.File
}

// NewZipStorage opens the zip bundle at file.
func NewZipStorage(file string) (*ZipStorage, error) {
	r, err := zip.OpenReader(file)
	if err != nil {
		return nil, &OpFailed{Op: "open", Path: file, Cause: err}
	}
	entries := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		if !strings.HasSuffix(f.Name, ".json") {
			continue
		}
		entries[strings.TrimSuffix(f.Name, ".json")] = f
	}
	return &ZipStorage{reader: r, entries: entries}, nil
}

func (z *ZipStorage) key(p path.Path) string {
	segs := p.Segments()
	if len(segs) == 0 {
		return "_root"
	}
	return strings.Join(segs, "/")
}

func (z *ZipStorage) Load(_ context.Context, p path.Path) (*dict.Dict, error) {
	f, ok := z.entries[z.key(p)]
	if !ok {
		return nil, ErrNotFound
	}
	rc, err := f.Open()
	if err != nil {
		return nil, &OpFailed{Op: "load", Path: p.String(), Cause: err}
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, &OpFailed{Op: "load", Path: p.String(), Cause: err}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &OpFailed{Op: "load", Path: p.String(), Cause: err}
	}
	return dict.FromMap(m), nil
}

func (z *ZipStorage) Store(context.Context, path.Path, *dict.Dict) error {
	return ErrReadOnly
}

func (z *ZipStorage) Remove(context.Context, path.Path) error {
	return ErrReadOnly
}

func (z *ZipStorage) Query(_ context.Context, base path.Path) ([]path.Path, error) {
	prefix := z.key(base)
	if prefix == "_root" {
		prefix = ""
	}
	var out []path.Path
	for key := range z.entries {
		if prefix == "" || strings.HasPrefix(key, prefix) {
			var segs []string
			if key != "" {
				segs = strings.Split(key, "/")
			}
			out = append(out, path.New(segs, false))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (z *ZipStorage) Close() error {
	return z.reader.Close()
}
