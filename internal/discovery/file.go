package discovery

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"

	"gopkg.in/yaml.v3"

	"github.com/italolelis/catalog_downloader/internal/catalog"
)

// FileSource reads a static catalog from a YAML or JSON file:
//
//	- category: Sayadaw_U_Pandita
//	  url: https://example.com/talks/01.mp3
//	- url: https://example.com/talks/02.mp3
//	  filename: second-talk.mp3
//
// The filename defaults to the last segment of the url.
type FileSource struct {
	Path string
}

type fileEntry struct {
	Category string `yaml:"category"`
	Filename string `yaml:"filename"`
	URL      string `yaml:"url"`
}

func (f FileSource) Discover(_ context.Context) ([]catalog.FileRecord, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}

	var entries []fileEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse catalog file %s: %w", f.Path, err)
	}

	records := make([]catalog.FileRecord, 0, len(entries))

	for i, e := range entries {
		if e.URL == "" {
			return nil, fmt.Errorf("catalog file %s: entry %d has no url", f.Path, i)
		}

		name := e.Filename
		if name == "" {
			u, err := url.Parse(e.URL)
			if err != nil {
				return nil, fmt.Errorf("catalog file %s: entry %d: %w", f.Path, i, err)
			}

			name = path.Base(u.Path)
		}

		rec := catalog.NewRecord(e.Category, name, e.URL)
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("catalog file %s: entry %d: %w", f.Path, i, err)
		}

		records = append(records, rec)
	}

	return catalog.Dedupe(records), nil
}
