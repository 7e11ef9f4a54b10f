// Package source enumerates and reads input documents from the local
// filesystem or an S3-compatible object store.
package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/domain"
)

// Local lists files matching a glob pattern. Directories matched by the
// pattern are skipped. Filter, when set, further restricts matches by
// base-name glob.
type Local struct {
	glob   string
	filter string
}

func NewLocal(glob, filter string) (*Local, error) {
	if _, err := filepath.Match(glob, ""); err != nil {
		return nil, fmt.Errorf("invalid input glob %q: %w", glob, err)
	}
	if filter != "" {
		if _, err := filepath.Match(filter, ""); err != nil {
			return nil, fmt.Errorf("invalid input filter %q: %w", filter, err)
		}
	}
	return &Local{glob: glob, filter: filter}, nil
}

func (s *Local) List(ctx context.Context) ([]string, error) {
	matches, err := filepath.Glob(s.glob)
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", s.glob, err)
	}
	var out []string
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		if s.filter != "" {
			ok, _ := filepath.Match(s.filter, filepath.Base(m))
			if !ok {
				continue
			}
		}
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Local) Read(ctx context.Context, id string) (*domain.SourceFile, error) {
	data, err := os.ReadFile(id)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", id, err)
	}
	abs, err := filepath.Abs(id)
	if err != nil {
		abs = id
	}
	return &domain.SourceFile{
		Filename:  filepath.Base(id),
		Data:      data,
		SourceURL: "file://" + abs,
	}, nil
}
