package retention

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/agentoven/agentoven/pairing-plane/pkg/models"
	"github.com/rs/zerolog/log"
)

// LocalFileArchiver writes expired pairs as JSONL files under
// {basePath}/pairs/2026-02-20T15-04-05Z.jsonl[.gz].
type LocalFileArchiver struct {
	basePath string
	compress bool
}

// NewLocalFileArchiver creates a file-based archiver.
func NewLocalFileArchiver(basePath string, compress bool) *LocalFileArchiver {
	return &LocalFileArchiver{basePath: basePath, compress: compress}
}

func (a *LocalFileArchiver) Kind() string { return "local" }

func (a *LocalFileArchiver) ArchivePairs(_ context.Context, pairs []models.Pair) (path string, err error) {
	dir := filepath.Join(a.basePath, "pairs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	filename := time.Now().UTC().Format("2006-01-02T15-04-05.000Z") + ".jsonl"
	if a.compress {
		filename += ".gz"
	}
	fpath := filepath.Join(dir, filename)

	f, err := os.Create(fpath)
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close archive file: %w", cerr)
		}
	}()

	enc := json.NewEncoder(f)
	if a.compress {
		gw := gzip.NewWriter(f)
		defer func() {
			if cerr := gw.Close(); err == nil && cerr != nil {
				err = fmt.Errorf("flush archive: %w", cerr)
			}
		}()
		enc = json.NewEncoder(gw)
	}

	for _, p := range pairs {
		if err := enc.Encode(p); err != nil {
			return "", fmt.Errorf("encode pair %s: %w", p.ID, err)
		}
	}

	log.Debug().Str("path", fpath).Int("count", len(pairs)).Msg("Archived pairs to local file")
	return fpath, nil
}
