package location

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"

	"github.com/spf13/afero"

	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/models"
)

// FileCache stores the snapshot as a single JSON file.
type FileCache struct {
	fs   afero.Fs
	file string
}

// NewFileCache returns a cache persisting to file on fs.
func NewFileCache(fs afero.Fs, file string) *FileCache {
	return &FileCache{fs: fs, file: file}
}

// Load reads the cached snapshot. ErrCacheMiss is returned when nothing was saved.
func (c *FileCache) Load(_ context.Context) (models.LocationSnapshot, error) {
	data, err := afero.ReadFile(c.fs, c.file)
	if err != nil {
		if os.IsNotExist(err) {
			return models.LocationSnapshot{}, ErrCacheMiss
		}
		return models.LocationSnapshot{}, fmt.Errorf("read location cache: %w", err)
	}
	var snap models.LocationSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return models.LocationSnapshot{}, fmt.Errorf("decode location cache: %w", err)
	}
	return snap, nil
}

// Save replaces the cached snapshot.
func (c *FileCache) Save(_ context.Context, snap models.LocationSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode location cache: %w", err)
	}
	if dir := path.Dir(c.file); dir != "." && dir != "/" {
		if err := c.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create location cache dir: %w", err)
		}
	}
	if err := afero.WriteFile(c.fs, c.file, data, 0o644); err != nil {
		return fmt.Errorf("write location cache: %w", err)
	}
	return nil
}
