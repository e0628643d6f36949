package images

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Image is one template entry from the shared catalog index.
type Image struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	OS   string `json:"os"`
	Arch string `json:"arch"`
	Gen  int    `json:"gen"`
	Path string `json:"path"`
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Query string
	Gen   string
	OS    string
	Arch  string
}

type indexFile struct {
	Images []Image `json:"images"`
}

// Catalog reads the image index from a JSON file on a shared path and
// caches it in memory with a short TTL, so metadata edits on the file
// server show up without a restart.
type Catalog struct {
	indexPath string
	ttl       time.Duration

	mu       sync.Mutex
	loadedAt time.Time
	images   []Image
}

// NewCatalog creates a catalog over the given index file.
func NewCatalog(indexPath string, ttl time.Duration) *Catalog {
	return &Catalog{indexPath: indexPath, ttl: ttl}
}

func (c *Catalog) load() ([]Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.images) > 0 && time.Since(c.loadedAt) < c.ttl {
		return c.images, nil
	}
	if c.indexPath == "" {
		return nil, fmt.Errorf("image index path is not set")
	}
	raw, err := os.ReadFile(c.indexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read image index: %w", err)
	}
	var idx indexFile
	if err := json.Unmarshal(raw, &idx); err != nil {
		return nil, fmt.Errorf("failed to parse image index: %w", err)
	}
	c.images = idx.Images
	c.loadedAt = time.Now()
	return c.images, nil
}

// List returns catalog entries matching the filter.
func (c *Catalog) List(f Filter) ([]Image, error) {
	images, err := c.load()
	if err != nil {
		return nil, err
	}
	out := make([]Image, 0, len(images))
	for _, img := range images {
		if f.Gen != "" && fmt.Sprintf("%d", img.Gen) != f.Gen {
			continue
		}
		if f.OS != "" && !strings.Contains(strings.ToLower(img.OS), strings.ToLower(f.OS)) {
			continue
		}
		if f.Arch != "" && !strings.EqualFold(img.Arch, f.Arch) {
			continue
		}
		if f.Query != "" {
			q := strings.ToLower(f.Query)
			if !strings.Contains(strings.ToLower(img.ID), q) &&
				!strings.Contains(strings.ToLower(img.Name), q) &&
				!strings.Contains(strings.ToLower(img.Path), q) {
				continue
			}
		}
		out = append(out, img)
	}
	return out, nil
}

// GetByID returns the entry with the given id, or nil when absent.
func (c *Catalog) GetByID(id string) (*Image, error) {
	if id == "" {
		return nil, nil
	}
	images, err := c.load()
	if err != nil {
		return nil, err
	}
	for i := range images {
		if images[i].ID == id {
			img := images[i]
			return &img, nil
		}
	}
	return nil, nil
}

// ResolvePath maps an image id to its storage path.
func (c *Catalog) ResolvePath(id string) (string, error) {
	img, err := c.GetByID(id)
	if err != nil {
		return "", err
	}
	if img == nil || img.Path == "" {
		return "", fmt.Errorf("image not found: %s", id)
	}
	return img.Path, nil
}

// Reload drops the cache so the next read hits the index file.
func (c *Catalog) Reload() {
	c.mu.Lock()
	c.loadedAt = time.Time{}
	c.images = nil
	c.mu.Unlock()
}

// CacheInfo reports cache state for diagnostics.
func (c *Catalog) CacheInfo() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]interface{}{
		"ttlMs":      c.ttl.Milliseconds(),
		"lastLoadTs": c.loadedAt,
		"count":      len(c.images),
		"indexPath":  c.indexPath,
	}
}
