package vision

import (
	"fmt"
	"image"
	"os"
	"sync"
	"time"

	// decoders for template assets
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

type cachedTemplate struct {
	img     image.Image
	modTime time.Time
	size    int64
}

// TemplateStore loads template files and caches them until the file changes on disk.
type TemplateStore struct {
	mu    sync.Mutex
	cache map[string]cachedTemplate
}

// NewTemplateStore returns an empty store.
func NewTemplateStore() *TemplateStore {
	return &TemplateStore{cache: make(map[string]cachedTemplate)}
}

// Load returns the decoded template at path. Missing or unreadable files
// produce an error wrapping ErrTemplateNotFound.
func (s *TemplateStore) Load(path string) (image.Image, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrTemplateNotFound)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTemplateNotFound, path, err)
	}

	s.mu.Lock()
	entry, ok := s.cache[path]
	s.mu.Unlock()
	if ok && entry.modTime.Equal(info.ModTime()) && entry.size == info.Size() {
		return entry.img, nil
	}

	// #nosec G304: template paths come from operator configuration
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTemplateNotFound, path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrTemplateNotFound, path, err)
	}

	s.mu.Lock()
	s.cache[path] = cachedTemplate{img: img, modTime: info.ModTime(), size: info.Size()}
	s.mu.Unlock()

	return img, nil
}

// Forget drops path from the cache.
func (s *TemplateStore) Forget(path string) {
	s.mu.Lock()
	delete(s.cache, path)
	s.mu.Unlock()
}
