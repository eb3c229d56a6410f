package batch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ehr/cdainsight/internal/platform/blobstore"
)

// Item identifies one document of a source.
type Item struct {
	// Key is what Source.Read accepts.
	Key      string
	FileName string
}

// Source lists and reads the documents of a batch.
type Source interface {
	Name() string
	List(ctx context.Context) ([]Item, error)
	Read(ctx context.Context, key string) ([]byte, error)
}

// ---- Directory ----

// DirSource reads every *.xml file directly inside a directory, in name
// order.
type DirSource struct {
	Dir string
}

func (s DirSource) Name() string { return "dir:" + s.Dir }

func (s DirSource) List(_ context.Context) ([]Item, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", s.Dir, err)
	}
	var items []Item
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".xml") {
			continue
		}
		items = append(items, Item{Key: filepath.Join(s.Dir, e.Name()), FileName: e.Name()})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].FileName < items[j].FileName })
	return items, nil
}

func (s DirSource) Read(_ context.Context, key string) ([]byte, error) {
	return os.ReadFile(key)
}

// ---- In-memory ----

// NamedDocument is a document held in memory, such as a multipart upload.
type NamedDocument struct {
	FileName string
	Data     []byte
}

// MemorySource serves documents in the order given.
type MemorySource struct {
	Label     string
	Documents []NamedDocument
}

func (s *MemorySource) Name() string {
	if s.Label == "" {
		return "memory"
	}
	return s.Label
}

func (s *MemorySource) List(_ context.Context) ([]Item, error) {
	items := make([]Item, len(s.Documents))
	for i, d := range s.Documents {
		items[i] = Item{Key: fmt.Sprint(i), FileName: d.FileName}
	}
	return items, nil
}

func (s *MemorySource) Read(_ context.Context, key string) ([]byte, error) {
	var i int
	if _, err := fmt.Sscan(key, &i); err != nil || i < 0 || i >= len(s.Documents) {
		return nil, fmt.Errorf("memory source: unknown key %q", key)
	}
	return s.Documents[i].Data, nil
}

// ---- Blob store ----

// BlobSource reads the documents of one blob store collection. An empty
// collection selects every stored document.
type BlobSource struct {
	Store      blobstore.BlobStore
	Collection string
}

const blobPageSize = 100

func (s BlobSource) Name() string {
	if s.Collection == "" {
		return "blob:*"
	}
	return "blob:" + s.Collection
}

func (s BlobSource) List(ctx context.Context) ([]Item, error) {
	var items []Item
	for offset := 0; ; offset += blobPageSize {
		page, total, err := s.Store.Search(ctx, blobstore.SearchParams{
			Collection: s.Collection,
			Limit:      blobPageSize,
			Offset:     offset,
		})
		if err != nil {
			return nil, fmt.Errorf("list collection %q: %w", s.Collection, err)
		}
		for _, m := range page {
			items = append(items, Item{Key: m.ID, FileName: m.FileName})
		}
		if len(page) == 0 || offset+len(page) >= total {
			return items, nil
		}
	}
}

func (s BlobSource) Read(ctx context.Context, key string) ([]byte, error) {
	rc, _, err := s.Store.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
