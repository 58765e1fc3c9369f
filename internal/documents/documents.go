// Package documents loads PDFs from disk or a URL and hands out opaque
// references that model providers resolve back to the bytes.
package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"loandocs/internal/domain"
)

const (
	MediaTypePDF = "application/pdf"
	// MaxSize matches the request size limit of the hosted model APIs.
	MaxSize = 32 << 20
)

// ErrUnreadable wraps every failure to read or accept a document.
var ErrUnreadable = errors.New("document could not be loaded")

type Document struct {
	Ref       domain.DocumentRef
	Name      string
	MediaType string
	Data      []byte
}

// Loader turns a path or URL into a document reference.
type Loader interface {
	Load(ctx context.Context, location string) (domain.DocumentRef, error)
}

// Cache keeps loaded documents in memory until released.
type Cache struct {
	mu         sync.RWMutex
	docs       map[domain.DocumentRef]Document
	httpClient *http.Client
}

func NewCache(httpClient *http.Client) *Cache {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Cache{
		docs:       make(map[domain.DocumentRef]Document),
		httpClient: httpClient,
	}
}

// Load reads a local PDF or downloads an http(s) one and caches it.
func (c *Cache) Load(ctx context.Context, location string) (domain.DocumentRef, error) {
	location = strings.TrimSpace(location)
	var (
		data []byte
		name string
		err  error
	)
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		data, err = c.download(ctx, location)
		name = location[strings.LastIndex(location, "/")+1:]
	} else {
		data, err = readFile(location)
		name = filepath.Base(location)
	}
	if err != nil {
		return "", err
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return "", fmt.Errorf("load %s: %w: not a PDF document", location, ErrUnreadable)
	}
	return c.Put(name, MediaTypePDF, data), nil
}

// Put caches raw bytes and returns their reference.
func (c *Cache) Put(name, mediaType string, data []byte) domain.DocumentRef {
	ref := domain.DocumentRef(uuid.NewString())
	c.mu.Lock()
	c.docs[ref] = Document{Ref: ref, Name: name, MediaType: mediaType, Data: data}
	c.mu.Unlock()
	return ref
}

func (c *Cache) Get(ref domain.DocumentRef) (Document, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	doc, ok := c.docs[ref]
	return doc, ok
}

func (c *Cache) Release(ref domain.DocumentRef) {
	c.mu.Lock()
	delete(c.docs, ref)
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}

func readFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w: %w", path, ErrUnreadable, err)
	}
	if info.Size() > MaxSize {
		return nil, fmt.Errorf("load %s: %w: %d bytes exceeds limit of %d", path, ErrUnreadable, info.Size(), MaxSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w: %w", path, ErrUnreadable, err)
	}
	return data, nil
}

func (c *Cache) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w: %w", url, ErrUnreadable, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w: %w", url, ErrUnreadable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("load %s: %w: status %d", url, ErrUnreadable, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w: %w", url, ErrUnreadable, err)
	}
	if len(data) > MaxSize {
		return nil, fmt.Errorf("load %s: %w: exceeds limit of %d bytes", url, ErrUnreadable, MaxSize)
	}
	return data, nil
}
