package strategy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"finchcore/internal/sandbox"
)

// ChatFileFetcher resolves the raw source of a ChatFile by id — the
// collaborator boundary between this package and wherever uploaded strategy
// files actually live (chat attachments store, per §6.4).
type ChatFileFetcher interface {
	FetchChatFile(ctx context.Context, fileID string) (string, error)
}

// Bundle is a runnable, validated strategy: compiled entry/exit programs
// plus the parsed config. Bundles hold live *sandbox.Program values, which
// wrap unexported Starlark VM state that is not cheaply (or safely)
// serializable, so Loader's cache is in-process only (§4.9 implementation
// note) — contrast with the Sync Service's Redis-backed state in §4.6,
// which holds only plain timestamps and booleans.
type Bundle struct {
	EntryProgram *sandbox.Program
	ExitProgram  *sandbox.Program
	Config       Config
}

// Loader fetches, validates, and caches strategy bundles.
type Loader struct {
	Files ChatFileFetcher

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	key    string
	bundle *Bundle
}

// NewLoader returns a Loader backed by the given ChatFile collaborator.
func NewLoader(files ChatFileFetcher) *Loader {
	return &Loader{Files: files, cache: make(map[string]cacheEntry)}
}

// Load returns the cached bundle for strategyID if its file triplet hash is
// unchanged, otherwise fetches, validates, and caches a fresh one.
func (l *Loader) Load(ctx context.Context, strategyID, entryFileID, exitFileID, configFileID string) (*Bundle, error) {
	key := bundleCacheKey(entryFileID, exitFileID, configFileID)

	l.mu.Lock()
	if entry, ok := l.cache[strategyID]; ok && entry.key == key {
		l.mu.Unlock()
		return entry.bundle, nil
	}
	l.mu.Unlock()

	entrySrc, err := l.Files.FetchChatFile(ctx, entryFileID)
	if err != nil {
		return nil, fmt.Errorf("fetch entry file: %w", err)
	}
	exitSrc, err := l.Files.FetchChatFile(ctx, exitFileID)
	if err != nil {
		return nil, fmt.Errorf("fetch exit file: %w", err)
	}
	configSrc, err := l.Files.FetchChatFile(ctx, configFileID)
	if err != nil {
		return nil, fmt.Errorf("fetch config file: %w", err)
	}

	entryProg, err := sandbox.Load("entry.star", entrySrc)
	if err != nil {
		return nil, fmt.Errorf("load entry program: %w", err)
	}
	exitProg, err := sandbox.Load("exit.star", exitSrc)
	if err != nil {
		return nil, fmt.Errorf("load exit program: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal([]byte(configSrc), &cfg); err != nil {
		return nil, fmt.Errorf("parse strategy config: %w", err)
	}

	bundle := &Bundle{EntryProgram: entryProg, ExitProgram: exitProg, Config: cfg}

	l.mu.Lock()
	l.cache[strategyID] = cacheEntry{key: key, bundle: bundle}
	l.mu.Unlock()

	return bundle, nil
}

// Invalidate drops strategyID's cached bundle, forcing the next Load to
// refetch and revalidate regardless of the file hash.
func (l *Loader) Invalidate(strategyID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.cache, strategyID)
}

func bundleCacheKey(fileIDs ...string) string {
	h := sha256.New()
	for _, id := range fileIDs {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
