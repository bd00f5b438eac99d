package talkstore

import (
	"os"
	"path/filepath"
	"time"
)

func contextPath(root, talkID string) string {
	return filepath.Join(talkDir(root, talkID), contextFileName)
}

// GetContext returns the Talk's context.md, TTL-cached per spec.md §4.1
// (default 30s), reading from disk on a cache miss.
func (s *Store) GetContext(talkID string) string {
	s.ctxCacheMu.Lock()
	if e, ok := s.ctxCache[talkID]; ok && time.Now().Before(e.expiresAt) {
		s.ctxCacheMu.Unlock()
		return e.text
	}
	s.ctxCacheMu.Unlock()

	data, err := os.ReadFile(contextPath(s.dataDir, talkID))
	text := ""
	if err == nil {
		text = string(data)
	}

	s.ctxCacheMu.Lock()
	s.ctxCache[talkID] = contextCacheEntry{text: text, expiresAt: time.Now().Add(defaultContextTTL)}
	s.ctxCacheMu.Unlock()
	return text
}

// SetContext rewrites context.md whole and refreshes the cache.
func (s *Store) SetContext(talkID, text string) error {
	lock := s.files.forTalk(talkID)
	lock.Lock()
	err := atomicWriteFile(contextPath(s.dataDir, talkID), []byte(text), 0o644)
	lock.Unlock()
	if err != nil {
		return err
	}

	s.ctxCacheMu.Lock()
	s.ctxCache[talkID] = contextCacheEntry{text: text, expiresAt: time.Now().Add(defaultContextTTL)}
	s.ctxCacheMu.Unlock()
	return nil
}
