package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"titipanq-admin/internal/models"
)

// TokenStore token 对的持久化
type TokenStore interface {
	Load() (models.Tokens, error)
	Save(tokens models.Tokens) error
	Clear() error
}

// FileTokenStore 把 token 存在本地 JSON 文件（0600）
type FileTokenStore struct {
	path string
	mu   sync.Mutex
}

func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

// Load 文件不存在时返回空 token，不算错误
func (s *FileTokenStore) Load() (models.Tokens, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tokens models.Tokens
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return tokens, nil
		}
		return tokens, fmt.Errorf("failed to read session file: %w", err)
	}
	if err := json.Unmarshal(data, &tokens); err != nil {
		return models.Tokens{}, fmt.Errorf("failed to parse session file: %w", err)
	}
	return tokens, nil
}

// Save 先写临时文件再 rename，避免写一半的文件
func (s *FileTokenStore) Save(tokens models.Tokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("failed to marshal tokens: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create session dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

func (s *FileTokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

// MemoryTokenStore 进程内存储（测试和 stub 模式）
type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens models.Tokens
}

func NewMemoryTokenStore(tokens models.Tokens) *MemoryTokenStore {
	return &MemoryTokenStore{tokens: tokens}
}

func (s *MemoryTokenStore) Load() (models.Tokens, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens, nil
}

func (s *MemoryTokenStore) Save(tokens models.Tokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = tokens
	return nil
}

func (s *MemoryTokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = models.Tokens{}
	return nil
}
