package auth

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// HandleStore は現在のセッションハンドル（セッションID）の保存先。
// 空文字列は未ログインを表す。
type HandleStore interface {
	Load() (string, error)
	Save(handle string) error
	Clear() error
}

// FileHandleStore はセッションハンドルをファイルに保存する。
// プロセスを再起動してもログイン状態が維持される。
type FileHandleStore struct {
	path string
	mu   sync.Mutex
}

// NewFileHandleStore はFileHandleStoreを生成する。
func NewFileHandleStore(path string) *FileHandleStore {
	return &FileHandleStore{path: path}
}

// Load は保存済みのハンドルを返す。ファイルがない場合は空文字列を返す。
func (s *FileHandleStore) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read session file: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// Save はハンドルを書き込む。一時ファイルに書いてからrenameで置き換える。
func (s *FileHandleStore) Save(handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod session file: %w", err)
	}
	if _, err := tmp.WriteString(handle); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close session file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// Clear は保存済みのハンドルを削除する。ファイルがなくてもエラーにしない。
func (s *FileHandleStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

// MemoryHandleStore はプロセス内にのみハンドルを保持する。
type MemoryHandleStore struct {
	mu     sync.Mutex
	handle string
}

// NewMemoryHandleStore はMemoryHandleStoreを生成する。
func NewMemoryHandleStore() *MemoryHandleStore {
	return &MemoryHandleStore{}
}

func (s *MemoryHandleStore) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle, nil
}

func (s *MemoryHandleStore) Save(handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle = handle
	return nil
}

func (s *MemoryHandleStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle = ""
	return nil
}

var (
	_ HandleStore = (*FileHandleStore)(nil)
	_ HandleStore = (*MemoryHandleStore)(nil)
)
