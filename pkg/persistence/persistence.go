package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/betbot/venuepilot/pkg/logger"
)

// Store 单条记录的存储接口
type Store interface {
	Save(data interface{}) error
	Load(data interface{}) error
	Close() error
}

// ErrNotExists 表示数据不存在
var ErrNotExists = fmt.Errorf("persistence data not exists")

// ErrCorrupt 记录存在但无法解析
var ErrCorrupt = errors.New("persistence data corrupt")

// JSONFileStore 固定路径的 JSON 文件存储（tmp + rename 原子替换）
type JSONFileStore struct {
	path string
	mu   sync.Mutex
}

// NewJSONFileStore 创建 JSON 文件存储
func NewJSONFileStore(path string) *JSONFileStore {
	return &JSONFileStore{path: path}
}

// Path 文件路径
func (s *JSONFileStore) Path() string { return s.path }

// Save 保存数据
func (s *JSONFileStore) Save(data interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger.Debugf("[persistence] Save: path=%s", s.path)
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Load 加载数据
func (s *JSONFileStore) Load(data interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger.Debugf("[persistence] Load: path=%s", s.path)
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotExists
		}
		return err
	}
	if len(b) == 0 {
		return ErrNotExists
	}
	if err := json.Unmarshal(b, data); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return nil
}

// Close 文件存储无需释放资源
func (s *JSONFileStore) Close() error { return nil }
