package secretstore

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/betbot/venuepilot/internal/domain"
)

// 凭证在库中的 key（加前缀后）
const (
	KeyEmail     = "VENUE_EMAIL"
	KeyPassword  = "VENUE_PASSWORD"
	KeyTwoFactor = "VENUE_2FA_CODE"
)

// ErrNotOpened 库未打开
var ErrNotOpened = errors.New("secretstore: not opened")

// Store 加密落盘的凭证库（加密由 badger 的 EncryptionKey 提供）
type Store struct {
	db *badger.DB
}

// OpenOptions 打开参数
type OpenOptions struct {
	Path          string
	EncryptionKey []byte // 32 字节；为空则不加密
	ReadOnly      bool
	InMemory      bool // 测试用
}

// Open 打开凭证库
func Open(opts OpenOptions) (*Store, error) {
	if !opts.InMemory && strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("secretstore: path is required")
	}
	bopts := badger.DefaultOptions(opts.Path).
		WithLogger(nil).
		WithReadOnly(opts.ReadOnly)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	if len(opts.EncryptionKey) > 0 {
		// 加密模式下 badger 要求开启索引缓存
		bopts = bopts.
			WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(100 << 20)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close 关闭
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// GetString 读取；第二个返回值表示 key 是否存在
func (s *Store) GetString(key string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, ErrNotOpened
	}
	k := []byte(strings.TrimSpace(key))
	if len(k) == 0 {
		return "", false, errors.New("secretstore: key is empty")
	}
	var (
		out   string
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			out = string(val)
			return nil
		})
	})
	if err != nil {
		return "", false, err
	}
	return out, found, nil
}

// SetString 写入
func (s *Store) SetString(key string, val string) error {
	if s == nil || s.db == nil {
		return ErrNotOpened
	}
	k := []byte(strings.TrimSpace(key))
	if len(k) == 0 {
		return errors.New("secretstore: key is empty")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, []byte(val))
	})
}

// LoadCredentials 按前缀读取交易场所登录凭证；邮箱或密码缺失返回 domain.ErrMissingCredentials
func (s *Store) LoadCredentials(prefix string) (domain.Credentials, error) {
	var creds domain.Credentials
	for _, f := range []struct {
		key string
		dst *string
	}{
		{KeyEmail, &creds.Email},
		{KeyPassword, &creds.Password},
		{KeyTwoFactor, &creds.TwoFactorCode},
	} {
		v, _, err := s.GetString(prefix + f.key)
		if err != nil {
			return domain.Credentials{}, fmt.Errorf("读取凭证 %s 失败: %w", f.key, err)
		}
		*f.dst = strings.TrimSpace(v)
	}
	if !creds.Complete() {
		return creds, domain.ErrMissingCredentials
	}
	return creds, nil
}

// ParseKey 解析 32 字节加密 key（hex 或 base64），空字符串返回 nil
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	// 先按 hex 解析，避免把 hex 串误当成 base64
	if b, err := hex.DecodeString(strings.TrimPrefix(raw, "0x")); err == nil {
		if len(b) != 32 {
			return nil, fmt.Errorf("decoded key length must be 32, got %d", len(b))
		}
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(raw); err == nil {
		if len(b) != 32 {
			return nil, fmt.Errorf("decoded key length must be 32, got %d", len(b))
		}
		return b, nil
	}
	return nil, errors.New("key must be base64(32 bytes) or hex(32 bytes)")
}
