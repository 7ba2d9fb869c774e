package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"

	"github.com/betbot/venuepilot/pkg/secretstore"
)

// 默认只导入登录凭证；-all 导入整个 .env
var credentialKeys = []string{secretstore.KeyEmail, secretstore.KeyPassword, secretstore.KeyTwoFactor}

func main() {
	var (
		inPath    = flag.String("in", ".env", "input .env file path")
		dbPath    = flag.String("badger", getenv("VENUE_SECRET_DB", "data/secrets.badger"), "badger secrets db path")
		secretKey = flag.String("secret-key", getenv("VENUE_SECRET_KEY", ""), "badger encryption key (32 bytes base64/hex)")
		prefix    = flag.String("prefix", "env/", "key prefix inside badger")
		all       = flag.Bool("all", false, "import every key of the .env file, not only credentials")
	)
	flag.Parse()

	keyBytes, err := secretstore.ParseKey(*secretKey)
	if err != nil {
		fatal(err)
	}
	if keyBytes == nil {
		fatal(fmt.Errorf("secret key is required: set VENUE_SECRET_KEY or pass -secret-key"))
	}

	env, err := godotenv.Read(*inPath)
	if err != nil {
		fatal(err)
	}
	kv := selectKeys(env, *all)
	if len(kv) == 0 {
		fatal(fmt.Errorf("%s 中没有可导入的凭证（%s）", *inPath, strings.Join(credentialKeys, ", ")))
	}

	ss, err := secretstore.Open(secretstore.OpenOptions{
		Path:          *dbPath,
		EncryptionKey: keyBytes,
	})
	if err != nil {
		fatal(err)
	}
	defer ss.Close()

	written, err := importKeys(ss, *prefix, kv)
	if err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stderr, "已导入 %d 项到 badger：%s（前缀 %s）\n", written, *dbPath, *prefix)
}

type stringSetter interface {
	SetString(key, val string) error
}

func selectKeys(env map[string]string, all bool) map[string]string {
	if all {
		return env
	}
	out := make(map[string]string, len(credentialKeys))
	for _, k := range credentialKeys {
		if v, ok := env[k]; ok && strings.TrimSpace(v) != "" {
			out[k] = v
		}
	}
	return out
}

func importKeys(ss stringSetter, prefix string, kv map[string]string) (int, error) {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	written := 0
	for _, k := range keys {
		if err := ss.SetString(prefix+k, kv[k]); err != nil {
			return written, fmt.Errorf("写入 %s 失败: %w", k, err)
		}
		written++
	}
	return written, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}
