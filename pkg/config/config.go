package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/betbot/venuepilot/internal/domain"
)

// 所有网络/界面等待都必须有上限
const (
	MinWait = 5 * time.Second
	MaxWait = 30 * time.Second
)

// VenueConfig 交易场所（纯界面）配置
type VenueConfig struct {
	BaseURL           string              // 例如 https://www.example-exchange.com
	LoginPath         string              // 登录页路径
	TradePathTemplate string              // 交易页路径模板，{pair} 会被替换为交易对
	LoginMarkers      []string            // URL 中包含这些片段时视为仍停留在登录页
	Selectors         map[string][]string // 能力名 -> 候选选择器（覆盖默认值）
}

// BrowserConfig 浏览器自动化配置
type BrowserConfig struct {
	Headless          bool
	UserAgent         string
	ViewportWidth     int
	ViewportHeight    int
	ExecPath          string        // Chrome 可执行文件（可选）
	NavigationTimeout time.Duration // 页面跳转/就绪等待上限
	ActionTimeout     time.Duration // 单个元素定位/点击等待上限
}

// TradingConfig 交易会话配置（风控参数可热更新）
type TradingConfig struct {
	Pair            string
	Side            domain.Side
	OrderType       domain.OrderType
	TickInterval    time.Duration
	StartingBalance decimal.Decimal
	SafetyFloor     decimal.Decimal // 余额 <= 该值时永久停止
	RiskFraction    decimal.Decimal // 单笔交易占余额比例
	TargetAmount    decimal.Decimal // 余额 >= 该值时停止并计算抽成
	CutFraction     decimal.Decimal // 抽成比例
	MaxAttempts     int             // 死循环保护：单个动作最多尝试次数
	ConfirmTimeout  time.Duration   // 等待成交确认信号的上限
	Backoff         time.Duration   // 两次尝试之间的固定退避
}

// MemoryConfig 交易记忆存储
type MemoryConfig struct {
	Backend string // json | badger
	Path    string
}

// JournalConfig 交易流水（SQLite）
type JournalConfig struct {
	DBPath string // 为空则不启用
}

// MarketConfig 行情源配置
type MarketConfig struct {
	BaseURL            string
	Instruments        []domain.Instrument
	CacheTTL           time.Duration
	Timeout            time.Duration
	RateLimitPerMinute int
}

// CredentialsConfig 登录凭证来源
type CredentialsConfig struct {
	Email         string
	Password      string
	TwoFactorCode string
	SecretDB      string // badger 凭证库路径（可选）
	SecretKey     string // badger 加密 key（base64/hex，32字节）
	SecretPrefix  string
}

// ServerConfig HTTP 边界
type ServerConfig struct {
	Listen      string
	DebugListen string // expvar/pprof/prometheus，空则不启用
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// Config 应用配置
type Config struct {
	Venue          VenueConfig
	Browser        BrowserConfig
	Trading        TradingConfig
	Memory         MemoryConfig
	Journal        JournalConfig
	Market         MarketConfig
	Credentials    CredentialsConfig
	Server         ServerConfig
	Log            LogConfig
	DiagnosticsDir string // 截图目录
}

// ConfigFile 配置文件结构（用于 YAML/JSON 解析）
// 时长字段单位为秒；金额字段用浮点数书写。
type ConfigFile struct {
	Venue struct {
		BaseURL           string              `yaml:"base_url" json:"base_url"`
		LoginPath         string              `yaml:"login_path" json:"login_path"`
		TradePathTemplate string              `yaml:"trade_path_template" json:"trade_path_template"`
		LoginMarkers      []string            `yaml:"login_markers" json:"login_markers"`
		Selectors         map[string][]string `yaml:"selectors" json:"selectors"`
	} `yaml:"venue" json:"venue"`
	Browser struct {
		Headless          *bool   `yaml:"headless" json:"headless"`
		UserAgent         string  `yaml:"user_agent" json:"user_agent"`
		ViewportWidth     int     `yaml:"viewport_width" json:"viewport_width"`
		ViewportHeight    int     `yaml:"viewport_height" json:"viewport_height"`
		ExecPath          string  `yaml:"exec_path" json:"exec_path"`
		NavigationTimeout float64 `yaml:"navigation_timeout" json:"navigation_timeout"`
		ActionTimeout     float64 `yaml:"action_timeout" json:"action_timeout"`
	} `yaml:"browser" json:"browser"`
	Trading struct {
		Pair            string   `yaml:"pair" json:"pair"`
		Side            string   `yaml:"side" json:"side"`
		OrderType       string   `yaml:"order_type" json:"order_type"`
		TickInterval    float64  `yaml:"tick_interval" json:"tick_interval"`
		StartingBalance *float64 `yaml:"starting_balance" json:"starting_balance"`
		SafetyFloor     *float64 `yaml:"safety_floor" json:"safety_floor"`
		RiskFraction    *float64 `yaml:"risk_fraction" json:"risk_fraction"`
		TargetAmount    *float64 `yaml:"target_amount" json:"target_amount"`
		CutFraction     *float64 `yaml:"cut_fraction" json:"cut_fraction"`
		MaxAttempts     int      `yaml:"max_attempts" json:"max_attempts"`
		ConfirmTimeout  float64  `yaml:"confirm_timeout" json:"confirm_timeout"`
		Backoff         float64  `yaml:"backoff" json:"backoff"`
	} `yaml:"trading" json:"trading"`
	Memory struct {
		Backend string `yaml:"backend" json:"backend"`
		Path    string `yaml:"path" json:"path"`
	} `yaml:"memory" json:"memory"`
	Journal struct {
		DBPath string `yaml:"db_path" json:"db_path"`
	} `yaml:"journal" json:"journal"`
	Market struct {
		BaseURL     string `yaml:"base_url" json:"base_url"`
		Instruments []struct {
			Symbol   string  `yaml:"symbol" json:"symbol"`
			Pair     string  `yaml:"pair" json:"pair"`
			Fallback float64 `yaml:"fallback" json:"fallback"`
		} `yaml:"instruments" json:"instruments"`
		CacheTTL           float64 `yaml:"cache_ttl" json:"cache_ttl"`
		Timeout            float64 `yaml:"timeout" json:"timeout"`
		RateLimitPerMinute int     `yaml:"rate_limit_per_minute" json:"rate_limit_per_minute"`
	} `yaml:"market" json:"market"`
	Credentials struct {
		SecretDB     string `yaml:"secret_db" json:"secret_db"`
		SecretPrefix string `yaml:"secret_prefix" json:"secret_prefix"`
	} `yaml:"credentials" json:"credentials"`
	Server struct {
		Listen      string `yaml:"listen" json:"listen"`
		DebugListen string `yaml:"debug_listen" json:"debug_listen"`
	} `yaml:"server" json:"server"`
	Log struct {
		Level      string `yaml:"level" json:"level"`
		File       string `yaml:"file" json:"file"`
		MaxSize    int    `yaml:"max_size" json:"max_size"`
		MaxBackups int    `yaml:"max_backups" json:"max_backups"`
		MaxAge     int    `yaml:"max_age" json:"max_age"`
		Compress   *bool  `yaml:"compress" json:"compress"`
	} `yaml:"log" json:"log"`
	DiagnosticsDir string `yaml:"diagnostics_dir" json:"diagnostics_dir"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Venue: VenueConfig{
			LoginPath:         "/login",
			TradePathTemplate: "/trade/{pair}",
			LoginMarkers:      []string{"/login", "/signin"},
			Selectors:         map[string][]string{},
		},
		Browser: BrowserConfig{
			Headless:          true,
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			ViewportWidth:     1920,
			ViewportHeight:    1080,
			NavigationTimeout: 30 * time.Second,
			ActionTimeout:     10 * time.Second,
		},
		Trading: TradingConfig{
			Pair:            "BTC-USD",
			Side:            domain.SideBuy,
			OrderType:       domain.OrderTypeMarket,
			TickInterval:    30 * time.Second,
			StartingBalance: decimal.NewFromInt(150),
			SafetyFloor:     decimal.NewFromInt(100),
			RiskFraction:    decimal.RequireFromString("0.02"),
			TargetAmount:    decimal.NewFromInt(1000),
			CutFraction:     decimal.RequireFromString("0.10"),
			MaxAttempts:     3,
			ConfirmTimeout:  15 * time.Second,
			Backoff:         5 * time.Second,
		},
		Memory: MemoryConfig{
			Backend: "json",
			Path:    "data/trade_memory.json",
		},
		Journal: JournalConfig{
			DBPath: "data/journal.db",
		},
		Market: MarketConfig{
			BaseURL:            "https://api.coingecko.com/api/v3",
			Instruments:        DefaultInstruments(),
			CacheTTL:           30 * time.Second,
			Timeout:            10 * time.Second,
			RateLimitPerMinute: 30,
		},
		Credentials: CredentialsConfig{
			SecretPrefix: "env/",
		},
		Server: ServerConfig{
			Listen: ":8080",
		},
		Log: LogConfig{
			Level:      "info",
			File:       "logs/trader.log",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   true,
		},
		DiagnosticsDir: "logs/diagnostics",
	}
}

// DefaultInstruments 默认跟踪品种及兜底价
func DefaultInstruments() []domain.Instrument {
	return []domain.Instrument{
		{Symbol: "bitcoin", Pair: "BTC-USD", Fallback: decimal.NewFromInt(43000)},
		{Symbol: "ethereum", Pair: "ETH-USD", Fallback: decimal.NewFromInt(2600)},
		{Symbol: "solana", Pair: "SOL-USD", Fallback: decimal.NewFromInt(100)},
	}
}

// Load 加载配置：默认值 < 配置文件 < 环境变量，最后校验
func Load(filePath string) (*Config, error) {
	cfg := Default()

	if filePath != "" {
		cf, err := loadConfigFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
		if err := cfg.applyFile(cf); err != nil {
			return nil, fmt.Errorf("解析配置文件失败 %s: %w", filePath, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("解析环境变量失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return cfg, nil
}

// loadConfigFile 加载配置文件（支持 YAML 和 JSON）
func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var configFile ConfigFile
	ext := strings.ToLower(filepath.Ext(filePath))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}

	return &configFile, nil
}

func (c *Config) applyFile(cf *ConfigFile) error {
	setString(&c.Venue.BaseURL, cf.Venue.BaseURL)
	setString(&c.Venue.LoginPath, cf.Venue.LoginPath)
	setString(&c.Venue.TradePathTemplate, cf.Venue.TradePathTemplate)
	if len(cf.Venue.LoginMarkers) > 0 {
		c.Venue.LoginMarkers = cf.Venue.LoginMarkers
	}
	for name, candidates := range cf.Venue.Selectors {
		if len(candidates) > 0 {
			c.Venue.Selectors[name] = candidates
		}
	}

	if cf.Browser.Headless != nil {
		c.Browser.Headless = *cf.Browser.Headless
	}
	setString(&c.Browser.UserAgent, cf.Browser.UserAgent)
	setInt(&c.Browser.ViewportWidth, cf.Browser.ViewportWidth)
	setInt(&c.Browser.ViewportHeight, cf.Browser.ViewportHeight)
	setString(&c.Browser.ExecPath, cf.Browser.ExecPath)
	setSeconds(&c.Browser.NavigationTimeout, cf.Browser.NavigationTimeout)
	setSeconds(&c.Browser.ActionTimeout, cf.Browser.ActionTimeout)

	setString(&c.Trading.Pair, cf.Trading.Pair)
	if cf.Trading.Side != "" {
		side, ok := domain.ParseSide(cf.Trading.Side)
		if !ok {
			return fmt.Errorf("trading.side 无效: %q", cf.Trading.Side)
		}
		c.Trading.Side = side
	}
	if cf.Trading.OrderType != "" {
		ot, ok := domain.ParseOrderType(cf.Trading.OrderType)
		if !ok {
			return fmt.Errorf("trading.order_type 无效: %q", cf.Trading.OrderType)
		}
		c.Trading.OrderType = ot
	}
	setSeconds(&c.Trading.TickInterval, cf.Trading.TickInterval)
	setDecimal(&c.Trading.StartingBalance, cf.Trading.StartingBalance)
	setDecimal(&c.Trading.SafetyFloor, cf.Trading.SafetyFloor)
	setDecimal(&c.Trading.RiskFraction, cf.Trading.RiskFraction)
	setDecimal(&c.Trading.TargetAmount, cf.Trading.TargetAmount)
	setDecimal(&c.Trading.CutFraction, cf.Trading.CutFraction)
	setInt(&c.Trading.MaxAttempts, cf.Trading.MaxAttempts)
	setSeconds(&c.Trading.ConfirmTimeout, cf.Trading.ConfirmTimeout)
	setSeconds(&c.Trading.Backoff, cf.Trading.Backoff)

	setString(&c.Memory.Backend, cf.Memory.Backend)
	setString(&c.Memory.Path, cf.Memory.Path)
	setString(&c.Journal.DBPath, cf.Journal.DBPath)

	setString(&c.Market.BaseURL, cf.Market.BaseURL)
	if len(cf.Market.Instruments) > 0 {
		c.Market.Instruments = c.Market.Instruments[:0:0]
		for _, in := range cf.Market.Instruments {
			c.Market.Instruments = append(c.Market.Instruments, domain.Instrument{
				Symbol:   strings.TrimSpace(in.Symbol),
				Pair:     strings.TrimSpace(in.Pair),
				Fallback: decimal.NewFromFloat(in.Fallback),
			})
		}
	}
	setSeconds(&c.Market.CacheTTL, cf.Market.CacheTTL)
	setSeconds(&c.Market.Timeout, cf.Market.Timeout)
	setInt(&c.Market.RateLimitPerMinute, cf.Market.RateLimitPerMinute)

	setString(&c.Credentials.SecretDB, cf.Credentials.SecretDB)
	setString(&c.Credentials.SecretPrefix, cf.Credentials.SecretPrefix)

	setString(&c.Server.Listen, cf.Server.Listen)
	setString(&c.Server.DebugListen, cf.Server.DebugListen)

	setString(&c.Log.Level, cf.Log.Level)
	setString(&c.Log.File, cf.Log.File)
	setInt(&c.Log.MaxSize, cf.Log.MaxSize)
	setInt(&c.Log.MaxBackups, cf.Log.MaxBackups)
	setInt(&c.Log.MaxAge, cf.Log.MaxAge)
	if cf.Log.Compress != nil {
		c.Log.Compress = *cf.Log.Compress
	}
	setString(&c.DiagnosticsDir, cf.DiagnosticsDir)
	return nil
}

// applyEnv 环境变量覆盖（凭证只允许来自环境变量或凭证库）
func (c *Config) applyEnv() error {
	c.Venue.BaseURL = getEnv("VENUE_BASE_URL", c.Venue.BaseURL)
	c.Credentials.Email = getEnv("VENUE_EMAIL", c.Credentials.Email)
	c.Credentials.Password = getEnv("VENUE_PASSWORD", c.Credentials.Password)
	c.Credentials.TwoFactorCode = getEnv("VENUE_2FA_CODE", c.Credentials.TwoFactorCode)
	c.Credentials.SecretDB = getEnv("VENUE_SECRET_DB", c.Credentials.SecretDB)
	c.Credentials.SecretKey = getEnv("VENUE_SECRET_KEY", c.Credentials.SecretKey)

	c.Browser.Headless = parseBoolEnv("BROWSER_HEADLESS", c.Browser.Headless)
	c.Browser.ExecPath = getEnv("BROWSER_EXEC_PATH", c.Browser.ExecPath)

	c.Trading.Pair = getEnv("TRADING_PAIR", c.Trading.Pair)
	c.Trading.TickInterval = parseSecondsEnv("TICK_INTERVAL_SECONDS", c.Trading.TickInterval)
	c.Trading.MaxAttempts = parseIntEnv("MAX_ATTEMPTS", c.Trading.MaxAttempts)

	for _, d := range []struct {
		key string
		dst *decimal.Decimal
	}{
		{"STARTING_BALANCE", &c.Trading.StartingBalance},
		{"SAFETY_FLOOR", &c.Trading.SafetyFloor},
		{"RISK_FRACTION", &c.Trading.RiskFraction},
		{"TARGET_AMOUNT", &c.Trading.TargetAmount},
		{"CUT_FRACTION", &c.Trading.CutFraction},
	} {
		v, err := parseDecimalEnv(d.key, *d.dst)
		if err != nil {
			return err
		}
		*d.dst = v
	}

	c.Memory.Backend = getEnv("MEMORY_BACKEND", c.Memory.Backend)
	c.Memory.Path = getEnv("MEMORY_PATH", c.Memory.Path)
	c.Journal.DBPath = getEnv("JOURNAL_DB", c.Journal.DBPath)
	c.Market.BaseURL = getEnv("MARKET_BASE_URL", c.Market.BaseURL)
	c.Server.Listen = getEnv("SERVER_LISTEN", c.Server.Listen)
	c.Server.DebugListen = getEnv("DEBUG_LISTEN", c.Server.DebugListen)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnv("LOG_FILE", c.Log.File)
	c.DiagnosticsDir = getEnv("DIAGNOSTICS_DIR", c.DiagnosticsDir)
	return nil
}

// Validate 验证配置
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Venue.BaseURL) == "" {
		return fmt.Errorf("VENUE_BASE_URL 未配置")
	}
	if !strings.Contains(c.Venue.TradePathTemplate, "{pair}") {
		return fmt.Errorf("venue.trade_path_template 必须包含 {pair}")
	}
	for name, d := range map[string]time.Duration{
		"browser.navigation_timeout": c.Browser.NavigationTimeout,
		"browser.action_timeout":     c.Browser.ActionTimeout,
		"trading.confirm_timeout":    c.Trading.ConfirmTimeout,
		"market.timeout":             c.Market.Timeout,
	} {
		if d < MinWait || d > MaxWait {
			return fmt.Errorf("%s 必须在 %s 到 %s 之间，当前 %s", name, MinWait, MaxWait, d)
		}
	}
	if c.Trading.Backoff <= 0 || c.Trading.Backoff > MaxWait {
		return fmt.Errorf("trading.backoff 必须在 0 到 %s 之间", MaxWait)
	}
	if c.Trading.TickInterval < time.Second {
		return fmt.Errorf("trading.tick_interval 不能小于 1 秒")
	}
	if err := c.Trading.ValidateRisk(); err != nil {
		return err
	}
	if c.Trading.MaxAttempts < 1 {
		return fmt.Errorf("trading.max_attempts 必须 >= 1")
	}
	if strings.TrimSpace(c.Trading.Pair) == "" {
		return fmt.Errorf("trading.pair 不能为空")
	}
	switch c.Memory.Backend {
	case "json", "badger":
	default:
		return fmt.Errorf("memory.backend 只支持 json 或 badger，当前 %q", c.Memory.Backend)
	}
	if strings.TrimSpace(c.Memory.Path) == "" {
		return fmt.Errorf("memory.path 不能为空")
	}
	if len(c.Market.Instruments) == 0 {
		return fmt.Errorf("market.instruments 至少需要一个品种")
	}
	for _, in := range c.Market.Instruments {
		if in.Symbol == "" || in.Pair == "" {
			return fmt.Errorf("market.instruments 每项都需要 symbol 和 pair")
		}
	}
	return nil
}

// ValidateRisk 校验风控参数（热更新时单独调用）
func (t TradingConfig) ValidateRisk() error {
	if t.StartingBalance.IsNegative() {
		return fmt.Errorf("trading.starting_balance 不能为负数")
	}
	if t.SafetyFloor.IsNegative() {
		return fmt.Errorf("trading.safety_floor 不能为负数")
	}
	if !t.TargetAmount.GreaterThan(t.SafetyFloor) {
		return fmt.Errorf("trading.target_amount 必须大于 safety_floor")
	}
	one := decimal.NewFromInt(1)
	if !t.RiskFraction.IsPositive() || t.RiskFraction.GreaterThanOrEqual(one) {
		return fmt.Errorf("trading.risk_fraction 必须在 0 到 1 之间")
	}
	if t.CutFraction.IsNegative() || t.CutFraction.GreaterThanOrEqual(one) {
		return fmt.Errorf("trading.cut_fraction 必须在 0 到 1 之间")
	}
	return nil
}

// SelectorsFor 返回能力名的覆盖选择器（未配置返回 nil）
func (v VenueConfig) SelectorsFor(name string) []string {
	return v.Selectors[name]
}

func setString(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setSeconds(dst *time.Duration, seconds float64) {
	if seconds > 0 {
		*dst = time.Duration(seconds * float64(time.Second))
	}
}

func setDecimal(dst *decimal.Decimal, v *float64) {
	if v != nil {
		*dst = decimal.NewFromFloat(*v)
	}
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseBoolEnv 解析布尔环境变量
func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseSecondsEnv 解析秒数环境变量
func parseSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed <= 0 {
		return defaultValue
	}
	return time.Duration(parsed * float64(time.Second))
}

// parseDecimalEnv 解析金额/比例环境变量，格式错误直接报错
func parseDecimalEnv(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s 格式错误: %w", key, err)
	}
	return d, nil
}
