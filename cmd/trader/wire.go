package main

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/betbot/venuepilot/internal/domain"
	"github.com/betbot/venuepilot/internal/driver"
	"github.com/betbot/venuepilot/internal/journal"
	"github.com/betbot/venuepilot/internal/risk"
	"github.com/betbot/venuepilot/pkg/config"
	"github.com/betbot/venuepilot/pkg/persistence"
	"github.com/betbot/venuepilot/pkg/secretstore"
)

func riskParams(t config.TradingConfig) risk.Params {
	return risk.Params{
		StartingBalance: t.StartingBalance,
		SafetyFloor:     t.SafetyFloor,
		RiskFraction:    t.RiskFraction,
		TargetAmount:    t.TargetAmount,
		CutFraction:     t.CutFraction,
	}
}

func openMemoryBackend(cfg config.MemoryConfig) (persistence.Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "badger":
		return persistence.NewBadgerStore(persistence.BadgerOptions{Path: cfg.Path, Key: "trade_memory"})
	case "", "json":
		return persistence.NewJSONFileStore(cfg.Path), nil
	}
	return nil, fmt.Errorf("unknown memory backend %q", cfg.Backend)
}

func openJournal(cfg config.JournalConfig) (*journal.Journal, error) {
	if strings.TrimSpace(cfg.DBPath) == "" {
		return nil, nil
	}
	return journal.Open(cfg.DBPath)
}

func newDriver(cfg *config.Config, dryRun bool) driver.Driver {
	if dryRun {
		logrus.Warn("dry-run：使用模拟驱动，不会提交真实订单")
		return driver.NewMockDriver(cfg.Trading.StartingBalance)
	}
	return driver.NewSession(driver.Options{
		BaseURL:           cfg.Venue.BaseURL,
		LoginPath:         cfg.Venue.LoginPath,
		TradePathTemplate: cfg.Venue.TradePathTemplate,
		LoginMarkers:      cfg.Venue.LoginMarkers,
		Headless:          cfg.Browser.Headless,
		UserAgent:         cfg.Browser.UserAgent,
		ViewportWidth:     cfg.Browser.ViewportWidth,
		ViewportHeight:    cfg.Browser.ViewportHeight,
		ExecPath:          cfg.Browser.ExecPath,
		NavigationTimeout: cfg.Browser.NavigationTimeout,
		ActionTimeout:     cfg.Browser.ActionTimeout,
		DiagnosticsDir:    cfg.DiagnosticsDir,
		Locator:           driver.NewLocator(cfg.Venue.Selectors),
	})
}

// credentialsSource 配置/环境变量中的凭证优先，其次是 badger 凭证库
func credentialsSource(cfg config.CredentialsConfig) (func() (domain.Credentials, error), func(), error) {
	fromEnv := domain.Credentials{Email: cfg.Email, Password: cfg.Password, TwoFactorCode: cfg.TwoFactorCode}
	if fromEnv.Complete() || strings.TrimSpace(cfg.SecretDB) == "" {
		return func() (domain.Credentials, error) {
			if !fromEnv.Complete() {
				return fromEnv, domain.ErrMissingCredentials
			}
			return fromEnv, nil
		}, func() {}, nil
	}

	key, err := secretstore.ParseKey(cfg.SecretKey)
	if err != nil {
		return nil, nil, err
	}
	store, err := secretstore.Open(secretstore.OpenOptions{Path: cfg.SecretDB, EncryptionKey: key, ReadOnly: true})
	if err != nil {
		return nil, nil, err
	}
	logrus.Infof("从凭证库读取登录信息: %s", cfg.SecretDB)
	return func() (domain.Credentials, error) {
		return store.LoadCredentials(cfg.SecretPrefix)
	}, func() { _ = store.Close() }, nil
}
