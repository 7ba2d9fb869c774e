package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/venuepilot/internal/domain"
)

var log = logrus.WithField("component", "driver")

// Options 浏览器会话参数
type Options struct {
	BaseURL           string
	LoginPath         string
	TradePathTemplate string   // 含 {pair}
	LoginMarkers      []string // URL 含这些片段视为未登录
	Headless          bool
	UserAgent         string
	ViewportWidth     int
	ViewportHeight    int
	ExecPath          string
	NavigationTimeout time.Duration
	ActionTimeout     time.Duration
	TwoFactorWait     time.Duration
	PollInterval      time.Duration
	DiagnosticsDir    string
	Locator           *Locator
}

func (o *Options) setDefaults() {
	if o.LoginPath == "" {
		o.LoginPath = "/login"
	}
	if o.TradePathTemplate == "" {
		o.TradePathTemplate = "/trade/{pair}"
	}
	if len(o.LoginMarkers) == 0 {
		o.LoginMarkers = []string{"/login", "/signin"}
	}
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = 30 * time.Second
	}
	if o.ActionTimeout <= 0 {
		o.ActionTimeout = 10 * time.Second
	}
	if o.TwoFactorWait <= 0 {
		o.TwoFactorWait = 5 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 250 * time.Millisecond
	}
	if o.ViewportWidth <= 0 || o.ViewportHeight <= 0 {
		o.ViewportWidth, o.ViewportHeight = 1920, 1080
	}
	if o.DiagnosticsDir == "" {
		o.DiagnosticsDir = "logs/diagnostics"
	}
	if o.Locator == nil {
		o.Locator = NewLocator(nil)
	}
}

// Session 基于 chromedp 的浏览器会话
type Session struct {
	opts Options

	mu          sync.Mutex
	browserCtx  context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	loggedIn    bool
}

// NewSession 创建会话（此时不启动浏览器）
func NewSession(opts Options) *Session {
	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")
	opts.setDefaults()
	return &Session{opts: opts}
}

var _ Driver = (*Session)(nil)

// Initialize 启动浏览器并打开一个空白标签页
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browserCtx != nil {
		return nil
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.opts.Headless),
		chromedp.NoSandbox,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-features", "VizDisplayCompositor"),
		chromedp.WindowSize(s.opts.ViewportWidth, s.opts.ViewportHeight),
	)
	if s.opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(s.opts.UserAgent))
	}
	if s.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(s.opts.ExecPath))
	}

	// 浏览器生命周期不跟随调用方 ctx，只由 Teardown 结束
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(log.Debugf),
		chromedp.WithErrorf(log.Debugf),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- chromedp.Run(browserCtx,
			emulation.SetDeviceMetricsOverride(int64(s.opts.ViewportWidth), int64(s.opts.ViewportHeight), 1, false),
		)
	}()

	timer := time.NewTimer(s.opts.NavigationTimeout)
	defer timer.Stop()
	var err error
	select {
	case err = <-errCh:
	case <-timer.C:
		err = fmt.Errorf("browser start timed out after %s", s.opts.NavigationTimeout)
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		cancelTab()
		cancelAlloc()
		return fmt.Errorf("%w: %v", domain.ErrInitialization, err)
	}

	s.browserCtx, s.cancelTab, s.cancelAlloc = browserCtx, cancelTab, cancelAlloc
	log.Infof("[driver] 浏览器已启动 headless=%v viewport=%dx%d", s.opts.Headless, s.opts.ViewportWidth, s.opts.ViewportHeight)
	return nil
}

func (s *Session) context() (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browserCtx == nil {
		return nil, domain.ErrNotInitialized
	}
	return s.browserCtx, nil
}

// run 在浏览器上下文里执行动作；timeout 与调用方 ctx 取消都会中断
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	bctx, err := s.context()
	if err != nil {
		return err
	}
	tctx, cancel := context.WithTimeout(bctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err = chromedp.Run(tctx, actions...)
	if err != nil && tctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return fmt.Errorf("%w: %v", domain.ErrActionTimeout, err)
	}
	return err
}

func (s *Session) match(ctx context.Context, selector string) (bool, error) {
	var ok bool
	js := fmt.Sprintf(`document.querySelector(%q) !== null`, selector)
	if err := s.run(ctx, s.opts.ActionTimeout, chromedp.Evaluate(js, &ok)); err != nil {
		return false, err
	}
	return ok, nil
}

func (s *Session) await(ctx context.Context, name string, timeout time.Duration) (string, error) {
	return s.opts.Locator.Await(ctx, name, s.match, timeout, s.opts.PollInterval)
}

func (s *Session) resolve(ctx context.Context, name string) (string, error) {
	return s.opts.Locator.Resolve(ctx, name, s.match)
}

func (s *Session) typeInto(ctx context.Context, selector, text string) error {
	return s.run(ctx, s.opts.ActionTimeout,
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
}

func (s *Session) click(ctx context.Context, selector string) error {
	return s.run(ctx, s.opts.ActionTimeout, chromedp.Click(selector, chromedp.ByQuery))
}

func (s *Session) currentURL(ctx context.Context) (string, error) {
	var u string
	err := s.run(ctx, s.opts.ActionTimeout, chromedp.Location(&u))
	return u, err
}

func (s *Session) onLoginPage(u string) bool {
	for _, m := range s.opts.LoginMarkers {
		if strings.Contains(u, m) {
			return true
		}
	}
	return false
}

// Authenticate 登录；2FA 字段不存在不视为失败
func (s *Session) Authenticate(ctx context.Context, creds domain.Credentials) (bool, error) {
	if !creds.Complete() {
		return false, domain.ErrMissingCredentials
	}
	if _, err := s.context(); err != nil {
		return false, err
	}

	log.Infof("[driver] 打开登录页 %s%s", s.opts.BaseURL, s.opts.LoginPath)
	if err := s.run(ctx, s.opts.NavigationTimeout, chromedp.Navigate(s.opts.BaseURL+s.opts.LoginPath)); err != nil {
		return false, fmt.Errorf("%w: navigate login: %v", domain.ErrAuthenticationFailed, err)
	}

	steps := []struct {
		cap  string
		text string
	}{
		{CapLoginEmail, creds.Email},
		{CapLoginPassword, creds.Password},
	}
	for _, st := range steps {
		sel, err := s.await(ctx, st.cap, s.opts.ActionTimeout)
		if err != nil {
			return false, fmt.Errorf("%w: %v", domain.ErrAuthenticationFailed, err)
		}
		if err := s.typeInto(ctx, sel, st.text); err != nil {
			return false, fmt.Errorf("%w: %s: %v", domain.ErrAuthenticationFailed, st.cap, err)
		}
	}
	sel, err := s.resolve(ctx, CapLoginSubmit)
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrAuthenticationFailed, err)
	}
	if err := s.click(ctx, sel); err != nil {
		return false, fmt.Errorf("%w: submit: %v", domain.ErrAuthenticationFailed, err)
	}

	if creds.TwoFactorCode != "" {
		s.enterTwoFactor(ctx, creds.TwoFactorCode)
	}

	ok := s.waitLeaveLogin(ctx)
	s.mu.Lock()
	s.loggedIn = ok
	s.mu.Unlock()
	if ok {
		log.Infof("[driver] 登录成功")
	} else {
		log.Warnf("[driver] 登录失败：仍停留在登录页")
	}
	return ok, nil
}

func (s *Session) enterTwoFactor(ctx context.Context, code string) {
	sel, err := s.await(ctx, CapTwoFactor, s.opts.TwoFactorWait)
	if err != nil {
		log.Infof("[driver] 未出现 2FA 输入框，跳过")
		return
	}
	if err := s.typeInto(ctx, sel, code); err != nil {
		log.Warnf("[driver] 2FA 输入失败: %v", err)
		return
	}
	if sub, err := s.resolve(ctx, CapTwoFactorSubmit); err == nil {
		if err := s.click(ctx, sub); err != nil {
			log.Warnf("[driver] 2FA 提交失败: %v", err)
		}
	}
}

// waitLeaveLogin 在导航超时内轮询 URL，离开登录页即成功；超时按失败处理
func (s *Session) waitLeaveLogin(ctx context.Context) bool {
	deadline := time.NewTimer(s.opts.NavigationTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		if u, err := s.currentURL(ctx); err == nil && u != "" && !s.onLoginPage(u) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-ticker.C:
		}
	}
}

// LoggedIn 当前 URL 不在登录页即视为已登录
func (s *Session) LoggedIn(ctx context.Context) (bool, error) {
	u, err := s.currentURL(ctx)
	if err != nil {
		return false, err
	}
	ok := u != "" && !s.onLoginPage(u)
	s.mu.Lock()
	s.loggedIn = ok
	s.mu.Unlock()
	return ok, nil
}

// NavigateToTradingSurface 打开交易对页面
func (s *Session) NavigateToTradingSurface(ctx context.Context, pair string) error {
	s.mu.Lock()
	logged := s.loggedIn
	s.mu.Unlock()
	if !logged {
		return fmt.Errorf("%w: not logged in", domain.ErrAuthenticationFailed)
	}
	target := s.opts.BaseURL + strings.ReplaceAll(s.opts.TradePathTemplate, "{pair}", pair)
	log.Infof("[driver] 打开交易页 %s", target)
	if err := s.run(ctx, s.opts.NavigationTimeout, chromedp.Navigate(target)); err != nil {
		return fmt.Errorf("navigate %s: %w", pair, err)
	}
	if _, err := s.await(ctx, CapTradeReady, s.opts.NavigationTimeout); err != nil {
		return fmt.Errorf("trading surface not ready: %w", err)
	}
	return nil
}

// ExecuteTrade 在当前交易页填写并提交订单
func (s *Session) ExecuteTrade(ctx context.Context, trade domain.Trade) (bool, error) {
	if err := trade.Validate(); err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrActionFailed, err)
	}

	sideCap := CapBuy
	if trade.Side == domain.SideSell {
		sideCap = CapSell
	}
	sel, err := s.await(ctx, sideCap, s.opts.ActionTimeout)
	if err != nil {
		return false, err
	}
	if err := s.click(ctx, sel); err != nil {
		return false, fmt.Errorf("%w: click %s: %v", domain.ErrActionFailed, sideCap, err)
	}

	switch trade.OrderType {
	case domain.OrderTypeLimit:
		if sel, err := s.resolve(ctx, CapLimitOrder); err == nil {
			_ = s.click(ctx, sel)
		}
		priceSel, err := s.resolve(ctx, CapPrice)
		if err != nil {
			return false, err
		}
		if err := s.typeInto(ctx, priceSel, trade.Price.String()); err != nil {
			return false, fmt.Errorf("%w: price: %v", domain.ErrActionFailed, err)
		}
	default:
		// 市价单切换按钮可选
		if sel, err := s.resolve(ctx, CapMarketOrder); err == nil {
			_ = s.click(ctx, sel)
		}
	}

	amountSel, err := s.resolve(ctx, CapAmount)
	if err != nil {
		return false, err
	}
	if err := s.typeInto(ctx, amountSel, trade.Amount.String()); err != nil {
		return false, fmt.Errorf("%w: amount: %v", domain.ErrActionFailed, err)
	}

	submitSel, err := s.resolve(ctx, CapSubmit)
	if err != nil {
		return false, err
	}
	if err := s.click(ctx, submitSel); err != nil {
		return false, fmt.Errorf("%w: submit: %v", domain.ErrActionFailed, err)
	}
	log.Infof("[driver] 已提交 %s %s %s (%s)", trade.Side, trade.Amount, trade.Pair, trade.OrderType)
	return true, nil
}

// WaitOrderConfirmed 等待确认标记，上限为 ctx 截止时间与 ActionTimeout 中较早者
func (s *Session) WaitOrderConfirmed(ctx context.Context) error {
	_, err := s.await(ctx, CapConfirmed, s.opts.ActionTimeout)
	return err
}

// positionsJS 把每一行持仓的单元格文本取出来
const positionsJS = `Array.from(document.querySelectorAll(%q)).map(function (row) {
  var cells = row.querySelectorAll('td, [data-cell], span');
  return Array.from(cells).map(function (c) { return (c.textContent || '').trim(); });
})`

// ReadAccount 读取余额与持仓
func (s *Session) ReadAccount(ctx context.Context) (domain.AccountInfo, error) {
	var info domain.AccountInfo

	balSel, err := s.resolve(ctx, CapBalance)
	if err != nil {
		return info, err
	}
	var text string
	if err := s.run(ctx, s.opts.ActionTimeout, chromedp.Text(balSel, &text, chromedp.ByQuery)); err != nil {
		return info, fmt.Errorf("%w: read balance: %v", domain.ErrActionFailed, err)
	}
	if info.Balance, err = ParseAmount(text); err != nil {
		return info, err
	}
	info.Available = info.Balance
	if avSel, err := s.resolve(ctx, CapAvailable); err == nil {
		var av string
		if err := s.run(ctx, s.opts.ActionTimeout, chromedp.Text(avSel, &av, chromedp.ByQuery)); err == nil {
			if v, err := ParseAmount(av); err == nil {
				info.Available = v
			}
		}
	}

	if rowSel, err := s.resolve(ctx, CapPositionRow); err == nil {
		var raw json.RawMessage
		if err := s.run(ctx, s.opts.ActionTimeout, chromedp.Evaluate(fmt.Sprintf(positionsJS, rowSel), &raw)); err == nil {
			info.Positions = ParsePositionRows(raw)
		}
	}
	return info, nil
}

// CaptureDiagnostic 截图写到诊断目录；任何失败只记日志
func (s *Session) CaptureDiagnostic(ctx context.Context, label string) string {
	if _, err := s.context(); err != nil {
		return ""
	}
	var buf []byte
	if err := s.run(ctx, s.opts.ActionTimeout, chromedp.FullScreenshot(&buf, 100)); err != nil {
		log.Debugf("[driver] 截图失败 %s: %v", label, err)
		return ""
	}
	path, err := writeDiagnostic(s.opts.DiagnosticsDir, label, buf, time.Now())
	if err != nil {
		log.Debugf("[driver] 截图写入失败 %s: %v", label, err)
		return ""
	}
	return path
}

// Teardown 关闭浏览器
func (s *Session) Teardown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browserCtx == nil {
		return nil
	}
	_ = chromedp.Cancel(s.browserCtx)
	s.cancelTab()
	s.cancelAlloc()
	s.browserCtx, s.cancelTab, s.cancelAlloc = nil, nil, nil
	s.loggedIn = false
	log.Infof("[driver] 浏览器已关闭")
	return nil
}

var labelSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func writeDiagnostic(dir, label string, data []byte, at time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%s.png", at.Format("20060102-150405.000"), labelSanitizer.ReplaceAllString(label, "_"))
	path := filepath.Join(dir, name)
	return path, os.WriteFile(path, data, 0o644)
}

var amountCleaner = regexp.MustCompile(`[^0-9.\-]`)

// ParseAmount 从界面文本里提取数字（"$1,234.50 USDT" -> 1234.50）
func ParseAmount(text string) (decimal.Decimal, error) {
	cleaned := amountCleaner.ReplaceAllString(text, "")
	if cleaned == "" || cleaned == "-" || cleaned == "." {
		return decimal.Zero, fmt.Errorf("%w: no number in %q", domain.ErrActionFailed, text)
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: parse %q: %v", domain.ErrActionFailed, text, err)
	}
	return d, nil
}

// ParsePositionRows 解析持仓行：第 1 列品种，第 2 列数量，第 3 列价值（可选）
func ParsePositionRows(raw []byte) []domain.Position {
	var rows [][]string
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil
	}
	out := make([]domain.Position, 0, len(rows))
	for _, cells := range rows {
		if len(cells) < 2 || strings.TrimSpace(cells[0]) == "" {
			continue
		}
		amount, err := ParseAmount(cells[1])
		if err != nil {
			continue
		}
		p := domain.Position{Symbol: strings.TrimSpace(cells[0]), Amount: amount}
		if len(cells) > 2 {
			if v, err := ParseAmount(cells[2]); err == nil {
				p.Value = v
			}
		}
		out = append(out, p)
	}
	return out
}
