package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"

	"github.com/betbot/venuepilot/internal/domain"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	upStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("2")) // 绿色

	downStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")) // 红色

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)
)

type tickMsg time.Time

type snapshotMsg snapshot

type controlMsg struct {
	action  string
	summary domain.SessionSummary
	err     error
}

type model struct {
	client   *apiClient
	interval time.Duration

	snap    snapshot
	loaded  bool
	err     error
	notice  string
	pending bool
}

func initialModel(client *apiClient, interval time.Duration) model {
	return model{client: client, interval: interval}
}

func (m model) Init() tea.Cmd {
	return fetchCmd(m.client)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "s":
			return m.control("start")
		case "x":
			return m.control("stop")
		case "r":
			return m.control("reset")
		}

	case tickMsg:
		return m, fetchCmd(m.client)

	case snapshotMsg:
		m.snap = snapshot(msg)
		m.loaded = true
		m.err = nil
		return m, tickCmd(m.interval)

	case controlMsg:
		m.pending = false
		if msg.err != nil {
			m.notice = fmt.Sprintf("%s 失败: %v", msg.action, msg.err)
		} else {
			m.notice = fmt.Sprintf("%s 完成，状态 %s", msg.action, msg.summary.State)
			m.snap.Session = msg.summary
		}
		return m, nil

	case error:
		m.err = msg
		return m, tickCmd(m.interval)
	}
	return m, nil
}

// control 同一时间只允许一个控制请求
func (m model) control(action string) (tea.Model, tea.Cmd) {
	if m.pending {
		return m, nil
	}
	m.pending = true
	m.notice = action + " 请求中..."
	return m, controlCmd(m.client, action)
}

func (m model) View() string {
	if !m.loaded {
		if m.err != nil {
			return fmt.Sprintf("连接失败: %v\n\n按 q 退出", m.err)
		}
		return "正在连接...\n\n按 q 退出"
	}

	sess := m.snap.Session
	met := m.snap.Metrics

	var s strings.Builder
	status := fmt.Sprintf("状态: %s | 更新: %s", sess.State, m.snap.At.Format("15:04:05"))
	if m.err != nil {
		status += " | " + downStyle.Render("连接异常")
	}
	s.WriteString(headerStyle.Render(status))
	s.WriteString("\n\n")

	profit := met.NetProfit.StringFixed(2)
	if met.NetProfit.IsNegative() {
		profit = downStyle.Render(profit)
	} else {
		profit = upStyle.Render(profit)
	}

	left := borderStyle.Render(strings.Join([]string{
		titleStyle.Render("会话"),
		fmt.Sprintf("余额      %s", sess.Balance.StringFixed(2)),
		fmt.Sprintf("起始      %s", sess.StartingBalance.StringFixed(2)),
		fmt.Sprintf("目标      %s", sess.TargetAmount.StringFixed(2)),
		fmt.Sprintf("止损线    %s", sess.SafetyFloor.StringFixed(2)),
		fmt.Sprintf("本次交易  %d", sess.TradeCount),
		fmt.Sprintf("跳过 tick %d", sess.SkippedTicks),
		fmt.Sprintf("抽成      %s", sess.HouseCut.StringFixed(2)),
	}, "\n"))

	right := borderStyle.Render(strings.Join([]string{
		titleStyle.Render("统计"),
		fmt.Sprintf("总交易    %d", met.TotalTrades),
		fmt.Sprintf("成功/失败 %d/%d", met.SuccessfulTrades, met.FailedTrades),
		fmt.Sprintf("胜率      %.1f%%", met.WinRate*100),
		fmt.Sprintf("净收益    %s", profit),
		fmt.Sprintf("预计抽成  %s", met.HouseCutProjection.StringFixed(2)),
		fmt.Sprintf("运行      %s", (time.Duration(met.SessionSeconds) * time.Second).String()),
	}, "\n"))

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", right, "  ", renderPrices(m.snap)))
	s.WriteString("\n\n")

	if len(met.RecentErrors) > 0 {
		s.WriteString(titleStyle.Render("最近错误"))
		s.WriteString("\n")
		errs := met.RecentErrors
		if len(errs) > 5 {
			errs = errs[len(errs)-5:]
		}
		for _, e := range errs {
			s.WriteString(dimStyle.Render(e.Timestamp.Local().Format("15:04:05")) + " " + e.Message + "\n")
		}
		s.WriteString("\n")
	}

	if m.notice != "" {
		s.WriteString(m.notice + "\n\n")
	}
	s.WriteString(dimStyle.Render("s 开始 | x 停止 | r 重置 | q 退出"))
	return s.String()
}

func renderPrices(snap snapshot) string {
	lines := []string{titleStyle.Render("行情")}
	if len(snap.Prices) == 0 {
		lines = append(lines, dimStyle.Render("无数据"))
	}
	pairs := make([]string, 0, len(snap.Prices))
	for p := range snap.Prices {
		pairs = append(pairs, p)
	}
	sort.Strings(pairs)
	for _, p := range pairs {
		lines = append(lines, fmt.Sprintf("%-9s %s", p, snap.Prices[p].StringFixed(2)))
	}
	return borderStyle.Render(strings.Join(lines, "\n"))
}

// Commands

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchCmd(c *apiClient) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		snap, err := c.fetch(ctx)
		if err != nil {
			logrus.Warnf("[tui] 拉取失败: %v", err)
			return err
		}
		return snapshotMsg(snap)
	}
}

func controlCmd(c *apiClient, action string) tea.Cmd {
	return func() tea.Msg {
		// start 会走完整的初始化与登录流程
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()
		summary, err := c.control(ctx, action)
		return controlMsg{action: action, summary: summary, err: err}
	}
}

func main() {
	addr := flag.String("addr", getenv("VENUEPILOT_ADDR", "http://127.0.0.1:8080"), "控制器 HTTP 地址")
	interval := flag.Duration("interval", time.Second, "刷新间隔")
	flag.Parse()

	// logrus 写文件，避免干扰 TUI
	logDir := "logs"
	if err := os.MkdirAll(logDir, 0755); err != nil {
		logDir = os.TempDir()
	}
	file, err := os.OpenFile(filepath.Join(logDir, "trader-tui.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err == nil {
		defer file.Close()
		logrus.SetOutput(file)
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			DisableColors:   true,
		})
	}

	if len(os.Getenv("DEBUG")) > 0 {
		f, err := tea.LogToFile("debug.log", "debug")
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
	}

	p := tea.NewProgram(initialModel(newAPIClient(*addr, 10*time.Second), *interval), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("运行程序失败: %v", err)
	}
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
