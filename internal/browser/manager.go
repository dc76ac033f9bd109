// Package browser attaches to the Chrome instance showing the grading tab.
// It prefers an already-running browser via its debugger URL so the
// grader's logged-in session is reused; launching a fresh instance is the
// fallback for development.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"rubricsync/internal/config"
	"rubricsync/internal/dom"
	"rubricsync/internal/logging"
)

// Manager owns the connection to Chrome.
type Manager struct {
	cfg config.BrowserConfig

	mu         sync.Mutex
	browser    *rod.Browser
	controlURL string
}

// NewManager builds a manager from the browser config.
func NewManager(cfg config.BrowserConfig) *Manager {
	return &Manager{cfg: cfg}
}

// Start connects to Chrome, launching one if no debugger URL is
// configured.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browser != nil {
		return nil
	}

	controlURL := m.cfg.DebuggerURL

	if controlURL == "" && len(m.cfg.Launch) > 0 {
		bin := m.cfg.Launch[0]
		launch := launcher.New().Bin(bin).Headless(m.cfg.Headless)
		for _, rawFlag := range m.cfg.Launch[1:] {
			flagStr := strings.TrimLeft(rawFlag, "-")
			name, val, hasVal := strings.Cut(flagStr, "=")
			if hasVal {
				launch = launch.Set(flags.Flag(name), val)
			} else {
				launch = launch.Set(flags.Flag(name))
			}
		}
		url, err := launch.Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = url
	}

	if controlURL == "" {
		url, err := launcher.New().Headless(m.cfg.Headless).Launch()
		if err != nil {
			return fmt.Errorf("no debugger_url and failed to launch: %w", err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	m.browser = browser
	m.controlURL = controlURL
	logging.Session("connected to chrome at %s", controlURL)
	return nil
}

// ControlURL returns the WebSocket debugger URL.
func (m *Manager) ControlURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.controlURL
}

// FindTab returns the first open tab whose URL starts with urlPrefix.
func (m *Manager) FindTab(ctx context.Context, urlPrefix string) (dom.Page, string, error) {
	if err := m.Start(ctx); err != nil {
		return nil, "", err
	}

	pages, err := m.browser.Pages()
	if err != nil {
		return nil, "", fmt.Errorf("list tabs: %w", err)
	}
	for _, page := range pages {
		info, err := page.Info()
		if err != nil {
			continue
		}
		if strings.HasPrefix(info.URL, urlPrefix) {
			logging.Session("found grading tab: %s", info.URL)
			return dom.NewLivePage(page.Context(ctx)), info.URL, nil
		}
	}
	return nil, "", fmt.Errorf("no open tab matches %q", urlPrefix)
}

// OpenTab navigates a new tab to the given URL.
func (m *Manager) OpenTab(ctx context.Context, url string) (dom.Page, error) {
	if err := m.Start(ctx); err != nil {
		return nil, err
	}

	page, err := m.browser.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, fmt.Errorf("open tab: %w", err)
	}
	if err := page.Timeout(m.cfg.NavigationTimeout()).WaitLoad(); err != nil {
		logging.SessionDebug("wait load: %v", err)
	}
	return dom.NewLivePage(page.Context(ctx)), nil
}

// Shutdown disconnects from the browser. A browser we attached to keeps
// running; one we launched is closed with the connection.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browser == nil {
		return nil
	}
	err := m.browser.Close()
	m.browser = nil
	m.controlURL = ""
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
