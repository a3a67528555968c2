package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/golden-h/novelrelay/internal/config"
)

const chromeStartTimeout = 30 * time.Second

// InitChrome connects to the browser at cfg.CdpURL, or launches Chrome on
// the relay's profile directory.
func InitChrome(cfg *config.RuntimeConfig) (context.Context, context.CancelFunc, context.Context, context.CancelFunc, error) {
	allocCtx, allocCancel, err := setupAllocator(cfg)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	browserCtx, browserCancel, err := startChrome(allocCtx)
	if err != nil {
		allocCancel()
		slog.Error("chrome initialization failed", "headless", cfg.Headless, "err", err)
		return nil, nil, nil, nil, fmt.Errorf("failed to start chrome: %w", err)
	}

	slog.Info("chrome ready", "remote", cfg.CdpURL != "", "headless", cfg.Headless, "profile", cfg.ProfileDir)
	return allocCtx, allocCancel, browserCtx, browserCancel, nil
}

func setupAllocator(cfg *config.RuntimeConfig) (context.Context, context.CancelFunc, error) {
	if cfg.CdpURL != "" {
		slog.Info("connecting to Chrome", "url", cfg.CdpURL)
		ctx, cancel := chromedp.NewRemoteAllocator(context.Background(), cfg.CdpURL)
		return ctx, cancel, nil
	}

	if err := os.MkdirAll(cfg.ProfileDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("create profile dir: %w", err)
	}
	RemoveStaleLocks(cfg.ProfileDir)
	if WasUncleanExit(cfg.ProfileDir) {
		slog.Warn("previous session exited uncleanly, clearing Chrome session restore data")
		ClearChromeSessions(cfg.ProfileDir)
	}
	MarkCleanExit(cfg.ProfileDir)

	slog.Info("launching Chrome", "profile", cfg.ProfileDir, "headless", cfg.Headless)
	ctx, cancel := chromedp.NewExecAllocator(context.Background(), buildChromeOpts(cfg)...)
	return ctx, cancel, nil
}

func buildChromeOpts(cfg *config.RuntimeConfig) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.UserDataDir(cfg.ProfileDir),
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,

		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.Flag("disable-session-crashed-bubble", true),
		chromedp.Flag("hide-crash-restore-bubble", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),

		chromedp.WindowSize(randomWindowSize()),
	}

	if cfg.ChromeBinary != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ChromeBinary))
	}
	for _, f := range strings.Fields(cfg.ChromeExtraFlags) {
		if k, v, ok := strings.Cut(f, "="); ok {
			opts = append(opts, chromedp.Flag(strings.TrimLeft(k, "-"), v))
		} else {
			opts = append(opts, chromedp.Flag(strings.TrimLeft(f, "-"), true))
		}
	}

	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	return opts
}

// startChrome attaches the first browser context, giving up after
// chromeStartTimeout.
func startChrome(allocCtx context.Context) (context.Context, context.CancelFunc, error) {
	bCtx, bCancel := chromedp.NewContext(allocCtx)

	errCh := make(chan error, 1)
	go func() { errCh <- chromedp.Run(bCtx) }()

	timer := time.NewTimer(chromeStartTimeout)
	defer timer.Stop()
	select {
	case err := <-errCh:
		if err != nil {
			bCancel()
			return nil, nil, err
		}
		return bCtx, bCancel, nil
	case <-timer.C:
		bCancel()
		return nil, nil, fmt.Errorf("timed out after %s", chromeStartTimeout)
	}
}

func randomWindowSize() (int, int) {
	sizes := [][2]int{
		{1920, 1080}, {1366, 768}, {1536, 864}, {1440, 900}, {1280, 800},
	}
	s := sizes[rand.Intn(len(sizes))]
	return s[0], s[1]
}
