package driver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/sethvargo/go-retry"

	"github.com/rendis/autoflow/pkg/schema"
)

// PlaywrightConfig configures the playwright runtime.
type PlaywrightConfig struct {
	// Install downloads the browsers and driver on first start.
	Install bool
	// ForceHeadless launches every browser headless whatever the profile says.
	ForceHeadless bool
	// DefaultTimeout applies to every page operation.
	DefaultTimeout time.Duration
	// LaunchRetries bounds browser launch attempts after the first.
	LaunchRetries uint64
	// LaunchBackoff is the base of the exponential launch backoff.
	LaunchBackoff time.Duration
}

const (
	defaultPageTimeout   = 30 * time.Second
	defaultLaunchRetries = 2
	defaultLaunchBackoff = 500 * time.Millisecond
	defaultViewportW     = 1280
	defaultViewportH     = 720
)

// PlaywrightRuntime owns the playwright process and hands out drivers.
type PlaywrightRuntime struct {
	cfg    PlaywrightConfig
	logger *slog.Logger

	mu sync.Mutex
	pw *playwright.Playwright
}

// NewPlaywrightRuntime creates a runtime. The playwright process is started
// lazily by the first NewDriver call.
func NewPlaywrightRuntime(cfg PlaywrightConfig, logger *slog.Logger) *PlaywrightRuntime {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultPageTimeout
	}
	if cfg.LaunchRetries == 0 {
		cfg.LaunchRetries = defaultLaunchRetries
	}
	if cfg.LaunchBackoff <= 0 {
		cfg.LaunchBackoff = defaultLaunchBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PlaywrightRuntime{cfg: cfg, logger: logger}
}

func (r *PlaywrightRuntime) start() (*playwright.Playwright, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pw != nil {
		return r.pw, nil
	}

	// Keep playwright output off stdout, which carries the MCP stream.
	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	if r.cfg.Install {
		if err := playwright.Install(opts); err != nil {
			return nil, fmt.Errorf("failed to install playwright: %w", err)
		}
	}
	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}
	r.pw = pw
	return pw, nil
}

// NewDriver is a Factory opening an unconfigured playwright session. The
// browser itself is launched by ApplyProfile.
func (r *PlaywrightRuntime) NewDriver(ctx context.Context) (Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pw, err := r.start()
	if err != nil {
		return nil, err
	}
	return &PlaywrightDriver{pw: pw, cfg: r.cfg, logger: r.logger}, nil
}

// Stop terminates the playwright process.
func (r *PlaywrightRuntime) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pw == nil {
		return nil
	}
	err := r.pw.Stop()
	r.pw = nil
	return err
}

// PlaywrightDriver runs actions in a single Chromium page.
type PlaywrightDriver struct {
	pw     *playwright.Playwright
	cfg    PlaywrightConfig
	logger *slog.Logger

	mu      sync.Mutex
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
}

// ApplyProfile launches the browser and opens a page configured by profile.
func (d *PlaywrightDriver) ApplyProfile(ctx context.Context, profile *schema.Profile) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.browser != nil {
		return schema.NewError(schema.ErrCodeConflict, "profile already applied")
	}

	headless := profile.Headless || d.cfg.ForceHeadless
	launchOpts := playwright.BrowserTypeLaunchOptions{Headless: &headless}
	if profile.Proxy != "" {
		launchOpts.Proxy = &playwright.Proxy{Server: profile.Proxy}
	}

	var browser playwright.Browser
	backoff := retry.WithMaxRetries(d.cfg.LaunchRetries, retry.NewExponential(d.cfg.LaunchBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		b, launchErr := d.pw.Chromium.Launch(launchOpts)
		if launchErr != nil {
			d.logger.Warn("browser launch failed", "profile_id", profile.ID, "error", launchErr)
			return retry.RetryableError(launchErr)
		}
		browser = b
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	bctx, err := browser.NewContext(contextOptions(profile))
	if err != nil {
		_ = browser.Close()
		return fmt.Errorf("failed to create context: %w", err)
	}

	if len(profile.Cookies) > 0 {
		cookies := make([]playwright.OptionalCookie, 0, len(profile.Cookies))
		for _, c := range profile.Cookies {
			cookie := playwright.OptionalCookie{Name: c.Name, Value: c.Value}
			if c.Domain != "" {
				cookie.Domain = playwright.String(c.Domain)
			}
			if c.Path != "" {
				cookie.Path = playwright.String(c.Path)
			}
			cookies = append(cookies, cookie)
		}
		if err := bctx.AddCookies(cookies); err != nil {
			_ = bctx.Close()
			_ = browser.Close()
			return fmt.Errorf("failed to add cookies: %w", err)
		}
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		_ = browser.Close()
		return fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(float64(d.cfg.DefaultTimeout.Milliseconds()))

	d.browser, d.context, d.page = browser, bctx, page
	return nil
}

func contextOptions(profile *schema.Profile) playwright.BrowserNewContextOptions {
	w, h := defaultViewportW, defaultViewportH
	if profile.Viewport != nil && profile.Viewport.Width > 0 && profile.Viewport.Height > 0 {
		w, h = profile.Viewport.Width, profile.Viewport.Height
	}
	opts := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: w, Height: h},
	}
	if profile.UserAgent != "" {
		opts.UserAgent = playwright.String(profile.UserAgent)
	}
	if profile.Locale != "" {
		opts.Locale = playwright.String(profile.Locale)
	}
	if profile.Timezone != "" {
		opts.TimezoneId = playwright.String(profile.Timezone)
	}
	if len(profile.Headers) > 0 {
		opts.ExtraHttpHeaders = profile.Headers
	}
	return opts
}

// PerformActions runs actions sequentially on the session page.
func (d *PlaywrightDriver) PerformActions(ctx context.Context, actions []schema.Action) (*Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.page == nil {
		return nil, schema.NewError(schema.ErrCodeDriver, "no page: profile not applied")
	}

	res := &Result{Success: true, Extracted: map[string]any{}}
	for _, action := range actions {
		if err := ctx.Err(); err != nil {
			res.Success = false
			res.Actions = append(res.Actions, ActionResult{Error: err.Error()})
			return res, nil
		}
		value, err := d.perform(action)
		if err != nil {
			res.Success = false
			res.Actions = append(res.Actions, ActionResult{Error: fmt.Sprintf("%s %s: %s", action.Kind(), action.Step(), err.Error())})
			return res, nil
		}
		res.Actions = append(res.Actions, ActionResult{Success: true, Value: value})
		if ex, ok := action.(schema.ExtractAction); ok {
			res.Extracted[ex.Key] = value
		}
	}
	return res, nil
}

func (d *PlaywrightDriver) perform(action schema.Action) (any, error) {
	switch a := action.(type) {
	case schema.NavigateAction:
		opts := playwright.PageGotoOptions{}
		if a.WaitUntil != "" {
			waitUntil := playwright.WaitUntilState(a.WaitUntil)
			opts.WaitUntil = &waitUntil
		}
		if a.TimeoutMs > 0 {
			opts.Timeout = playwright.Float(float64(a.TimeoutMs))
		}
		_, err := d.page.Goto(a.URL, opts)
		return nil, err

	case schema.ClickAction:
		opts := playwright.PageClickOptions{}
		if a.Button != "" {
			button := playwright.MouseButton(a.Button)
			opts.Button = &button
		}
		if a.ClickCount > 0 {
			opts.ClickCount = playwright.Int(a.ClickCount)
		}
		return nil, d.page.Click(a.Selector, opts)

	case schema.TypeAction:
		if a.DelayMs == 0 {
			return nil, d.page.Fill(a.Selector, a.Text)
		}
		if a.Clear {
			if err := d.page.Fill(a.Selector, ""); err != nil {
				return nil, err
			}
		}
		return nil, d.page.Type(a.Selector, a.Text, playwright.PageTypeOptions{Delay: playwright.Float(float64(a.DelayMs))})

	case schema.SelectAction:
		values := a.Values
		_, err := d.page.SelectOption(a.Selector, playwright.SelectOptionValues{Values: &values})
		return nil, err

	case schema.UploadAction:
		return nil, d.page.SetInputFiles(a.Selector, a.Files)

	case schema.ExtractAction:
		return d.extract(a)

	case schema.WaitAction:
		if a.Selector != "" {
			_, err := d.page.WaitForSelector(a.Selector)
			return nil, err
		}
		d.page.WaitForTimeout(float64(a.DurationMs))
		return nil, nil

	case schema.VariableAction:
		// Applied by the engine when it folds the batch result.
		return nil, nil

	default:
		return nil, fmt.Errorf("unsupported action kind %q", action.Kind())
	}
}

func (d *PlaywrightDriver) extract(a schema.ExtractAction) (any, error) {
	elements, err := d.page.QuerySelectorAll(a.Selector)
	if err != nil {
		return nil, fmt.Errorf("selector query failed: %w", err)
	}
	if len(elements) == 0 {
		return nil, fmt.Errorf("no element found matching selector: %s", a.Selector)
	}
	if !a.Multiple {
		elements = elements[:1]
	}

	values := make([]string, 0, len(elements))
	for _, el := range elements {
		var v string
		if a.Attribute != "" {
			v, err = el.GetAttribute(a.Attribute)
		} else {
			v, err = el.TextContent()
		}
		if err != nil {
			return nil, fmt.Errorf("extraction failed: %w", err)
		}
		values = append(values, v)
	}
	if a.Multiple {
		return values, nil
	}
	return values[0], nil
}

// Close closes the page, context and browser. Safe to call more than once.
func (d *PlaywrightDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.browser == nil {
		return nil
	}
	if d.page != nil {
		_ = d.page.Close()
	}
	if d.context != nil {
		_ = d.context.Close()
	}
	err := d.browser.Close()
	d.browser, d.context, d.page = nil, nil, nil
	return err
}
