package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/identity"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/policy"
	"github.com/ysmood/gson"
)

const clearStorageJS = `() => {
	try { sessionStorage.clear(); } catch (e) {}
	try { localStorage.clear(); } catch (e) {}
}`

// RodFactory launches one Chromium process per session so that the user
// agent and window size flags differ between rotations.
type RodFactory struct {
	cfg         config.BrowserConfig
	pool        *identity.Pool
	policy      policy.Policy
	extraScript string
}

// NewRodFactory creates a factory. extraScriptPath names an optional JS file
// injected into every session after the built-in stealth scripts; a missing
// file is not an error.
func NewRodFactory(cfg config.BrowserConfig, pool *identity.Pool, pol policy.Policy, extraScriptPath string) (*RodFactory, error) {
	f := &RodFactory{cfg: cfg, pool: pool, policy: pol}
	if extraScriptPath != "" {
		data, err := os.ReadFile(extraScriptPath)
		switch {
		case err == nil:
			f.extraScript = string(data)
			slog.Info("extra stealth script loaded", "path", extraScriptPath, "bytes", len(data))
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("session: read extra stealth script: %w", err)
		}
	}
	return f, nil
}

// New launches a browser, opens a page and configures it for id: user agent,
// viewport, locale, timezone, extra headers, stealth init scripts and the
// resource-blocking router, all before the first navigation.
func (f *RodFactory) New(ctx context.Context) (_ Session, err error) {
	id := f.pool.Pick(f.policy)
	s := &rodSession{id: id}

	// Scope guard: anything acquired before a failure is released here.
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	if err = ctx.Err(); err != nil {
		return nil, err
	}

	s.launcher = f.launcher(id)
	controlURL, err := s.launcher.Launch()
	if err != nil {
		return nil, models.NewHarvestError(models.ErrCodeSessionFault, "failed to launch browser", err)
	}
	s.launched = true

	browser := rod.New().ControlURL(controlURL)
	if err = browser.Connect(); err != nil {
		return nil, models.NewHarvestError(models.ErrCodeSessionFault, "failed to connect to browser", err)
	}
	s.browser = browser

	s.page, err = s.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, models.NewHarvestError(models.ErrCodeSessionFault, "failed to open page", err)
	}

	if err = s.applyIdentity(); err != nil {
		return nil, err
	}

	scripts := append([]string{stealth.JS}, id.InitScripts...)
	if f.extraScript != "" {
		scripts = append(scripts, f.extraScript)
	}
	for _, js := range scripts {
		if _, err = s.page.EvalOnNewDocument(js); err != nil {
			return nil, models.NewHarvestError(models.ErrCodeSessionFault, "failed to install init script", err)
		}
	}

	s.router = setupHijack(s.page, id.BlockedResources)

	slog.Debug("session created",
		"userAgent", id.UserAgent,
		"viewport", fmt.Sprintf("%dx%d", id.Viewport.Width, id.Viewport.Height),
		"locale", id.Locale,
		"timezone", id.Timezone,
	)
	return s, nil
}

// launcher builds the Chromium command line for one identity.
func (f *RodFactory) launcher(id identity.Identity) *launcher.Launcher {
	l := launcher.New().
		Headless(f.cfg.Headless).
		NoSandbox(f.cfg.NoSandbox)

	if f.cfg.BrowserBin != "" {
		l = l.Bin(f.cfg.BrowserBin)
	}
	if f.cfg.Proxy != "" {
		l = l.Proxy(f.cfg.Proxy)
	}

	// ── Stealth flags ────────────────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("user-agent"), id.UserAgent)
	if id.Viewport.Width > 0 && id.Viewport.Height > 0 {
		l.Set(flags.Flag("window-size"), fmt.Sprintf("%d,%d", id.Viewport.Width, id.Viewport.Height))
	}
	l.Set(flags.Flag("blink-settings"), "imagesEnabled=false")
	l.Set(flags.Flag("disable-features"), "VizDisplayCompositor,TranslateUI")
	l.Set(flags.Flag("log-level"), "3")
	for _, name := range []string{
		"disable-dev-shm-usage",
		"disable-gpu",
		"disable-extensions",
		"disable-plugins",
		"disable-web-security",
		"disable-crash-reporter",
		"disable-logging",
		"disable-hang-monitor",
		"disable-client-side-phishing-detection",
		"disable-component-update",
		"disable-3d-apis",
		"disable-background-timer-throttling",
		"disable-backgrounding-occluded-windows",
		"disable-breakpad",
		"disable-notifications",
		"disable-renderer-backgrounding",
		"disable-sync",
		"disable-translate",
		"metrics-recording-only",
		"no-default-browser-check",
		"no-first-run",
		"use-mock-keychain",
		"start-maximized",
	} {
		l.Set(flags.Flag(name))
	}
	return l
}

// rodSession is a Session backed by a dedicated browser process.
type rodSession struct {
	id       identity.Identity
	launcher *launcher.Launcher
	launched bool
	browser  *rod.Browser
	page     *rod.Page
	router   *rod.HijackRouter

	closeOnce sync.Once
	closeErr  error
}

// applyIdentity pushes the fingerprint into the page's emulation state.
// The user agent is mandatory; locale and timezone overrides are best-effort
// because some Chromium builds reject them.
func (s *rodSession) applyIdentity() error {
	if err := s.page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      s.id.UserAgent,
		AcceptLanguage: s.id.AcceptLanguage,
	}); err != nil {
		return models.NewHarvestError(models.ErrCodeSessionFault, "failed to set user agent", err)
	}

	if s.id.Viewport.Width > 0 && s.id.Viewport.Height > 0 {
		if err := s.page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             s.id.Viewport.Width,
			Height:            s.id.Viewport.Height,
			DeviceScaleFactor: 1,
		}); err != nil {
			return models.NewHarvestError(models.ErrCodeSessionFault, "failed to set viewport", err)
		}
	}

	if s.id.Timezone != "" {
		optionalOverride("timezone", proto.EmulationSetTimezoneOverride{TimezoneID: s.id.Timezone}.Call(s.page))
	}
	if s.id.Locale != "" {
		optionalOverride("locale", proto.EmulationSetLocaleOverride{Locale: s.id.Locale}.Call(s.page))
	}
	optionalOverride("certificate error", proto.SecuritySetIgnoreCertificateErrors{Ignore: true}.Call(s.page))

	if len(s.id.Headers) > 0 {
		if err := (proto.NetworkSetExtraHTTPHeaders{
			Headers: toHeadersMap(s.id.Headers),
		}).Call(s.page); err != nil {
			return models.NewHarvestError(models.ErrCodeSessionFault, "failed to set extra headers", err)
		}
	}
	return nil
}

// optionalOverride logs a failed emulation override; the session works
// without it.
func optionalOverride(what string, err error) {
	if err != nil {
		slog.Warn(what+" override failed, proceeding without it", "error", err)
	}
}

func (s *rodSession) Identity() identity.Identity { return s.id }

func (s *rodSession) Navigate(ctx context.Context, url string, opts NavigateOptions) error {
	ctx, cancel := withTimeout(ctx, opts.Timeout)
	defer cancel()
	p := s.page.Context(ctx)

	// The lifecycle listener MUST be registered before PageNavigate, or a
	// fast page could fire its event before we start listening.
	wait := p.WaitNavigation(lifecycleEvent(opts.WaitUntil))

	res, err := proto.PageNavigate{URL: url, Referrer: opts.Referer}.Call(p)
	if err != nil {
		return categorizeError(err, "navigation to target URL failed")
	}
	if res.ErrorText != "" {
		return models.NewHarvestError(models.ErrCodeNavigation, "navigation to target URL failed: "+res.ErrorText, nil)
	}

	wait()
	return categorizeError(ctx.Err(), fmt.Sprintf("page did not reach %s", opts.WaitUntil))
}

func lifecycleEvent(w WaitUntil) proto.PageLifecycleEventName {
	if w == WaitNetworkIdle {
		return proto.PageLifecycleEventNameNetworkAlmostIdle
	}
	return proto.PageLifecycleEventNameDOMContentLoaded
}

func (s *rodSession) HTML(ctx context.Context) (string, error) {
	ctx, cancel := withTimeout(ctx, 0)
	defer cancel()
	html, err := s.page.Context(ctx).HTML()
	if err != nil {
		return "", categorizeError(err, "failed to extract page HTML")
	}
	return html, nil
}

func (s *rodSession) Eval(ctx context.Context, js string) (gson.JSON, error) {
	ctx, cancel := withTimeout(ctx, 0)
	defer cancel()
	res, err := s.page.Context(ctx).Eval(js)
	if err != nil {
		return gson.New(nil), categorizeError(err, "script evaluation failed")
	}
	return res.Value, nil
}

func (s *rodSession) WaitSelector(ctx context.Context, selector string, timeout time.Duration) error {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	if _, err := s.page.Context(ctx).Element(selector); err != nil {
		return categorizeError(err, "selector "+selector+" did not appear")
	}
	return nil
}

func (s *rodSession) Has(ctx context.Context, selector string) (bool, error) {
	ctx, cancel := withTimeout(ctx, 0)
	defer cancel()
	has, _, err := s.page.Context(ctx).Has(selector)
	if err != nil {
		return false, categorizeError(err, "selector lookup failed")
	}
	return has, nil
}

func (s *rodSession) Click(ctx context.Context, selector string) error {
	ctx, cancel := withTimeout(ctx, 0)
	defer cancel()
	el, err := s.page.Context(ctx).Element(selector)
	if err != nil {
		return categorizeError(err, "click target "+selector+" not found")
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return categorizeError(err, "click on "+selector+" failed")
	}
	return nil
}

func (s *rodSession) Reload(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, 0)
	defer cancel()
	if err := (proto.PageReload{IgnoreCache: true}).Call(s.page.Context(ctx)); err != nil {
		return categorizeError(err, "reload failed")
	}
	return nil
}

func (s *rodSession) ResetStorage(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, 0)
	defer cancel()
	p := s.page.Context(ctx)
	if err := (proto.NetworkClearBrowserCookies{}).Call(p); err != nil {
		return categorizeError(err, "failed to clear cookies")
	}
	if _, err := p.Eval(clearStorageJS); err != nil {
		return categorizeError(err, "failed to clear web storage")
	}
	return nil
}

// Close stops the hijack router, closes the page and the browser, then kills
// the process and removes its profile directory. Each step is independent
// and nil-safe, so a half-built session tears down what it has.
func (s *rodSession) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.router != nil {
			errs = append(errs, s.router.Stop())
		}
		if s.page != nil {
			errs = append(errs, s.page.Close())
		}
		if s.browser != nil {
			errs = append(errs, s.browser.Close())
		}
		if s.launched {
			s.launcher.Kill()
			s.launcher.Cleanup()
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}
