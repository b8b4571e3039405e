package browser

import (
	"os"
	"strings"

	"github.com/chromedp/chromedp"
)

// knownChromePaths is the ordered probe list for a locally installed
// browser. First match wins; when nothing matches, chromedp's own
// executable lookup is the bundled default.
var knownChromePaths = []string{
	"/usr/bin/google-chrome",
	"/usr/bin/google-chrome-stable",
	"/usr/bin/chromium",
	"/usr/bin/chromium-browser",
	"/snap/bin/chromium",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
}

// resolveExecutable walks the candidate chain: an explicitly configured
// path first, then the known install locations. The empty return means
// "let chromedp find one".
func resolveExecutable(configured string, exists func(string) bool) (path, source string) {
	if configured != "" && exists(configured) {
		return configured, "configured"
	}
	for _, p := range knownChromePaths {
		if exists(p) {
			return p, "probed"
		}
	}
	return "", "default"
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// allocatorOptions builds the exec allocator options for one session.
// The exact flag set is environment-specific configuration; only the
// isolated per-session user data dir is contractual.
func allocatorOptions(execPath, userDataDir string, extraFlags []string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.UserDataDir(userDataDir),
	)
	if execPath != "" {
		opts = append(opts, chromedp.ExecPath(execPath))
	}
	for _, f := range extraFlags {
		name := strings.TrimPrefix(f, "--")
		if k, v, found := strings.Cut(name, "="); found {
			opts = append(opts, chromedp.Flag(k, v))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}
	return opts
}
