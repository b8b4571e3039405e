package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/webpilot-ai/webpilot/pkg/models"
)

// specialKeys maps the wire protocol's key names onto CDP key strings.
var specialKeys = map[string]string{
	"Enter":      kb.Enter,
	"Tab":        kb.Tab,
	"Backspace":  kb.Backspace,
	"Escape":     kb.Escape,
	"Delete":     kb.Delete,
	"ArrowUp":    kb.ArrowUp,
	"ArrowDown":  kb.ArrowDown,
	"ArrowLeft":  kb.ArrowLeft,
	"ArrowRight": kb.ArrowRight,
	"Home":       kb.Home,
	"End":        kb.End,
	"PageUp":     kb.PageUp,
	"PageDown":   kb.PageDown,
}

// Execute runs one action on the session's browser, launching it first
// if needed. Action failures come back as a structured result, never as
// an error; the error return is reserved for launch problems, which are
// retryable on the next command.
func (p *Pool) Execute(ctx context.Context, sessionID string, spec models.CommandSpec) (*models.CommandResult, error) {
	inst, err := p.Ensure(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	tctx, cancel := context.WithTimeout(inst.ctx, timeout)
	defer cancel()

	res := p.run(tctx, inst, spec)
	if !res.Success {
		p.logger.WithField("session_id", sessionID).
			WithField("type", string(spec.Type)).
			WithField("error", res.Error).
			Debug("action failed")
	}
	return res, nil
}

func (p *Pool) run(ctx context.Context, inst *Instance, spec models.CommandSpec) *models.CommandResult {
	switch spec.Type {
	case models.CmdNavigate:
		return p.navigate(ctx, spec)
	case models.CmdScreenshot:
		return p.screenshot(ctx, spec)
	case models.CmdClick:
		return p.click(ctx, spec)
	case models.CmdType:
		return p.typeInto(ctx, spec)
	case models.CmdGetTitle:
		var title string
		if err := chromedp.Run(ctx, chromedp.Title(&title)); err != nil {
			return failure(err)
		}
		return success(map[string]interface{}{"title": title})
	case models.CmdGetURL:
		var url string
		if err := chromedp.Run(ctx, chromedp.Location(&url)); err != nil {
			return failure(err)
		}
		return success(map[string]interface{}{"url": url})
	case models.CmdGetText:
		var text string
		if err := chromedp.Run(ctx, chromedp.Text(strArg(spec, "selector"), &text, chromedp.ByQuery)); err != nil {
			return failure(err)
		}
		return success(map[string]interface{}{"text": text})
	case models.CmdGetPageText:
		var text string
		if err := chromedp.Run(ctx, chromedp.Text("body", &text, chromedp.ByQuery)); err != nil {
			return failure(err)
		}
		return success(map[string]interface{}{"text": text})
	case models.CmdGetAttribute:
		var value string
		var ok bool
		err := chromedp.Run(ctx, chromedp.AttributeValue(strArg(spec, "selector"), strArg(spec, "attribute"), &value, &ok, chromedp.ByQuery))
		if err != nil {
			return failure(err)
		}
		if !ok {
			return failure(fmt.Errorf("attribute %q not present", strArg(spec, "attribute")))
		}
		return success(map[string]interface{}{"value": value})
	case models.CmdWaitForElement:
		wctx := ctx
		if ms, ok := numArg(spec, "timeout"); ok {
			var cancel context.CancelFunc
			wctx, cancel = context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
			defer cancel()
		}
		if err := chromedp.Run(wctx, chromedp.WaitVisible(strArg(spec, "selector"), chromedp.ByQuery)); err != nil {
			return failure(fmt.Errorf("timeout waiting for selector %q: %w", strArg(spec, "selector"), err))
		}
		return success(map[string]interface{}{"found": true})
	case models.CmdEvaluate:
		var out interface{}
		if err := chromedp.Run(ctx, chromedp.Evaluate(strArg(spec, "script"), &out)); err != nil {
			return failure(err)
		}
		return success(map[string]interface{}{"result": out})
	case models.CmdScroll:
		dx, _ := numArg(spec, "x")
		dy, ok := numArg(spec, "y")
		if !ok && dx == 0 {
			dy = 300 // default: one notch down
		}
		err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			return input.DispatchMouseEvent(input.MouseWheel, 0, 0).
				WithDeltaX(dx).WithDeltaY(dy).Do(ctx)
		}))
		if err != nil {
			return failure(err)
		}
		return success(map[string]interface{}{"scrolled": true})
	case models.CmdClickCoordinate:
		x, _ := numArg(spec, "x")
		y, _ := numArg(spec, "y")
		if err := chromedp.Run(ctx, clickAt(x, y)); err != nil {
			return failure(err)
		}
		return success(map[string]interface{}{"x": x, "y": y})
	case models.CmdHoverCoordinate:
		x, _ := numArg(spec, "x")
		y, _ := numArg(spec, "y")
		err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			return input.DispatchMouseEvent(input.MouseMoved, x, y).Do(ctx)
		}))
		if err != nil {
			return failure(err)
		}
		return success(map[string]interface{}{"x": x, "y": y})
	case models.CmdGetPageElements:
		var elements []models.PageElement
		if err := chromedp.Run(ctx, chromedp.Evaluate(elementHarvestJS, &elements)); err != nil {
			return failure(err)
		}
		return success(map[string]interface{}{"elements": elements, "count": len(elements)})
	case models.CmdKeyPress:
		key := strArg(spec, "key")
		if mapped, ok := specialKeys[key]; ok {
			key = mapped
		}
		if err := chromedp.Run(ctx, chromedp.KeyEvent(key)); err != nil {
			return failure(err)
		}
		return success(map[string]interface{}{"pressed": strArg(spec, "key")})
	case models.CmdTypeText:
		if err := chromedp.Run(ctx, typeChars(strArg(spec, "text"))); err != nil {
			return failure(err)
		}
		return success(map[string]interface{}{"typed": true})
	case models.CmdKeyboardInput:
		if err := chromedp.Run(ctx, chromedp.KeyEvent(strArg(spec, "input"))); err != nil {
			return failure(err)
		}
		return success(map[string]interface{}{"sent": true})
	default:
		return failure(fmt.Errorf("unsupported command type %q", spec.Type))
	}
}

func (p *Pool) navigate(ctx context.Context, spec models.CommandSpec) *models.CommandResult {
	url := strArg(spec, "url")
	var finalURL, title string
	err := chromedp.Run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		waitNetworkIdle(500*time.Millisecond, 5*time.Second),
		chromedp.Location(&finalURL),
		chromedp.Title(&title),
	)
	if err != nil {
		return failure(fmt.Errorf("navigation failed: %w", err))
	}
	return success(map[string]interface{}{"url": finalURL, "title": title})
}

func (p *Pool) screenshot(ctx context.Context, spec models.CommandSpec) *models.CommandResult {
	var buf []byte
	var err error
	if b, _ := boolArg(spec, "fullPage"); b {
		err = chromedp.Run(ctx, chromedp.FullScreenshot(&buf, 90))
	} else {
		err = chromedp.Run(ctx, chromedp.CaptureScreenshot(&buf))
	}
	if err != nil {
		return failure(fmt.Errorf("screenshot failed: %w", err))
	}
	return success(map[string]interface{}{
		"data":      base64.StdEncoding.EncodeToString(buf),
		"format":    "png",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// click resolves its target through a fallback chain: the primary
// selector first, then heuristic consent-overlay selectors, and as a
// last resort an in-page text scan with direct DOM dispatch. The result
// reports which strategy matched.
func (p *Pool) click(ctx context.Context, spec models.CommandSpec) *models.CommandResult {
	selector := strArg(spec, "selector")

	primary, cancel := context.WithTimeout(ctx, 2*time.Second)
	err := chromedp.Run(primary,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
	cancel()
	if err == nil {
		return success(map[string]interface{}{"strategy": "selector", "selector": selector})
	}
	primaryErr := err

	for _, candidate := range consentSelectors {
		cctx, cancel := context.WithTimeout(ctx, time.Second)
		err := chromedp.Run(cctx,
			chromedp.WaitVisible(candidate, chromedp.ByQuery),
			chromedp.Click(candidate, chromedp.ByQuery),
		)
		cancel()
		if err == nil {
			return success(map[string]interface{}{"strategy": "consent-selector", "selector": candidate})
		}
	}

	var scan struct {
		Clicked bool   `json:"clicked"`
		Text    string `json:"text"`
	}
	js := fmt.Sprintf("%s(%q)", clickByTextJS, "")
	if err := chromedp.Run(ctx, chromedp.Evaluate(js, &scan)); err == nil && scan.Clicked {
		return success(map[string]interface{}{"strategy": "text-scan", "matchedText": scan.Text})
	}

	return failure(fmt.Errorf("selector %q not found and no fallback matched: %w", selector, primaryErr))
}

func (p *Pool) typeInto(ctx context.Context, spec models.CommandSpec) *models.CommandResult {
	selector := strArg(spec, "selector")
	err := chromedp.Run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, strArg(spec, "text"), chromedp.ByQuery),
	)
	if err != nil {
		return failure(fmt.Errorf("type failed for selector %q: %w", selector, err))
	}
	return success(map[string]interface{}{"selector": selector, "typed": true})
}

// clickAt dispatches a raw mouse press/release pair at viewport
// coordinates.
func clickAt(x, y float64) chromedp.Action {
	return chromedp.Tasks{
		chromedp.ActionFunc(func(ctx context.Context) error {
			return input.DispatchMouseEvent(input.MousePressed, x, y).
				WithButton(input.Left).WithClickCount(1).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return input.DispatchMouseEvent(input.MouseReleased, x, y).
				WithButton(input.Left).WithClickCount(1).Do(ctx)
		}),
	}
}

// typeChars sends text as individual key events, the substrate used
// when no input element is focused via selector.
func typeChars(text string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for _, ch := range text {
			if err := input.DispatchKeyEvent(input.KeyChar).
				WithText(string(ch)).Do(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

func success(data map[string]interface{}) *models.CommandResult {
	return &models.CommandResult{Success: true, Data: data}
}

func failure(err error) *models.CommandResult {
	return &models.CommandResult{Success: false, Error: err.Error()}
}

func strArg(spec models.CommandSpec, key string) string {
	if spec.Payload == nil {
		return ""
	}
	if v, ok := spec.Payload[key].(string); ok {
		return v
	}
	return ""
}

func numArg(spec models.CommandSpec, key string) (float64, bool) {
	if spec.Payload == nil {
		return 0, false
	}
	switch v := spec.Payload[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func boolArg(spec models.CommandSpec, key string) (bool, bool) {
	if spec.Payload == nil {
		return false, false
	}
	if v, ok := spec.Payload[key].(bool); ok {
		return v, true
	}
	return false, false
}
