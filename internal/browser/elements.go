package browser

// elementHarvestJS flattens the page's visible interactive elements into
// records with bounding-box-derived coordinates. The center point feeds
// the coordinate-based actions used when no selector is known.
const elementHarvestJS = `(() => {
	const selectorFor = (el) => {
		if (el.id) return '#' + CSS.escape(el.id);
		let sel = el.tagName.toLowerCase();
		const name = el.getAttribute('name');
		if (name) sel += '[name="' + name + '"]';
		return sel;
	};
	const nodes = document.querySelectorAll(
		'a, button, input, select, textarea, [role="button"], [onclick]');
	const out = [];
	let index = 0;
	for (const el of nodes) {
		const rect = el.getBoundingClientRect();
		if (rect.width === 0 || rect.height === 0) continue;
		const style = window.getComputedStyle(el);
		if (style.visibility === 'hidden' || style.display === 'none') continue;
		out.push({
			index: index++,
			tag: el.tagName.toLowerCase(),
			type: el.getAttribute('type') || el.tagName.toLowerCase(),
			text: (el.innerText || el.value || el.getAttribute('aria-label') || '')
				.trim().slice(0, 120),
			selector: selectorFor(el),
			x: Math.round(rect.x),
			y: Math.round(rect.y),
			width: Math.round(rect.width),
			height: Math.round(rect.height),
			centerX: Math.round(rect.x + rect.width / 2),
			centerY: Math.round(rect.y + rect.height / 2),
		});
	}
	return out;
})()`

// clickByTextJS scans clickable elements for matching text and clicks
// via direct DOM dispatch. With no target it falls back to the common
// consent-overlay vocabulary.
const clickByTextJS = `((target) => {
	const patterns = target
		? [target.toLowerCase()]
		: ['accept', 'agree', 'allow', 'continue'];
	const nodes = document.querySelectorAll(
		'button, a, [role="button"], input[type="submit"], input[type="button"]');
	for (const el of nodes) {
		const text = (el.innerText || el.value || '').trim().toLowerCase();
		if (!text) continue;
		for (const p of patterns) {
			if (text.includes(p)) {
				el.click();
				return { clicked: true, text: text.slice(0, 80) };
			}
		}
	}
	return { clicked: false };
})`

// consentSelectors is the heuristic fallback chain for click targets
// hidden behind cookie/consent overlays whose markup is not known ahead
// of time.
var consentSelectors = []string{
	"#onetrust-accept-btn-handler",
	`button[id*="accept" i]`,
	`button[class*="accept" i]`,
	`button[id*="agree" i]`,
	`button[class*="consent" i]`,
	`[aria-label*="accept" i]`,
	`button[data-testid*="accept" i]`,
}
