package browser

import (
	"encoding/json"
	"fmt"

	"github.com/copyleftdev/goheal/internal/selector"
)

// queryPayload is the JSON form of a descriptor handed to the in-page finder.
type queryPayload struct {
	Kind    string `json:"kind"`
	Role    string `json:"role,omitempty"`
	Name    string `json:"name,omitempty"`
	Text    string `json:"text,omitempty"`
	Pattern string `json:"pattern,omitempty"`
	Flags   string `json:"flags,omitempty"`
	Key     string `json:"key,omitempty"`
	Value   string `json:"value,omitempty"`
	Expr    string `json:"expr,omitempty"`
}

func payloadFor(d selector.Descriptor) queryPayload {
	p := queryPayload{
		Kind:  string(d.Kind),
		Role:  d.Role,
		Name:  d.Name,
		Text:  d.Text,
		Key:   d.Key,
		Value: d.Value,
		Expr:  d.Expr,
	}
	if d.Pattern != nil {
		p.Pattern, p.Flags = selector.JSPattern(d.Pattern)
	}
	return p
}

// finderScript resolves a payload to an array of elements in document order.
// Text matches keep only the innermost matching elements.
const finderScript = `(function(d) {
	const text = el => (el.innerText || el.textContent || '').replace(/\s+/g, ' ').trim();
	const matchText = s => {
		if (d.pattern) { return new RegExp(d.pattern, d.flags).test(s); }
		return s.includes(d.text);
	};
	const accName = el => {
		const label = el.getAttribute('aria-label');
		if (label) return label;
		const by = el.getAttribute('aria-labelledby');
		if (by) {
			const ref = document.getElementById(by);
			if (ref) return text(ref);
		}
		if (el.id) {
			const lbl = document.querySelector('label[for="' + CSS.escape(el.id) + '"]');
			if (lbl) return text(lbl);
		}
		return text(el) || el.value || el.placeholder || el.title || el.alt || '';
	};
	const roles = {
		button: 'button,input[type=button],input[type=submit],input[type=reset],[role=button]',
		link: 'a[href],[role=link]',
		textbox: 'input:not([type]),input[type=text],input[type=email],input[type=password],input[type=tel],input[type=url],input[type=number],textarea,[role=textbox]',
		searchbox: 'input[type=search],[role=searchbox]',
		checkbox: 'input[type=checkbox],[role=checkbox]',
		radio: 'input[type=radio],[role=radio]',
		combobox: 'select,[role=combobox]',
		heading: 'h1,h2,h3,h4,h5,h6,[role=heading]',
		table: 'table,[role=table]',
		grid: '[role=grid],[role=treegrid]',
		row: 'tr,[role=row]',
		dialog: 'dialog,[role=dialog],[role=alertdialog]',
		navigation: 'nav,[role=navigation]',
		form: 'form,[role=form]',
		tab: '[role=tab]',
		menuitem: '[role=menuitem]'
	};
	switch (d.kind) {
	case 'css':
		return Array.from(document.querySelectorAll(d.expr));
	case 'attribute':
		return Array.from(document.querySelectorAll('[' + d.key + '="' + CSS.escape(d.value || '') + '"]'));
	case 'role': {
		const sel = roles[d.role] || '[role="' + d.role + '"]';
		let els = Array.from(document.querySelectorAll(sel));
		if (d.name) {
			const want = d.name.toLowerCase();
			els = els.filter(el => accName(el).toLowerCase().includes(want));
		}
		return els;
	}
	case 'text': {
		const hits = Array.from(document.body ? document.body.querySelectorAll('*') : [])
			.filter(el => !['SCRIPT', 'STYLE', 'NOSCRIPT'].includes(el.tagName) && matchText(text(el)));
		return hits.filter(el => !hits.some(other => other !== el && el.contains(other)));
	}
	}
	return [];
})`

// helperScript holds the shared predicates every locator script relies on.
const helperScript = `
	const visible = el => {
		if (!el || !el.isConnected) return false;
		const style = getComputedStyle(el);
		if (style.visibility === 'hidden' || style.display === 'none') return false;
		const r = el.getBoundingClientRect();
		return r.width > 0 && r.height > 0;
	};
	const describe = el => {
		if (!el) return '';
		let s = el.tagName.toLowerCase();
		if (el.id) s += '#' + el.id;
		if (typeof el.className === 'string' && el.className.trim()) s += '.' + el.className.trim().split(/\s+/).slice(0, 2).join('.');
		return s;
	};
`

// locatorScript wraps body so it runs with `els` (all matches) and `el` (the
// nth match, possibly undefined) in scope.
func locatorScript(d selector.Descriptor, nth int, body string) (string, error) {
	raw, err := json.Marshal(payloadFor(d))
	if err != nil {
		return "", fmt.Errorf("failed to encode descriptor %s: %w", d, err)
	}
	return fmt.Sprintf(`(() => {
	%s
	const els = %s(%s);
	const el = els[%d];
	%s
})()`, helperScript, finderScript, raw, nth, body), nil
}

const (
	countBody = `return els.length;`

	stateBody = `return { count: els.length, visible: visible(el) };`

	textBody = `if (!el) return { found: false, text: '' };
	return { found: true, text: el.textContent || '' };`

	// clickProbeBody scrolls the target into view and reports where a real
	// pointer click would land, or why it cannot.
	clickProbeBody = `if (!el) return { status: 'missing' };
	if (!el.isConnected) return { status: 'stale' };
	el.scrollIntoView({ block: 'center', inline: 'center' });
	if (!visible(el)) return { status: 'hidden' };
	if (el.disabled) return { status: 'disabled' };
	const r = el.getBoundingClientRect();
	const x = r.left + r.width / 2, y = r.top + r.height / 2;
	const hit = document.elementFromPoint(x, y);
	if (hit && hit !== el && !el.contains(hit)) return { status: 'intercepted', by: describe(hit) };
	return { status: 'ok', x: x, y: y };`

	forceClickBody = `if (!el) return { status: 'missing' };
	if (!el.isConnected) return { status: 'stale' };
	el.click();
	return { status: 'ok' };`

	clearBody = `if (!el) return { status: 'missing' };
	if (!el.isConnected) return { status: 'stale' };
	el.focus();
	if ('value' in el && !el.readOnly && !el.disabled) {
		el.value = '';
		el.dispatchEvent(new Event('input', { bubbles: true }));
		el.dispatchEvent(new Event('change', { bubbles: true }));
		return { status: 'ok' };
	}
	if (el.isContentEditable) {
		el.textContent = '';
		el.dispatchEvent(new Event('input', { bubbles: true }));
		return { status: 'ok' };
	}
	return { status: 'readonly' };`
)

// probeResult is the common shape returned by click, clear and fill scripts.
type probeResult struct {
	Status string  `json:"status"`
	By     string  `json:"by,omitempty"`
	X      float64 `json:"x,omitempty"`
	Y      float64 `json:"y,omitempty"`
}

func (r probeResult) err(d selector.Descriptor) error {
	switch r.Status {
	case "ok":
		return nil
	case "missing":
		return fmt.Errorf("%w: %s", ErrElementNotFound, d)
	case "stale":
		return fmt.Errorf("%w: %s", ErrStaleElement, d)
	case "hidden":
		return fmt.Errorf("%w: %s", ErrNotVisible, d)
	case "disabled", "readonly":
		return fmt.Errorf("%w: %s is %s", ErrNotEditable, d, r.Status)
	case "intercepted":
		return fmt.Errorf("%w: %s receives pointer events instead of %s", ErrIntercepted, r.By, d)
	}
	return fmt.Errorf("unexpected probe status %q for %s", r.Status, d)
}
