package browser

// In-page scripts. Each returns a JSON string so results decode with
// encoding/json instead of walking gson values.

// snapshotJS reads classifier signals, CTA candidates and frames. It tags
// candidates and frames with data-af-* attributes so later clicks and frame
// descents can address them. Tags from earlier snapshots are cleared first so
// an index names one element.
const snapshotJS = `(fillSel, captchaSel) => {
  document.querySelectorAll('[data-af-cta]').forEach(el => el.removeAttribute('data-af-cta'));
  document.querySelectorAll('[data-af-frame]').forEach(el => el.removeAttribute('data-af-frame'));
  const clickSel = 'a[href], button, [role=button], input[type=submit], input[type=button]';
  const vis = (el) => {
    const r = el.getBoundingClientRect();
    if (r.width === 0 || r.height === 0) return false;
    const cs = getComputedStyle(el);
    return cs.visibility !== 'hidden' && cs.display !== 'none' && cs.opacity !== '0';
  };
  const body = document.body;
  const text = (body && body.innerText) || '';
  const fillable = Array.from(document.querySelectorAll(fillSel)).filter(vis);
  const passwords = fillable.filter(el => (el.type || '').toLowerCase() === 'password').length;
  const clickable = Array.from(document.querySelectorAll(clickSel)).filter(vis).slice(0, 200);
  const areas = clickable.map(el => { const r = el.getBoundingClientRect(); return r.width * r.height; });
  const maxArea = Math.max(1, ...areas);
  const candidates = clickable.map((el, i) => {
    el.setAttribute('data-af-cta', String(i));
    const parent = el.parentElement;
    const peers = parent ? parent.querySelectorAll(clickSel).length : 1;
    const bg = getComputedStyle(el).backgroundColor;
    const filled = bg && bg !== 'transparent' && bg !== 'rgba(0, 0, 0, 0)';
    return {
      text: (el.innerText || el.value || '').trim().slice(0, 120),
      aria_label: el.getAttribute('aria-label') || '',
      data_action: el.getAttribute('data-action') || el.getAttribute('data-automation-id') || el.getAttribute('data-qa') || '',
      href: el.href || '',
      tag: el.tagName.toLowerCase(),
      selector: '[data-af-cta="' + i + '"]',
      prominence: Math.min(1, (areas[i] / maxArea) * (filled ? 1 : 0.7)),
      isolated: peers <= 1,
      order: i,
    };
  });
  const frames = [];
  document.querySelectorAll('iframe').forEach((f, i) => {
    f.setAttribute('data-af-frame', String(i));
    if (f.src && !f.src.startsWith('about:')) frames.push({ ref: String(i), url: f.src });
  });
  return JSON.stringify({
    url: location.href,
    title: document.title,
    main_text: text.slice(0, 5000),
    form_count: document.forms.length,
    input_count: fillable.length - passwords,
    password_count: passwords,
    captcha_widgets: document.querySelectorAll(captchaSel).length,
    loading: document.readyState !== 'complete',
    candidates: candidates,
    frames: frames,
    fingerprint: [location.href, document.title, document.forms.length, fillable.length, text.length].join('|'),
  });
}`

// documentJS serialises a clone of the document in which every control the
// user cannot see carries the hidden attribute. The clone keeps element
// order, so structural selectors computed on it resolve in the live page.
const documentJS = `() => {
  const sel = 'input, select, textarea, [role=combobox], [role=listbox], [role=radio], [role=checkbox], [role=switch], [contenteditable=true][role=textbox]';
  const clone = document.documentElement.cloneNode(true);
  const live = document.documentElement.querySelectorAll(sel);
  const copies = clone.querySelectorAll(sel);
  live.forEach((el, i) => {
    const r = el.getBoundingClientRect();
    const cs = getComputedStyle(el);
    const hiddenRadio = (el.type === 'radio' || el.type === 'checkbox') && el.labels && el.labels.length > 0;
    if (!hiddenRadio && (r.width === 0 || r.height === 0 || cs.visibility === 'hidden' || cs.display === 'none')) {
      if (copies[i]) copies[i].setAttribute('hidden', '');
    }
  });
  return '<!DOCTYPE html>' + clone.outerHTML;
}`

// controlHelpers resolves the members behind a field selector. A radio
// selector may point at one input or at its fieldset/radiogroup container;
// a custom dropdown owns its options through aria-controls, aria-owns or a
// nested listbox.
const controlHelpers = `
  const vis = (el) => {
    const r = el.getBoundingClientRect();
    if (r.width === 0 || r.height === 0) return false;
    const cs = getComputedStyle(el);
    return cs.visibility !== 'hidden' && cs.display !== 'none';
  };
  const norm = (s) => (s || '').replace(/\s+/g, ' ').trim().toLowerCase();
  const radios = (el) => {
    if (el.matches('input[type=radio]')) {
      return el.name ? Array.from(document.querySelectorAll('input[type=radio][name="' + CSS.escape(el.name) + '"]')) : [el];
    }
    if (el.getAttribute('role') === 'radio') {
      const g = el.closest('[role=radiogroup]');
      return g ? Array.from(g.querySelectorAll('[role=radio]')) : [el];
    }
    return Array.from(el.querySelectorAll('input[type=radio], [role=radio]'));
  };
  const isGroup = (el) => el.matches('input[type=radio], [role=radio], fieldset, [role=radiogroup]');
  const labelOf = (r) => {
    const l = r.labels && r.labels[0];
    return ((l && l.innerText) || r.getAttribute('aria-label') || r.innerText || r.value || '').trim();
  };
  const checked = (r) => r.checked === true || r.getAttribute('aria-checked') === 'true';
  const isCombo = (el) => el.tagName !== 'SELECT' && el.matches('[role=combobox], [role=listbox]');
  const listFor = (el) => {
    const ids = (el.getAttribute('aria-controls') || el.getAttribute('aria-owns') || '').split(/\s+/).filter(Boolean);
    for (const id of ids) {
      const l = document.getElementById(id);
      if (l) return l;
    }
    if (el.getAttribute('role') === 'listbox') return el;
    return el.querySelector('[role=listbox]') || Array.from(document.querySelectorAll('[role=listbox]')).find(vis) || null;
  };
  const comboOptions = (el) => {
    const l = listFor(el);
    return l ? Array.from(l.querySelectorAll('[role=option]')).filter(vis) : [];
  };
  const openCombo = async (el) => {
    let opts = comboOptions(el);
    if (opts.length) return opts;
    el.scrollIntoView({ block: 'center' });
    el.click();
    for (let i = 0; i < 20 && !opts.length; i++) {
      await new Promise(r => setTimeout(r, 100));
      opts = comboOptions(el);
    }
    return opts;
  };
  const comboValue = (el) => {
    if ('value' in el && el.value) return el.value;
    const active = el.getAttribute('aria-activedescendant');
    const a = active && document.getElementById(active);
    if (a) return a.innerText.trim();
    const sel = listFor(el) && listFor(el).querySelector('[role=option][aria-selected=true]');
    if (sel) return sel.innerText.trim();
    return (el.innerText || '').trim();
  };
`

// optionsJS lists option labels for a select, a radio group or a custom
// dropdown. Dropdowns are opened to render their options.
const optionsJS = `async (sel) => {` + controlHelpers + `
  const el = document.querySelector(sel);
  if (!el) return JSON.stringify([]);
  if (el.tagName === 'SELECT') {
    return JSON.stringify(Array.from(el.options).filter(o => o.value !== '').map(o => o.text.trim()));
  }
  if (isCombo(el)) {
    const opts = await openCombo(el);
    const labels = opts.map(o => o.innerText.trim()).filter(t => t !== '');
    document.dispatchEvent(new KeyboardEvent('keydown', { key: 'Escape', bubbles: true }));
    return JSON.stringify(labels);
  }
  return JSON.stringify(radios(el).map(labelOf));
}`

// chooseJS checks the radio in the matched group whose label or value
// equals want, or sets a checkbox from a yes/no style value.
const chooseJS = `(sel, want) => {` + controlHelpers + `
  const el = document.querySelector(sel);
  if (!el) return JSON.stringify({ ok: false, error: 'no element' });
  if (!isGroup(el)) {
    const box = el.matches('input[type=checkbox], [role=checkbox], [role=switch]') ? el : el.querySelector('input[type=checkbox], [role=checkbox], [role=switch]');
    if (!box) return JSON.stringify({ ok: false, error: 'no checkbox' });
    const on = ['yes', 'true', 'on', '1', 'checked', 'oui', 'ja', 'si'].includes(norm(want));
    if (checked(box) !== on) box.click();
    return JSON.stringify({ ok: true });
  }
  for (const r of radios(el)) {
    if (norm(labelOf(r)) === norm(want) || norm(r.value) === norm(want)) {
      r.click();
      return JSON.stringify({ ok: true });
    }
  }
  return JSON.stringify({ ok: false, error: 'no option ' + want });
}`

// comboJS opens a custom dropdown and clicks the option labelled want.
const comboJS = `async (sel, want) => {` + controlHelpers + `
  const el = document.querySelector(sel);
  if (!el) return JSON.stringify({ ok: false, error: 'no element' });
  const opts = await openCombo(el);
  if (!opts.length) return JSON.stringify({ ok: false, error: 'dropdown did not open' });
  const hit = opts.find(o => norm(o.innerText) === norm(want)) || opts.find(o => norm(o.getAttribute('data-value')) === norm(want));
  if (!hit) return JSON.stringify({ ok: false, error: 'no option ' + want });
  hit.scrollIntoView({ block: 'nearest' });
  hit.click();
  return JSON.stringify({ ok: true });
}`

// setValueJS assigns a value through the native setter so framework
// listeners see an input event.
const setValueJS = `(sel, value) => {
  const el = document.querySelector(sel);
  if (!el) return false;
  const proto = el.tagName === 'TEXTAREA' ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
  Object.getOwnPropertyDescriptor(proto, 'value').set.call(el, value);
  el.dispatchEvent(new Event('input', { bubbles: true }));
  return true;
}`

// validateJS fires change and blur, then reads the control back.
const validateJS = `(sel) => {` + controlHelpers + `
  const el = document.querySelector(sel);
  if (!el) return JSON.stringify({ value: '', valid: false, message: 'element gone' });
  const group = isGroup(el) ? radios(el) : [];
  const target = group.length ? (group.find(checked) || group[0]) : el;
  target.dispatchEvent(new Event('change', { bubbles: true }));
  target.dispatchEvent(new Event('blur', { bubbles: true }));
  if (typeof target.blur === 'function') target.blur();
  let value = el.value || '';
  if (el.tagName === 'SELECT') {
    const o = el.options[el.selectedIndex];
    value = o ? o.text.trim() : '';
  } else if (group.length) {
    const on = group.find(checked);
    value = on ? labelOf(on) : '';
  } else if (isCombo(el)) {
    value = comboValue(el);
  } else if (el.type === 'checkbox' || el.matches('[role=checkbox], [role=switch]')) {
    value = checked(el) ? 'true' : 'false';
  } else if (el.type === 'file') {
    value = el.files && el.files.length ? el.files[0].name : '';
  } else if (el.isContentEditable) {
    value = el.innerText;
  }
  let valid = true;
  let message = '';
  for (const c of group.length ? group : [el]) {
    if (c.validity && !c.validity.valid) { valid = false; message = message || c.validationMessage || ''; }
    if (c.getAttribute('aria-invalid') === 'true') valid = false;
  }
  if (el.getAttribute('aria-invalid') === 'true') valid = false;
  const box = el.closest('.field, .form-group, .application-question, [data-automation-id], li, div') || el;
  const e = box.querySelector('.error, .field-error, .invalid-feedback, [role=alert]');
  if (e && e.innerText.trim() !== '') { valid = false; message = message || e.innerText.trim(); }
  const by = el.getAttribute('aria-describedby');
  if (!valid && !message && by) {
    message = by.split(/\s+/).map(id => { const d = document.getElementById(id); return d ? d.innerText.trim() : ''; }).join(' ').trim();
  }
  return JSON.stringify({ value: value, valid: valid, message: message });
}`

// fragmentJS returns the outer HTML of the matched element's field
// container.
const fragmentJS = `(sel) => {
  const els = document.querySelectorAll(sel);
  if (els.length === 0) return '';
  return Array.from(els).slice(0, 3).map(el => {
    const box = el.closest('.field, .form-group, .application-question, fieldset, li') || el.parentElement || el;
    return box.outerHTML;
  }).join('\n');
}`
