package session

// Page-side function bodies passed to PageHandle.Evaluate. They stay within
// ES5 so every engine can run them.

// resolveTarget is shared by the positional actions: a lone "#id" selector
// goes through getElementById and ignores position, anything else indexes
// querySelectorAll.
const resolveTarget = `
	var target = null;
	if (selector.split(" ").length == 1 && selector.charAt(0) == "#") {
		target = document.getElementById(selector.substr(1));
	} else {
		target = document.querySelectorAll(selector)[position] || null;
	}
`

const clickScript = `function (selector, position) {` + resolveTarget + `
	if (!target) return false;
	target.focus();
	var ev = document.createEvent("MouseEvents");
	ev.initEvent("click", true, true);
	target.dispatchEvent(ev);
	return true;
}`

const fillFieldScript = `function (selector, value, position) {
	try {` + resolveTarget + `
		if (!target) return null;
		target.focus();
		target.value = value;
		target.blur();
		return true;
	} catch (e) {
		return null;
	}
}`

const selectScript = `function (selector, value, position) {` + resolveTarget + `
	if (!target) return false;
	target.focus();
	var evt = document.createEvent("HTMLEvents");
	evt.initEvent("change", false, true);
	target.value = value;
	target.dispatchEvent(evt);
	target.blur();
	return true;
}`

// findTextScript returns null when the element is missing and false when the
// text is not in it.
const findTextScript = `function (selector, text, literal) {
	var element = document.querySelector(selector);
	if (!element) return null;
	var content = element.textContent || "";
	if (literal) return content == text;
	return content.indexOf(text) > -1;
}`

const enabledScript = `function (selector) {
	var el = document.querySelector(selector);
	if (!el) return null;
	el.disabled = null;
	return true;
}`

const getTextScript = `function (selector) {
	var el = document.querySelector(selector);
	if (!el) return null;
	return el.textContent;
}`

const existsScript = `function (selector) {
	try {
		if (document.querySelector(selector)) return true;
	} catch (e) {}
	return !!document.getElementById(selector);
}`

// ajaxInstrumentation wraps XMLHttpRequest.open so every request reports its
// start and completion over the console protocol.
const ajaxInstrumentation = `function () {
	if (typeof XMLHttpRequest === "undefined" || XMLHttpRequest.prototype.__pilotWrapped) return false;
	var origOpen = XMLHttpRequest.prototype.open;
	XMLHttpRequest.prototype.open = function () {
		console.log("__PHANTOMJS_EVENT__AJAX_STARTED;;||;;", this.readyState, ";;||;;");
		this.addEventListener("load", function () {
			if (this.readyState == 4) {
				console.log("__PHANTOMJS_EVENT__AJAX_COMPLETE ;;||;;", this.readyState, ";;||;;", this.responseText);
			}
		});
		return origOpen.apply(this, arguments);
	};
	XMLHttpRequest.prototype.__pilotWrapped = true;
	return true;
}`

// replaceEventsScript probes for jQuery before touching it and reports
// whether handlers were rewrapped.
const replaceEventsScript = `function () {
	if (typeof jQuery === "undefined" || !jQuery._data) return false;
	var defined = [];
	function collect(elements) {
		for (var x = 0; x < elements.length; x++) {
			var evts = jQuery._data(elements[x], "events");
			if (evts) defined.push(evts);
		}
	}
	collect(jQuery("a"));
	collect(jQuery("input"));
	collect(jQuery("textarea"));
	for (var x = 0; x < defined.length; x++) {
		var target = defined[x];
		var names = Object.keys(target);
		for (var v = 0; v < names.length; v++) {
			var binds = Object.keys(target[names[v]]);
			for (var i = 0; i < binds.length; i++) {
				var bind = target[names[v]][binds[i]];
				if (bind.handler) {
					(function (bind) {
						var f = bind.handler;
						bind.handler = function () { return f.apply(null, arguments); };
					})(bind);
				}
			}
		}
	}
	return true;
}`
