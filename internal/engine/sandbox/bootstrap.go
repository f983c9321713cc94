package sandbox

// bootstrapJS installs the pure-script part of the page environment on top
// of the host bindings: DOM events and XMLHttpRequest over __host.request.
const bootstrapJS = `(function (global, host) {
	function Event(type, init) {
		init = init || {};
		this.type = type ? String(type) : "";
		this.bubbles = !!init.bubbles;
		this.cancelable = !!init.cancelable;
		this.defaultPrevented = false;
		this.target = null;
		this.currentTarget = null;
		this.timeStamp = Date.now();
		this._stop = false;
	}
	Event.prototype.initEvent = function (type, bubbles, cancelable) {
		this.type = String(type);
		this.bubbles = !!bubbles;
		this.cancelable = !!cancelable;
	};
	Event.prototype.preventDefault = function () {
		if (this.cancelable) this.defaultPrevented = true;
	};
	Event.prototype.stopPropagation = function () { this._stop = true; };
	Event.prototype.stopImmediatePropagation = function () { this._stop = true; };
	global.Event = Event;
	global.MouseEvent = Event;
	global.CustomEvent = function (type, init) {
		Event.call(this, type, init);
		this.detail = init && init.detail !== undefined ? init.detail : null;
	};
	global.CustomEvent.prototype = Object.create(Event.prototype);
	global.document.createEvent = function () { return new Event(""); };

	function XMLHttpRequest() {
		this.readyState = 0;
		this.status = 0;
		this.statusText = "";
		this.responseText = "";
		this.response = "";
		this.responseURL = "";
		this._headers = {};
		this._responseHeaders = {};
		this._listeners = {};
	}
	XMLHttpRequest.UNSENT = 0;
	XMLHttpRequest.OPENED = 1;
	XMLHttpRequest.HEADERS_RECEIVED = 2;
	XMLHttpRequest.LOADING = 3;
	XMLHttpRequest.DONE = 4;

	XMLHttpRequest.prototype.open = function (method, url) {
		this._method = String(method || "GET").toUpperCase();
		this._url = String(url);
		this._aborted = false;
		this.readyState = 1;
		this._fire("readystatechange");
	};
	XMLHttpRequest.prototype.setRequestHeader = function (name, value) {
		this._headers[String(name)] = String(value);
	};
	XMLHttpRequest.prototype.getResponseHeader = function (name) {
		var v = this._responseHeaders[String(name).toLowerCase()];
		return v === undefined ? null : v;
	};
	XMLHttpRequest.prototype.getAllResponseHeaders = function () {
		var out = "";
		for (var k in this._responseHeaders) out += k + ": " + this._responseHeaders[k] + "\r\n";
		return out;
	};
	XMLHttpRequest.prototype.addEventListener = function (type, fn) {
		(this._listeners[type] = this._listeners[type] || []).push(fn);
	};
	XMLHttpRequest.prototype.removeEventListener = function (type, fn) {
		var ls = this._listeners[type] || [];
		for (var i = 0; i < ls.length; i++) {
			if (ls[i] === fn) { ls.splice(i, 1); return; }
		}
	};
	XMLHttpRequest.prototype._fire = function (type) {
		var ev = new Event(type);
		ev.target = this;
		ev.currentTarget = this;
		var handler = this["on" + type];
		if (typeof handler === "function") handler.call(this, ev);
		var ls = (this._listeners[type] || []).slice();
		for (var i = 0; i < ls.length; i++) ls[i].call(this, ev);
	};
	XMLHttpRequest.prototype.abort = function () {
		this._aborted = true;
		if (this.readyState > 0 && this.readyState < 4) {
			this.readyState = 4;
			this._fire("readystatechange");
			this._fire("abort");
			this._fire("loadend");
		}
		this.readyState = 0;
	};
	XMLHttpRequest.prototype.send = function (body) {
		var self = this;
		self._fire("loadstart");
		host.request(self._method, self._url, self._headers, body == null ? "" : String(body),
			function (status, statusText, text, url, headers, err) {
				if (self._aborted) return;
				if (err) {
					self.readyState = 4;
					self.status = 0;
					self._fire("readystatechange");
					self._fire("error");
					self._fire("loadend");
					return;
				}
				self.status = status;
				self.statusText = statusText;
				self.responseURL = url;
				self._responseHeaders = headers;
				self.readyState = 2;
				self._fire("readystatechange");
				self.responseText = text;
				self.response = text;
				self.readyState = 4;
				self._fire("readystatechange");
				self._fire("load");
				self._fire("loadend");
			});
	};
	global.XMLHttpRequest = XMLHttpRequest;
})(this, __host);`
