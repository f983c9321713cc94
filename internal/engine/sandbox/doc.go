/*
Package sandbox is an in-process headless browser engine.

# Overview

Pages are fetched over HTTP with resty (retrying transport, per-host circuit
breaker, rate limiter, shared cookie jar), parsed with goquery and scripted
with goja. Each navigation gets a fresh VM; timers and XMLHttpRequest
callbacks from a previous document are dropped.

# Concurrency

A Page runs two goroutines. The loop owns the VM: Evaluate, timers and XHR
completions are jobs on it. The dispatcher delivers native events to the
bound forwarders in order, so a forwarder may call back into the page
without deadlocking. Open returns only after onLoadFinished has been
delivered.

# Page Environment

Scripts see window, document (getElementById, querySelector[All],
createEvent, createElement, cookie, title), element proxies (value, checked,
disabled, textContent, innerHTML, focus, blur, click, dispatchEvent,
attributes, listeners), console, timers, XMLHttpRequest, location, alert,
confirm, prompt and window.open. Clicking links and submit buttons
navigates. window.open reports the new tab through onPageCreated before it
starts loading.

Rendering is unsupported: Render returns engine.ErrRenderUnsupported.

# Launch Flags

	--web-security=yes|no       same-origin check for XMLHttpRequest (default yes)
	--ignore-ssl-errors=yes|no  skip TLS verification (default no)
	--load-images=yes|no        fetch <img> sources on load (default no)
	--script-timeout=10s        limit for one script run
*/
package sandbox
