/*
Package session drives a headless browser engine: one Session owns an engine
process, its active page and every tab that page opened.

# Lifecycle

New returns immediately and starts the engine in the background. Ready
blocks until the first page exists; callers that arrive early are released
in arrival order. A launch failure is fatal: Ready, Err and every action
return an error wrapping ErrInitFailed.

Close waits for readiness, asks the engine to exit and returns once the
process is gone. It is idempotent. An idle monitor closes the session on its
own once no activity was recorded for Options.TTL. Every action that reaches
the engine counts as activity (Open, BrowseTo, Evaluate and the DOM actions
built on it, Loaded, WaitForURL, Sleep, Screenshot, GetCookies); Ready, ID,
Page and Tabs do not.

# Load Settlement

A navigation is settled once the engine reported onLoadFinished and then
either an AJAX request completed or Options.AjaxTimeout elapsed. Loaded waits
for settlement; if the page already finished loading since the previous call
it returns at once.

# Tabs

Pages opened by the active page (window.open, target=_blank) become the
active page and are bound to the same event channel.
*/
package session
