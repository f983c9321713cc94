/*
Package events multiplexes engine output into named events.

# Overview

Engines report page activity in two ways: native events bound per page
handle (onLoadStarted, onConsoleMessage, ...) and, for some engines, a raw
line-oriented process output. A Channel accepts both and re-emits them
through a single Emitter.

# Console Protocol

Scripts injected into pages cannot reach the host directly, so they log
specially formatted console lines:

	__PHANTOMJS_EVENT__AJAX_STARTED;;||;;
	__PHANTOMJS_EVENT__AJAX_COMPLETE;;||;; 4;;||;; {"ok":true}

The channel decodes these into the internal AJAX_STARTED and AJAX_COMPLETE
events. Any other console line is logged at debug level.

# Ordering

Handlers for one event name run in registration order on the goroutine that
called Emit. Once handlers are detached before they run.
*/
package events
