/*
Package engine defines the boundary between browser sessions and the
headless browser that renders their pages.

# Overview

A Launcher starts an Engine process. The Engine creates PageHandles and
reports its own exit through Done. Everything a session does to a page goes
through PageHandle: navigation, script evaluation, properties, rendering and
native event binding.

# Native Events

Engines report page activity as native events. The set of kinds is closed
(see EventKind) and each kind has a wire name such as "onLoadFinished".
Sessions bind a Forwarder per kind once per page handle; an engine calls the
forwarder with the event's positional string arguments.

Implementations live in subpackages:

  - sandbox: in-process engine built on goja and goquery
  - chrome: Chromium driven over CDP with go-rod
  - enginetest: scriptable fake for tests
*/
package engine
