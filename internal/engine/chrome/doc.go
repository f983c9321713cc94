// Package chrome drives a real Chromium over the DevTools protocol with
// go-rod and exposes it through the engine interfaces.
//
// Every tab owns a dispatch queue so DevTools events, dialog reports and
// load completions reach forwarders in the order Chrome produced them.
// Popups are attached when Chrome reports a target with a known opener;
// their events stay buffered until the opener's onPageCreated forwarder
// has returned.
//
// Headless-browser style switches are translated to Chrome flags where an
// equivalent exists (--web-security=no, --ignore-ssl-errors=yes,
// --load-images=no, --proxy); the rest pass through untouched.
package chrome
