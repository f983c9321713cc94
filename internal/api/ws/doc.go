// Package ws streams session events to WebSocket clients.
//
// A client connects to /sessions/:id/events and receives one JSON frame per
// event emitted on the session channel, including the decoded AJAX events.
// Frames are encoded with sonic. A slow client never stalls the session:
// frames past the per-connection buffer are dropped and the next frame is
// preceded by an error frame carrying the dropped count. When the session
// closes a "closed" frame is sent and the connection is closed normally.
//
// Clients may send {"type":"ping"} and receive {"type":"pong"}.
package ws
