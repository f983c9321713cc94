// Command pilot serves and runs headless browser sessions.
//
// Usage:
//
//	pilot serve [--host HOST] [--port PORT]
//	pilot run URL [--screenshot page.png] [--events]
//
// Global flags select the engine (--engine sandbox|chrome), pass engine
// switches (--engine-arg --load-images=no) and load a config file
// (--config pilot.yaml). Flags override PILOT_* environment variables,
// which override the config file.
package main
