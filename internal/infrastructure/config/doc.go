// Package config provides 12-factor configuration management for pagepilot.
//
// Values are layered: built-in defaults, then an optional YAML or TOML file,
// then environment variables. CLI flags override the result.
//
// Configuration Sections:
//   - Server: HTTP listen address
//   - Logging: log level and output format
//   - RateLimit: per-IP rate limiting
//   - Browser: engine choice and session defaults
//
// Environment Variables (each also accepts the short name in parentheses):
//   - PILOT_SERVER_PORT (PORT), PILOT_SERVER_HOST (HOST)
//   - PILOT_LOGGING_LOG_LEVEL (LOG_LEVEL), PILOT_LOGGING_LOG_DEV (LOG_DEV)
//   - PILOT_RATE_LIMIT_RATE_LIMIT_RPS (RATE_LIMIT_RPS), ...
//   - PILOT_BROWSER_ENGINE (ENGINE), PILOT_BROWSER_SESSION_TTL (SESSION_TTL),
//     PILOT_BROWSER_ENGINE_ARGS (ENGINE_ARGS, comma separated), ...
//
// Example Usage:
//
//	cfg, err := config.Load("pilot.yaml")
//	if err != nil {
//		return err
//	}
//	fmt.Println(cfg.Server.Addr())
package config
