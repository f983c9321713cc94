// Package logging provides structured logging using uber/zap.
//
// Two modes are available:
//   - Production: JSON output for machine parsing
//   - Development: colored console output for humans
//
// There is no package-level logger. The process builds one Logger at start
// up and every browser session derives its own child from it:
//
//	root := logging.NewDefault()
//	log := root.ForSession("bot:browser", "sess_01H...")
//	log.Debug("page opened", zap.String("url", url))
package logging
