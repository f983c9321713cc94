/*
Package monitoring provides Prometheus metrics for the service.

# Overview

Metrics tracks HTTP traffic, the browser session lifecycle (started, failed,
closed by reason, lifetime), navigations, load settlement and the event
stream. It implements session.Recorder so sessions report into it directly.

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	mgr := session.NewManager(launcher, session.Options{Recorder: metrics})
	mgr.OnCountChange(metrics.SetSessionsActive)
*/
package monitoring
