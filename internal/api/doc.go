// Package api hosts the read-only REST handlers for live run progress.
// Routes, mounted next to /metrics:
//   - GET /api/run for the run snapshot.
//   - GET /api/run/categories?state=&limit=&offset= for category progress.
//   - GET /api/run/categories/{name} for one category.
package api
