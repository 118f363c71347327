// Package pagination drives offset-paginated Retail Prices queries to
// completion with a bounded pool of in-flight page fetches.
//
// The API pages by $skip in steps of PageSize and signals exhaustion with an
// empty Items array; it does not report a total page count up front. The
// Scheduler therefore keeps up to Concurrency fetches in flight, launching
// page indices in increasing order, until a page comes back empty or the
// soft StopAfter threshold is reached.
//
// Example usage:
//
//	api, _ := client.New(client.DefaultConfig())
//	cfg := pagination.DefaultConfig()
//	cfg.StopAfter = 5000
//	sched, _ := pagination.NewScheduler(api, cfg, nil)
//	records, err := sched.Run(ctx)
//
// The scheduler:
//   - Owns all run state on a single driver goroutine (no locks)
//   - Runs each page fetch in its own goroutine, reporting on a buffered channel
//   - Spaces new fetch starts with a ratelimit.StartLimiter (300ms by default)
//   - Logs progress once per ReportInterval and once more at the end
//   - Aborts the whole run on the first transport/HTTP/decode error
//   - Treats a page without an Items key as empty, without ending pagination
package pagination
