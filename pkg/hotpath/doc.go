// Package hotpath is an in-process profiling engine. It measures
// per-call-site execution time or allocation behavior of guarded
// code, aggregates measurements on a single background worker without
// blocking the measured code, and renders statistical reports
// (percentiles, totals, shares of total) at session end or on live
// query.
//
// A session brackets one profiling run. At most one session is active
// per process:
//
//	sess := hotpath.MustStart(hotpath.WithPercentiles(50, 95, 99))
//	defer sess.Stop()
//
// Instrumented code wraps work in guards:
//
//	func handle() {
//		defer hotpath.Start("handle").End()
//		// ...
//	}
//
// With no active session a guard is a shared no-op, so instrumented
// code can ship with guards compiled in at negligible cost.
//
// Allocation modes attribute allocation deltas reported through the
// alloctrack hook to the innermost guard on the reporting goroutine.
// An allocation guard whose End runs on a different goroutine than
// its Start cannot be attributed and is reported as an explicit "N/A"
// rather than a silently wrong number.
package hotpath
