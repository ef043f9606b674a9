package hotpath

import (
	"time"

	"github.com/coral-mesh/hotpath/pkg/hotpath/report"
)

// queryTimeout bounds how long a live-query caller waits for the
// worker. A timeout means "no data available", never an error to
// propagate loudly.
const queryTimeout = 100 * time.Millisecond

// Snapshot returns a point-in-time report of the active session's
// aggregate. The second return is false when no session is active,
// the session is shutting down, or the worker did not answer within
// the query timeout; callers must treat absence as a normal case.
func Snapshot() (*report.Report, bool) {
	resp, ok := dispatch(query{kind: querySnapshot, resp: make(chan queryResponse, 1)})
	if !ok || resp.report == nil {
		return nil, false
	}
	return resp.report, true
}

// RecentSamples returns the most recent raw values recorded for one
// function, oldest first. Absence of data (unknown function, no
// session, timeout) returns ok=false.
func RecentSamples(function string) ([]uint64, bool) {
	resp, ok := dispatch(query{kind: querySamples, function: function, resp: make(chan queryResponse, 1)})
	if !ok || resp.samples == nil {
		return nil, false
	}
	return resp.samples, true
}

func dispatch(q query) (queryResponse, bool) {
	s := activeSession()
	if s == nil || s.closed.Load() {
		return queryResponse{}, false
	}

	timer := time.NewTimer(queryTimeout)
	defer timer.Stop()

	select {
	case s.queryCh <- q:
	case <-timer.C:
		return queryResponse{}, false
	}

	select {
	case resp := <-q.resp:
		return resp, true
	case <-timer.C:
		return queryResponse{}, false
	}
}
