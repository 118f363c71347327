package pagination

import "time"

// runState is the bookkeeping of one Run. Only the driver goroutine touches it.
type runState struct {
	outstanding map[int]struct{}
	nextPage    int
	endOfData   bool
	stopAfter   int
	results     []Record
	lastReport  time.Time
}

func newRunState(stopAfter int) *runState {
	return &runState{
		outstanding: make(map[int]struct{}),
		stopAfter:   stopAfter,
	}
}

// belowThreshold reports whether the soft record cap still allows new pages.
func (rs *runState) belowThreshold() bool {
	return rs.stopAfter <= 0 || len(rs.results) < rs.stopAfter
}

// canLaunch reports whether another page may be started.
func (rs *runState) canLaunch(concurrency int) bool {
	return !rs.endOfData && len(rs.outstanding) < concurrency && rs.belowThreshold()
}

// launch claims the next page index and marks it outstanding.
func (rs *runState) launch() int {
	page := rs.nextPage
	rs.outstanding[page] = struct{}{}
	rs.nextPage++
	return page
}

// reap merges a finished page. The end-of-data flag is sticky.
func (rs *runState) reap(res pageResult) {
	delete(rs.outstanding, res.page)
	rs.results = append(rs.results, res.records...)
	if res.endOfData {
		rs.endOfData = true
	}
}

// done reports whether the run may stop: nothing is in flight and either
// records were collected or the API reported the end of data.
func (rs *runState) done() bool {
	return len(rs.outstanding) == 0 && (len(rs.results) > 0 || rs.endOfData)
}
