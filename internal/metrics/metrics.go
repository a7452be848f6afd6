package metrics

import "sync/atomic"

var (
	batchesStarted    int64
	sessionsCompleted int64
	sessionsFailed    int64
	windowsCompleted  int64
	windowsFailed     int64
	analysisRetries   int64
)

func IncBatchStarted()           { atomic.AddInt64(&batchesStarted, 1) }
func IncSessionCompleted()       { atomic.AddInt64(&sessionsCompleted, 1) }
func IncSessionFailed()          { atomic.AddInt64(&sessionsFailed, 1) }
func IncWindowCompleted()        { atomic.AddInt64(&windowsCompleted, 1) }
func IncWindowFailed()           { atomic.AddInt64(&windowsFailed, 1) }
func AddAnalysisRetries(n int64) { atomic.AddInt64(&analysisRetries, n) }

func Snapshot() map[string]int64 {
	return map[string]int64{
		"batches_started":    atomic.LoadInt64(&batchesStarted),
		"sessions_completed": atomic.LoadInt64(&sessionsCompleted),
		"sessions_failed":    atomic.LoadInt64(&sessionsFailed),
		"windows_completed":  atomic.LoadInt64(&windowsCompleted),
		"windows_failed":     atomic.LoadInt64(&windowsFailed),
		"analysis_retries":   atomic.LoadInt64(&analysisRetries),
	}
}
