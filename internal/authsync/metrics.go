package authsync

// リモート呼び出しの種別（メトリクスのラベル）。
const (
	OpGetSession    = "get_session"
	OpProfileLookup = "profile_lookup"
	OpProfileInsert = "profile_insert"
	OpProfileUpdate = "profile_update"
	OpSignOut       = "sign_out"
)

// プロフィール解決の結果（メトリクスのラベル）。
const (
	OutcomeFound        = "found"
	OutcomeCreated      = "created"
	OutcomeCreateFailed = "create_failed"
	OutcomeUnresolved   = "unresolved"
)

// MetricsRecorder はSynchronizerのメトリクス記録先。
type MetricsRecorder interface {
	RecordResolution(outcome string)
	RecordRemoteFailure(operation string)
	RecordLinkPromotion()
	RecordSessionEvent(event string)
}

type nopMetrics struct{}

func (nopMetrics) RecordResolution(string)    {}
func (nopMetrics) RecordRemoteFailure(string) {}
func (nopMetrics) RecordLinkPromotion()       {}
func (nopMetrics) RecordSessionEvent(string)  {}
