// Package billing persists usage accounting for model responses.
//
// Invariants:
// - One Recorder belongs to one model response; Record writes at most once
//   no matter how often or from how many exit paths it is called.
// - Record never fails upward. Persistence trouble is logged and a transient
//   record is still emitted so consumers see the usage numbers.
// - Recording survives consumer cancellation; the write runs on a detached
//   context that keeps tracing identifiers but not the cancellation.
//
// Usage:
//
//	rec := billing.NewRecorder(billing.RecorderConfig{Store: store, ThreadID: th.ID})
//	defer func() { rec.Record(ctx, billing.EstimateUsage(req, text), true) }()
package billing
