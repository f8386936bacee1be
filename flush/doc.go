// Package flush coalesces high-frequency token arrivals into display-rate
// updates.
//
// A Scheduler keeps one accumulator per lane. The first token appended to an
// idle lane requests a single frame from a FrameClock; further tokens only
// accumulate. When the frame fires, the whole accumulated text is handed to
// the handler that is current at fire time, so at most one flush per lane
// happens per frame no matter how fast tokens arrive.
//
// Two clocks are provided: TickerClock paces frames with a time.Ticker
// (60 Hz by default) and ManualClock fires frames on demand for tests and
// replay tooling.
package flush
