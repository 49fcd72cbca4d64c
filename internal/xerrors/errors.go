// Package xerrors declares the domain error kinds from the system's error
// handling design: transport faults, parse faults, protocol gaps, bootstrap
// faults, backpressure, configuration faults, and backtest data faults.
// Each is a sentinel wrapped with fmt.Errorf("...: %w", Err) at the call
// site so callers can still errors.Is against the kind.
package xerrors

import "errors"

var (
	// ErrFeedUnavailable marks a feed that stays unreachable past a backoff
	// ceiling. The feed client reconnects without limit and does not return
	// it.
	ErrFeedUnavailable = errors.New("feed: unavailable after backoff ceiling")

	// ErrTransport wraps a socket open/read/write failure. Never fatal.
	ErrTransport = errors.New("feed: transport error")

	// ErrParse wraps a malformed wire payload. The message is dropped.
	ErrParse = errors.New("feed: malformed payload")

	// ErrProtocolGap marks a version discontinuity in the depth stream.
	// Diagnostic only; never fatal, since the exchange sends full refreshes.
	ErrProtocolGap = errors.New("feed: version gap")

	// ErrBootstrap marks a failed initial REST snapshot. The symbol
	// proceeds with empty state; the first depth message seeds the book.
	ErrBootstrap = errors.New("feed: bootstrap snapshot failed")

	// ErrSinkBackpressure marks a full persistent-sink channel. This is a
	// correctness boundary: the producer must block, not drop.
	ErrSinkBackpressure = errors.New("sink: backpressure")

	// ErrDetectorOverflow marks a full advisory detector channel. Oldest
	// messages are dropped; this is explicitly non-fatal.
	ErrDetectorOverflow = errors.New("detector: channel overflow")

	// ErrConfigInvalid is fatal only at process startup.
	ErrConfigInvalid = errors.New("config: invalid configuration")

	// ErrDataUnavailable marks an empty price or event series for a
	// requested backtest window. The run returns an empty result, flagged.
	ErrDataUnavailable = errors.New("backtest: no data for window")

	// ErrInsufficientCapital marks a signal that could not open a
	// position. The signal is skipped, not fatal.
	ErrInsufficientCapital = errors.New("backtest: insufficient capital")
)
