package events

import "github.com/rs/zerolog"

// LogObserver returns an observer that mirrors events into logger at debug
// level. Streaming deltas are logged at trace level.
func LogObserver(logger zerolog.Logger) func(Event) {
	return func(e Event) {
		ev := logger.Debug()
		switch e.Kind {
		case StreamingDelta, ToolProgress:
			ev = logger.Trace()
		case Error:
			ev = logger.Warn()
		}
		ev = ev.
			Str("event", string(e.Kind)).
			Str("thread_id", e.ThreadID).
			Str("run_id", e.RunID).
			Int("seq", e.Seq)
		if e.Node != "" {
			ev = ev.Str("node", e.Node)
		}
		if e.Tool != nil {
			ev = ev.Str("tool", e.Tool.Name).Str("call_id", e.Tool.CallID)
			if e.Kind == ToolResult {
				ev = ev.Bool("is_error", e.Tool.IsError).Int("output_len", len(e.Tool.Output))
			}
		}
		if e.Confirmation != nil {
			ev = ev.Int("gated_calls", len(e.Confirmation.Calls))
		}
		if e.Compaction != nil {
			ev = ev.Int("before_tokens", e.Compaction.BeforeTokens).Int("after_tokens", e.Compaction.AfterTokens)
		}
		if e.Err != "" {
			ev = ev.Str("error", e.Err)
		}
		if e.Kind == RunDone {
			ev = ev.Bool("interrupted", e.Interrupted)
		}
		ev.Msg("event")
	}
}
