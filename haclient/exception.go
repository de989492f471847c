package haclient

import "log/slog"

// exceptionTracker centralizes the propagation policy of spec.md §7:
// operational faults inside per-broker clients and the coordinator's
// best-effort return-handling path are logged, handed to the user's
// ExceptionCallback (default no-op), and otherwise swallowed.
type exceptionTracker struct {
	logger   *slog.Logger
	callback ExceptionCallback
}

func newExceptionTracker(logger *slog.Logger, cb ExceptionCallback) *exceptionTracker {
	return &exceptionTracker{logger: logger, callback: cb}
}

func (t *exceptionTracker) track(op string, source interface{}, context interface{}, err error) {
	if err == nil {
		return
	}
	t.logger.Error("tracked exception",
		"function", op,
		"error", err.Error())
	if t.callback != nil {
		t.callback(err, context, source)
	}
}
