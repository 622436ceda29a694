package log

import "log/slog"

func ScheduleID[T ~string](id T) slog.Attr {
	return slog.String("schedule_id", string(id))
}

func Action[T ~string](name T) slog.Attr {
	return slog.String("action", string(name))
}

func Step[T ~string](name T) slog.Attr {
	return slog.String("step", string(name))
}

func StepIndex(index int) slog.Attr {
	return slog.Int("step_index", index)
}

func Operation[T ~string](name T) slog.Attr {
	return slog.String("operation", string(name))
}

func Error(err error) slog.Attr {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return slog.String("error", msg)
}

func ErrorString(msg string) slog.Attr {
	return slog.String("error", msg)
}
