package event

import (
	"strings"

	"sshvpn/util"
)

// OutputOpPrefix marks LogEvents that carry raw child-process output.
const OutputOpPrefix = "output."

// LoggerSink prints events through a util.Logger.  Raw child output is
// only shown at -vv; everything else at normal verbosity.
type LoggerSink struct {
	Logger *util.Logger
}

// NewLoggerSink returns a sink writing to logger.
func NewLoggerSink(logger *util.Logger) *LoggerSink {
	return &LoggerSink{Logger: logger}
}

func (s *LoggerSink) OnStatus(e StatusEvent) {
	msg := "status " + e.Status
	if e.Message != "" {
		msg += ": " + e.Message
	}
	s.Logger.At(e.Time, util.LogNormal, tag(e.Severity), msg)
}

func (s *LoggerSink) OnLog(e LogEvent) {
	level := util.LogNormal
	if strings.HasPrefix(e.Op, OutputOpPrefix) && e.Severity == SeverityInfo {
		level = util.LogVerbose
	}
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	s.Logger.At(e.Time, level, tag(e.Severity), msg)
}

func tag(s Severity) string {
	switch s {
	case SeverityError:
		return "ERR"
	case SeverityWarn:
		return "WRN"
	default:
		return "INF"
	}
}
