package workers

import (
	"fmt"

	"github.com/pierstocazzo/atom-game-framework/core"
	"github.com/pierstocazzo/atom-game-framework/log"
)

// MessageListener observes messages as they are sent and processed.
// Implementations must be safe for concurrent use.
type MessageListener interface {
	OnMessageSent(actor any, message core.Descriptor)
	OnProcessingStarted(actor any, message core.Descriptor)
	OnProcessingFinished(actor any, message core.Descriptor)
}

// NullMessageListener ignores everything.
type NullMessageListener struct{}

func (NullMessageListener) OnMessageSent(any, core.Descriptor)        {}
func (NullMessageListener) OnProcessingStarted(any, core.Descriptor)  {}
func (NullMessageListener) OnProcessingFinished(any, core.Descriptor) {}

type logMessageListener struct {
	logger log.Logger
}

// NewLogMessageListener returns a listener that logs every event at debug
// level.
func NewLogMessageListener(logger log.Logger) MessageListener {
	if logger == nil {
		logger = log.Default()
	}
	return &logMessageListener{logger: logger.Named("messages")}
}

func (l *logMessageListener) OnMessageSent(actor any, message core.Descriptor) {
	l.logger.Debug("sent", actorField(actor), log.Stringer("message", message))
}

func (l *logMessageListener) OnProcessingStarted(actor any, message core.Descriptor) {
	l.logger.Debug("processing", actorField(actor), log.Stringer("message", message))
}

func (l *logMessageListener) OnProcessingFinished(actor any, message core.Descriptor) {
	l.logger.Debug("processed", actorField(actor), log.Stringer("message", message))
}

func actorField(actor any) log.Field {
	return log.String("actor", fmt.Sprintf("%T", actor))
}
