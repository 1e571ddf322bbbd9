package core

import (
	"fmt"

	"github.com/pierstocazzo/atom-game-framework/log"
)

// FailureHandler is notified once for every message that panicked.
type FailureHandler interface {
	HandleFailure(actor any, message Descriptor, fault error)
}

// FailureHandlerFunc adapts a function to FailureHandler.
type FailureHandlerFunc func(actor any, message Descriptor, fault error)

// HandleFailure calls f.
func (f FailureHandlerFunc) HandleFailure(actor any, message Descriptor, fault error) {
	f(actor, message, fault)
}

type logFailureHandler struct {
	logger log.Logger
}

// NewLogFailureHandler returns a FailureHandler that logs at error level.
func NewLogFailureHandler(logger log.Logger) FailureHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &logFailureHandler{logger: logger}
}

func (h *logFailureHandler) HandleFailure(actor any, message Descriptor, fault error) {
	fields := []log.Field{
		log.String("actor", fmt.Sprintf("%T", actor)),
		log.String("message", message.String()),
		log.Err(fault),
	}
	if pe, ok := fault.(*PanicError); ok {
		fields = append(fields, log.String("stack", string(pe.Stack)))
	}
	h.logger.Error("message failed", fields...)
}
