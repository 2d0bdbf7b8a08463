package notify

import (
	"time"

	"go.uber.org/zap"
)

// Reporter narrates one operation. Every line goes to the structured log
// tagged with the topic and, when a hub is attached, to its subscribers.
// A nil *Reporter discards everything.
type Reporter struct {
	topic string
	hub   *Hub
	log   *zap.Logger
}

func NewReporter(hub *Hub, log *zap.Logger, topic string) *Reporter {
	return &Reporter{topic: topic, hub: hub, log: log.With(zap.String("job_id", topic))}
}

func (r *Reporter) Topic() string {
	if r == nil {
		return ""
	}
	return r.topic
}

func (r *Reporter) Start(msg string, fields ...zap.Field) {
	r.emit(EventStart, msg, nil, fields)
}

func (r *Reporter) Info(msg string, fields ...zap.Field) {
	r.emit(EventInfo, msg, nil, fields)
}

// Log is for verbose step detail (one line per file, per probe).
func (r *Reporter) Log(msg string, fields ...zap.Field) {
	r.emit(EventLog, msg, nil, fields)
}

func (r *Reporter) Success(msg string, fields ...zap.Field) {
	r.emit(EventSuccess, msg, nil, fields)
}

func (r *Reporter) Error(msg string, fields ...zap.Field) {
	r.emit(EventError, msg, nil, fields)
}

// Complete publishes the final result of the operation.
func (r *Reporter) Complete(data any) {
	r.emit(EventComplete, "", data, nil)
}

func (r *Reporter) emit(t EventType, msg string, data any, fields []zap.Field) {
	if r == nil {
		return
	}
	if msg != "" {
		fields = append(fields, zap.String("event", string(t)))
		switch t {
		case EventError:
			r.log.Error(msg, fields...)
		case EventLog:
			r.log.Debug(msg, fields...)
		default:
			r.log.Info(msg, fields...)
		}
	}
	if r.hub == nil {
		return
	}
	r.hub.Publish(Event{
		Topic:     r.topic,
		Type:      t,
		Message:   msg,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}
