package notify

import (
	"context"
	"encoding/json"
	"log"
)

// LogNotifier writes events to the process log. It is the default sink and
// the fallback when no external channel is configured.
type LogNotifier struct {
	logger *log.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: log.Default()}
}

func (n *LogNotifier) Notify(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	n.logger.Printf("[NOTIFY] %s: %s", e.Topic, string(data))
	return nil
}

func (n *LogNotifier) Close() error {
	return nil
}

// Multi fans one event out to several sinks. The first error is returned
// after every sink has been attempted.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, e Event) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) Close() error {
	var first error
	for _, n := range m {
		if err := n.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
