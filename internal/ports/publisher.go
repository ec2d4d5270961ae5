package ports

import "context"

// Publisher forwards session lifecycle notifications (e.g. teardown) to an
// external topic so that collaborators outside this process can react.
type Publisher interface {
	Publish(ctx context.Context, topic string, event string, payload []byte) error
}
