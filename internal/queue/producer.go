package queue

import "context"

// Publisher enqueues envelopes. Services depend on this rather than the
// substrate so tests can capture published messages.
type Publisher interface {
	Publish(ctx context.Context, queue string, env *Envelope) error
}

// Producer is the substrate-backed Publisher.
type Producer struct {
	substrate *Substrate
}

// NewProducer creates a producer on the substrate.
func NewProducer(substrate *Substrate) *Producer {
	return &Producer{substrate: substrate}
}

// Publish serializes the envelope and pushes it onto the queue.
func (p *Producer) Publish(ctx context.Context, queue string, env *Envelope) error {
	raw, err := env.Encode()
	if err != nil {
		return err
	}
	return p.substrate.Enqueue(ctx, queue, raw)
}
