package invoicing

import "context"

// SequenceSource reads sequence state inside the posting unit of work.
type SequenceSource interface {
	// MaxSequenceForPrefix returns the highest persisted sequence for a
	// prefix, zero when none exists.
	MaxSequenceForPrefix(ctx context.Context, prefix string) (int64, error)
	// NextSequence atomically increments and returns the persisted counter
	// for a prefix.
	NextSequence(ctx context.Context, prefix string) (int64, error)
}

// SequenceAllocator produces the next invoice number for a prefix.
type SequenceAllocator interface {
	GenerateNext(ctx context.Context, src SequenceSource, prefix string) (InvoiceNumber, error)
}

// MaxAllocator is the legacy strategy: read the current maximum and add one.
// It is optimistic; two concurrent allocators can compute the same number,
// which the posting workflow resolves with a single regenerate-and-retry.
type MaxAllocator struct{}

func (MaxAllocator) GenerateNext(ctx context.Context, src SequenceSource, prefix string) (InvoiceNumber, error) {
	max, err := src.MaxSequenceForPrefix(ctx, prefix)
	if err != nil {
		return InvoiceNumber{}, err
	}
	return InvoiceNumber{Prefix: prefix, Sequence: max + 1}, nil
}

// CounterAllocator draws from a persisted per-prefix counter with an atomic
// increment. Collisions cannot occur, so the retry path stays idle. Use this
// for any multi-writer deployment.
type CounterAllocator struct{}

func (CounterAllocator) GenerateNext(ctx context.Context, src SequenceSource, prefix string) (InvoiceNumber, error) {
	seq, err := src.NextSequence(ctx, prefix)
	if err != nil {
		return InvoiceNumber{}, err
	}
	return InvoiceNumber{Prefix: prefix, Sequence: seq}, nil
}
