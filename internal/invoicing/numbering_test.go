package invoicing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSequenceSource struct {
	max      int64
	counters map[string]int64
}

func (s *fakeSequenceSource) MaxSequenceForPrefix(ctx context.Context, prefix string) (int64, error) {
	return s.max, nil
}

func (s *fakeSequenceSource) NextSequence(ctx context.Context, prefix string) (int64, error) {
	if s.counters == nil {
		s.counters = make(map[string]int64)
	}
	s.counters[prefix]++
	return s.counters[prefix], nil
}

func TestInvoiceNumberString(t *testing.T) {
	require.Equal(t, "PI-0001", InvoiceNumber{Prefix: "PI-", Sequence: 1}.String())
	require.Equal(t, "SI-0042", InvoiceNumber{Prefix: "SI-", Sequence: 42}.String())
	// Padding widens past four digits, it never truncates.
	require.Equal(t, "RPI-12345", InvoiceNumber{Prefix: "RPI-", Sequence: 12345}.String())
}

func TestNumberPrefixFor(t *testing.T) {
	require.Equal(t, "PI-", NumberPrefixFor(KindPurchase))
	require.Equal(t, "SI-", NumberPrefixFor(KindSale))
	require.Equal(t, "RPI-", NumberPrefixFor(KindPurchaseReturn))
	require.Equal(t, "RSI-", NumberPrefixFor(KindSaleReturn))
}

func TestMaxAllocator(t *testing.T) {
	src := &fakeSequenceSource{max: 17}
	n, err := MaxAllocator{}.GenerateNext(context.Background(), src, "PI-")
	require.NoError(t, err)
	require.Equal(t, InvoiceNumber{Prefix: "PI-", Sequence: 18}, n)
}

func TestCounterAllocator(t *testing.T) {
	src := &fakeSequenceSource{}
	ctx := context.Background()
	first, err := CounterAllocator{}.GenerateNext(ctx, src, "SI-")
	require.NoError(t, err)
	second, err := CounterAllocator{}.GenerateNext(ctx, src, "SI-")
	require.NoError(t, err)
	require.Equal(t, int64(1), first.Sequence)
	require.Equal(t, int64(2), second.Sequence)

	// Counters are scoped per prefix.
	other, err := CounterAllocator{}.GenerateNext(ctx, src, "RSI-")
	require.NoError(t, err)
	require.Equal(t, int64(1), other.Sequence)
}
