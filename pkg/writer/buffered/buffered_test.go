package buffered

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArionMiles/mailvoucher/pkg/api"
	"github.com/ArionMiles/mailvoucher/pkg/logging"
)

type recorder struct {
	mu      sync.Mutex
	batches [][]string
	err     error
}

func (r *recorder) flush(_ context.Context, vs []*api.Voucher) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	ids := make([]string, 0, len(vs))
	for _, v := range vs {
		ids = append(ids, v.MessageID)
	}
	r.batches = append(r.batches, ids)
	return nil
}

func drain(ch <-chan string) []string {
	var out []string
	for {
		select {
		case id := <-ch:
			out = append(out, id)
		default:
			return out
		}
	}
}

func TestWriter_BatchesAndAcks(t *testing.T) {
	rec := &recorder{}
	w := New(rec.flush, Config{BatchSize: 2, FlushInterval: time.Hour}, logging.Discard())

	in := make(chan *api.Voucher, 5)
	ack := make(chan string, 5)
	for _, id := range []string{"a", "b", "c"} {
		in <- &api.Voucher{MessageID: id}
	}
	close(in)

	require.NoError(t, w.Write(context.Background(), in, ack))
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, rec.batches)
	assert.Equal(t, []string{"a", "b", "c"}, drain(ack))
	assert.Equal(t, 0, w.BufferLen())
}

func TestWriter_FailedFlushIsNotAcked(t *testing.T) {
	rec := &recorder{err: errors.New("ledger down")}
	w := New(rec.flush, Config{BatchSize: 10}, logging.Discard())

	in := make(chan *api.Voucher, 1)
	ack := make(chan string, 1)
	in <- &api.Voucher{MessageID: "a"}
	close(in)

	err := w.Write(context.Background(), in, ack)
	assert.EqualError(t, err, "ledger down")
	assert.Empty(t, drain(ack))
}

func TestWriter_FlushesOnInterval(t *testing.T) {
	rec := &recorder{}
	w := New(rec.flush, Config{BatchSize: 100, FlushInterval: 20 * time.Millisecond}, logging.Discard())

	in := make(chan *api.Voucher)
	ack := make(chan string, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Write(ctx, in, ack) }()

	in <- &api.Voucher{MessageID: "tick"}

	select {
	case id := <-ack:
		assert.Equal(t, "tick", id)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for interval flush")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestWriter_FlushesOnShutdown(t *testing.T) {
	rec := &recorder{}
	w := New(rec.flush, Config{BatchSize: 100, FlushInterval: time.Hour}, logging.Discard())

	in := make(chan *api.Voucher)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Write(ctx, in, nil) }()

	in <- &api.Voucher{MessageID: "last"}
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, [][]string{{"last"}}, rec.batches)
}

func TestAck_SkipsEmptyIDs(t *testing.T) {
	ack := make(chan string, 3)
	Ack(context.Background(), ack, []*api.Voucher{{MessageID: "x"}, {}, {MessageID: "y"}}, logging.Discard())
	assert.Equal(t, []string{"x", "y"}, drain(ack))
}
