package chatloop

import (
	"context"
	"time"

	"github.com/joeycumines/go-chatloop/pbx"
	microbatch "github.com/joeycumines/go-microbatch"
)

// ReceiptConfig models optional configuration for coalescing recv and read
// notes. Within a batch, only the highest sequence id per topic and kind is
// sent.
type ReceiptConfig struct {
	// MaxSize is the number of receipts that triggers a flush, if positive.
	// **Defaults to 16, if 0.**
	MaxSize int

	// FlushInterval is the maximum duration a receipt is held before it is
	// sent, if positive.
	// **Defaults to 50ms, if 0.**
	//
	// If both MaxSize and FlushInterval are disabled, receipts are sent
	// immediately.
	FlushInterval time.Duration
}

type receiptJob struct {
	topic string
	what  pbx.NoteWhat
	seq   int32
}

type receiptKey struct {
	topic string
	what  pbx.NoteWhat
}

// immediate reports whether receipts bypass batching.
func (x *ReceiptConfig) immediate() bool {
	return x == nil || (x.MaxSize < 0 && x.FlushInterval < 0)
}

// newReceiptBatcher starts a batcher passing coalesced notes to sink, in
// the order their (topic, kind) was first seen. Batches are processed one at
// a time, and are dropped once the batcher is closed.
func newReceiptBatcher(cfg *ReceiptConfig, sink func(notes []*pbx.ClientNote)) *microbatch.Batcher[receiptJob] {
	return microbatch.NewBatcher(&microbatch.BatcherConfig{
		MaxSize:        cfg.MaxSize,
		FlushInterval:  cfg.FlushInterval,
		MaxConcurrency: 1,
	}, func(ctx context.Context, jobs []receiptJob) error {
		notes := coalesceReceipts(jobs)
		if err := ctx.Err(); err != nil {
			return err
		}
		sink(notes)
		return nil
	})
}

func coalesceReceipts(jobs []receiptJob) []*pbx.ClientNote {
	notes := make([]*pbx.ClientNote, 0, len(jobs))
	index := make(map[receiptKey]int, len(jobs))
	for _, job := range jobs {
		k := receiptKey{topic: job.topic, what: job.what}
		if i, ok := index[k]; ok {
			notes[i].SeqID = max(notes[i].SeqID, job.seq)
			continue
		}
		index[k] = len(notes)
		notes = append(notes, &pbx.ClientNote{Topic: job.topic, What: job.what, SeqID: job.seq})
	}
	return notes
}

// receiptBatcher returns the session's batcher, starting it on first use, or
// nil once the session has begun closing.
func (s *Session) receiptBatcher() *microbatch.Batcher[receiptJob] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.receipts == nil && s.cause == nil {
		s.receipts = newReceiptBatcher(s.opts.receipts, func(notes []*pbx.ClientNote) {
			// a terminated loop means the session is gone
			_ = s.r.submit(func() {
				for _, note := range notes {
					s.enqueue(&pbx.ClientMsg{Payload: note})
				}
			})
		})
	}
	return s.receipts
}

// closeReceipts drops pending receipts. Must be called after the cause is
// set, and off the loop.
func (s *Session) closeReceipts() {
	s.mu.Lock()
	b := s.receipts
	s.mu.Unlock()
	if b != nil {
		_ = b.Close()
	}
}
