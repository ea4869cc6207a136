package worker_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"autolead.app/crm/internal/model"
	"autolead.app/crm/internal/queue"
	"autolead.app/crm/internal/worker"
)

type mockConsumer struct {
	mu       sync.Mutex
	batches  [][]queue.Message
	stale    []queue.Message
	claimErr error
	acked    []string
	requeued []string
	dlq      []string
}

func (m *mockConsumer) Read(ctx context.Context) ([]queue.Message, error) {
	m.mu.Lock()
	if len(m.batches) > 0 {
		b := m.batches[0]
		m.batches = m.batches[1:]
		m.mu.Unlock()
		return b, nil
	}
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return nil, nil
	}
}

func (m *mockConsumer) Ack(_ context.Context, msg queue.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = append(m.acked, msg.ID)
	return nil
}

func (m *mockConsumer) Requeue(_ context.Context, msg queue.Message, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requeued = append(m.requeued, msg.ID)
	return nil
}

func (m *mockConsumer) SendDLQ(_ context.Context, msg queue.Message, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dlq = append(m.dlq, msg.ID)
	return nil
}

func (m *mockConsumer) ClaimStale(context.Context, time.Duration, int64) ([]queue.Message, error) {
	return m.stale, m.claimErr
}

func (m *mockConsumer) ackedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.acked...)
}

type mockDispatcher struct {
	mu         sync.Mutex
	dispatchFn func(ctx context.Context, msg queue.Message) error
	seen       []string
}

func (m *mockDispatcher) Dispatch(ctx context.Context, msg queue.Message) error {
	m.mu.Lock()
	m.seen = append(m.seen, msg.ID)
	fn := m.dispatchFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, msg)
	}
	return nil
}

func (m *mockDispatcher) seenIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.seen...)
}

var _ = Describe("Worker", func() {
	var (
		ctx        context.Context
		consumer   *mockConsumer
		dispatcher *mockDispatcher
		w          *worker.Worker
	)

	event := func(id string, attempt int) queue.Message {
		return queue.Message{
			ID:        id,
			SessionID: 42,
			Event:     model.SessionEventUserUpdated,
			Origin:    "replica-b",
			Attempt:   attempt,
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		consumer = &mockConsumer{}
		dispatcher = &mockDispatcher{}
		w = worker.New(consumer, dispatcher, worker.Config{MaxAttempts: 3, Origin: "replica-a"})
	})

	Describe("ProcessMessage", func() {
		It("dispatches and acknowledges events from other replicas", func() {
			Expect(w.ProcessMessage(ctx, event("1-0", 1))).To(Succeed())
			Expect(dispatcher.seenIDs()).To(Equal([]string{"1-0"}))
			Expect(consumer.ackedIDs()).To(Equal([]string{"1-0"}))
		})

		It("only acknowledges events this replica published", func() {
			msg := event("1-0", 1)
			msg.Origin = "replica-a"

			Expect(w.ProcessMessage(ctx, msg)).To(Succeed())
			Expect(dispatcher.seenIDs()).To(BeEmpty())
			Expect(consumer.ackedIDs()).To(Equal([]string{"1-0"}))
		})

		It("leaves a failed event unacknowledged", func() {
			dispatcher.dispatchFn = func(context.Context, queue.Message) error {
				return errors.New("db down")
			}
			Expect(w.ProcessMessage(ctx, event("1-0", 1))).To(HaveOccurred())
			Expect(consumer.ackedIDs()).To(BeEmpty())
		})

		It("continues a trace carried on the event", func() {
			msg := event("1-0", 1)
			msg.TraceID = "4bf92f3577b34da6a3ce929d0e0e4736"
			Expect(w.ProcessMessage(ctx, msg)).To(Succeed())
		})
	})

	Describe("Run", func() {
		It("drains batches until stopped", func() {
			consumer.batches = [][]queue.Message{
				{event("1-0", 1), event("2-0", 1)},
				{event("3-0", 1)},
			}

			go func() {
				defer GinkgoRecover()
				Expect(w.Run(ctx)).To(Succeed())
			}()

			Eventually(consumer.ackedIDs).Should(Equal([]string{"1-0", "2-0", "3-0"}))
			w.Stop()
		})

		It("returns when the context is cancelled", func() {
			runCtx, cancel := context.WithCancel(ctx)
			errCh := make(chan error, 1)
			go func() { errCh <- w.Run(runCtx) }()

			cancel()
			Eventually(errCh).WithTimeout(3 * time.Second).Should(Receive(MatchError(context.Canceled)))
		})
	})

	Describe("Reclaimer", func() {
		var r *worker.Reclaimer

		BeforeEach(func() {
			r = worker.NewReclaimer(consumer, w, worker.ReclaimerConfig{})
		})

		It("feeds stale events back through the worker", func() {
			consumer.stale = []queue.Message{event("1-0", 1), event("2-0", 2)}
			Expect(r.ReclaimOnce(ctx)).To(Equal(2))
			Expect(consumer.ackedIDs()).To(Equal([]string{"1-0", "2-0"}))
		})

		It("requeues a failure below the attempt limit", func() {
			dispatcher.dispatchFn = func(context.Context, queue.Message) error {
				return errors.New("db down")
			}
			consumer.stale = []queue.Message{event("1-0", 1)}

			r.ReclaimOnce(ctx)
			Expect(consumer.requeued).To(Equal([]string{"1-0"}))
			Expect(consumer.dlq).To(BeEmpty())
		})

		It("dead-letters a failure at the attempt limit", func() {
			dispatcher.dispatchFn = func(context.Context, queue.Message) error {
				return errors.New("db down")
			}
			consumer.stale = []queue.Message{event("1-0", 3)}

			r.ReclaimOnce(ctx)
			Expect(consumer.dlq).To(Equal([]string{"1-0"}))
			Expect(consumer.requeued).To(BeEmpty())
		})

		It("recovers from a panicking dispatch", func() {
			dispatcher.dispatchFn = func(context.Context, queue.Message) error {
				panic("nil controller")
			}
			consumer.stale = []queue.Message{event("1-0", 1)}

			Expect(func() { r.ReclaimOnce(ctx) }).NotTo(Panic())
			Expect(consumer.requeued).To(Equal([]string{"1-0"}))
		})

		It("does nothing when the claim fails", func() {
			consumer.claimErr = errors.New("NOGROUP")
			Expect(r.ReclaimOnce(ctx)).To(BeZero())
			Expect(dispatcher.seenIDs()).To(BeEmpty())
		})

		It("stops on request", func() {
			r = worker.NewReclaimer(consumer, w, worker.ReclaimerConfig{Interval: 5 * time.Millisecond})
			consumer.stale = []queue.Message{event("1-0", 1)}
			go r.Run(ctx)

			Eventually(consumer.ackedIDs).ShouldNot(BeEmpty())
			r.Stop()
		})
	})
})
