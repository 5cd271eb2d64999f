package healthcheck

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/apptrail-sh/statusbar/internal/model"
)

// transitions records running flag changes
type transitions struct {
	mu     sync.Mutex
	values []bool
}

func (r *transitions) record(running bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, running)
}

func (r *transitions) get() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.values...)
}

func stateEvent(s model.JobState) model.JobStreamEvent {
	return model.JobStreamEvent{State: &model.JobStateEvent{Current: s}}
}

var _ = Describe("Expediter", func() {
	var (
		ctx       context.Context
		client    *MockClient
		seen      *transitions
		results   chan model.HealthCheckResult
		expediter *Expediter
		target    model.TargetRef
	)

	BeforeEach(func() {
		ctx = context.Background()
		client = &MockClient{StreamCh: make(chan model.JobStreamEvent, 8)}
		seen = &transitions{}
		results = make(chan model.HealthCheckResult, 4)
		target = model.TargetRef{Kind: model.TargetDeployment, ID: "d1"}
		expediter = NewExpediter(client, WithObserver(seen.record), WithResults(results))
	})

	AfterEach(func() {
		expediter.Close()
	})

	Context("when the server schedules no job", func() {
		It("stays idle and opens no stream", func() {
			Expect(expediter.Expedite(ctx, target, "")).To(Succeed())

			Expect(expediter.Running()).To(BeFalse())
			Expect(client.Watches()).To(BeEmpty())
			Expect(seen.get()).To(BeEmpty())

			var result model.HealthCheckResult
			Eventually(results).Should(Receive(&result))
			Expect(result.Outcome).To(Equal(model.HealthCheckNoJob))
		})
	})

	Context("when the server schedules a job", func() {
		BeforeEach(func() {
			client.JobID = "j1"
		})

		It("sends the target and default workspace", func() {
			Expect(expediter.Expedite(ctx, target, "")).To(Succeed())

			Expect(client.Requests).To(HaveLen(1))
			Expect(client.Requests[0].Target).To(Equal(target))
			Expect(client.Requests[0].Workspace).To(Equal(model.DefaultWorkspace))
			Expect(client.Watches()).To(Equal([]string{"j1"}))
		})

		It("keeps a release target and explicit workspace", func() {
			release := model.TargetRef{Kind: model.TargetRelease, ID: "r1"}
			Expect(expediter.Expedite(ctx, release, "staging")).To(Succeed())

			Expect(client.Requests[0].Target.Kind).To(Equal(model.TargetRelease))
			Expect(client.Requests[0].Workspace).To(Equal("staging"))
		})

		It("goes from running to idle on the done state", func() {
			Expect(expediter.Expedite(ctx, target, "")).To(Succeed())
			Expect(expediter.Running()).To(BeTrue())
			Expect(expediter.JobID()).To(Equal("j1"))

			client.StreamCh <- stateEvent(model.JobStateSuccess)

			Expect(expediter.Wait(ctx)).To(Succeed())
			Expect(expediter.Running()).To(BeFalse())
			Expect(seen.get()).To(Equal([]bool{true, false}))
			Expect(expediter.Err()).NotTo(HaveOccurred())
			Eventually(client.LastWatchDone()).Should(BeClosed())

			var result model.HealthCheckResult
			Eventually(results).Should(Receive(&result))
			Expect(result.Outcome).To(Equal(model.HealthCheckDone))
			Expect(result.JobID).To(Equal("j1"))
		})

		It("stays running for other states and events", func() {
			Expect(expediter.Expedite(ctx, target, "")).To(Succeed())

			client.StreamCh <- model.JobStreamEvent{Open: &model.JobOpenEvent{}}
			client.StreamCh <- stateEvent(model.JobStateRunning)
			client.StreamCh <- stateEvent(model.JobStateError)
			client.StreamCh <- model.JobStreamEvent{Terminal: &model.JobTerminalEvent{Lines: []string{"checking"}}}
			client.StreamCh <- model.JobStreamEvent{Complete: &model.JobCompleteEvent{}}

			Consistently(expediter.Running, 200*time.Millisecond).Should(BeTrue())
			Expect(seen.get()).To(Equal([]bool{true}))
		})

		It("rejects overlapping refreshes until the job is done", func() {
			Expect(expediter.Expedite(ctx, target, "")).To(Succeed())

			err := expediter.Expedite(ctx, target, "")
			Expect(errors.Is(err, ErrRefreshInProgress)).To(BeTrue())
			Expect(client.RequestCount()).To(Equal(1))

			client.StreamCh <- stateEvent(model.JobStateSuccess)
			Expect(expediter.Wait(ctx)).To(Succeed())

			client.JobID = "j2"
			Expect(expediter.Expedite(ctx, target, "")).To(Succeed())
			Expect(client.Watches()).To(Equal([]string{"j1", "j2"}))
			Expect(expediter.Running()).To(BeTrue())
		})

		It("reports a watch failure when the stream closes early", func() {
			Expect(expediter.Expedite(ctx, target, "")).To(Succeed())

			close(client.StreamCh)

			Eventually(expediter.Running).Should(BeFalse())
			Expect(errors.Is(expediter.Wait(ctx), ErrStreamClosed)).To(BeTrue())
			Expect(seen.get()).To(Equal([]bool{true, false}))

			var result model.HealthCheckResult
			Eventually(results).Should(Receive(&result))
			Expect(result.Outcome).To(Equal(model.HealthCheckWatchFailed))
			Expect(result.Error).To(Equal(ErrStreamClosed.Error()))
		})

		It("cancels the stream on Close", func() {
			Expect(expediter.Expedite(ctx, target, "")).To(Succeed())

			expediter.Close()

			Expect(errors.Is(expediter.Wait(ctx), context.Canceled)).To(BeTrue())
			Expect(expediter.Running()).To(BeFalse())
			Eventually(client.LastWatchDone()).Should(BeClosed())
			Expect(errors.Is(expediter.Expedite(ctx, target, ""), ErrClosed)).To(BeTrue())
		})

		It("does not tie the watch to the caller's context", func() {
			reqCtx, cancel := context.WithCancel(ctx)
			Expect(expediter.Expedite(reqCtx, target, "")).To(Succeed())
			cancel()

			Consistently(expediter.Running, 100*time.Millisecond).Should(BeTrue())
			client.StreamCh <- stateEvent(model.JobStateSuccess)
			Eventually(expediter.Running).Should(BeFalse())
		})

		It("stops running when the stream cannot be opened", func() {
			client.WatchErr = errors.New("stream unavailable")

			err := expediter.Expedite(ctx, target, "")
			Expect(err).To(MatchError(ContainSubstring("stream unavailable")))
			Expect(expediter.Running()).To(BeFalse())
			Expect(seen.get()).To(Equal([]bool{true, false}))
		})

		It("delivers the idle transition before accepting the next refresh", func() {
			handlingIdle := make(chan struct{})
			release := make(chan struct{})
			var once sync.Once
			slow := NewExpediter(client, WithObserver(func(running bool) {
				if !running {
					once.Do(func() {
						close(handlingIdle)
						<-release
					})
				}
			}))
			defer slow.Close()
			last := &transitions{}
			slow.Subscribe(last.record)

			Expect(slow.Expedite(ctx, target, "")).To(Succeed())
			client.StreamCh <- stateEvent(model.JobStateSuccess)
			Eventually(handlingIdle).Should(BeClosed())

			Expect(errors.Is(slow.Expedite(ctx, target, ""), ErrRefreshInProgress)).To(BeTrue())
			Expect(client.RequestCount()).To(Equal(1))

			close(release)
			Expect(slow.Wait(ctx)).To(Succeed())

			client.JobID = "j2"
			Expect(slow.Expedite(ctx, target, "")).To(Succeed())
			Expect(last.get()).To(Equal([]bool{true, false, true}))
			Expect(slow.Running()).To(BeTrue())
		})

		It("reports a cancelled flow when closed while the request is in flight", func() {
			client.OnExpedite = expediter.Close

			err := expediter.Expedite(ctx, target, "")
			Expect(errors.Is(err, ErrClosed)).To(BeTrue())
			Expect(expediter.Running()).To(BeFalse())
			Expect(client.Watches()).To(BeEmpty())
			Expect(seen.get()).To(BeEmpty())

			var result model.HealthCheckResult
			Eventually(results).Should(Receive(&result))
			Expect(result.Outcome).To(Equal(model.HealthCheckCancelled))
			Expect(result.JobID).To(Equal("j1"))
		})

		It("stops notifying unsubscribed observers", func() {
			other := &transitions{}
			unsubscribe := expediter.Subscribe(other.record)

			Expect(expediter.Expedite(ctx, target, "")).To(Succeed())
			unsubscribe()
			client.StreamCh <- stateEvent(model.JobStateSuccess)

			Eventually(expediter.Running).Should(BeFalse())
			Expect(other.get()).To(Equal([]bool{true}))
		})
	})

	It("propagates expedite failures without retrying", func() {
		client.ExpediteErr = errors.New("connection refused")

		err := expediter.Expedite(ctx, target, "")
		Expect(err).To(MatchError(ContainSubstring("connection refused")))
		Expect(errors.Is(err, client.ExpediteErr)).To(BeTrue())
		Expect(client.RequestCount()).To(Equal(1))
		Expect(expediter.Running()).To(BeFalse())
		Expect(client.Watches()).To(BeEmpty())

		client.ExpediteErr = nil
		Expect(expediter.Expedite(ctx, target, "")).To(Succeed())
	})

	It("rejects invalid targets before calling the server", func() {
		err := expediter.Expedite(ctx, model.TargetRef{Kind: model.TargetDeployment}, "")
		Expect(errors.Is(err, ErrInvalidTarget)).To(BeTrue())
		Expect(client.RequestCount()).To(BeZero())
	})
})
