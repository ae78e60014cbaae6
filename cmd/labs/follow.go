package main

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

var ErrFollowerStopped = errors.New("follower is not running")

type FollowOptions struct {
	Interval time.Duration
	// OnUpdate receives a copy of the session after every applied change.
	OnUpdate func(ExecutionSession)
	Log      logrus.FieldLogger
}

// Follower drives one SessionController with a time.Ticker. The controller
// is touched only from the Run goroutine.
type Follower struct {
	api       executionAPI
	ctrl      *SessionController
	opts      FollowOptions
	cancelReq chan chan error
	done      chan struct{}
}

type pollResult struct {
	ticket PollTicket
	report StatusReport
	err    error
}

type cancelResult struct {
	id    string
	err   error
	reply chan error
}

func NewFollower(api executionAPI, ctrl *SessionController, opts FollowOptions) *Follower {
	if opts.Interval <= 0 {
		opts.Interval = defaultPollIntervalMs * time.Millisecond
	}
	if opts.Log == nil {
		opts.Log = discardLogger()
	}
	return &Follower{
		api:       api,
		ctrl:      ctrl,
		opts:      opts,
		cancelReq: make(chan chan error),
		done:      make(chan struct{}),
	}
}

// Run polls until the session is terminal, cancelled, or ctx is done.
func (f *Follower) Run(ctx context.Context) (ExecutionSession, error) {
	defer close(f.done)

	if f.ctrl.Phase() != PhasePolling {
		s, _ := f.ctrl.Session()
		return s, nil
	}

	ticker := time.NewTicker(f.opts.Interval)
	stopped := false
	stop := func() {
		if !stopped {
			ticker.Stop()
			stopped = true
		}
	}
	defer stop()

	exit := make(chan struct{})
	defer close(exit)
	results := make(chan pollResult, 1)
	// Unbuffered: a cancel answer is either taken by this loop or, once the
	// loop has returned, answered with ErrFollowerStopped.
	cancels := make(chan cancelResult)

	log := f.opts.Log.WithField("execution_id", f.ctrl.ExecutionID())

	apply := func(effects []Effect) bool {
		finished := false
		for _, e := range effects {
			switch e.Kind {
			case EffectStopTicker:
				stop()
			case EffectFinished:
				finished = true
			}
		}
		if f.opts.OnUpdate != nil {
			if s, ok := f.ctrl.Session(); ok {
				f.opts.OnUpdate(s)
			}
		}
		return finished
	}

	for {
		select {
		case <-ctx.Done():
			s, _ := f.ctrl.Session()
			return s, ctx.Err()

		case <-ticker.C:
			ticket, ok := f.ctrl.Tick()
			if !ok {
				continue
			}
			go func() {
				report, err := f.api.FetchStatus(ctx, ticket.ExecutionID)
				select {
				case results <- pollResult{ticket: ticket, report: report, err: err}:
				case <-exit:
				}
			}()

		case r := <-results:
			if r.err != nil {
				f.ctrl.PollFailed(r.ticket, r.err)
				log.WithError(r.err).Warn("status poll failed")
				continue
			}
			if apply(f.ctrl.ApplyStatus(r.ticket, r.report)) {
				s, _ := f.ctrl.Session()
				log.WithField("status", s.Status).Info("execution finished")
				return s, nil
			}

		case reply := <-f.cancelReq:
			id, err := f.ctrl.CancelTarget()
			if err != nil {
				reply <- err
				continue
			}
			go func() {
				err := f.api.Cancel(ctx, id)
				select {
				case cancels <- cancelResult{id: id, err: err, reply: reply}:
				case <-exit:
					reply <- ErrFollowerStopped
				}
			}()

		case c := <-cancels:
			if c.err != nil {
				f.ctrl.CancelFailed(c.err)
				log.WithError(c.err).Error("cancel failed")
				c.reply <- c.err
				continue
			}
			finished := apply(f.ctrl.CancelAcknowledged(c.id))
			c.reply <- nil
			if finished {
				log.Info("execution cancelled")
				s, _ := f.ctrl.Session()
				return s, nil
			}
		}
	}
}

// Cancel asks the running loop to cancel the current execution and waits for
// the executor's answer. If Run returns before the answer is applied, Cancel
// returns ErrFollowerStopped.
func (f *Follower) Cancel(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case f.cancelReq <- reply:
	case <-f.done:
		return ErrFollowerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
