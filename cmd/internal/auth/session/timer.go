package session

import (
	"context"
	"errors"
	"time"
)

type timerCtxKey struct{}

// renewalTimer is the single periodic renewal loop of one session epoch.
type renewalTimer struct {
	epoch  uint64
	cancel context.CancelFunc
	done   chan struct{}
}

func fromTimer(ctx context.Context) bool {
	v, _ := ctx.Value(timerCtxKey{}).(bool)
	return v
}

// startTimer replaces any running timer. The previous loop has exited before
// the new one starts.
func (c *Controller) startTimer(epoch uint64) {
	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), timerCtxKey{}, true))
	t := &renewalTimer{epoch: epoch, cancel: cancel, done: make(chan struct{})}

	c.timerMu.Lock()
	old := c.timer
	c.timer = t
	c.timerMu.Unlock()

	if old != nil {
		old.cancel()
		<-old.done
	}

	go c.runTimer(ctx, t)
	c.log.Debug("session.timer.start",
		"interval", c.cfg.RenewalInterval.String(),
		"lead", c.cfg.RenewalLeadWindow.String(),
	)
}

// stopTimer cancels the running timer and waits for its loop to exit, unless
// called from inside that loop.
func (c *Controller) stopTimer(ctx context.Context) {
	c.timerMu.Lock()
	t := c.timer
	c.timer = nil
	c.timerMu.Unlock()

	if t == nil {
		return
	}
	t.cancel()
	if !fromTimer(ctx) {
		<-t.done
	}
	c.log.Debug("session.timer.stop")
}

// TimerActive reports whether a renewal timer is installed.
func (c *Controller) TimerActive() bool {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	return c.timer != nil
}

func (c *Controller) runTimer(ctx context.Context, t *renewalTimer) {
	defer close(t.done)
	defer func() {
		c.timerMu.Lock()
		if c.timer == t {
			c.timer = nil
		}
		c.timerMu.Unlock()
	}()

	ticker := time.NewTicker(c.cfg.RenewalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.isCurrent(t.epoch) {
				return
			}
			c.tick(ctx)
		}
	}
}

// tick is one renewal check. It never overlaps an in-flight refresh and skips
// silently when the access token cannot be decoded. A token that expired
// between ticks (host sleep) is renewed when a refresh credential is held.
func (c *Controller) tick(ctx context.Context) {
	if c.refreshing.Load() {
		c.metrics.renewal("skip_in_flight")
		c.log.Debug("session.renew.skip", "reason", "in_flight")
		return
	}

	c.mu.RLock()
	st := c.state
	access := c.pair.AccessToken
	canRefresh := c.pair.RefreshToken != ""
	c.mu.RUnlock()

	if st != StateAuthenticated || access == "" {
		return
	}

	exp, err := tokenExpiry(access)
	if err != nil {
		c.metrics.renewal("skip_decode")
		c.log.Debug("session.renew.skip", "reason", "decode", "err", err)
		return
	}
	ttl := exp.Sub(c.now())
	if ttl >= c.cfg.RenewalLeadWindow || (ttl <= 0 && !canRefresh) {
		return
	}
	if ttl <= 0 {
		c.log.Info("session.renew.expired", "overdue", -ttl)
	}

	ch := c.refreshGroup.DoChan(refreshKey, func() (any, error) {
		return nil, c.refresh(ctx)
	})
	select {
	case <-ctx.Done():
	case r := <-ch:
		if r.Err != nil && !errors.Is(r.Err, context.Canceled) {
			c.log.Debug("session.renew.tick_fail", "err", r.Err)
		}
	}
}
