package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"booking-service/internal/apperr"
	"booking-service/internal/audit"
	"booking-service/internal/logger"
	"booking-service/internal/ratelimit"
)

// Limits are per-recipient send caps; zero disables a check
type Limits struct {
	Cooldown  time.Duration
	HourlyCap int
	DailyCap  int
}

// DefaultLimits is one send per recipient per 5 minutes, 10 per hour, 50 per day
func DefaultLimits() Limits {
	return Limits{Cooldown: 5 * time.Minute, HourlyCap: 10, DailyCap: 50}
}

// Result describes one Send call
type Result struct {
	ID        string        `json:"id,omitempty"`
	Delivered bool          `json:"delivered"`
	Attempts  int           `json:"attempts"`
	Latency   time.Duration `json:"latencyNs"`
	Category  Category      `json:"category,omitempty"`
}

// Dispatcher validates, sanitises, rate limits and delivers messages
type Dispatcher struct {
	provider Provider
	store    ratelimit.Store
	limits   Limits
	retry    RetryPolicy
	timeout  time.Duration
	audit    *audit.Log

	validate *validator.Validate
	clean    sanitizer
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

// NewDispatcher wires a dispatcher; a nil store disables the recipient caps and a nil log disables auditing
func NewDispatcher(p Provider, store ratelimit.Store, limits Limits, retry RetryPolicy, timeout time.Duration, log *audit.Log) *Dispatcher {
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		provider: p,
		store:    store,
		limits:   limits,
		retry:    retry,
		timeout:  timeout,
		audit:    log,
		validate: validator.New(),
		clean:    newSanitizer(),
		sleep:    sleepCtx,
		now:      time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Send delivers msg. Failures come back as an error alongside a populated Result; Send never panics.
func (d *Dispatcher) Send(ctx context.Context, msg Message) (res Result, err error) {
	log := logger.C(ctx).With().Str("component", "notify").Str("to", msg.To).Str("tag", msg.Tag).Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("email dispatch panicked")
			err = apperr.New(apperr.KindInternal, fmt.Sprintf("email dispatch panicked: %v", r))
			res.Delivered = false
		}
	}()

	if err := validate(d.validate, msg); err != nil {
		log.Warn().Err(err).Msg("email rejected")
		return Result{Category: CategoryInvalid}, err
	}
	msg = d.clean.apply(msg)

	if err := d.reserve(ctx, msg); err != nil {
		log.Warn().Err(err).Msg("email suppressed by recipient limits")
		return Result{Category: CategoryRateLimited}, err
	}

	started := d.now()
	var lastErr error
	for attempt := 1; attempt <= d.retry.MaxAttempts; attempt++ {
		res.Attempts = attempt
		id, sendErr := d.attempt(ctx, msg)
		if sendErr == nil {
			res.ID, res.Delivered, res.Latency = id, true, d.now().Sub(started)
			d.record(msg, res, nil)
			log.Info().Str("id", id).Int("attempts", attempt).Msg("email delivered")
			return res, nil
		}

		lastErr = sendErr
		res.Category = Classify(sendErr)
		log.Warn().Err(sendErr).Int("attempt", attempt).Str("category", string(res.Category)).Msg("email attempt failed")
		if !d.retry.ShouldRetry(res.Category) || attempt == d.retry.MaxAttempts {
			break
		}
		if err := d.sleep(ctx, d.retry.Delay(attempt)); err != nil {
			lastErr = err
			break
		}
	}

	res.Latency = d.now().Sub(started)
	d.record(msg, res, lastErr)
	return res, apperr.Wrap(lastErr, apperr.KindTransient, "email could not be delivered")
}

func (d *Dispatcher) attempt(ctx context.Context, msg Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	started := d.now()
	id, err := d.provider.Send(ctx, msg)
	if d.audit != nil {
		e := audit.Entry{Operation: "email.attempt", Target: msg.To, Success: err == nil, Attempts: 1, Latency: d.now().Sub(started)}
		if err != nil {
			e.Error = err.Error()
		}
		d.audit.Record(e)
	}
	return id, err
}

func (d *Dispatcher) record(msg Message, res Result, err error) {
	if d.audit == nil {
		return
	}
	e := audit.Entry{Operation: "email.send", Target: msg.To, Success: res.Delivered, Attempts: res.Attempts, Latency: res.Latency}
	if err != nil {
		e.Error = err.Error()
	}
	d.audit.Record(e)
}

// reserve counts this send against each limit in turn, stopping at the first exceeded one.
// Store failures are logged and the send proceeds.
func (d *Dispatcher) reserve(ctx context.Context, msg Message) error {
	if d.store == nil {
		return nil
	}
	checks := []struct {
		key    string
		window time.Duration
		max    int
		reason string
	}{
		{"email:cooldown:" + msg.To + ":" + msg.Tag, d.limits.Cooldown, 1, "recipient cooldown active"},
		{"email:hourly:" + msg.To, time.Hour, d.limits.HourlyCap, "recipient hourly cap reached"},
		{"email:daily:" + msg.To, 24 * time.Hour, d.limits.DailyCap, "recipient daily cap reached"},
	}
	for _, c := range checks {
		if c.window <= 0 || c.max <= 0 {
			continue
		}
		e, err := d.store.Hit(ctx, c.key, c.window)
		if err != nil {
			logger.C(ctx).Warn().Err(err).Str("key", c.key).Msg("email limit store unavailable; not enforcing")
			continue
		}
		if e.Count > c.max {
			return apperr.New(apperr.KindRateLimited, c.reason)
		}
	}
	return nil
}
