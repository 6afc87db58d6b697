// Package watchdog keeps a speech-recognition session listening for the
// user's emergency keyword while they are armed. Recognition providers
// end sessions on their own schedule, so the watchdog is built as an
// explicit restart loop: OFF -> STARTING -> LISTENING -> ENDED ->
// STARTING -> ... until disarm, a keyword match, or a permanent error.
package watchdog

import (
	"context"
	"strings"
	"sync"
	"time"

	"safevoice/internal/emergency"
	pkgerrors "safevoice/pkg/errors"
	"safevoice/pkg/logger"
	"safevoice/pkg/metrics"
	"safevoice/pkg/store"

	"go.uber.org/zap"
)

// ErrPermissionDenied means the microphone can never be opened again in
// this session; the watchdog goes OFF and auto-disarms the user.
var ErrPermissionDenied = pkgerrors.WithCode(pkgerrors.CodeSensorPermanent, "microphone permission denied")

// State of the watchdog loop.
type State string

const (
	StateOff       State = "OFF"
	StateStarting  State = "STARTING"
	StateListening State = "LISTENING"
	StateEnded     State = "ENDED"
)

// Fragment is one transcript chunk, partial or final. Keyword matching
// runs on both: waiting for final results would add seconds of latency
// to an SOS.
type Fragment struct {
	Text  string
	Final bool
}

// Session is one provider listening session.
type Session interface {
	// Fragments delivers transcript chunks until the session ends.
	Fragments() <-chan Fragment
	// Done yields exactly once when the session ends: nil for a normal
	// provider-imposed end, ErrPermissionDenied (or any CodeSensorPermanent
	// error) for an unrecoverable one, anything else is transient.
	Done() <-chan error
	// Stop ends the session early. Idempotent.
	Stop()
}

// Recognizer opens listening sessions against the platform's
// speech-to-text API.
type Recognizer interface {
	Start(ctx context.Context) (Session, error)
}

// Watchdog supervises one user's armed session.
type Watchdog struct {
	st           store.Store
	manager      *emergency.Manager
	recognizer   Recognizer
	restartDelay time.Duration
	m            *metrics.Metrics

	mu      sync.Mutex
	state   State
	armed   bool
	latched bool
	userID  string
	keyword string
	cancel  context.CancelFunc
	session Session
}

func New(st store.Store, manager *emergency.Manager, recognizer Recognizer, restartDelay time.Duration) *Watchdog {
	if restartDelay <= 0 {
		restartDelay = 300 * time.Millisecond
	}
	return &Watchdog{
		st:           st,
		manager:      manager,
		recognizer:   recognizer,
		restartDelay: restartDelay,
		m:            metrics.Default(),
		state:        StateOff,
	}
}

func (w *Watchdog) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Watchdog) Latched() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.latched
}

// Arm starts listening for the user's keyword and clears the trigger
// latch. Arming an already armed watchdog is a no-op.
func (w *Watchdog) Arm(ctx context.Context, userID string) error {
	user, err := w.st.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.EmergencyKeyword == "" {
		return pkgerrors.WithCode(pkgerrors.CodeValidation, "no emergency keyword configured")
	}

	w.mu.Lock()
	if w.armed {
		w.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	w.armed = true
	w.latched = false
	w.userID = userID
	w.keyword = strings.ToUpper(user.EmergencyKeyword)
	w.cancel = cancel
	w.state = StateStarting
	w.mu.Unlock()

	if !user.IsArmed {
		user.IsArmed = true
		if err := w.st.SaveUser(ctx, user); err != nil {
			logger.Warn("failed to persist armed flag", zap.Error(err))
		}
	}

	go w.run(runCtx)
	return nil
}

// Disarm stops listening. Together with a subsequent Arm it is the only
// way to clear the trigger latch.
func (w *Watchdog) Disarm(ctx context.Context) {
	w.mu.Lock()
	if !w.armed && w.state == StateOff {
		w.mu.Unlock()
		return
	}
	w.armed = false
	w.state = StateOff
	cancel := w.cancel
	sess := w.session
	userID := w.userID
	w.cancel = nil
	w.session = nil
	w.mu.Unlock()

	if sess != nil {
		sess.Stop()
	}
	if cancel != nil {
		cancel()
	}
	w.persistDisarm(ctx, userID)
}

func (w *Watchdog) persistDisarm(ctx context.Context, userID string) {
	if userID == "" {
		return
	}
	user, err := w.st.GetUser(ctx, userID)
	if err != nil {
		logger.Warn("disarm: user lookup failed", zap.Error(err))
		return
	}
	if user.IsArmed {
		user.IsArmed = false
		if err := w.st.SaveUser(ctx, user); err != nil {
			logger.Warn("failed to persist disarm", zap.Error(err))
		}
	}
}

func (w *Watchdog) run(ctx context.Context) {
	for {
		w.mu.Lock()
		if !w.armed || w.latched {
			w.mu.Unlock()
			return
		}
		w.state = StateStarting
		w.mu.Unlock()

		sess, err := w.recognizer.Start(ctx)
		if err != nil {
			if pkgerrors.GetCode(err) == pkgerrors.CodeSensorPermanent {
				w.autoDisarm(err)
				return
			}
			logger.Warn("recognizer start failed, retrying", zap.Error(err))
			if !w.sleep(ctx) {
				return
			}
			continue
		}

		w.mu.Lock()
		w.session = sess
		w.state = StateListening
		w.mu.Unlock()

		permanent := w.listen(ctx, sess)

		w.mu.Lock()
		w.session = nil
		disarmed := !w.armed
		latched := w.latched
		if !disarmed {
			w.state = StateEnded
		}
		w.mu.Unlock()

		if permanent {
			return // autoDisarm already ran
		}
		if disarmed || latched {
			return
		}
		// provider ended the session; restart after a short delay so a
		// flapping provider cannot spin us
		w.m.WatchdogRestart()
		if !w.sleep(ctx) {
			return
		}
	}
}

// listen consumes one session. Returns true if a permanent error ended
// it (auto-disarm has then already happened).
func (w *Watchdog) listen(ctx context.Context, sess Session) bool {
	for {
		select {
		case <-ctx.Done():
			sess.Stop()
			return false
		case frag := <-sess.Fragments():
			w.onFragment(ctx, sess, frag)
		case err := <-sess.Done():
			if err != nil && pkgerrors.GetCode(err) == pkgerrors.CodeSensorPermanent {
				w.autoDisarm(err)
				return true
			}
			if err != nil {
				// momentary silence, network blip: normal end/restart cycle
				logger.Debug("listening session ended with transient error", zap.Error(err))
			}
			return false
		}
	}
}

func (w *Watchdog) onFragment(ctx context.Context, sess Session, frag Fragment) {
	w.mu.Lock()
	keyword := w.keyword
	userID := w.userID
	alreadyLatched := w.latched
	w.mu.Unlock()

	if alreadyLatched || keyword == "" {
		return
	}
	if !strings.Contains(strings.ToUpper(frag.Text), keyword) {
		return
	}

	// Latch before triggering: further matches from this or any later
	// fragment must not reach the manager until an explicit re-arm.
	w.mu.Lock()
	if w.latched {
		w.mu.Unlock()
		return
	}
	w.latched = true
	w.mu.Unlock()

	logger.Info("emergency keyword detected",
		zap.String("userId", userID),
		zap.Bool("final", frag.Final))
	sess.Stop()

	if _, err := w.manager.Trigger(ctx, userID, emergency.SourceVoice); err != nil {
		// the latch stays set: the user is in distress, reopening the
		// mic to retry is the UI's call via re-arm
		logger.Error("voice trigger failed", zap.Error(err))
	}
}

// autoDisarm handles a permanent recognizer error: state OFF, armed
// flag cleared in the store so every viewer sees listening is gone.
func (w *Watchdog) autoDisarm(cause error) {
	w.mu.Lock()
	w.armed = false
	w.state = StateOff
	userID := w.userID
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.m.WatchdogAutoDisarm()
	logger.Error("watchdog auto-disarmed", zap.String("userId", userID), zap.Error(cause))

	ctx, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	w.persistDisarm(ctx, userID)
}

func (w *Watchdog) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(w.restartDelay):
		return true
	}
}
