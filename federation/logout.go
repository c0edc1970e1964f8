/*
 * Copyright 2020 Kopano and its licensors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package federation

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"stash.kopano.io/kc/fedbroker"
	"stash.kopano.io/kc/fedbroker/session"
)

const (
	defaultLogoutDeadline = 30 * time.Second
)

// Logout attempt states. An attempt moves forward only, finishing either
// through completed fan out or through the deadline timer.
type logoutState int

const (
	stateTriggered logoutState = iota
	stateFanningOut
	stateFinalizing
	stateDone
)

// An Attempt is a single logout fan out task. Attempts are ephemeral, they
// are discarded once done and never persisted.
type Attempt struct {
	UserID    string
	RequestID string
	TicketID  string

	mutex sync.Mutex
	state logoutState

	once  sync.Once
	timer *time.Timer
	done  chan struct{}
}

func (a *Attempt) setState(state logoutState) {
	a.mutex.Lock()
	a.state = state
	a.mutex.Unlock()
}

func (a *Attempt) currentState() logoutState {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.state
}

// Done returns a channel which gets closed when the accociated attempt has
// reached its terminal state.
func (a *Attempt) Done() <-chan struct{} {
	return a.done
}

// LogoutCoordinatorConfig bundles the parameters of a logout coordinator.
type LogoutCoordinatorConfig struct {
	Logger logrus.FieldLogger

	Sessions  *session.Registry
	Partners  *Registry
	Transport Transport

	// EntityID is this system's own entity id, used as issuer of backward
	// channel messages.
	EntityID string

	// Deadline bounds the time a single logout fan out is allowed to take.
	Deadline time.Duration

	Registerer prometheus.Registerer
}

// LogoutCoordinator drives logout fan out to the federated service providers
// of a user's single sign on session. Its methods are safe to call from
// multiple Go routines.
type LogoutCoordinator struct {
	sessions  *session.Registry
	partners  *Registry
	transport Transport

	entityID string
	deadline time.Duration

	logoutsTotal     prometheus.Counter
	dispatchFailures prometheus.Counter

	logger logrus.FieldLogger
}

// NewLogoutCoordinator creates a new LogoutCoordinator with the provided
// parameters.
func NewLogoutCoordinator(c *LogoutCoordinatorConfig) *LogoutCoordinator {
	deadline := c.Deadline
	if deadline == 0 {
		deadline = defaultLogoutDeadline
	}

	lc := &LogoutCoordinator{
		sessions:  c.Sessions,
		partners:  c.Partners,
		transport: c.Transport,

		entityID: c.EntityID,
		deadline: deadline,

		logoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fedbroker",
			Subsystem: "logout",
			Name:      "triggered_total",
			Help:      "Total number of triggered logout fan outs.",
		}),
		dispatchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fedbroker",
			Subsystem: "logout",
			Name:      "dispatch_failures_total",
			Help:      "Total number of failed backward channel logout dispatches.",
		}),

		logger: c.Logger,
	}

	if c.Registerer != nil {
		c.Registerer.MustRegister(lc.logoutsTotal, lc.dispatchFailures)
	}

	return lc
}

// TriggerLogout implements the ticket.LogoutTrigger interface.
func (lc *LogoutCoordinator) TriggerLogout(ctx context.Context, userID string, requestID string, ticketID string) {
	lc.Logout(ctx, userID, requestID, ticketID)
}

// Logout starts logout fan out for the provided user and returns the started
// attempt. Fan out runs asynchronously, the attempt's deadline timer is a
// ceiling which only drives finalization when the fan out hangs.
func (lc *LogoutCoordinator) Logout(ctx context.Context, userID string, requestID string, ticketID string) *Attempt {
	attempt := &Attempt{
		UserID:    userID,
		RequestID: requestID,
		TicketID:  ticketID,

		state: stateTriggered,
		done:  make(chan struct{}),
	}
	attempt.timer = time.AfterFunc(lc.deadline, func() {
		lc.logger.WithFields(logrus.Fields{
			"uid":     attempt.UserID,
			"request": attempt.RequestID,
		}).Warnln("logout fan out deadline reached")
		lc.finalize(context.Background(), attempt)
	})
	lc.logoutsTotal.Inc()

	go lc.fanOut(ctx, attempt)

	return attempt
}

func (lc *LogoutCoordinator) fanOut(ctx context.Context, attempt *Attempt) {
	attempt.setState(stateFanningOut)

	sess, err := lc.sessions.Get(attempt.UserID)
	if err == session.ErrNotFound {
		// Nothing to log out, a concurrent logout may have cleaned up
		// already. Normal outcome.
		lc.logger.WithField("uid", attempt.UserID).Debugln("logout without session")
		lc.finish(attempt)
		return
	}

	if sess.TicketID != attempt.TicketID {
		// Stale trigger, the session belongs to a different ticket by now. No
		// backward channel logout required.
		lc.logger.WithFields(logrus.Fields{
			"uid":    attempt.UserID,
			"ticket": attempt.TicketID,
		}).Debugln("logout ticket mismatch, skipping fan out")
		lc.finish(attempt)
		return
	}

	for _, sp := range sess.ServiceProviders {
		// Best effort, an unreachable provider must not block logging out
		// the others.
		lc.dispatch(ctx, attempt, sp.URL)
	}

	lc.finalize(ctx, attempt)
}

func (lc *LogoutCoordinator) dispatch(ctx context.Context, attempt *Attempt, spURL string) {
	logger := lc.logger.WithFields(logrus.Fields{
		"uid": attempt.UserID,
		"sp":  spURL,
	})

	partner, ok := lc.partners.Get(spURL)
	if !ok {
		lc.dispatchFailures.Inc()
		logger.Warnln("logout fan out to unknown partner skipped")
		return
	}

	endpoint, err := lc.partners.GetLocation(spURL, ServiceSingleLogout, BindingBackchannel)
	if err != nil {
		lc.dispatchFailures.Inc()
		logger.WithError(err).Warnln("logout fan out without single logout endpoint skipped")
		return
	}

	err = lc.transport.SendLogoutRequest(ctx, endpoint, partner, &LogoutRequest{
		RequestID: attempt.RequestID,
		Issuer:    lc.entityID,
		UserID:    attempt.UserID,
		Reason:    "logout",
	})
	if err != nil {
		lc.dispatchFailures.Inc()
		logger.WithError(err).Warnln("logout request to service provider failed")
	}
}

// finalize notifies the logout initiator and removes the user's session. It
// runs at most once per attempt, either when fan out completed its dispatch
// loop or when the deadline timer fired, whichever comes first.
func (lc *LogoutCoordinator) finalize(ctx context.Context, attempt *Attempt) {
	attempt.once.Do(func() {
		attempt.setState(stateFinalizing)

		sess, err := lc.sessions.Get(attempt.UserID)
		if err == nil {
			if sess.LogoutInitiator != "" {
				lc.respondToInitiator(ctx, attempt, sess.LogoutInitiator)
			}
			// The session is removed even when notifying the initiator
			// failed, a leaked session outweighs a lost notification.
			lc.sessions.Remove(attempt.UserID)
		}

		attempt.timer.Stop()
		attempt.setState(stateDone)
		close(attempt.done)
	})
}

// finish ends an attempt without finalization, used when there is no matching
// session to clean up.
func (lc *LogoutCoordinator) finish(attempt *Attempt) {
	attempt.once.Do(func() {
		attempt.timer.Stop()
		attempt.setState(stateDone)
		close(attempt.done)
	})
}

func (lc *LogoutCoordinator) respondToInitiator(ctx context.Context, attempt *Attempt, initiator string) {
	logger := lc.logger.WithFields(logrus.Fields{
		"uid":       attempt.UserID,
		"initiator": initiator,
	})

	partner, ok := lc.partners.Get(initiator)
	if !ok {
		logger.Warnln("logout initiator is not a registered partner")
		return
	}

	endpoint, err := lc.partners.GetLocation(initiator, ServiceSingleLogout, BindingBackchannel)
	if err != nil {
		logger.WithError(err).Warnln("logout initiator without single logout endpoint")
		return
	}

	err = lc.transport.SendLogoutResponse(ctx, endpoint, partner, &LogoutResponse{
		InResponseTo: attempt.RequestID,
		Issuer:       lc.entityID,
		UserID:       attempt.UserID,
		StatusCode:   fedbroker.ResultSuccess,
	})
	if err != nil {
		logger.WithError(err).Warnln("logout response to initiator failed")
	}
}
