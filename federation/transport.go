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
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"stash.kopano.io/kc/fedbroker"
	"stash.kopano.io/kc/fedbroker/utils"
)

// A LogoutRequest is a backward channel single logout request message.
type LogoutRequest struct {
	RequestID string
	Issuer    string
	UserID    string
	Reason    string
}

// A LogoutResponse is a backward channel single logout response message which
// reports the outcome of a logout request back to its initiator.
type LogoutResponse struct {
	InResponseTo string
	Issuer       string
	UserID       string
	StatusCode   fedbroker.ResultCode
}

// A SessionSync is a session liveness update message for a federation partner.
// Partners treat sync as a refresh, sending the same sync twice is safe.
type SessionSync struct {
	RequestID string
	Issuer    string
	TicketID  string
	UserID    string
	Upgrade   bool
	IssuedAt  time.Time
}

// Transport sends backward channel messages to federation partners. Any
// returned error means best-effort failure, callers log and continue.
type Transport interface {
	SendLogoutRequest(ctx context.Context, endpoint *url.URL, partner *PartnerRegistration, msg *LogoutRequest) error
	SendLogoutResponse(ctx context.Context, endpoint *url.URL, partner *PartnerRegistration, msg *LogoutResponse) error
	SendSessionSync(ctx context.Context, endpoint *url.URL, partner *PartnerRegistration, msg *SessionSync) error
}

// HTTPTransportConfig bundles the parameters of a HTTP backward channel
// transport.
type HTTPTransportConfig struct {
	Logger logrus.FieldLogger

	HTTPTransport http.RoundTripper

	Timeout time.Duration
}

type httpTransport struct {
	client         *http.Client
	insecureClient *http.Client

	limiter *rate.Limiter

	logger logrus.FieldLogger
}

// NewHTTPTransport creates a new backward channel Transport sending messages
// as signed form encoded HTTP POST requests.
func NewHTTPTransport(c *HTTPTransportConfig) Transport {
	timeout := c.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	transport := c.HTTPTransport
	if transport == nil {
		transport = utils.HTTPTransportWithTLSClientConfig(utils.DefaultTLSConfig())
	}

	return &httpTransport{
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		insecureClient: &http.Client{
			Timeout:   timeout,
			Transport: utils.HTTPTransportWithTLSClientConfig(utils.InsecureSkipVerifyTLSConfig()),
		},

		limiter: rate.NewLimiter(100, 200), // TODO: make rate limits configurable.

		logger: c.Logger,
	}
}

// SendLogoutRequest implements the Transport interface.
func (t *httpTransport) SendLogoutRequest(ctx context.Context, endpoint *url.URL, partner *PartnerRegistration, msg *LogoutRequest) error {
	values := url.Values{}
	values.Set("request_id", msg.RequestID)
	values.Set("issuer", msg.Issuer)
	values.Set("uid", msg.UserID)
	values.Set("reason", msg.Reason)

	return t.send(ctx, endpoint, partner, "logout_request", values, jwt.MapClaims{
		"jti":    msg.RequestID,
		"iss":    msg.Issuer,
		"sub":    msg.UserID,
		"reason": msg.Reason,
	})
}

// SendLogoutResponse implements the Transport interface.
func (t *httpTransport) SendLogoutResponse(ctx context.Context, endpoint *url.URL, partner *PartnerRegistration, msg *LogoutResponse) error {
	values := url.Values{}
	values.Set("in_response_to", msg.InResponseTo)
	values.Set("issuer", msg.Issuer)
	values.Set("uid", msg.UserID)
	values.Set("result_code", string(msg.StatusCode))

	return t.send(ctx, endpoint, partner, "logout_response", values, jwt.MapClaims{
		"jti":         msg.InResponseTo,
		"iss":         msg.Issuer,
		"sub":         msg.UserID,
		"result_code": string(msg.StatusCode),
	})
}

// SendSessionSync implements the Transport interface.
func (t *httpTransport) SendSessionSync(ctx context.Context, endpoint *url.URL, partner *PartnerRegistration, msg *SessionSync) error {
	values := url.Values{}
	values.Set("request_id", msg.RequestID)
	values.Set("issuer", msg.Issuer)
	values.Set("ticket_id", msg.TicketID)
	values.Set("uid", msg.UserID)
	values.Set("upgrade", strconv.FormatBool(msg.Upgrade))

	return t.send(ctx, endpoint, partner, "session_sync", values, jwt.MapClaims{
		"jti":    msg.RequestID,
		"iss":    msg.Issuer,
		"sub":    msg.UserID,
		"ticket": msg.TicketID,
		"iat":    msg.IssuedAt.Unix(),
	})
}

func (t *httpTransport) send(ctx context.Context, endpoint *url.URL, partner *PartnerRegistration, messageType string, values url.Values, claims jwt.MapClaims) error {
	// A timeout for waiting for a limiter slot. The timeout also includes the
	// time a send is allowed to take afterwards.
	err := t.limiter.Wait(ctx)
	if err != nil {
		return fmt.Errorf("failed to get limiter slot: %v", err)
	}

	values.Set("message_type", messageType)
	if partner.SigningSecret != "" {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		signed, signErr := token.SignedString([]byte(partner.SigningSecret))
		if signErr != nil {
			return fmt.Errorf("failed to sign message: %v", signErr)
		}
		values.Set("assertion", signed)
	}

	request, err := http.NewRequest(http.MethodPost, endpoint.String(), strings.NewReader(values.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	request.Header.Set("User-Agent", utils.DefaultHTTPUserAgent)
	request = request.WithContext(ctx)

	client := t.client
	if partner.Insecure {
		client = t.insecureClient
	}

	response, err := client.Do(request)
	if err != nil {
		return fmt.Errorf("request failed: %v", err)
	}
	response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("request returned error code: %v", response.Status)
	}

	return nil
}
