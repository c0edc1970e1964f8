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

package server

import (
	"net/http"

	"github.com/gorilla/mux"
	uuid "github.com/satori/go.uuid"

	"stash.kopano.io/kc/fedbroker"
	"stash.kopano.io/kc/fedbroker/encryption"
	"stash.kopano.io/kc/fedbroker/session"
	"stash.kopano.io/kc/fedbroker/ticket"
	"stash.kopano.io/kc/fedbroker/utils"
)

func resultCodeFromError(err error) fedbroker.ResultCode {
	switch err {
	case nil:
		return fedbroker.ResultSuccess
	case ticket.ErrNotFound, session.ErrNotFound:
		return fedbroker.ResultNotFound
	case ticket.ErrInvalid:
		return fedbroker.ResultInvalidRequest
	case ticket.ErrStoreBusy:
		return fedbroker.ResultServerBusy
	default:
		return fedbroker.ResultInternalError
	}
}

func httpStatusFromResultCode(code fedbroker.ResultCode) int {
	switch code {
	case fedbroker.ResultSuccess:
		return http.StatusOK
	case fedbroker.ResultNotFound:
		return http.StatusNotFound
	case fedbroker.ResultInvalidRequest:
		return http.StatusBadRequest
	case fedbroker.ResultServerBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeResult(rw http.ResponseWriter, code fedbroker.ResultCode, ticketID string) {
	err := utils.WriteJSON(rw, httpStatusFromResultCode(code), &fedbroker.ResultResponse{
		ResultCode: code,
		TicketID:   ticketID,
	}, "")
	if err != nil {
		s.logger.WithError(err).Errorln("failed to write json response")
	}
}

type createTicketRequest struct {
	UserID         string `url:"uid"`
	FederationURL  string `url:"federation_url"`
	AllowedRetries int    `url:"allowed_retries"`
	AuthSP         string `url:"authsp"`
}

func (s *Server) handleCreateTicket(rw http.ResponseWriter, req *http.Request) {
	if err := req.ParseForm(); err != nil {
		s.writeResult(rw, fedbroker.ResultInvalidRequest, "")
		return
	}

	var ctr createTicketRequest
	if err := DecodeURLSchema(&ctr, req.Form); err != nil {
		s.writeResult(rw, fedbroker.ResultInvalidRequest, "")
		return
	}

	attributes := map[string]interface{}{
		fedbroker.UserIDAttribute: ctr.UserID,
	}
	if ctr.FederationURL != "" {
		attributes[fedbroker.FederationURLAttribute] = ctr.FederationURL
	}
	if ctr.AllowedRetries > 0 {
		attributes[fedbroker.AllowedRetriesAttribute] = ctr.AllowedRetries
	}
	if ctr.AuthSP != "" {
		attributes[fedbroker.AuthSPAttribute] = ctr.AuthSP
	}

	id, err := s.tickets.CreateTicket(req.Context(), attributes)
	if err != nil {
		s.writeResult(rw, resultCodeFromError(err), "")
		return
	}

	s.writeResult(rw, fedbroker.ResultSuccess, id)
}

func (s *Server) handleRenewTicket(rw http.ResponseWriter, req *http.Request) {
	ticketID := mux.Vars(req)["ticketID"]

	err := s.tickets.Renew(req.Context(), ticketID)
	s.writeResult(rw, resultCodeFromError(err), "")
}

type invalidateTicketRequest struct {
	RequestID string `url:"request_id"`
	Initiator string `url:"initiator"`
}

func (s *Server) handleInvalidateTicket(rw http.ResponseWriter, req *http.Request) {
	ticketID := mux.Vars(req)["ticketID"]

	if err := req.ParseForm(); err != nil {
		s.writeResult(rw, fedbroker.ResultInvalidRequest, "")
		return
	}
	var itr invalidateTicketRequest
	if err := DecodeURLSchema(&itr, req.Form); err != nil {
		s.writeResult(rw, fedbroker.ResultInvalidRequest, "")
		return
	}
	if itr.RequestID == "" {
		itr.RequestID = uuid.NewV4().String()
	}

	if itr.Initiator != "" {
		// Record who asked, the logout fan out reports its outcome there.
		if record, err := s.tickets.Lookup(req.Context(), ticketID); err == nil {
			if initiatorErr := s.sessions.SetLogoutInitiator(record.UserID(), itr.Initiator); initiatorErr != nil {
				s.logger.WithError(initiatorErr).WithField("uid", record.UserID()).Debugln("logout initiator without session")
			}
		}
	}

	err := s.tickets.Invalidate(req.Context(), ticketID, itr.RequestID)
	s.writeResult(rw, resultCodeFromError(err), "")
}

type sessionLoginRequest struct {
	UserID      string `url:"uid"`
	TicketID    string `url:"ticket_id"`
	Credentials string `url:"credentials"`
	SPURL       string `url:"sp_url"`
}

func (s *Server) handleSessionLogin(rw http.ResponseWriter, req *http.Request) {
	if err := req.ParseForm(); err != nil {
		s.writeResult(rw, fedbroker.ResultInvalidRequest, "")
		return
	}
	var slr sessionLoginRequest
	if err := DecodeURLSchema(&slr, req.Form); err != nil {
		s.writeResult(rw, fedbroker.ResultInvalidRequest, "")
		return
	}
	if slr.UserID == "" || slr.TicketID == "" {
		s.writeResult(rw, fedbroker.ResultInvalidRequest, "")
		return
	}

	if _, err := s.tickets.Lookup(req.Context(), slr.TicketID); err != nil {
		s.writeResult(rw, resultCodeFromError(err), "")
		return
	}

	var credentials []byte
	if slr.Credentials != "" {
		credentials = []byte(slr.Credentials)
		if s.encryptionKey != nil {
			sealed, err := encryption.Encrypt(credentials, s.encryptionKey)
			if err != nil {
				s.logger.WithError(err).Errorln("failed to seal session credentials")
				s.writeResult(rw, fedbroker.ResultInternalError, "")
				return
			}
			credentials = sealed
		}
	}

	s.sessions.RecordLogin(slr.UserID, slr.TicketID, credentials)
	if slr.SPURL != "" {
		if err := s.sessions.AddServiceProvider(slr.UserID, slr.SPURL); err != nil {
			s.writeResult(rw, resultCodeFromError(err), "")
			return
		}
	}

	s.writeResult(rw, fedbroker.ResultSuccess, "")
}

type serviceProviderRequest struct {
	UserID string `url:"uid"`
	SPURL  string `url:"sp_url"`
}

func (s *Server) handleAddServiceProvider(rw http.ResponseWriter, req *http.Request) {
	if err := req.ParseForm(); err != nil {
		s.writeResult(rw, fedbroker.ResultInvalidRequest, "")
		return
	}
	var spr serviceProviderRequest
	if err := DecodeURLSchema(&spr, req.Form); err != nil {
		s.writeResult(rw, fedbroker.ResultInvalidRequest, "")
		return
	}
	if spr.UserID == "" || spr.SPURL == "" {
		s.writeResult(rw, fedbroker.ResultInvalidRequest, "")
		return
	}

	err := s.sessions.AddServiceProvider(spr.UserID, spr.SPURL)
	s.writeResult(rw, resultCodeFromError(err), "")
}

func (s *Server) handleRemoveServiceProvider(rw http.ResponseWriter, req *http.Request) {
	if err := req.ParseForm(); err != nil {
		s.writeResult(rw, fedbroker.ResultInvalidRequest, "")
		return
	}
	var spr serviceProviderRequest
	if err := DecodeURLSchema(&spr, req.Form); err != nil {
		s.writeResult(rw, fedbroker.ResultInvalidRequest, "")
		return
	}
	if spr.UserID == "" || spr.SPURL == "" {
		s.writeResult(rw, fedbroker.ResultInvalidRequest, "")
		return
	}

	err := s.sessions.RemoveServiceProvider(spr.UserID, spr.SPURL)
	s.writeResult(rw, resultCodeFromError(err), "")
}

type sessionLogoutRequest struct {
	TicketID  string `url:"ticket_id"`
	RequestID string `url:"request_id"`
	Initiator string `url:"initiator"`
}

func (s *Server) handleSessionLogout(rw http.ResponseWriter, req *http.Request) {
	if err := req.ParseForm(); err != nil {
		s.writeResult(rw, fedbroker.ResultInvalidRequest, "")
		return
	}
	var slr sessionLogoutRequest
	if err := DecodeURLSchema(&slr, req.Form); err != nil {
		s.writeResult(rw, fedbroker.ResultInvalidRequest, "")
		return
	}
	if slr.TicketID == "" {
		s.writeResult(rw, fedbroker.ResultInvalidRequest, "")
		return
	}
	if slr.RequestID == "" {
		slr.RequestID = uuid.NewV4().String()
	}

	if slr.Initiator != "" {
		if record, err := s.tickets.Lookup(req.Context(), slr.TicketID); err == nil {
			if initiatorErr := s.sessions.SetLogoutInitiator(record.UserID(), slr.Initiator); initiatorErr != nil {
				s.logger.WithError(initiatorErr).WithField("uid", record.UserID()).Debugln("logout initiator without session")
			}
		}
	}

	err := s.tickets.Invalidate(req.Context(), slr.TicketID, slr.RequestID)
	s.writeResult(rw, resultCodeFromError(err), "")
}

type sessionSyncRequest struct {
	TicketID string `url:"ticket_id"`
	Upgrade  bool   `url:"upgrade"`
	Queued   bool   `url:"queued"`
}

func (s *Server) handleSessionSync(rw http.ResponseWriter, req *http.Request) {
	if err := req.ParseForm(); err != nil {
		s.writeResult(rw, fedbroker.ResultInvalidRequest, "")
		return
	}
	var ssr sessionSyncRequest
	if err := DecodeURLSchema(&ssr, req.Form); err != nil {
		s.writeResult(rw, fedbroker.ResultInvalidRequest, "")
		return
	}
	if ssr.TicketID == "" {
		s.writeResult(rw, fedbroker.ResultInvalidRequest, "")
		return
	}

	if ssr.Queued && s.reporter != nil {
		s.reporter.Report(req.Context(), ssr.TicketID, ssr.Upgrade)
		s.writeResult(rw, fedbroker.ResultSuccess, "")
		return
	}

	result := s.sync.SynchronizeSession(req.Context(), ssr.TicketID, ssr.Upgrade)
	s.writeResult(rw, result, "")
}
