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

package fedbroker

// A ResultCode is the protocol level outcome of a broker operation. It is
// rendered by the calling protocol layer as a result_code response value.
type ResultCode string

// Result codes as used by broker operations.
const (
	ResultSuccess        ResultCode = "SUCCESS"
	ResultNotFound       ResultCode = "NOT_FOUND"
	ResultInvalidRequest ResultCode = "INVALID_REQUEST"
	ResultServerBusy     ResultCode = "SERVER_BUSY"
	ResultInternalError  ResultCode = "INTERNAL_ERROR"
)

// ResultResponse defines the data returned by broker endpoints. Every
// operation yields at least a result code, ticket creating operations include
// the created ticket id as well.
type ResultResponse struct {
	ResultCode ResultCode `json:"result_code"`

	TicketID string `json:"ticket_id,omitempty"`
}
