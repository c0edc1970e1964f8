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

package ticket

import (
	"errors"
)

// Errors as returned by stores and managers. ErrNotFound is a normal outcome
// for callers holding a stale id and must never be escalated to a fatal error.
var (
	ErrNotFound  = errors.New("ticket not found")
	ErrDuplicate = errors.New("duplicate ticket id")
	ErrStoreBusy = errors.New("ticket store busy")
	ErrInvalid   = errors.New("invalid ticket request")
	ErrInternal  = errors.New("internal ticket error")
)
