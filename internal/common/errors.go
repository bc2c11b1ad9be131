// Copyright 2024 ModelStore Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrExists             = errors.New("already exists")
	ErrConflict           = errors.New("conflicting entry")
	ErrPendingTransaction = errors.New("pending transaction")
	ErrCorrupt            = errors.New("corrupt record")
	ErrAtRoot             = errors.New("already at the top level context")
	ErrInvalidName        = errors.New("invalid name")
	ErrIO                 = errors.New("I/O error")
)

// IsPending reports whether err means another writer's work is unfinished.
// Orchestration treats it as "try again later".
func IsPending(err error) bool {
	return errors.Is(err, ErrPendingTransaction)
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
