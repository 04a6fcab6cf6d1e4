// Copyright (c) 2026 Decorly. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package sec

import "time"

// Principal is the authenticated identity attached to a request once both the
// bearer token and its server-side session have been validated.
//
// It is a snapshot taken at authentication time: the guards that follow
// (activity flood lock, password age) read from it instead of re-loading the
// account on every stage.
type Principal struct {
	UserID              string
	SessionID           string
	Email               string
	Role                UserRole
	PasswordChangedAt   time.Time
	ActivityLockedUntil *time.Time // nil if the flood lock was never engaged
}
