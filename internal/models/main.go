// Package models defines the core data structures for identities, evidence and cases.
package models

import "time"

// Role is the privilege level of a trusted identity.
type Role string

const (
	// RoleAdmin may decide onboarding requests and act on any owner's evidence.
	RoleAdmin Role = "admin"
	// RoleUser is the role granted by onboarding approval.
	RoleUser Role = "user"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// PendingState is the onboarding state of a PendingIdentity.
type PendingState string

const (
	// PendingUnverified means the one-time code has not been consumed yet.
	PendingUnverified PendingState = "unverified"
	// PendingEmailVerified means the code was consumed and the record awaits an administrator.
	PendingEmailVerified PendingState = "email_verified"
)

// Valid reports whether s is a known pending state.
func (s PendingState) Valid() bool {
	return s == PendingUnverified || s == PendingEmailVerified
}

// Profile holds the self-declared attributes collected at registration.
type Profile struct {
	// Name is the display name.
	Name string `json:"name"`
	// Email is the login identifier, stored lower-cased.
	Email string `json:"email"`
	// Identity is the identity class, e.g. "Lawyer" or "Journalist".
	Identity string `json:"identity"`
	// JobTitle describes the applicant's position.
	JobTitle string `json:"jobTitle"`
	// UsagePurpose states why the applicant needs the product.
	UsagePurpose string `json:"usagePurpose"`
}

// PendingIdentity is a registration awaiting email verification and administrator approval.
type PendingIdentity struct {
	ID string `json:"id"`
	Profile
	// PasswordHash is the bcrypt digest of the credential.
	PasswordHash []byte `json:"-"`
	// Code is the one-time numeric verification code.
	Code string `json:"-"`
	// CodeExpiresAt is the instant after which Code is rejected.
	CodeExpiresAt time.Time    `json:"codeExpiresAt"`
	State         PendingState `json:"state"`
	CreatedAt     time.Time    `json:"createdAt"`
}

// TrustedIdentity is an approved account usable for authentication.
type TrustedIdentity struct {
	ID string `json:"id"`
	Profile
	PasswordHash []byte    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ResetCode is a password-reset code attached to a trusted identity.
type ResetCode struct {
	Code      string
	ExpiresAt time.Time
}

// Claims are the identity claims carried by a session token.
type Claims struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}
