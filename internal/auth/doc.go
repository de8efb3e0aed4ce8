// Package auth holds the credential and session lifecycle core: password
// policy, human-verification challenges, password hashing, signed session
// tokens and the account lockout state machine.
//
// Everything in this package is free of I/O. Persistence of lockout state is
// left to the caller through types.AccountUpdate values.
package auth
