package engine

import "time"

// Config holds engine tunables. Zero values are filled in by Normalize.
type Config struct {
	// MaxValidationAttempts bounds the retry counter of a pending
	// response; reaching it force-advances the flow.
	MaxValidationAttempts int
	// ResponseTimeout is how long a question stays valid; a later reply
	// discards the pending state and starts a fresh execution.
	ResponseTimeout time.Duration
	// AppointmentStaleAfter clears stuck appointment-mode flags
	AppointmentStaleAfter time.Duration
	// ResetCommand force-completes any active execution and starts over
	ResetCommand string
	// MaxStepsPerRun caps one interpreter invocation so a definition
	// without input nodes cannot spin forever.
	MaxStepsPerRun int

	// Inactivity defaults, used when a flow has no inactivity node
	InactivityTimeout         time.Duration
	InactivityWarningInterval time.Duration
	InactivityMaxWarnings     int

	WarningMessage string
	ApologyMessage string
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		MaxValidationAttempts:     3,
		ResponseTimeout:           30 * time.Minute,
		AppointmentStaleAfter:     15 * time.Minute,
		ResetCommand:              "#",
		MaxStepsPerRun:            64,
		InactivityTimeout:         10 * time.Minute,
		InactivityWarningInterval: 5 * time.Minute,
		InactivityMaxWarnings:     2,
		WarningMessage:            "Are you still there? Reply to continue, or this conversation will be closed.",
		ApologyMessage:            "Sorry, something went wrong on our side. Please try again in a moment or contact support.",
	}
}

// Normalize fills unset fields with defaults
func (c Config) Normalize() Config {
	d := DefaultConfig()
	if c.MaxValidationAttempts <= 0 {
		c.MaxValidationAttempts = d.MaxValidationAttempts
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = d.ResponseTimeout
	}
	if c.AppointmentStaleAfter <= 0 {
		c.AppointmentStaleAfter = d.AppointmentStaleAfter
	}
	if c.ResetCommand == "" {
		c.ResetCommand = d.ResetCommand
	}
	if c.MaxStepsPerRun <= 0 {
		c.MaxStepsPerRun = d.MaxStepsPerRun
	}
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = d.InactivityTimeout
	}
	if c.InactivityWarningInterval <= 0 {
		c.InactivityWarningInterval = d.InactivityWarningInterval
	}
	if c.InactivityMaxWarnings <= 0 {
		c.InactivityMaxWarnings = d.InactivityMaxWarnings
	}
	if c.WarningMessage == "" {
		c.WarningMessage = d.WarningMessage
	}
	if c.ApologyMessage == "" {
		c.ApologyMessage = d.ApologyMessage
	}
	return c
}
