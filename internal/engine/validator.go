package engine

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"botflow/internal/model"

	"go.uber.org/zap"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidationResult is the outcome of checking an incoming message
// against a pending response.
type ValidationResult struct {
	// Handled is false when the message cannot be judged at all (for
	// example the stored media record is missing); the dispatcher
	// no-ops instead of counting it against the user.
	Handled bool
	Valid   bool
	// Forced marks a force-advance after the retry bound was reached;
	// the raw value is accepted into the flow variable regardless.
	Forced bool
	// Value is what gets bound to the pending variable
	Value any
	// NextHandle selects the outgoing edge for menu selections
	NextHandle string
	// ErrorMessage is sent back to the user on a countable invalid reply
	ErrorMessage string
}

// Validator checks user replies against the validation contract recorded
// in the execution's pending-response state. It mutates the pending
// retry counter; the caller persists the execution.
type Validator struct {
	cfg      Config
	messages MessageStore
	media    MediaProcessor
	log      *zap.Logger
}

// Validate judges an incoming message against exec.Pending, which must be set.
func (v *Validator) Validate(ctx context.Context, exec *model.Execution, msg InboundMessage) ValidationResult {
	pending := exec.Pending
	switch pending.Kind {
	case model.InputMedia:
		return v.validateMedia(ctx, exec, msg)
	case model.InputMenu:
		return v.validateMenu(exec, msg)
	default:
		return v.validateText(exec, msg)
	}
}

func (v *Validator) validateMedia(ctx context.Context, exec *model.Execution, msg InboundMessage) ValidationResult {
	if msg.ID == "" || v.messages == nil {
		return ValidationResult{}
	}
	stored, err := v.messages.GetMessageByID(ctx, exec.CompanyID, msg.ID)
	if err != nil || stored == nil {
		// a store lookup miss is not the user's fault
		v.log.Debug("stored message not found for media validation",
			zap.String("messageId", msg.ID),
			zap.String("executionId", exec.ID),
			zap.Error(err))
		return ValidationResult{}
	}
	info, err := v.media.ExtractMediaInfo(ctx, stored)
	if err != nil || info == nil {
		return v.invalid(exec, msg, "")
	}
	accepted := exec.Pending.MediaTypes
	if len(accepted) > 0 && !contains(accepted, info.Kind) {
		return v.invalid(exec, msg, fmt.Sprintf("Please send one of: %s.", strings.Join(accepted, ", ")))
	}
	return ValidationResult{Handled: true, Valid: true, Value: map[string]any{
		"kind":     info.Kind,
		"mimeType": info.MimeType,
		"url":      info.URL,
		"filename": info.Filename,
	}}
}

func (v *Validator) validateMenu(exec *model.Execution, msg InboundMessage) ValidationResult {
	reply := strings.TrimSpace(msg.Body)
	for _, opt := range exec.Pending.Options {
		if strings.EqualFold(reply, opt.Value) || strings.EqualFold(reply, opt.Label) {
			return ValidationResult{Handled: true, Valid: true, Value: opt.Value, NextHandle: opt.Value}
		}
	}
	return v.invalid(exec, msg, "Please reply with the number of one of the options.")
}

func (v *Validator) validateText(exec *model.Execution, msg InboundMessage) ValidationResult {
	body := strings.TrimSpace(msg.Body)
	valid := true
	switch exec.Pending.Rule {
	case "", "nonempty":
		valid = body != ""
	case "number":
		_, err := strconv.ParseFloat(body, 64)
		valid = err == nil
	case "email":
		valid = emailPattern.MatchString(body)
	case "pattern":
		re, err := regexp.Compile(exec.Pending.Pattern)
		if err != nil {
			v.log.Warn("invalid validation pattern, accepting reply",
				zap.String("pattern", exec.Pending.Pattern),
				zap.String("executionId", exec.ID))
		} else {
			valid = re.MatchString(body)
		}
	default:
		v.log.Warn("unknown validation rule, accepting reply",
			zap.String("rule", exec.Pending.Rule),
			zap.String("executionId", exec.ID))
	}
	if !valid {
		return v.invalid(exec, msg, "")
	}
	return ValidationResult{Handled: true, Valid: true, Value: body}
}

// invalid counts the failed attempt and either asks again or, once the
// retry bound is reached, force-advances with the raw reply.
func (v *Validator) invalid(exec *model.Execution, msg InboundMessage, hint string) ValidationResult {
	exec.Pending.Attempts++
	if exec.Pending.Attempts >= v.cfg.MaxValidationAttempts {
		return ValidationResult{Handled: true, Forced: true, Value: strings.TrimSpace(msg.Body)}
	}
	remaining := v.cfg.MaxValidationAttempts - exec.Pending.Attempts
	message := exec.Pending.ErrorMessage
	if message == "" {
		message = "That doesn't look like a valid reply."
	}
	if hint != "" {
		message += " " + hint
	}
	message += fmt.Sprintf(" You have %d attempt(s) left.", remaining)
	return ValidationResult{Handled: true, ErrorMessage: message}
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
