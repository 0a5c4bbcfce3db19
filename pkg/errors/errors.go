// Unified error handling for the Octolapse G-code preprocessor
//
// Copyright (C) 2026  Octolapse Go Port
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	"fmt"
	"runtime"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Configuration errors
	ErrConfigSection    ErrorCode = "CONFIG_SECTION"
	ErrConfigOption     ErrorCode = "CONFIG_OPTION"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrConfigType       ErrorCode = "CONFIG_TYPE"

	// Profile errors
	ErrProfileRead       ErrorCode = "PROFILE_READ"
	ErrProfileDecode     ErrorCode = "PROFILE_DECODE"
	ErrProfileValidation ErrorCode = "PROFILE_VALIDATION"
	ErrProfileUnknown    ErrorCode = "PROFILE_UNKNOWN"

	// G-code parsing errors
	ErrGCodeParse        ErrorCode = "GCODE_PARSE"
	ErrGCodeInvalidParam ErrorCode = "GCODE_INVALID_PARAM"

	// Wipe engine errors
	ErrWipeSettings ErrorCode = "WIPE_SETTINGS"

	// Processing errors
	ErrProcessInput  ErrorCode = "PROCESS_INPUT"
	ErrProcessOutput ErrorCode = "PROCESS_OUTPUT"

	// Runtime errors
	ErrRuntime     ErrorCode = "RUNTIME"
	ErrRuntimeInit ErrorCode = "RUNTIME_INIT"
)

// HostError is the unified error type for the preprocessor
type HostError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// File is the affected file path (config, profile, or G-code input)
	File string

	// Line is the line number in the affected file (if available)
	Line int

	// Section is the config section or context
	Section string

	// Option is the config option name (if applicable)
	Option string

	// Err wraps the underlying error
	Err error

	// Context provides additional context
	Context map[string]interface{}
}

// Error implements the error interface
func (e *HostError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.File != "" {
		if e.Line > 0 {
			msg = fmt.Sprintf("%s (%s:%d)", msg, e.File, e.Line)
		} else {
			msg = fmt.Sprintf("%s (%s)", msg, e.File)
		}
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error
func (e *HostError) Unwrap() error {
	return e.Err
}

// SetFile sets the affected file path
func (e *HostError) SetFile(file string) *HostError {
	e.File = file
	return e
}

// SetLine sets the line number
func (e *HostError) SetLine(line int) *HostError {
	e.Line = line
	return e
}

// SetSection sets the context section
func (e *HostError) SetSection(section string) *HostError {
	e.Section = section
	return e
}

// SetOption sets the config option
func (e *HostError) SetOption(option string) *HostError {
	e.Option = option
	return e
}

// SetContext adds additional context
func (e *HostError) SetContext(key string, value interface{}) *HostError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// New creates a new HostError
func New(code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
	}
}

// Config errors

// ConfigSectionError creates an error for missing config section
func ConfigSectionError(section string) *HostError {
	return New(ErrConfigSection, fmt.Sprintf("section '%s' not found", section)).
		SetSection(section)
}

// ConfigOptionError creates an error for missing or invalid config option
func ConfigOptionError(section, option string) *HostError {
	return New(ErrConfigOption, fmt.Sprintf("option '%s' not found in section '%s'", option, section)).
		SetSection(section).
		SetOption(option)
}

// ConfigValidationError creates an error for config validation failure
func ConfigValidationError(section, option string, reason string) *HostError {
	return New(ErrConfigValidation, fmt.Sprintf("option '%s' in section '%s': %s", option, section, reason)).
		SetSection(section).
		SetOption(option)
}

// ConfigTypeError creates an error for config type conversion failure
func ConfigTypeError(section, option, value string, targetType string, err error) *HostError {
	return Wrap(err, ErrConfigType, fmt.Sprintf("option '%s' in section '%s': failed to parse '%s' as %s", option, section, value, targetType)).
		SetSection(section).
		SetOption(option)
}

// Profile errors

// ProfileReadError creates an error for an unreadable profile file
func ProfileReadError(path string, err error) *HostError {
	return Wrap(err, ErrProfileRead, "failed to read profile file").SetFile(path)
}

// ProfileDecodeError creates an error for undecodable profile YAML
func ProfileDecodeError(path string, err error) *HostError {
	return Wrap(err, ErrProfileDecode, "failed to decode profile file").SetFile(path)
}

// ProfileValidationError creates an error for profile validation failure
func ProfileValidationError(name, reason string) *HostError {
	return New(ErrProfileValidation, fmt.Sprintf("profile '%s': %s", name, reason)).
		SetSection(name)
}

// ProfileUnknownError creates an error for a profile name that does not exist
func ProfileUnknownError(name string) *HostError {
	return New(ErrProfileUnknown, fmt.Sprintf("profile '%s' not found", name)).
		SetSection(name)
}

// G-code errors

// GCodeParseError creates an error for G-code parsing failure
func GCodeParseError(line string, reason string) *HostError {
	return New(ErrGCodeParse, fmt.Sprintf("failed to parse G-code: %s (reason: %s)", line, reason))
}

// GCodeInvalidParameterError creates an error for invalid G-code parameter
func GCodeInvalidParameterError(command, param, value string, reason string) *HostError {
	return New(ErrGCodeInvalidParam, fmt.Sprintf("G-code command '%s': invalid parameter '%s=%s' (%s)", command, param, value, reason))
}

// Wipe engine errors

// WipeSettingsError creates an error for invalid wipe settings
func WipeSettingsError(option, reason string) *HostError {
	return New(ErrWipeSettings, fmt.Sprintf("wipe setting '%s': %s", option, reason)).
		SetOption(option)
}

// Processing errors

// ProcessInputError creates an error for G-code input failure
func ProcessInputError(path string, err error) *HostError {
	return Wrap(err, ErrProcessInput, "failed to read G-code input").SetFile(path)
}

// ProcessOutputError creates an error for G-code output failure
func ProcessOutputError(path string, err error) *HostError {
	return Wrap(err, ErrProcessOutput, "failed to write G-code output").SetFile(path)
}

// Runtime errors

// RuntimeError creates a general runtime error
func RuntimeError(message string) *HostError {
	return New(ErrRuntime, message)
}

// RuntimeErrorInit creates an error for initialization failure
func RuntimeErrorInit(component string, reason string) *HostError {
	return New(ErrRuntimeInit, fmt.Sprintf("failed to initialize %s: %s", component, reason))
}

// Helper functions for adding context

// WithLineNumber adds line number to error context
func WithLineNumber(err *HostError, line int) *HostError {
	if err == nil {
		return nil
	}
	err.SetLine(line)
	return err
}

// RecoverPanic safely recovers from panic and converts to error
func RecoverPanic() *HostError {
	if r := recover(); r != nil {
		var err error
		switch x := r.(type) {
		case string:
			err = RuntimeError(fmt.Sprintf("panic: %s", x))
		case error:
			err = RuntimeError(x.Error())
		case runtime.Error:
			err = RuntimeError(x.Error())
		default:
			err = RuntimeError(fmt.Sprintf("panic: %v", x))
		}
		return err.(*HostError)
	}
	return nil
}

// Is checks if error matches given error code
func Is(err error, code ErrorCode) bool {
	if hostErr, ok := err.(*HostError); ok {
		return hostErr.Code == code
	}
	return false
}

// IsConfig checks if error is a config error
func IsConfig(err error) bool {
	return Is(err, ErrConfigSection) ||
		Is(err, ErrConfigOption) ||
		Is(err, ErrConfigValidation) ||
		Is(err, ErrConfigType)
}

// IsProfile checks if error is a profile error
func IsProfile(err error) bool {
	return Is(err, ErrProfileRead) ||
		Is(err, ErrProfileDecode) ||
		Is(err, ErrProfileValidation) ||
		Is(err, ErrProfileUnknown)
}

// IsGCode checks if error is a G-code error
func IsGCode(err error) bool {
	return Is(err, ErrGCodeParse) ||
		Is(err, ErrGCodeInvalidParam)
}

// IsProcess checks if error is a file processing error
func IsProcess(err error) bool {
	return Is(err, ErrProcessInput) ||
		Is(err, ErrProcessOutput)
}
