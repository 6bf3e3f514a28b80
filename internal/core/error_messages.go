package core

// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support reference.
// API clients receive the code next to the message so a failed import can be
// diagnosed without access to the server logs.
//
// # Spec Errors (SPEC001-SPEC099)
//
//	SPEC001 - Invalid spec: The transformation spec is malformed
//	          Patterns: "invalid spec"
//	SPEC002 - Unknown spec: No spec is registered under this key
//	          Patterns: "spec not found"
//	SPEC003 - Unreadable spec: The spec document could not be parsed
//	          Patterns: "yaml:"
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large
//	          Patterns: "file too large", "request body too large"
//	FILE002 - Invalid CSV: rows could not be parsed
//	          Patterns: "parse error", "wrong number of fields"
//	FILE003 - Unsupported format: only .csv and .xlsx are accepted
//	          Patterns: "unsupported file format"
//	FILE004 - No file: no file part in the request
//	          Patterns: "no file provided"
//	FILE005 - Missing header: the configured header row does not exist
//	          Patterns: "header row not found"
//	FILE006 - Unknown sheet: the configured worksheet does not exist
//	          Patterns: "sheet not found"
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key          Patterns: "duplicate key", "unique constraint"
//	DB002 - Missing table          Patterns: "does not exist", "no such table"
//	DB003 - Connection refused     Patterns: "connection refused"
//	DB004 - Connection reset       Patterns: "connection reset"
//	DB005 - Unknown driver         Patterns: "unknown database driver"
//	DB006 - No database            Patterns: "no database configured"
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - System busy           Patterns: "too many imports"
//	IMP002 - Request cancelled     Patterns: "context canceled"
//	IMP003 - Request timeout       Patterns: "context deadline exceeded", "timeout"
//	IMP004 - Unknown output format Patterns: "unknown output format"
//
// # Default Error (ERR000)
//
// Fallback when no specific pattern matches.
//
// # Pattern Matching
//
// Error patterns are matched case-insensitively using strings.Contains.
// The first matching pattern wins, so more specific patterns come first.

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

var (
	msgInvalidSpec = UserMessage{
		Message: "The transformation spec is invalid",
		Action:  "Fix the spec at the reported path and try again",
		Code:    "SPEC001",
	}
	msgFileTooLarge = UserMessage{
		Message: "File exceeds the maximum size limit",
		Action:  "Split the file into smaller chunks",
		Code:    "FILE001",
	}
	msgInvalidCSV = UserMessage{
		Message: "File is not a valid CSV",
		Action:  "Check the delimiter in the spec and that quotes are balanced",
		Code:    "FILE002",
	}
	msgDuplicateKey = UserMessage{
		Message: "A record with this key already exists",
		Action:  "Remove duplicates or clear the target table first",
		Code:    "DB001",
	}
	msgTimeout = UserMessage{
		Message: "The import timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "IMP003",
	}
)

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
var errorPatterns = []errorPattern{
	// =========================================================================
	// Spec Errors
	// =========================================================================
	{pattern: "invalid spec", msg: msgInvalidSpec},
	{
		pattern: "spec not found",
		msg: UserMessage{
			Message: "No spec is registered under this key",
			Action:  "List the available specs with GET /api/specs",
			Code:    "SPEC002",
		},
	},
	{
		pattern: "yaml:",
		msg: UserMessage{
			Message: "The spec document could not be parsed",
			Action:  "Check the YAML or JSON syntax of the spec",
			Code:    "SPEC003",
		},
	},

	// =========================================================================
	// File Errors
	// =========================================================================
	{pattern: "file too large", msg: msgFileTooLarge},
	{pattern: "request body too large", msg: msgFileTooLarge},
	{pattern: "parse error", msg: msgInvalidCSV},
	{pattern: "wrong number of fields", msg: msgInvalidCSV},
	{
		pattern: "unsupported file format",
		msg: UserMessage{
			Message: "This file type is not supported",
			Action:  "Upload a .csv or .xlsx file",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Attach the input file as the 'file' form field",
			Code:    "FILE004",
		},
	},
	{
		pattern: "header row not found",
		msg: UserMessage{
			Message: "The header row was not found in the file",
			Action:  "Check input.header_row and input.skip_rows in the spec",
			Code:    "FILE005",
		},
	},
	{
		pattern: "sheet not found",
		msg: UserMessage{
			Message: "The worksheet does not exist in the workbook",
			Action:  "Check input.sheet in the spec",
			Code:    "FILE006",
		},
	},

	// =========================================================================
	// Database Errors
	// =========================================================================
	{pattern: "duplicate key", msg: msgDuplicateKey},
	{pattern: "unique constraint", msg: msgDuplicateKey},
	{
		pattern: "no database configured",
		msg: UserMessage{
			Message: "Database export is not enabled on this server",
			Action:  "Request csv or json output, or set DATABASE_URL",
			Code:    "DB006",
		},
	},
	{
		pattern: "unknown database driver",
		msg: UserMessage{
			Message: "The configured database driver is not supported",
			Action:  "Use one of postgres, sqlite, mysql or sqlserver",
			Code:    "DB005",
		},
	},
	{
		pattern: "no such table",
		msg: UserMessage{
			Message: "The target table does not exist",
			Action:  "Create the table before exporting",
			Code:    "DB002",
		},
	},
	{
		pattern: "does not exist",
		msg: UserMessage{
			Message: "The target table or column does not exist",
			Action:  "Create the table with one column per output field",
			Code:    "DB002",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB003",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB004",
		},
	},

	// =========================================================================
	// Import Errors
	// =========================================================================
	{
		pattern: "too many imports",
		msg: UserMessage{
			Message: "Too many imports in progress",
			Action:  "Please wait a moment and try again",
			Code:    "IMP001",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "The import was cancelled",
			Action:  "Please try again",
			Code:    "IMP002",
		},
	},
	{pattern: "context deadline exceeded", msg: msgTimeout},
	{pattern: "timeout", msg: msgTimeout},
	{
		pattern: "unknown output format",
		msg: UserMessage{
			Message: "The requested output format is not supported",
			Action:  "Use csv, json or db",
			Code:    "IMP004",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// If no pattern matches, a generic fallback message with code ERR000 is returned.
//
// Example:
//
//	msg := MapError(errors.New("header row not found: row 3"))
//	// msg.Code == "FILE005"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern, i.e. it is not
// the generic ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
