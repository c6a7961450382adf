// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID  = "request_id"
	FieldUser       = "user"
	FieldExternalID = "external_id"
	FieldTag        = "tag"

	// Process / pipeline fields
	FieldEvent      = "event"
	FieldComponent  = "component"
	FieldKind       = "kind"
	FieldCause      = "cause"
	FieldStage      = "stage"
	FieldAttempt    = "attempt"
	FieldExitCode   = "exit_code"
	FieldPID        = "pid"
	FieldGeneration = "generation"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Media fields
	FieldBitrate  = "bitrate_kbps"
	FieldDuration = "duration_s"

	// Path / URL fields
	FieldPath   = "path"
	FieldKey    = "key"
	FieldTarget = "target"
)
