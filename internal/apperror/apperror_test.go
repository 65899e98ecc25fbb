package apperror

import (
	"errors"
	"testing"
)

func TestErrorsIs(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{
			name:      "NotFound wraps ErrNotFound",
			err:       NotFound("account", "abc123"),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "ValidationFailed wraps ErrValidation",
			err:       ValidationFailed("github", "github must not be a url"),
			target:    ErrValidation,
			wantMatch: true,
		},
		{
			name:      "Conflict wraps ErrConflict",
			err:       Conflict("account", "abc123"),
			target:    ErrConflict,
			wantMatch: true,
		},
		{
			name:      "DuplicateNickname wraps ErrDuplicateNickname",
			err:       DuplicateNickname("phoet", "github"),
			target:    ErrDuplicateNickname,
			wantMatch: true,
		},
		{
			name:      "DuplicateNickname does NOT match ErrConflict",
			err:       DuplicateNickname("phoet", "github"),
			target:    ErrConflict,
			wantMatch: false,
		},
		{
			name:      "NotFound does NOT match ErrValidation",
			err:       NotFound("account", "abc123"),
			target:    ErrValidation,
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errors.Is(tt.err, tt.target)
			if got != tt.wantMatch {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.wantMatch)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name        string
		err         *AppError
		wantMessage string
	}{
		{
			name:        "NotFound message includes resource and id",
			err:         NotFound("account", "abc123"),
			wantMessage: "account not found with id abc123",
		},
		{
			name:        "ValidationFailed uses custom message",
			err:         ValidationFailed("nickname", "nickname is required"),
			wantMessage: "nickname is required",
		},
		{
			name:        "DuplicateNickname names the nickname and provider",
			err:         DuplicateNickname("phoet", "github"),
			wantMessage: `nickname "phoet" already belongs to an account not linked to github`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMessage {
				t.Errorf("Error() = %q, want %q", got, tt.wantMessage)
			}
		})
	}
}

func TestUnwrap(t *testing.T) {
	err := DuplicateNickname("phoet", "github")
	if err.Unwrap() != ErrDuplicateNickname {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), ErrDuplicateNickname)
	}
}

func TestValidationFailedField(t *testing.T) {
	// The Field tells the frontend WHICH field was invalid.
	err := ValidationFailed("email", "invalid email format")

	if err.Field != "email" {
		t.Errorf("Field = %q, want %q", err.Field, "email")
	}
}
