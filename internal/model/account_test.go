package model

import (
	"errors"
	"testing"

	"github.com/lokalhub/lokalhub/internal/apperror"
	"github.com/lokalhub/lokalhub/internal/provider"
)

func TestValidateHandle_AllowsNamesAndNothing(t *testing.T) {
	// Bare usernames and empty values carry zero errors.
	for _, val := range []string{"abc", "hanno-nym", "111bbb888_", ""} {
		if err := ValidateHandle("github", val); err != nil {
			t.Errorf("ValidateHandle(%q) = %v, want nil", val, err)
		}
	}
}

func TestValidateHandle_RejectsURLs(t *testing.T) {
	for _, val := range []string{"http://", "www.bla", "https://github.com/phoet"} {
		err := ValidateHandle("github", val)
		if err == nil {
			t.Errorf("ValidateHandle(%q) = nil, want validation error", val)
			continue
		}
		if !errors.Is(err, apperror.ErrValidation) {
			t.Errorf("ValidateHandle(%q) error = %v, want ErrValidation", val, err)
		}
		var appErr *apperror.AppError
		if errors.As(err, &appErr) && appErr.Field != "github" {
			t.Errorf("ValidateHandle(%q) Field = %q, want %q", val, appErr.Field, "github")
		}
	}
}

func TestCheckHandles_IgnoresBrokenEmail(t *testing.T) {
	// Draft validation is handle-shape only. A broken email passes here and
	// is only rejected by the strict commit-time validator.
	a := &Account{Nickname: "phoet", Email: "broken email"}

	if err := a.CheckHandles(); err != nil {
		t.Fatalf("CheckHandles() = %v, want nil for broken email", err)
	}
}

func TestValidate_Email(t *testing.T) {
	tests := []struct {
		name    string
		email   string
		wantErr bool
	}{
		{"empty email is valid", "", false},
		{"regular address is valid", "phoetmail@googlemail.com", false},
		{"broken email fails strict validation", "broken email", true},
		{"missing domain fails strict validation", "phoet@", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &Account{Nickname: "phoet", Email: tt.email}
			err := a.Validate()
			if tt.wantErr && !errors.Is(err, apperror.ErrValidation) {
				t.Errorf("Validate() = %v, want ErrValidation", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestLinkedTo(t *testing.T) {
	a := &Account{Nickname: "phoet"}
	if a.LinkedTo(provider.GitHub) {
		t.Error("fresh account should not be linked to github")
	}

	// A recorded (provider, uid) pair counts.
	a.Link(provider.Twitter, "12345")
	if !a.LinkedTo(provider.Twitter) {
		t.Error("account should be linked to twitter after Link()")
	}

	// A manually set handle counts too, even without a stored uid.
	a.GitHub = "phoet"
	if !a.LinkedTo(provider.GitHub) {
		t.Error("non-empty github handle should count as linkage")
	}
}

func TestLink_UpdatesUIDForKnownProvider(t *testing.T) {
	a := &Account{Nickname: "phoet"}
	a.Link(provider.GitHub, "111")
	a.Link(provider.GitHub, "222") // provider-side renumbering

	if len(a.Linkages) != 1 {
		t.Fatalf("len(Linkages) = %d, want 1", len(a.Linkages))
	}
	if a.Linkages[0].UID != "222" {
		t.Errorf("UID = %q, want %q", a.Linkages[0].UID, "222")
	}
}

func TestApplyProfile_OverwritesFields(t *testing.T) {
	a := &Account{Nickname: "phoet", Name: "old", Location: "nowhere"}

	a.ApplyProfile(provider.Profile{
		Provider:    provider.Twitter,
		UID:         "12345",
		Nickname:    "phoet",
		Name:        "Peter Schröder",
		Image:       "http://a3.twimg.com/profile_images/1100439667/P1040913_normal.JPG",
		Description: "I am a freelance Ruby and Java developer from Hamburg, Germany. ☠ nofail",
		Location:    "Sternschanze, Hamburg",
		URL:         "http://nofail.de",
	})

	if a.Name != "Peter Schröder" {
		t.Errorf("Name = %q", a.Name)
	}
	if a.Twitter != "phoet" {
		t.Errorf("Twitter = %q, want %q", a.Twitter, "phoet")
	}
	if a.Location != "Sternschanze, Hamburg" {
		t.Errorf("Location = %q", a.Location)
	}
	if a.URL != "http://nofail.de" {
		t.Errorf("URL = %q", a.URL)
	}
	if !a.LinkedTo(provider.Twitter) {
		t.Error("ApplyProfile should register the linkage")
	}
}

func TestApplyProfile_EmailMerge(t *testing.T) {
	a := &Account{Nickname: "phoet", Email: "phoetmail@googlemail.com"}

	// Twitter supplies no email — the existing one must survive.
	a.ApplyProfile(provider.Profile{Provider: provider.Twitter, UID: "12345", Nickname: "phoet"})
	if a.Email != "phoetmail@googlemail.com" {
		t.Errorf("empty profile email erased account email: %q", a.Email)
	}

	// A non-empty profile email overwrites.
	a.ApplyProfile(provider.Profile{Provider: provider.GitHub, UID: "999", Nickname: "phoet", Email: "new@nofail.de"})
	if a.Email != "new@nofail.de" {
		t.Errorf("Email = %q, want %q", a.Email, "new@nofail.de")
	}
}
