// Package model defines the data structures used throughout the application.
package model

import (
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/lokalhub/lokalhub/internal/apperror"
	"github.com/lokalhub/lokalhub/internal/provider"
)

// handlePattern is the bare-username shape a provider handle must have.
// Anything with dots, slashes or spaces is not a handle.
var handlePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Account is the canonical user record that federates all external identity
// providers into one local identity.
//
// Nickname is the globally unique human-readable handle — unique across ALL
// providers, enforced by the storage layer, case-sensitive. GitHub and
// Twitter are per-provider handles, distinct from the nickname: they record
// the username the member has on that provider and may be empty.
//
// WHY Email string (not *string)?
// Providers frequently omit or null the email. We use "" as the zero value —
// simpler to work with than a nullable pointer, and an empty email is always
// valid (format is only checked by the strict validator at commit time).
type Account struct {
	ID          string    `json:"id"          db:"id"`
	Name        string    `json:"name"        db:"name"`
	Nickname    string    `json:"nickname"    db:"nickname"`
	Email       string    `json:"email"       db:"email"`
	GitHub      string    `json:"github"      db:"github"`       // GitHub username, e.g. "phoet"
	Twitter     string    `json:"twitter"     db:"twitter"`      // Twitter username, without the @
	Image       string    `json:"image"       db:"image_url"`    // Avatar URL
	Description string    `json:"description" db:"description"`  // Free-text bio
	URL         string    `json:"url"         db:"homepage_url"` // Homepage / blog URL
	Location    string    `json:"location"    db:"location"`
	Admin       bool      `json:"admin"       db:"admin"`
	Linkages    []Linkage `json:"linkages"`
	CreatedAt   time.Time `json:"createdAt"   db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt"   db:"updated_at"`
}

// Linkage records that a specific external provider has authenticated into
// this account, together with the provider-side user identifier.
type Linkage struct {
	Provider string `json:"provider" db:"provider"`
	UID      string `json:"uid"      db:"uid"`
}

// ValidateHandle checks a single provider handle value.
//
// Empty is always valid. URL-shaped values (anything containing "://" or
// starting with "www.") are rejected, as is anything outside the bare
// username alphabet. At most one error is reported per field.
func ValidateHandle(field, value string) error {
	if value == "" {
		return nil
	}
	if strings.Contains(value, "://") || strings.HasPrefix(value, "www.") {
		return apperror.ValidationFailed(field, field+" must not be a URL")
	}
	if !handlePattern.MatchString(value) {
		return apperror.ValidationFailed(field, field+" may only contain letters, digits, hyphen and underscore")
	}
	return nil
}

// CheckHandles is the assignment-time (draft) validator: handle shape only.
// Email format is deliberately NOT checked here — a broken email is accepted
// on create and update and only rejected by Validate at explicit commit time.
func (a *Account) CheckHandles() error {
	if err := ValidateHandle("github", a.GitHub); err != nil {
		return err
	}
	if err := ValidateHandle("twitter", a.Twitter); err != nil {
		return err
	}
	return nil
}

// Validate is the strict commit-time validator: handle shape plus email
// format. An empty email stays valid; a non-empty one must parse as an
// address.
func (a *Account) Validate() error {
	if err := a.CheckHandles(); err != nil {
		return err
	}
	if a.Email != "" {
		if _, err := mail.ParseAddress(a.Email); err != nil {
			return apperror.ValidationFailed("email", "email is not a valid address")
		}
	}
	return nil
}

// HandleFor returns the handle recorded for the given provider.
func (a *Account) HandleFor(providerTag string) string {
	switch providerTag {
	case provider.GitHub:
		return a.GitHub
	case provider.Twitter:
		return a.Twitter
	}
	return ""
}

// SetHandle records the handle for the given provider. Unknown providers are
// ignored — the reconciler only dispatches known tags.
func (a *Account) SetHandle(providerTag, value string) {
	switch providerTag {
	case provider.GitHub:
		a.GitHub = value
	case provider.Twitter:
		a.Twitter = value
	}
}

// LinkedTo reports whether this account has a recorded association with the
// given provider.
//
// A non-empty handle counts as linkage even without a stored (provider, uid)
// pair: setting the github handle on a Twitter-born account is how a member
// pre-claims their GitHub login, and the reconciler must treat the next
// GitHub authentication under that nickname as the same identity rather than
// a collision.
func (a *Account) LinkedTo(providerTag string) bool {
	if a.HandleFor(providerTag) != "" {
		return true
	}
	for _, l := range a.Linkages {
		if l.Provider == providerTag {
			return true
		}
	}
	return false
}

// Link registers (or confirms) the linkage for a provider. A changed
// provider-side uid overwrites the recorded one — prior linkage is definitive
// proof of identity, so provider-side renumbering just updates the record.
func (a *Account) Link(providerTag, uid string) {
	for i, l := range a.Linkages {
		if l.Provider == providerTag {
			a.Linkages[i].UID = uid
			return
		}
	}
	a.Linkages = append(a.Linkages, Linkage{Provider: providerTag, UID: uid})
}

// ApplyProfile overwrites the profile fields from a canonical profile — the
// reconciler's update path.
//
// Everything is a full overwrite except email: a provider that does not
// supply an email (Twitter hides it) must not erase one a previous provider
// filled in, so an empty profile email keeps the existing value.
func (a *Account) ApplyProfile(p provider.Profile) {
	a.Name = p.Name
	a.SetHandle(p.Provider, p.Nickname)
	a.Image = p.Image
	a.Description = p.Description
	a.URL = p.URL
	a.Location = p.Location
	if p.Email != "" {
		a.Email = p.Email
	}
	a.Link(p.Provider, p.UID)
}
