// Package provider defines the raw authentication payloads delivered by the
// external identity providers and the normalizer that maps them into one
// canonical, provider-agnostic profile.
package provider

// Provider tags. The normalizer dispatches on these; anything else is
// rejected as unknown.
const (
	GitHub  = "github"
	Twitter = "twitter"
)

// Payload is the raw authentication hash as the providers deliver it.
//
// The shape follows the omniauth convention both providers use: a flat
// provider/uid pair, an "info" block with the common profile fields, and a
// provider-specific "extra.raw_info" block whose keys differ per provider
// (GitHub buries bio/location/blog in raw_info, Twitter puts description and
// location directly into info).
//
// WHY map[string]any FOR URLs AND RawInfo?
// Providers send null for fields the user left empty ("Blog"=>nil) and add
// or drop keys without notice. Decoding those blocks into loose maps means a
// missing or null field can never fail the decode — the normalizer picks out
// what it understands and ignores the rest.
type Payload struct {
	Provider string `json:"provider"`
	UID      string `json:"uid"`
	Info     Info   `json:"info"`
	Extra    Extra  `json:"extra"`
}

// Info is the common profile block shared by both providers.
// Every field except Nickname is optional; null decodes as the zero value.
type Info struct {
	Nickname    string         `json:"nickname"`
	Name        string         `json:"name"`
	Email       string         `json:"email"`
	Image       string         `json:"image"`
	Description string         `json:"description"` // Twitter only
	Location    string         `json:"location"`    // Twitter only
	URLs        map[string]any `json:"urls"`
}

// Extra carries the provider-specific raw block.
type Extra struct {
	RawInfo map[string]any `json:"raw_info"`
}

// Profile is the canonical, provider-agnostic representation of an
// authenticated identity. It contains facts only — the reconciler makes the
// decisions.
type Profile struct {
	Provider    string
	UID         string
	Nickname    string
	Name        string
	Email       string
	Image       string
	Description string
	Location    string
	URL         string
}
