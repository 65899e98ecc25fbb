package provider

import "fmt"

// Normalize maps a raw provider payload into a canonical Profile.
//
// It is a pure function: no lookups, no side effects. The switch is the
// single place that knows where each provider hides its profile fields, so
// adding a provider means adding a case here and nothing else.
//
// Only the provider tag is required — an unknown or empty tag is an error.
// Every profile field, including the nickname, may be missing or null in the
// payload and normalizes to "".
func Normalize(p Payload) (Profile, error) {
	prof := Profile{
		Provider: p.Provider,
		UID:      p.UID,
		Nickname: p.Info.Nickname,
		Name:     p.Info.Name,
		Email:    p.Info.Email,
		Image:    p.Info.Image,
	}

	switch p.Provider {
	case GitHub:
		// GitHub keeps bio and location in the raw API response and the
		// homepage in info.urls under "Blog".
		prof.Description = stringAt(p.Extra.RawInfo, "bio")
		prof.Location = stringAt(p.Extra.RawInfo, "location")
		prof.URL = stringAt(p.Info.URLs, "Blog")

	case Twitter:
		// Twitter surfaces everything directly in the info block; the
		// homepage is the user's website, not their twitter.com URL.
		prof.Description = p.Info.Description
		prof.Location = p.Info.Location
		prof.URL = stringAt(p.Info.URLs, "Website")

	default:
		return Profile{}, fmt.Errorf("provider: unknown provider %q", p.Provider)
	}

	return prof, nil
}

// stringAt reads a string value out of a loose payload map.
// Missing keys, null values, and non-string values all yield "".
func stringAt(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
