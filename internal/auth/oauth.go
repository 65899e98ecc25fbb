package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/lokalhub/lokalhub/internal/provider"
)

// OAuthProvider is the contract every external identity provider client
// implements. Implementations return the raw auth payload only — no account
// creation, no linking, no session management. Those decisions belong to the
// identity service.
type OAuthProvider interface {
	// Name returns the provider tag (e.g. "github").
	Name() string

	// AuthURL returns the URL to redirect the browser to, carrying the
	// CSRF state.
	AuthURL(state string) string

	// Exchange trades the authorization code for the provider's user info
	// and wraps it in the raw payload shape the normalizer understands.
	Exchange(ctx context.Context, code string) (provider.Payload, error)
}

// Registry holds the configured OAuth providers, looked up by the
// {provider} route parameter. It performs no auth logic itself.
type Registry struct {
	providers map[string]OAuthProvider
}

// NewRegistry registers the given providers by name.
func NewRegistry(list ...OAuthProvider) *Registry {
	m := make(map[string]OAuthProvider)
	for _, p := range list {
		m[p.Name()] = p
	}
	return &Registry{providers: m}
}

// Get returns the provider by name or an error if not registered.
func (r *Registry) Get(name string) (OAuthProvider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("auth: unknown oauth provider %q", name)
	}
	return p, nil
}

// githubUser is the portion of the GitHub /user API response we care about.
// GitHub returns a much larger object — we only unmarshal what the payload
// needs.
type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
	HTMLURL   string `json:"html_url"`
	Blog      string `json:"blog"`
	Bio       string `json:"bio"`
	Location  string `json:"location"`
}

// GitHubProvider wraps golang.org/x/oauth2 for the GitHub Authorization Code
// flow. The code-for-token exchange runs server-to-server with the client
// secret; the access token never reaches the browser.
type GitHubProvider struct {
	config *oauth2.Config
}

// NewGitHubProvider creates a GitHubProvider with the given credentials.
// callbackURL must exactly match the "Authorization callback URL" configured
// in the GitHub OAuth app.
func NewGitHubProvider(clientID, clientSecret, callbackURL string) *GitHubProvider {
	return &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		},
	}
}

func (p *GitHubProvider) Name() string { return provider.GitHub }

// AuthURL returns the GitHub authorization URL for the given CSRF state.
func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange completes the OAuth flow and shapes GitHub's /user response into
// the raw payload: common fields in info, the GitHub-specific ones
// (bio, location, blog) in extra.raw_info where the normalizer expects them.
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (provider.Payload, error) {
	var gh githubUser
	if err := p.fetchUser(ctx, code, &gh); err != nil {
		return provider.Payload{}, err
	}
	if gh.ID == 0 {
		return provider.Payload{}, fmt.Errorf("auth: GitHub returned an invalid user (ID = 0)")
	}

	return provider.Payload{
		Provider: provider.GitHub,
		UID:      fmt.Sprintf("%d", gh.ID),
		Info: provider.Info{
			Nickname: gh.Login,
			Name:     gh.Name,
			Email:    gh.Email,
			Image:    gh.AvatarURL,
			URLs: map[string]any{
				"GitHub": gh.HTMLURL,
				"Blog":   gh.Blog,
			},
		},
		Extra: provider.Extra{
			RawInfo: map[string]any{
				"login":    gh.Login,
				"bio":      gh.Bio,
				"location": gh.Location,
				"blog":     gh.Blog,
			},
		},
	}, nil
}

func (p *GitHubProvider) fetchUser(ctx context.Context, code string, out *githubUser) error {
	oauthToken, err := p.config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("auth: exchanging OAuth code: %w", err)
	}

	// oauth2.Config.Client returns an *http.Client that adds the
	// Authorization header to every request.
	client := p.config.Client(ctx, oauthToken)

	resp, err := client.Get("https://api.github.com/user")
	if err != nil {
		return fmt.Errorf("auth: calling GitHub /user API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth: GitHub /user API returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("auth: decoding GitHub /user response: %w", err)
	}
	return nil
}

// twitterEndpoint is the OAuth 2.0 endpoint pair for the Twitter v2 API.
// x/oauth2 ships no preset for it.
var twitterEndpoint = oauth2.Endpoint{
	AuthURL:  "https://twitter.com/i/oauth2/authorize",
	TokenURL: "https://api.twitter.com/2/oauth2/token",
}

// twitterUser is the /2/users/me response envelope.
type twitterUser struct {
	Data struct {
		ID          string `json:"id"`
		Username    string `json:"username"`
		Name        string `json:"name"`
		Description string `json:"description"`
		Location    string `json:"location"`
		URL         string `json:"url"`
		Image       string `json:"profile_image_url"`
	} `json:"data"`
}

// TwitterProvider wraps golang.org/x/oauth2 for the Twitter v2 flow.
// Twitter never returns an email, so the payload's email stays empty and
// the reconciler's merge semantics keep whatever another provider supplied.
type TwitterProvider struct {
	config *oauth2.Config
}

// NewTwitterProvider creates a TwitterProvider with the given credentials.
func NewTwitterProvider(clientID, clientSecret, callbackURL string) *TwitterProvider {
	return &TwitterProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"tweet.read", "users.read"},
			Endpoint:     twitterEndpoint,
		},
	}
}

func (p *TwitterProvider) Name() string { return provider.Twitter }

// AuthURL returns the Twitter authorization URL for the given CSRF state.
func (p *TwitterProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange completes the OAuth flow and shapes the /2/users/me response into
// the raw payload: description and location sit directly in info, the
// member's website goes to urls.Website.
func (p *TwitterProvider) Exchange(ctx context.Context, code string) (provider.Payload, error) {
	oauthToken, err := p.config.Exchange(ctx, code)
	if err != nil {
		return provider.Payload{}, fmt.Errorf("auth: exchanging OAuth code: %w", err)
	}

	client := p.config.Client(ctx, oauthToken)

	resp, err := client.Get("https://api.twitter.com/2/users/me?user.fields=description,location,url,profile_image_url")
	if err != nil {
		return provider.Payload{}, fmt.Errorf("auth: calling Twitter /users/me API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return provider.Payload{}, fmt.Errorf("auth: Twitter /users/me API returned status %d", resp.StatusCode)
	}

	var tw twitterUser
	if err := json.NewDecoder(resp.Body).Decode(&tw); err != nil {
		return provider.Payload{}, fmt.Errorf("auth: decoding Twitter /users/me response: %w", err)
	}
	if tw.Data.ID == "" {
		return provider.Payload{}, fmt.Errorf("auth: Twitter returned an invalid user (empty ID)")
	}

	return provider.Payload{
		Provider: provider.Twitter,
		UID:      tw.Data.ID,
		Info: provider.Info{
			Nickname:    tw.Data.Username,
			Name:        tw.Data.Name,
			Image:       tw.Data.Image,
			Description: tw.Data.Description,
			Location:    tw.Data.Location,
			URLs: map[string]any{
				"Website": tw.Data.URL,
				"Twitter": "https://twitter.com/" + tw.Data.Username,
			},
		},
	}, nil
}
