package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/lokalhub/lokalhub/internal/apperror"
	"github.com/lokalhub/lokalhub/internal/model"
	"github.com/lokalhub/lokalhub/internal/provider"
	"github.com/lokalhub/lokalhub/internal/repository"
)

// fakeAccountRepo is an in-memory implementation of
// repository.AccountRepository. A hand-written fake (not a mock framework)
// keeps the reconciliation tests readable: the nickname unique index is one
// map, the (provider, uid) index another.
type fakeAccountRepo struct {
	accounts   map[string]*model.Account // keyed by internal ID
	byNickname map[string]string         // nickname → ID (the unique index)
	nextID     int

	// conflictOnce makes the next Create fail with ErrConflict AFTER
	// registering the given account as the race winner — simulates losing
	// a check-then-create race.
	conflictOnce *model.Account
	updateErr    error
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{
		accounts:   make(map[string]*model.Account),
		byNickname: make(map[string]string),
	}
}

func (f *fakeAccountRepo) count() int { return len(f.accounts) }

func (f *fakeAccountRepo) store(account *model.Account) {
	f.nextID++
	account.ID = fmt.Sprintf("acct-%d", f.nextID)
	account.CreatedAt = time.Now()
	account.UpdatedAt = account.CreatedAt
	copied := *account
	copied.Linkages = append([]model.Linkage(nil), account.Linkages...)
	f.accounts[account.ID] = &copied
	if account.Nickname != "" {
		f.byNickname[account.Nickname] = account.ID
	}
}

func (f *fakeAccountRepo) Create(_ context.Context, account *model.Account) error {
	if err := account.CheckHandles(); err != nil {
		return err
	}
	if f.conflictOnce != nil {
		winner := f.conflictOnce
		f.conflictOnce = nil
		f.store(winner)
		return apperror.Conflict("account", account.Nickname)
	}
	if account.Nickname != "" {
		if _, taken := f.byNickname[account.Nickname]; taken {
			return apperror.Conflict("account", account.Nickname)
		}
	}
	f.store(account)
	return nil
}

func (f *fakeAccountRepo) Update(_ context.Context, account *model.Account) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	if err := account.CheckHandles(); err != nil {
		return err
	}
	stored, ok := f.accounts[account.ID]
	if !ok {
		return apperror.NotFound("account", account.ID)
	}
	delete(f.byNickname, stored.Nickname)
	copied := *account
	copied.Linkages = append([]model.Linkage(nil), account.Linkages...)
	*stored = copied
	if account.Nickname != "" {
		f.byNickname[account.Nickname] = account.ID
	}
	return nil
}

func (f *fakeAccountRepo) SaveValidated(ctx context.Context, account *model.Account) error {
	if err := account.Validate(); err != nil {
		return err
	}
	return f.Update(ctx, account)
}

func (f *fakeAccountRepo) GetByID(_ context.Context, id string) (*model.Account, error) {
	account, ok := f.accounts[id]
	if !ok {
		return nil, apperror.NotFound("account", id)
	}
	result := *account
	return &result, nil
}

func (f *fakeAccountRepo) FindByNickname(_ context.Context, nickname string) (*model.Account, error) {
	if nickname == "" {
		return nil, apperror.NotFound("account", nickname)
	}
	id, ok := f.byNickname[nickname]
	if !ok {
		return nil, apperror.NotFound("account", nickname)
	}
	result := *f.accounts[id]
	return &result, nil
}

func (f *fakeAccountRepo) FindByLinkage(_ context.Context, providerTag, uid string) (*model.Account, error) {
	for _, account := range f.accounts {
		for _, l := range account.Linkages {
			if l.Provider == providerTag && l.UID == uid {
				result := *account
				return &result, nil
			}
		}
	}
	return nil, apperror.NotFound("account", providerTag+"/"+uid)
}

func (f *fakeAccountRepo) List(_ context.Context, _ repository.ListOptions) ([]model.Account, error) {
	result := make([]model.Account, 0, len(f.accounts))
	for _, a := range f.accounts {
		result = append(result, *a)
	}
	return result, nil
}

func (f *fakeAccountRepo) SetAdmin(_ context.Context, id string, admin bool) error {
	account, ok := f.accounts[id]
	if !ok {
		return apperror.NotFound("account", id)
	}
	account.Admin = admin
	return nil
}

func newTestIdentityService(repo *fakeAccountRepo) *IdentityService {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewIdentityService(repo, logger)
}

func twitterProfile() provider.Profile {
	return provider.Profile{
		Provider:    provider.Twitter,
		UID:         "12345",
		Nickname:    "phoet",
		Name:        "Peter Schröder",
		Image:       "http://a3.twimg.com/profile_images/1100439667/P1040913_normal.JPG",
		Description: "I am a freelance Ruby and Java developer from Hamburg, Germany. ☠ nofail",
		Location:    "Sternschanze, Hamburg",
		URL:         "http://nofail.de",
	}
}

func githubProfile() provider.Profile {
	return provider.Profile{
		Provider: provider.GitHub,
		UID:      "67890",
		Nickname: "phoet",
		Name:     "Peter Schröder",
		Email:    "phoetmail@googlemail.com",
		Location: "Hamburg, Germany",
		URL:      "http://blog.nofail.de",
	}
}

func TestFindOrCreate_NewAccount(t *testing.T) {
	repo := newFakeAccountRepo()
	svc := newTestIdentityService(repo)

	account, err := svc.FindOrCreate(context.Background(), twitterProfile())
	if err != nil {
		t.Fatalf("FindOrCreate() error = %v", err)
	}

	if account.ID == "" {
		t.Error("account.ID should be set")
	}
	if account.Nickname != "phoet" {
		t.Errorf("Nickname = %q", account.Nickname)
	}
	if account.Twitter != "phoet" {
		t.Errorf("Twitter handle = %q, want %q", account.Twitter, "phoet")
	}
	if account.Admin {
		t.Error("new accounts must not be admin")
	}
	if !account.LinkedTo(provider.Twitter) {
		t.Error("twitter linkage should be registered")
	}
	if repo.count() != 1 {
		t.Errorf("account count = %d, want 1", repo.count())
	}
}

func TestFindOrCreate_Idempotent(t *testing.T) {
	repo := newFakeAccountRepo()
	svc := newTestIdentityService(repo)

	first, err := svc.FindOrCreate(context.Background(), twitterProfile())
	if err != nil {
		t.Fatalf("first FindOrCreate() error = %v", err)
	}
	second, err := svc.FindOrCreate(context.Background(), twitterProfile())
	if err != nil {
		t.Fatalf("second FindOrCreate() error = %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("second call resolved a different account: %q vs %q", second.ID, first.ID)
	}
	if repo.count() != 1 {
		t.Errorf("account count = %d, want exactly 1 after re-authentication", repo.count())
	}
}

func TestFindOrCreate_EmptyEmailAndBrokenEmailAccepted(t *testing.T) {
	repo := newFakeAccountRepo()
	svc := newTestIdentityService(repo)

	for i, email := range []string{"", "broken email"} {
		prof := githubProfile()
		prof.Nickname = fmt.Sprintf("nick%d", i)
		prof.UID = fmt.Sprintf("%d", i)
		prof.Email = email
		if _, err := svc.FindOrCreate(context.Background(), prof); err != nil {
			t.Errorf("FindOrCreate() with email %q error = %v, want nil", email, err)
		}
	}
}

func TestFindOrCreate_DuplicateNickname(t *testing.T) {
	repo := newFakeAccountRepo()
	svc := newTestIdentityService(repo)

	if _, err := svc.FindOrCreate(context.Background(), twitterProfile()); err != nil {
		t.Fatalf("setup: %v", err)
	}
	countBefore := repo.count()

	// Same nickname from github, but the twitter-born account has no github
	// linkage — a different person, not a merge.
	_, err := svc.FindOrCreate(context.Background(), githubProfile())
	if !errors.Is(err, apperror.ErrDuplicateNickname) {
		t.Fatalf("FindOrCreate() error = %v, want ErrDuplicateNickname", err)
	}
	if repo.count() != countBefore {
		t.Errorf("account count changed on rejected auth: %d → %d", countBefore, repo.count())
	}
}

// The original conflict-resolution scenario: the twitter-born account has its
// github handle set to "phoet" before the first github login. The handle
// counts as linkage, so the github auth resolves to the SAME account — and
// github's email fills the gap twitter left.
func TestFindOrCreate_HandleLinkageMergesProviders(t *testing.T) {
	repo := newFakeAccountRepo()
	svc := newTestIdentityService(repo)

	tu, err := svc.FindOrCreate(context.Background(), twitterProfile())
	if err != nil {
		t.Fatalf("twitter auth: %v", err)
	}
	if tu.Email != "" {
		t.Fatalf("twitter auth set an email: %q", tu.Email)
	}

	tu.GitHub = "phoet"
	if err := repo.Update(context.Background(), tu); err != nil {
		t.Fatalf("setting github handle: %v", err)
	}

	gu, err := svc.FindOrCreate(context.Background(), githubProfile())
	if err != nil {
		t.Fatalf("github auth: %v", err)
	}

	if gu.ID != tu.ID {
		t.Errorf("github auth resolved a different account: %q vs %q", gu.ID, tu.ID)
	}
	if gu.Email != "phoetmail@googlemail.com" {
		t.Errorf("Email = %q, want github's email merged in", gu.Email)
	}
	if repo.count() != 1 {
		t.Errorf("account count = %d, want 1", repo.count())
	}
}

// Prior linkage beats a uid mismatch: the provider renumbered its accounts,
// but the nickname still resolves to an account linked to that provider.
func TestFindOrCreate_LinkageWinsOverUIDMismatch(t *testing.T) {
	repo := newFakeAccountRepo()
	svc := newTestIdentityService(repo)

	first, err := svc.FindOrCreate(context.Background(), twitterProfile())
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	renumbered := twitterProfile()
	renumbered.UID = "99999"

	second, err := svc.FindOrCreate(context.Background(), renumbered)
	if err != nil {
		t.Fatalf("FindOrCreate() with renumbered uid error = %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("renumbered uid created a new account: %q vs %q", second.ID, first.ID)
	}
	if repo.count() != 1 {
		t.Errorf("account count = %d, want 1", repo.count())
	}
}

func TestFindOrCreate_RetriesOnceOnLostRace(t *testing.T) {
	repo := newFakeAccountRepo()
	svc := newTestIdentityService(repo)

	// The race winner: same provider, so the retry resolves to its account.
	winner := &model.Account{Nickname: "phoet", Twitter: "phoet"}
	winner.Link(provider.Twitter, "12345")
	repo.conflictOnce = winner

	account, err := svc.FindOrCreate(context.Background(), twitterProfile())
	if err != nil {
		t.Fatalf("FindOrCreate() after lost race error = %v", err)
	}
	if repo.count() != 1 {
		t.Errorf("account count = %d, want 1 (loser must adopt the winner's account)", repo.count())
	}
	if !account.LinkedTo(provider.Twitter) {
		t.Error("resolved account should carry the twitter linkage")
	}
}

func TestFindOrCreate_LostRaceAgainstOtherProvider(t *testing.T) {
	repo := newFakeAccountRepo()
	svc := newTestIdentityService(repo)

	// The winner came from github; the retry must surface the collision.
	winner := &model.Account{Nickname: "phoet", GitHub: "phoet"}
	winner.Link(provider.GitHub, "67890")
	repo.conflictOnce = winner

	_, err := svc.FindOrCreate(context.Background(), twitterProfile())
	if !errors.Is(err, apperror.ErrDuplicateNickname) {
		t.Fatalf("FindOrCreate() error = %v, want ErrDuplicateNickname", err)
	}
	if repo.count() != 1 {
		t.Errorf("account count = %d, want 1 (only the winner)", repo.count())
	}
}

func TestFindOrCreate_EmptyNicknamesNeverCollide(t *testing.T) {
	repo := newFakeAccountRepo()
	svc := newTestIdentityService(repo)

	a := provider.Profile{Provider: provider.GitHub, UID: "1"}
	b := provider.Profile{Provider: provider.Twitter, UID: "2"}

	first, err := svc.FindOrCreate(context.Background(), a)
	if err != nil {
		t.Fatalf("first empty-nickname auth: %v", err)
	}
	second, err := svc.FindOrCreate(context.Background(), b)
	if err != nil {
		t.Fatalf("second empty-nickname auth: %v", err)
	}
	if first.ID == second.ID {
		t.Error("unrelated empty-nickname signups must get separate accounts")
	}

	// Re-authentication still resolves through the linkage index.
	again, err := svc.FindOrCreate(context.Background(), a)
	if err != nil {
		t.Fatalf("re-auth: %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("re-auth resolved %q, want %q", again.ID, first.ID)
	}
}

func TestUpdateFromAuth_Idempotent(t *testing.T) {
	repo := newFakeAccountRepo()
	svc := newTestIdentityService(repo)

	account, err := svc.FindOrCreate(context.Background(), twitterProfile())
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	once, err := svc.UpdateFromAuth(context.Background(), account, twitterProfile())
	if err != nil {
		t.Fatalf("first UpdateFromAuth() error = %v", err)
	}
	twice, err := svc.UpdateFromAuth(context.Background(), once, twitterProfile())
	if err != nil {
		t.Fatalf("second UpdateFromAuth() error = %v", err)
	}

	if twice.ID != once.ID {
		t.Errorf("ID changed: %q vs %q", twice.ID, once.ID)
	}
	if twice.Name != once.Name || twice.Twitter != once.Twitter ||
		twice.Location != once.Location || twice.Description != once.Description ||
		twice.URL != once.URL || twice.Email != once.Email {
		t.Errorf("profile fields drifted between identical calls:\nonce:  %+v\ntwice: %+v", once, twice)
	}
	if len(twice.Linkages) != len(once.Linkages) {
		t.Errorf("linkages grew: %d vs %d", len(twice.Linkages), len(once.Linkages))
	}
}

func TestUpdateFromAuth_FieldsFromTwitter(t *testing.T) {
	repo := newFakeAccountRepo()
	svc := newTestIdentityService(repo)

	account, err := svc.FindOrCreate(context.Background(), provider.Profile{
		Provider: provider.Twitter, UID: "12345", Nickname: "phoet",
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	updated, err := svc.UpdateFromAuth(context.Background(), account, twitterProfile())
	if err != nil {
		t.Fatalf("UpdateFromAuth() error = %v", err)
	}

	if updated.Name != "Peter Schröder" {
		t.Errorf("Name = %q", updated.Name)
	}
	if updated.Twitter != "phoet" {
		t.Errorf("Twitter = %q", updated.Twitter)
	}
	if updated.Location != "Sternschanze, Hamburg" {
		t.Errorf("Location = %q", updated.Location)
	}
	if updated.URL != "http://nofail.de" {
		t.Errorf("URL = %q", updated.URL)
	}
}

func TestAuthenticate_NormalizesAndReconciles(t *testing.T) {
	repo := newFakeAccountRepo()
	svc := newTestIdentityService(repo)

	account, err := svc.Authenticate(context.Background(), provider.Payload{
		Provider: provider.GitHub,
		UID:      "67890",
		Info: provider.Info{
			Nickname: "phoet",
			Email:    "phoetmail@googlemail.com",
			URLs:     map[string]any{"Blog": "http://blog.nofail.de"},
		},
		Extra: provider.Extra{RawInfo: map[string]any{"location": "Hamburg, Germany"}},
	})
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if account.Location != "Hamburg, Germany" {
		t.Errorf("Location = %q", account.Location)
	}

	_, err = svc.Authenticate(context.Background(), provider.Payload{Provider: "myspace", UID: "1"})
	if err == nil {
		t.Fatal("Authenticate() should reject unknown providers")
	}
}

func TestPromote(t *testing.T) {
	repo := newFakeAccountRepo()
	svc := newTestIdentityService(repo)

	if _, err := svc.FindOrCreate(context.Background(), twitterProfile()); err != nil {
		t.Fatalf("setup: %v", err)
	}

	account, err := svc.Promote(context.Background(), "phoet")
	if err != nil {
		t.Fatalf("Promote() error = %v", err)
	}
	if !account.Admin {
		t.Error("Admin = false after Promote")
	}

	_, err = svc.Promote(context.Background(), "nobody")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Promote(nobody) error = %v, want ErrNotFound", err)
	}
}

func TestFindOrCreate_RepositoryError(t *testing.T) {
	repo := newFakeAccountRepo()
	svc := newTestIdentityService(repo)

	if _, err := svc.FindOrCreate(context.Background(), twitterProfile()); err != nil {
		t.Fatalf("setup: %v", err)
	}
	repo.updateErr = errors.New("database is on fire")

	_, err := svc.FindOrCreate(context.Background(), twitterProfile())
	if err == nil {
		t.Fatal("FindOrCreate() should propagate repository errors")
	}
}
