package memory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/webfold/oauth-provider/internal/testutil"
	"github.com/webfold/oauth-provider/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewWithInterval(slog.New(slog.NewTextHandler(io.Discard, nil)), time.Hour)
	t.Cleanup(s.Stop)
	return s
}

func TestClientStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	client := testutil.ConfidentialClient(t)

	if err := s.SaveClient(ctx, client); err != nil {
		t.Fatalf("SaveClient: %v", err)
	}

	t.Run("get returns a copy", func(t *testing.T) {
		got, err := s.GetClient(ctx, client.ID)
		if err != nil {
			t.Fatalf("GetClient: %v", err)
		}
		got.Name = "mutated"

		again, err := s.GetClient(ctx, client.ID)
		if err != nil {
			t.Fatalf("GetClient: %v", err)
		}
		if again.Name == "mutated" {
			t.Error("caller mutation leaked into the store")
		}
	})

	t.Run("unknown client", func(t *testing.T) {
		if _, err := s.GetClient(ctx, "nobody"); !errors.Is(err, storage.ErrClientNotFound) {
			t.Errorf("err = %v, want ErrClientNotFound", err)
		}
	})

	t.Run("validate secret", func(t *testing.T) {
		if err := s.ValidateClientSecret(ctx, client.ID, testutil.TestClientSecret); err != nil {
			t.Errorf("correct secret rejected: %v", err)
		}
		if err := s.ValidateClientSecret(ctx, client.ID, "wrong"); err == nil {
			t.Error("wrong secret accepted")
		}
		if err := s.ValidateClientSecret(ctx, "nobody", testutil.TestClientSecret); err == nil {
			t.Error("unknown client passed validation")
		}
	})

	t.Run("list and delete", func(t *testing.T) {
		clients, err := s.ListClients(ctx)
		if err != nil {
			t.Fatalf("ListClients: %v", err)
		}
		if len(clients) != 1 {
			t.Fatalf("len(clients) = %d, want 1", len(clients))
		}

		if err := s.DeleteClient(ctx, client.ID); err != nil {
			t.Fatalf("DeleteClient: %v", err)
		}
		if _, err := s.GetClient(ctx, client.ID); !errors.Is(err, storage.ErrClientNotFound) {
			t.Errorf("client still present after delete: %v", err)
		}
	})
}

func TestAuthorizationCodeLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	code := testutil.AuthorizationCode("code-1", testutil.TestClientID, testutil.TestUserID, "challenge")
	if err := s.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode: %v", err)
	}

	t.Run("first consume wins", func(t *testing.T) {
		got, err := s.AtomicConsumeAuthorizationCode(ctx, "code-1")
		if err != nil {
			t.Fatalf("AtomicConsumeAuthorizationCode: %v", err)
		}
		if got.ClientID != testutil.TestClientID {
			t.Errorf("record client = %q", got.ClientID)
		}
	})

	t.Run("second consume reports replay with the record", func(t *testing.T) {
		got, err := s.AtomicConsumeAuthorizationCode(ctx, "code-1")
		if !errors.Is(err, storage.ErrAuthorizationCodeConsumed) {
			t.Fatalf("err = %v, want ErrAuthorizationCodeConsumed", err)
		}
		if got == nil || got.UserID != testutil.TestUserID {
			t.Errorf("replay record = %+v, want the consumed record", got)
		}
	})

	t.Run("unknown code", func(t *testing.T) {
		if _, err := s.AtomicConsumeAuthorizationCode(ctx, "nope"); !errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
			t.Errorf("err = %v, want ErrAuthorizationCodeNotFound", err)
		}
	})

	t.Run("expired code", func(t *testing.T) {
		expired := testutil.AuthorizationCode("code-old", testutil.TestClientID, testutil.TestUserID, "challenge")
		expired.ExpiresAt = time.Now().Add(-time.Hour)
		if err := s.SaveAuthorizationCode(ctx, expired); err != nil {
			t.Fatalf("SaveAuthorizationCode: %v", err)
		}
		if _, err := s.AtomicConsumeAuthorizationCode(ctx, "code-old"); !errors.Is(err, storage.ErrTokenExpired) {
			t.Errorf("err = %v, want ErrTokenExpired", err)
		}
	})
}

func TestConcurrentCodeConsumption(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	code := testutil.AuthorizationCode("code-race", testutil.TestClientID, testutil.TestUserID, "challenge")
	if err := s.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode: %v", err)
	}

	const attempts = 32
	var wg sync.WaitGroup
	errs := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.AtomicConsumeAuthorizationCode(ctx, "code-race")
		}(i)
	}
	wg.Wait()

	winners, replays := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, storage.ErrAuthorizationCodeConsumed):
			replays++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Errorf("winners = %d, want 1", winners)
	}
	if replays != attempts-1 {
		t.Errorf("replays = %d, want %d", replays, attempts-1)
	}
}

func TestRefreshTokenConsumption(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	save := func(t *testing.T, token string) {
		t.Helper()
		err := s.SaveRefreshToken(ctx, &storage.RefreshToken{
			Token:     token,
			ClientID:  testutil.TestClientID,
			UserID:    testutil.TestUserID,
			Scope:     testutil.TestScope,
			CreatedAt: time.Now(),
			ExpiresAt: time.Now().Add(time.Hour),
		})
		if err != nil {
			t.Fatalf("SaveRefreshToken: %v", err)
		}
	}

	t.Run("consume then reuse", func(t *testing.T) {
		save(t, "rt-1")

		if _, err := s.AtomicConsumeRefreshToken(ctx, "rt-1"); err != nil {
			t.Fatalf("first consume: %v", err)
		}

		got, err := s.AtomicConsumeRefreshToken(ctx, "rt-1")
		if !errors.Is(err, storage.ErrRefreshTokenConsumed) {
			t.Fatalf("err = %v, want ErrRefreshTokenConsumed", err)
		}
		if got == nil || got.UserID != testutil.TestUserID {
			t.Errorf("reuse record = %+v", got)
		}
	})

	t.Run("concurrent consume", func(t *testing.T) {
		save(t, "rt-race")

		const attempts = 32
		var wg sync.WaitGroup
		errs := make([]error, attempts)
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = s.AtomicConsumeRefreshToken(ctx, "rt-race")
			}(i)
		}
		wg.Wait()

		winners := 0
		for _, err := range errs {
			if err == nil {
				winners++
			}
		}
		if winners != 1 {
			t.Errorf("winners = %d, want 1", winners)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		err := s.SaveRefreshToken(ctx, &storage.RefreshToken{
			Token:     "rt-old",
			ClientID:  testutil.TestClientID,
			UserID:    testutil.TestUserID,
			CreatedAt: time.Now().Add(-2 * time.Hour),
			ExpiresAt: time.Now().Add(-time.Hour),
		})
		if err != nil {
			t.Fatalf("SaveRefreshToken: %v", err)
		}
		if _, err := s.AtomicConsumeRefreshToken(ctx, "rt-old"); !errors.Is(err, storage.ErrTokenExpired) {
			t.Errorf("err = %v, want ErrTokenExpired", err)
		}
	})
}

func TestRevokeAllForUserClient(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	seed := []struct {
		token    string
		userID   string
		clientID string
	}{
		{"at-1", testutil.TestUserID, testutil.TestClientID},
		{"at-2", testutil.TestUserID, testutil.TestClientID},
		{"at-other-user", "other-user", testutil.TestClientID},
		{"at-other-client", testutil.TestUserID, "other-client"},
	}
	for _, sd := range seed {
		err := s.SaveAccessToken(ctx, &storage.AccessToken{
			Token:     sd.token,
			ClientID:  sd.clientID,
			UserID:    sd.userID,
			CreatedAt: now,
			ExpiresAt: now.Add(time.Hour),
		})
		if err != nil {
			t.Fatalf("SaveAccessToken(%s): %v", sd.token, err)
		}
	}
	err := s.SaveRefreshToken(ctx, &storage.RefreshToken{
		Token:     "rt-1",
		ClientID:  testutil.TestClientID,
		UserID:    testutil.TestUserID,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("SaveRefreshToken: %v", err)
	}

	revoked, err := s.RevokeAllForUserClient(ctx, testutil.TestUserID, testutil.TestClientID)
	if err != nil {
		t.Fatalf("RevokeAllForUserClient: %v", err)
	}
	if revoked != 3 {
		t.Errorf("revoked = %d, want 3", revoked)
	}

	// Other principals are untouched.
	if _, err := s.GetAccessToken(ctx, "at-other-user"); err != nil {
		t.Errorf("other user's token revoked: %v", err)
	}
	if _, err := s.GetAccessToken(ctx, "at-other-client"); err != nil {
		t.Errorf("other client's token revoked: %v", err)
	}
	if _, err := s.GetAccessToken(ctx, "at-1"); !errors.Is(err, storage.ErrAccessTokenNotFound) {
		t.Errorf("target token survived: %v", err)
	}
}

func TestCleanupKeepsConsumedRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	live := testutil.AuthorizationCode("code-live", testutil.TestClientID, testutil.TestUserID, "c")
	expired := testutil.AuthorizationCode("code-dead", testutil.TestClientID, testutil.TestUserID, "c")
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	for _, c := range []*storage.AuthorizationCode{live, expired} {
		if err := s.SaveAuthorizationCode(ctx, c); err != nil {
			t.Fatalf("SaveAuthorizationCode: %v", err)
		}
	}

	// Consume the live code; the consumed record must survive cleanup so
	// replay remains detectable.
	if _, err := s.AtomicConsumeAuthorizationCode(ctx, "code-live"); err != nil {
		t.Fatalf("consume: %v", err)
	}

	s.cleanup()

	if _, err := s.AtomicConsumeAuthorizationCode(ctx, "code-live"); !errors.Is(err, storage.ErrAuthorizationCodeConsumed) {
		t.Errorf("consumed record lost to cleanup: %v", err)
	}
	if _, err := s.AtomicConsumeAuthorizationCode(ctx, "code-dead"); !errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
		t.Errorf("expired record survived cleanup: %v", err)
	}
}
