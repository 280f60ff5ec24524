package service

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/tollgate/internal/tollgate/delivery"
	"github.com/aussiebroadwan/tollgate/internal/tollgate/domain"
	"github.com/aussiebroadwan/tollgate/internal/tollgate/store/drivers/sqlite"
	"github.com/aussiebroadwan/tollgate/pkg/clockx"
	"github.com/aussiebroadwan/tollgate/pkg/cryptox"
	"github.com/aussiebroadwan/tollgate/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// outbox records messages instead of sending them.
type outbox struct {
	mu   sync.Mutex
	msgs []delivery.Message
}

func (o *outbox) SendMessage(_ context.Context, destination, subject, body string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, delivery.Message{Destination: destination, Subject: subject, Body: body})
	return nil
}

func (o *outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.msgs)
}

func (o *outbox) Last(t *testing.T) delivery.Message {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.msgs, "no message was sent")
	return o.msgs[len(o.msgs)-1]
}

var codePattern = regexp.MustCompile(`: (\d+) \(valid`)

// LastCode pulls the numeric code out of the newest message.
func (o *outbox) LastCode(t *testing.T) string {
	t.Helper()
	m := codePattern.FindStringSubmatch(o.Last(t).Body)
	require.Len(t, m, 2, "no code in %q", o.Last(t).Body)
	return m[1]
}

type testEnv struct {
	Store  *sqlite.Store
	Clock  *clockx.Fake
	Engine *CredentialEngine
	Outbox *outbox

	Directory     PrincipalDirectory
	Tokens        *TokenAssembler
	Refresh       *RefreshService
	Authenticator *AuthenticatorService
	MFA           *MFAService
	Sessions      *SessionService
	Resets        *PasswordResetService
	Verification  *VerificationService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	clock := clockx.NewFake(base)
	hasher := cryptox.Hasher{Pepper: "test-pepper"}
	engine := NewCredentialEngine(st, clock, SecretCodec{Mode: DigestSHA256, Hasher: hasher}, nil)

	km, err := jwtx.NewKeyManager(jwtx.KeyManagerOptions{
		Algorithm: jwtx.AlgorithmHS256,
		Issuer:    "tollgate-test",
		Audience:  []string{"tollgate-test"},
		Secret:    []byte("0123456789abcdef0123456789abcdef"),
		Now:       clock.Now,
	})
	require.NoError(t, err)

	env := &testEnv{
		Store:     st,
		Clock:     clock,
		Engine:    engine,
		Outbox:    &outbox{},
		Directory: &StoreDirectory{Store: st},
	}
	env.Tokens = &TokenAssembler{
		Keys:     km,
		Issuer:   "tollgate-test",
		Audience: []string{"tollgate-test"},
		Clock:    clock,
	}
	env.Refresh = &RefreshService{Engine: engine, MaxActive: 5, RotateOnUse: true}
	env.Authenticator = &AuthenticatorService{Engine: engine, Directory: env.Directory, Issuer: "Tollgate"}
	env.MFA = &MFAService{
		Engine:         engine,
		Directory:      env.Directory,
		Sender:         env.Outbox,
		Authenticator:  env.Authenticator,
		ResendCooldown: DefaultResendCooldown,
	}
	env.Sessions = &SessionService{
		Engine:        engine,
		Directory:     env.Directory,
		Tokens:        env.Tokens,
		RefreshTokens: env.Refresh,
		MFA:           env.MFA,
		Passwords:     hasher,
	}
	env.Resets = &PasswordResetService{
		Engine:    engine,
		Directory: env.Directory,
		Sender:    env.Outbox,
		Passwords: hasher,
	}
	env.Verification = &VerificationService{
		Engine:          engine,
		Directory:       env.Directory,
		Sender:          env.Outbox,
		FrontendBaseURL: "https://app.example.com/",
	}
	return env
}

// addPrincipal stores a principal with the given password.
func (e *testEnv) addPrincipal(t *testing.T, p domain.Principal, password string) domain.Principal {
	t.Helper()

	if p.ID == "" {
		p.ID = e.Engine.IDs.New().String()
	}
	if password != "" {
		hash, err := e.Sessions.Passwords.Hash(password)
		require.NoError(t, err)
		p.PasswordHash = hash
	}
	p.CreatedAt = e.Clock.Now()
	p.UpdatedAt = p.CreatedAt

	require.NoError(t, e.Store.Principals().CreatePrincipal(context.Background(), p))
	return p
}
