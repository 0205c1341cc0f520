package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eventhub/server/internal/model"
	"github.com/eventhub/server/internal/repo"
)

// ---- in-memory fakes ----

type fakeOtpRepo struct {
	mu      sync.Mutex
	records []*model.OtpRecord
	clock   func() time.Time
}

func (f *fakeOtpRepo) Create(_ context.Context, countryCode, mobile, codeHash string, expiresAt time.Time) (model.OtpRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := &model.OtpRecord{
		ID:          uuid.New(),
		CountryCode: countryCode,
		Mobile:      mobile,
		CodeHash:    codeHash,
		ExpiresAt:   expiresAt,
		CreatedAt:   f.clock(),
	}
	f.records = append(f.records, rec)
	return *rec, nil
}

func (f *fakeOtpRepo) LatestUnconsumed(_ context.Context, countryCode, mobile string) (model.OtpRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.records) - 1; i >= 0; i-- {
		r := f.records[i]
		if r.CountryCode == countryCode && r.Mobile == mobile && !r.Consumed {
			return *r, nil
		}
	}
	return model.OtpRecord{}, repo.ErrNotFound
}

func (f *fakeOtpRepo) IncrementAttempts(_ context.Context, id uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.ID == id {
			r.Attempts++
			return r.Attempts, nil
		}
	}
	return 0, repo.ErrNotFound
}

func (f *fakeOtpRepo) MarkConsumed(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.ID == id {
			r.Consumed = true
			return nil
		}
	}
	return repo.ErrNotFound
}

func (f *fakeOtpRepo) DeleteExpired(_ context.Context, now, consumedBefore time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []*model.OtpRecord
	var deleted int64
	for _, r := range f.records {
		if r.ExpiresAt.Before(now) || (r.Consumed && r.CreatedAt.Before(consumedBefore)) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	f.records = kept
	return deleted, nil
}

func (f *fakeOtpRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*model.Session
	clock    func() time.Time
}

func newFakeSessionRepo(clock func() time.Time) *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[uuid.UUID]*model.Session), clock: clock}
}

func (f *fakeSessionRepo) Create(_ context.Context, userID uuid.UUID, refreshTokenHash string, userAgent, ip *string, expiresAt time.Time) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.sessions[id] = &model.Session{
		ID:               id,
		UserID:           userID,
		RefreshTokenHash: refreshTokenHash,
		UserAgent:        userAgent,
		IP:               ip,
		ExpiresAt:        expiresAt,
		CreatedAt:        f.clock(),
	}
	return id, nil
}

func (f *fakeSessionRepo) ActiveByUser(_ context.Context, userID uuid.UUID) ([]model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Session
	now := f.clock()
	for _, s := range f.sessions {
		if s.UserID == userID && s.ExpiresAt.After(now) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeSessionRepo) AllByUser(_ context.Context, userID uuid.UUID) ([]model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Session
	for _, s := range f.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeSessionRepo) DeleteByID(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[id]; !ok {
		return false, nil
	}
	delete(f.sessions, id)
	return true, nil
}

func (f *fakeSessionRepo) DeleteAllForUser(_ context.Context, userID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, s := range f.sessions {
		if s.UserID == userID {
			delete(f.sessions, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeSessionRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, s := range f.sessions {
		if s.ExpiresAt.Before(now) {
			delete(f.sessions, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeSessionRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*model.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[uuid.UUID]*model.User)}
}

func (f *fakeUserRepo) GetByID(_ context.Context, id uuid.UUID) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		return *u, nil
	}
	return model.User{}, repo.ErrNotFound
}

func (f *fakeUserRepo) GetByPhone(_ context.Context, countryCode, mobile string) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.CountryCode == countryCode && u.Mobile == mobile {
			return *u, nil
		}
	}
	return model.User{}, repo.ErrNotFound
}

func (f *fakeUserRepo) CreateVerified(_ context.Context, name, countryCode, mobile string) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.CountryCode == countryCode && u.Mobile == mobile {
			u.IsMobileVerified = true
			return *u, nil
		}
	}
	u := &model.User{
		ID:               uuid.New(),
		Name:             name,
		CountryCode:      countryCode,
		Mobile:           mobile,
		IsMobileVerified: true,
	}
	f.users[u.ID] = u
	return *u, nil
}

func (f *fakeUserRepo) MarkMobileVerified(_ context.Context, id uuid.UUID) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		u.IsMobileVerified = true
		return *u, nil
	}
	return model.User{}, repo.ErrNotFound
}

func (f *fakeUserRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users)
}

type fakeDispatcher struct {
	mu       sync.Mutex
	lastCode string
	sent     int
	err      error
}

func (f *fakeDispatcher) SendOtp(_ context.Context, countryCode, mobile, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.lastCode = code
	f.sent++
	return nil
}

// ---- fixture ----

type fixture struct {
	svc      *AuthService
	otps     *fakeOtpRepo
	sessions *fakeSessionRepo
	users    *fakeUserRepo
	sms      *fakeDispatcher
	now      *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	// Shared mutable clock: advance() writes through f.now and every
	// component reads the same variable.
	clock := func() time.Time { return now }

	otps := &fakeOtpRepo{clock: clock}
	sessions := newFakeSessionRepo(clock)
	users := newFakeUserRepo()
	dispatcher := &fakeDispatcher{}
	tokens := NewTokenService(testAccessSecret, testRefreshSecret, 15*time.Minute, 30*24*time.Hour)

	svc := NewAuthService(otps, sessions, users, tokens, dispatcher, Options{
		OtpLength:      6,
		OtpExpiry:      5 * time.Minute,
		OtpMaxAttempts: 5,
		ResendCooldown: 30 * time.Second,
	}, zap.NewNop())
	svc.now = clock

	return &fixture{svc: svc, otps: otps, sessions: sessions, users: users, sms: dispatcher, now: &now}
}

func (f *fixture) advance(d time.Duration) {
	*f.now = f.now.Add(d)
}

// wrongCode returns a code guaranteed not to equal the dispatched one.
func (f *fixture) wrongCode() string {
	if f.sms.lastCode == "000000" {
		return "111111"
	}
	return "000000"
}

const (
	testCountryCode = "+1"
	testMobile      = "415-555-2671"
)

// ---- OTP request ----

func TestRequestOtp_sendsCode(t *testing.T) {
	f := newFixture(t)

	expiresIn, err := f.svc.RequestOtp(context.Background(), testCountryCode, testMobile)
	require.NoError(t, err)
	assert.Equal(t, 300, expiresIn)
	assert.Len(t, f.sms.lastCode, 6)
	assert.Equal(t, 1, f.otps.count())

	// The stored record holds a hash, never the code itself.
	rec, err := f.otps.LatestUnconsumed(context.Background(), "+1", "4155552671")
	require.NoError(t, err)
	assert.NotEqual(t, f.sms.lastCode, rec.CodeHash)
	assert.True(t, CodeMatches(f.sms.lastCode, rec.CodeHash))
}

func TestRequestOtp_invalidPhone(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RequestOtp(context.Background(), "+1", "123")
	assert.ErrorIs(t, err, ErrInvalidPhoneNumber)
	assert.Equal(t, 0, f.otps.count())
	assert.Equal(t, 0, f.sms.sent)
}

func TestRequestOtp_cooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RequestOtp(ctx, testCountryCode, testMobile)
	require.NoError(t, err)

	_, err = f.svc.RequestOtp(ctx, testCountryCode, testMobile)
	var cooldown *ResendCooldownError
	require.ErrorAs(t, err, &cooldown)
	assert.Equal(t, 30, cooldown.SecondsRemaining)

	f.advance(10 * time.Second)
	_, err = f.svc.RequestOtp(ctx, testCountryCode, testMobile)
	require.ErrorAs(t, err, &cooldown)
	assert.Equal(t, 20, cooldown.SecondsRemaining)

	f.advance(21 * time.Second)
	_, err = f.svc.RequestOtp(ctx, testCountryCode, testMobile)
	require.NoError(t, err)
	assert.Equal(t, 2, f.otps.count())
}

func TestRequestOtp_newRecordSupersedesOld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RequestOtp(ctx, testCountryCode, testMobile)
	require.NoError(t, err)
	firstCode := f.sms.lastCode

	f.advance(31 * time.Second)
	_, err = f.svc.RequestOtp(ctx, testCountryCode, testMobile)
	require.NoError(t, err)
	secondCode := f.sms.lastCode

	if firstCode == secondCode {
		t.Skip("codes collided; superseding is indistinguishable this run")
	}

	// The old code now targets the new record and fails.
	_, err = f.svc.VerifyOtp(ctx, testCountryCode, testMobile, firstCode, nil, nil)
	var invalid *InvalidOtpError
	require.ErrorAs(t, err, &invalid)

	_, err = f.svc.VerifyOtp(ctx, testCountryCode, testMobile, secondCode, nil, nil)
	require.NoError(t, err)
}

func TestRequestOtp_deliveryFailure(t *testing.T) {
	f := newFixture(t)
	f.sms.err = errors.New("provider unavailable")

	_, err := f.svc.RequestOtp(context.Background(), testCountryCode, testMobile)
	assert.ErrorIs(t, err, ErrDeliveryFailed)
}

// ---- OTP verification ----

func TestVerifyOtp_noOtp(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.VerifyOtp(context.Background(), testCountryCode, testMobile, "123456", nil, nil)
	assert.ErrorIs(t, err, ErrNoOtpFound)
}

func TestVerifyOtp_expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RequestOtp(ctx, testCountryCode, testMobile)
	require.NoError(t, err)

	f.advance(5*time.Minute + time.Second)
	_, err = f.svc.VerifyOtp(ctx, testCountryCode, testMobile, f.sms.lastCode, nil, nil)
	assert.ErrorIs(t, err, ErrOtpExpired)
}

func TestVerifyOtp_attemptCountdownAndLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RequestOtp(ctx, testCountryCode, testMobile)
	require.NoError(t, err)

	for want := 4; want >= 0; want-- {
		_, err := f.svc.VerifyOtp(ctx, testCountryCode, testMobile, f.wrongCode(), nil, nil)
		var invalid *InvalidOtpError
		require.ErrorAs(t, err, &invalid, "attempt leaving %d remaining", want)
		assert.Equal(t, want, invalid.AttemptsRemaining)
	}

	// Sixth call fails on the ceiling even with the correct code.
	_, err = f.svc.VerifyOtp(ctx, testCountryCode, testMobile, f.sms.lastCode, nil, nil)
	assert.ErrorIs(t, err, ErrMaxAttemptsExceeded)
}

func TestVerifyOtp_successCreatesUserOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RequestOtp(ctx, testCountryCode, testMobile)
	require.NoError(t, err)

	result, err := f.svc.VerifyOtp(ctx, testCountryCode, testMobile, f.sms.lastCode, nil, nil)
	require.NoError(t, err)
	assert.True(t, result.IsNewUser)
	assert.True(t, result.User.IsMobileVerified)
	assert.Equal(t, "User 2671", result.User.Name)
	assert.Equal(t, "+1", result.User.CountryCode)
	assert.Equal(t, "4155552671", result.User.Mobile)
	assert.NotEmpty(t, result.AccessToken)
	assert.NotEmpty(t, result.RefreshToken)
	assert.Equal(t, 1, f.users.count())
	assert.Equal(t, 1, f.sessions.count())

	// Consumed exactly once; a replay finds nothing.
	_, err = f.svc.VerifyOtp(ctx, testCountryCode, testMobile, f.sms.lastCode, nil, nil)
	assert.ErrorIs(t, err, ErrNoOtpFound)
}

func TestVerifyOtp_existingUserVerified(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seeded, err := f.users.CreateVerified(ctx, "Alice", "+1", "4155552671")
	require.NoError(t, err)
	f.users.users[seeded.ID].IsMobileVerified = false

	_, err = f.svc.RequestOtp(ctx, testCountryCode, testMobile)
	require.NoError(t, err)

	result, err := f.svc.VerifyOtp(ctx, testCountryCode, testMobile, f.sms.lastCode, nil, nil)
	require.NoError(t, err)
	assert.False(t, result.IsNewUser)
	assert.Equal(t, seeded.ID, result.User.ID)
	assert.True(t, result.User.IsMobileVerified)
	assert.Equal(t, "Alice", result.User.Name, "existing name must be kept")
	assert.Equal(t, 1, f.users.count(), "no duplicate user")
}

// ---- refresh rotation ----

func loginUser(t *testing.T, f *fixture) (uuid.UUID, string, string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.RequestOtp(ctx, testCountryCode, testMobile)
	require.NoError(t, err)
	result, err := f.svc.VerifyOtp(ctx, testCountryCode, testMobile, f.sms.lastCode, nil, nil)
	require.NoError(t, err)
	return result.User.ID, result.AccessToken, result.RefreshToken
}

func TestRefresh_rotation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, refreshToken := loginUser(t, f)

	access2, refresh2, err := f.svc.Refresh(ctx, refreshToken, nil, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, access2)
	assert.NotEqual(t, refreshToken, refresh2)
	assert.Equal(t, 1, f.sessions.count(), "old session replaced, not accumulated")

	// Single use: the rotated-away token is dead.
	_, _, err = f.svc.Refresh(ctx, refreshToken, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	// The replacement still works.
	_, _, err = f.svc.Refresh(ctx, refresh2, nil, nil)
	require.NoError(t, err)
}

func TestRefresh_rejectsGarbageAndAccessTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, accessToken, _ := loginUser(t, f)

	_, _, err := f.svc.Refresh(ctx, "not-a-token", nil, nil)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	_, _, err = f.svc.Refresh(ctx, accessToken, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRefresh_expiredSessionRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, refreshToken := loginUser(t, f)

	// Session and token share the 30-day lifetime; step past it.
	f.advance(30*24*time.Hour + time.Hour)
	_, _, err := f.svc.Refresh(ctx, refreshToken, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

// ---- logout ----

func TestLogout_specificSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID, _, refresh1 := loginUser(t, f)

	_, refresh2, err := f.svc.issueTokens(ctx, userID, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 2, f.sessions.count())

	require.NoError(t, f.svc.Logout(ctx, userID, refresh1))
	assert.Equal(t, 1, f.sessions.count())

	// The other device's session survives.
	_, _, err = f.svc.Refresh(ctx, refresh2, nil, nil)
	require.NoError(t, err)
}

func TestLogout_everywhere(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID, _, _ := loginUser(t, f)

	_, _, err := f.svc.issueTokens(ctx, userID, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 2, f.sessions.count())

	require.NoError(t, f.svc.Logout(ctx, userID, ""))
	assert.Equal(t, 0, f.sessions.count())
}

func TestLogout_unmatchedTokenIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID, _, _ := loginUser(t, f)

	require.NoError(t, f.svc.Logout(ctx, userID, "token-that-matches-nothing"))
	assert.Equal(t, 1, f.sessions.count())
}

// ---- cleanup ----

func TestCleanupExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := *f.now

	hash, err := HashCode("123456")
	require.NoError(t, err)

	// Live, expired, and consumed-but-stale OTP records.
	_, err = f.otps.Create(ctx, "+1", "1111111111", hash, now.Add(5*time.Minute))
	require.NoError(t, err)
	_, err = f.otps.Create(ctx, "+1", "2222222222", hash, now.Add(-time.Minute))
	require.NoError(t, err)
	stale, err := f.otps.Create(ctx, "+1", "3333333333", hash, now.Add(5*time.Minute))
	require.NoError(t, err)
	require.NoError(t, f.otps.MarkConsumed(ctx, stale.ID))
	f.otps.mu.Lock()
	for _, r := range f.otps.records {
		if r.ID == stale.ID {
			r.CreatedAt = now.Add(-25 * time.Hour)
		}
	}
	f.otps.mu.Unlock()

	userID := uuid.New()
	_, err = f.sessions.Create(ctx, userID, "hash", nil, nil, now.Add(24*time.Hour))
	require.NoError(t, err)
	_, err = f.sessions.Create(ctx, userID, "hash", nil, nil, now.Add(-time.Hour))
	require.NoError(t, err)

	require.NoError(t, f.svc.CleanupExpired(ctx))
	assert.Equal(t, 1, f.otps.count(), "only the live OTP survives")
	assert.Equal(t, 1, f.sessions.count(), "only the unexpired session survives")

	// Idempotent on re-run.
	require.NoError(t, f.svc.CleanupExpired(ctx))
	assert.Equal(t, 1, f.otps.count())
	assert.Equal(t, 1, f.sessions.count())
}

// Guard against interface drift between the fakes and the real repositories.
var (
	_ repo.OtpRepo     = (*fakeOtpRepo)(nil)
	_ repo.SessionRepo = (*fakeSessionRepo)(nil)
	_ repo.UserRepo    = (*fakeUserRepo)(nil)
)
