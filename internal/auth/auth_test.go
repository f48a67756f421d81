package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestIssueAndParse(t *testing.T) {
	m := NewJWTManager(testSecret, time.Minute)
	id := uuid.New()

	token, exp, err := m.Issue(id, "admin@example.com")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), exp, 2*time.Second)

	got, claims, err := m.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, id, got)
	assert.Equal(t, "admin@example.com", claims.Email)
	assert.Equal(t, []string{Audience}, []string(claims.Audience))
}

func TestParseRejectsForeignAndExpiredTokens(t *testing.T) {
	m := NewJWTManager(testSecret, time.Minute)
	other := NewJWTManager("ffffffffffffffffffffffffffffffff", time.Minute)

	token, _, err := other.Issue(uuid.New(), "x@example.com")
	require.NoError(t, err)
	_, _, err = m.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewJWTManager(testSecret, time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, _, err = expired.Issue(uuid.New(), "x@example.com")
	require.NoError(t, err)
	_, _, err = m.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, _, err = m.Parse("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPasswordHash(t *testing.T) {
	hash, err := Hash("secret1")
	require.NoError(t, err)

	ok, err := Verify("secret1", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verify("secret2", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRefreshTokenHashing(t *testing.T) {
	raw, hashed, err := GenerateRefreshToken()
	require.NoError(t, err)
	assert.NotEqual(t, raw, hashed)
	assert.Equal(t, hashed, HashRefreshToken(raw))
	assert.Equal(t, "refresh:"+hashed, RefreshRedisKey(hashed))
}

func TestValidPasswordCountsCharacters(t *testing.T) {
	assert.False(t, ValidPassword("12345"))
	assert.True(t, ValidPassword("123456"))
	// two characters, six bytes
	assert.False(t, ValidPassword("비밀"))
	assert.True(t, ValidPassword("비밀번호입력"))
}
