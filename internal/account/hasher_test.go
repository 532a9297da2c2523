package account

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasher(t *testing.T) {
	h := BcryptHasher{Cost: bcrypt.MinCost}
	hash, algo, err := h.Hash("pw")
	require.NoError(t, err)
	assert.Equal(t, "bcrypt:4", algo)
	assert.NotEqual(t, "pw", hash)
	assert.True(t, h.Verify(hash, "pw"))
	assert.False(t, h.Verify(hash, "PW"))
	assert.False(t, h.Verify("garbage", "pw"))

	// same input, different salt
	other, _, err := h.Hash("pw")
	require.NoError(t, err)
	assert.NotEqual(t, hash, other)

	assert.False(t, h.NeedsRehash(hash))
	assert.True(t, BcryptHasher{Cost: bcrypt.MinCost + 1}.NeedsRehash(hash))
	assert.False(t, h.NeedsRehash("not-bcrypt"))

	_, _, err = h.Hash(strings.Repeat("x", 73))
	assert.ErrorIs(t, err, ErrSecretTooLong)
}

func testArgon2() Argon2Hasher {
	return Argon2Hasher{Time: 1, Memory: 1024, Threads: 1, KeyLen: 16, SaltLen: 8}
}

func TestArgon2Hasher(t *testing.T) {
	h := testArgon2()
	hash, algo, err := h.Hash("pw")
	require.NoError(t, err)
	assert.Equal(t, "argon2id:m=1024,t=1,p=1", algo)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=1024,t=1,p=1$"))
	assert.True(t, h.Verify(hash, "pw"))
	assert.False(t, h.Verify(hash, "pw2"))

	assert.False(t, h.NeedsRehash(hash))
	stronger := h
	stronger.Time = 2
	assert.True(t, stronger.NeedsRehash(hash))
	// verification uses the parameters stored in the hash
	assert.True(t, stronger.Verify(hash, "pw"))
}

func TestArgon2RejectsMalformed(t *testing.T) {
	h := testArgon2()
	for _, bad := range []string{
		"",
		"$2a$04$abc",
		"$argon2id$v=18$m=1024,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=x,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=1024,t=1,p=1$!!$a2V5",
		"$argon2id$v=19$m=1024,t=1,p=1$c2FsdA$",
	} {
		assert.False(t, h.Verify(bad, "pw"), bad)
		assert.False(t, h.NeedsRehash(bad), bad)
	}
}

func TestNewHasher(t *testing.T) {
	h, err := NewHasher("", 10)
	require.NoError(t, err)
	assert.Equal(t, AdaptiveHasher{Primary: BcryptHasher{Cost: 10}}, h)

	h, err = NewHasher("Argon2id", 10)
	require.NoError(t, err)
	assert.Equal(t, AdaptiveHasher{Primary: DefaultArgon2Hasher()}, h)

	_, err = NewHasher("sha1", 10)
	assert.Error(t, err)
}

func TestAdaptiveHasherVerifiesEveryScheme(t *testing.T) {
	bcryptHash, _, err := BcryptHasher{Cost: bcrypt.MinCost}.Hash("pw")
	require.NoError(t, err)
	argonHash, _, err := testArgon2().Hash("pw")
	require.NoError(t, err)

	toArgon := AdaptiveHasher{Primary: testArgon2()}
	assert.True(t, toArgon.Verify(bcryptHash, "pw"))
	assert.False(t, toArgon.Verify(bcryptHash, "PW"))
	assert.True(t, toArgon.Verify(argonHash, "pw"))
	assert.True(t, toArgon.NeedsRehash(bcryptHash))
	assert.False(t, toArgon.NeedsRehash(argonHash))

	toBcrypt := AdaptiveHasher{Primary: BcryptHasher{Cost: bcrypt.MinCost}}
	assert.True(t, toBcrypt.Verify(argonHash, "pw"))
	assert.True(t, toBcrypt.Verify(bcryptHash, "pw"))
	assert.True(t, toBcrypt.NeedsRehash(argonHash))
	assert.False(t, toBcrypt.NeedsRehash(bcryptHash))
	assert.True(t, AdaptiveHasher{Primary: BcryptHasher{Cost: bcrypt.MinCost + 1}}.NeedsRehash(bcryptHash))

	hash, algo, err := toArgon.Hash("pw")
	require.NoError(t, err)
	assert.Equal(t, familyArgon2id, hashFamily(hash))
	assert.Equal(t, "argon2id:m=1024,t=1,p=1", algo)

	for _, bad := range []string{"", "plain", "$1$md5$x"} {
		assert.False(t, toArgon.Verify(bad, "pw"), bad)
		assert.Empty(t, hashFamily(bad), bad)
	}
}
