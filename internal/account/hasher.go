package account

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher defines minimal hashing interface. Hashes are
// self-describing: salt and parameters travel inside the hash string.
type PasswordHasher interface {
	Hash(pw string) (hash string, algo string, err error)
	Verify(hash, pw string) bool
	NeedsRehash(hash string) bool
}

// ErrSecretTooLong is returned by hashers that cap input length.
var ErrSecretTooLong = errors.New("secret too long")

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) cost() int {
	if b.Cost == 0 {
		return bcrypt.DefaultCost
	}
	return b.Cost
}

func (b BcryptHasher) Hash(pw string) (string, string, error) {
	cost := b.cost()
	h, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", "", ErrSecretTooLong
		}
		return "", "", err
	}
	return string(h), fmt.Sprintf("bcrypt:%d", cost), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// NeedsRehash reports hashes produced with a lower cost than configured.
func (b BcryptHasher) NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return false
	}
	return cost < b.cost()
}

// Argon2Hasher produces PHC-formatted argon2id hashes:
// $argon2id$v=19$m=<KiB>,t=<iterations>,p=<threads>$<salt>$<key>
type Argon2Hasher struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
	SaltLen uint32
}

// DefaultArgon2Hasher mirrors the parameters used for master key derivation
// elsewhere: one pass over 64 MiB with four lanes.
func DefaultArgon2Hasher() Argon2Hasher {
	return Argon2Hasher{Time: 1, Memory: 64 * 1024, Threads: 4, KeyLen: 32, SaltLen: 16}
}

type argon2Params struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	key     []byte
}

func (a Argon2Hasher) Hash(pw string) (string, string, error) {
	salt := make([]byte, a.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", "", err
	}
	key := argon2.IDKey([]byte(pw), salt, a.Time, a.Memory, a.Threads, a.KeyLen)
	enc := base64.RawStdEncoding
	h := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, a.Memory, a.Time, a.Threads, enc.EncodeToString(salt), enc.EncodeToString(key))
	return h, fmt.Sprintf("argon2id:m=%d,t=%d,p=%d", a.Memory, a.Time, a.Threads), nil
}

func (a Argon2Hasher) Verify(hash, pw string) bool {
	p, err := parseArgon2(hash)
	if err != nil {
		return false
	}
	key := argon2.IDKey([]byte(pw), p.salt, p.time, p.memory, p.threads, uint32(len(p.key)))
	return subtle.ConstantTimeCompare(key, p.key) == 1
}

// NeedsRehash reports hashes whose cost parameters differ from the configured ones.
func (a Argon2Hasher) NeedsRehash(hash string) bool {
	p, err := parseArgon2(hash)
	if err != nil {
		return false
	}
	return p.memory != a.Memory || p.time != a.Time || p.threads != a.Threads || uint32(len(p.key)) != a.KeyLen
}

func parseArgon2(hash string) (*argon2Params, error) {
	parts := strings.Split(hash, "$")
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	if len(parts) != 6 || parts[1] != "argon2id" {
		return nil, errors.New("not an argon2id hash")
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, err
	}
	if version != argon2.Version {
		return nil, fmt.Errorf("unsupported argon2 version %d", version)
	}
	p := &argon2Params{}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return nil, err
	}
	enc := base64.RawStdEncoding
	var err error
	if p.salt, err = enc.DecodeString(parts[4]); err != nil {
		return nil, err
	}
	if p.key, err = enc.DecodeString(parts[5]); err != nil {
		return nil, err
	}
	if len(p.key) == 0 {
		return nil, errors.New("empty argon2 key")
	}
	return p, nil
}

const (
	familyBcrypt   = "bcrypt"
	familyArgon2id = "argon2id"
)

// hashFamily identifies the scheme of a stored hash from its prefix.
func hashFamily(hash string) string {
	switch {
	case strings.HasPrefix(hash, "$argon2id$"):
		return familyArgon2id
	case strings.HasPrefix(hash, "$2a$"), strings.HasPrefix(hash, "$2b$"), strings.HasPrefix(hash, "$2y$"):
		return familyBcrypt
	default:
		return ""
	}
}

func (BcryptHasher) family() string { return familyBcrypt }
func (Argon2Hasher) family() string { return familyArgon2id }

func familyOf(h PasswordHasher) string {
	if f, ok := h.(interface{ family() string }); ok {
		return f.family()
	}
	return ""
}

// AdaptiveHasher hashes with Primary but verifies any supported scheme, so
// switching PASSWORD_ALGO does not lock out accounts hashed under the old
// one. Hashes from another scheme always need a rehash.
type AdaptiveHasher struct {
	Primary PasswordHasher
}

func (h AdaptiveHasher) Hash(pw string) (string, string, error) {
	return h.Primary.Hash(pw)
}

func (h AdaptiveHasher) Verify(hash, pw string) bool {
	v := h.verifierFor(hash)
	if v == nil {
		return false
	}
	return v.Verify(hash, pw)
}

func (h AdaptiveHasher) NeedsRehash(hash string) bool {
	if fam := hashFamily(hash); fam == "" || fam != familyOf(h.Primary) {
		return true
	}
	return h.Primary.NeedsRehash(hash)
}

func (h AdaptiveHasher) verifierFor(hash string) PasswordHasher {
	fam := hashFamily(hash)
	if fam != "" && fam == familyOf(h.Primary) {
		return h.Primary
	}
	// both schemes read their cost parameters from the hash itself
	switch fam {
	case familyBcrypt:
		return BcryptHasher{}
	case familyArgon2id:
		return Argon2Hasher{}
	default:
		return nil
	}
}

// NewHasher picks the primary implementation by algorithm name. Hashes from
// the other supported scheme still verify.
func NewHasher(algo string, bcryptCost int) (PasswordHasher, error) {
	switch strings.ToLower(algo) {
	case "", "bcrypt":
		return AdaptiveHasher{Primary: BcryptHasher{Cost: bcryptCost}}, nil
	case "argon2id", "argon2":
		return AdaptiveHasher{Primary: DefaultArgon2Hasher()}, nil
	default:
		return nil, fmt.Errorf("unknown password algorithm %q", algo)
	}
}
