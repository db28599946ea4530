// Package auth verifies HTTP Basic credentials against the salted
// password hash in the config. Every failure, wrong user, wrong
// password, malformed header or broken stored hash, yields the same
// error, and the password derivation always runs so a wrong username is
// not observably faster than a wrong password.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"

	"golang.org/x/crypto/pbkdf2"

	"github.com/networktap/networktap/pkg/config"
)

// PBKDF2 parameters. Existing hashes embed these implicitly; changing
// them requires a password reset.
const (
	Iterations = 120000
	SaltLen    = 16
	KeyLen     = 32
)

// Role gates mutating endpoints.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleViewer Role = "viewer"
)

// Principal is an authenticated caller.
type Principal struct {
	User string `json:"user"`
	Role Role   `json:"role"`
}

// Admin reports whether the principal may mutate state.
func (p Principal) Admin() bool {
	return p.Role == RoleAdmin
}

// ErrUnauthenticated is the single failure for every credential
// problem.
var ErrUnauthenticated = errors.New("unauthenticated")

// dummySalt keeps the derivation running even when the stored salt is
// missing or malformed.
var dummySalt = make([]byte, SaltLen)

// Gate verifies credentials against the live config snapshot, so a
// password rotation takes effect on the next request.
type Gate struct {
	cfg func() *config.Snapshot
}

// New creates a Gate over the config snapshot accessor.
func New(cfg func() *config.Snapshot) *Gate {
	return &Gate{cfg: cfg}
}

// Authenticate verifies a user/password pair.
func (g *Gate) Authenticate(user, pass string) (Principal, error) {
	snap := g.cfg()

	salt, saltErr := hex.DecodeString(snap.WebPassSalt)
	if saltErr != nil || len(salt) == 0 {
		salt = dummySalt
	}
	stored, hashErr := hex.DecodeString(snap.WebPassHash)

	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(snap.WebUser)) == 1

	derived := pbkdf2.Key([]byte(pass), salt, Iterations, KeyLen, sha256.New)
	passOK := hashErr == nil && saltErr == nil &&
		len(stored) == KeyLen &&
		subtle.ConstantTimeCompare(derived, stored) == 1

	if !userOK || !passOK {
		return Principal{}, ErrUnauthenticated
	}

	role := Role(snap.WebRole)
	if role != RoleAdmin && role != RoleViewer {
		role = RoleViewer
	}
	return Principal{User: snap.WebUser, Role: role}, nil
}

// AuthenticateRequest verifies the Authorization header of r. A missing
// or malformed header still burns a derivation before failing.
func (g *Gate) AuthenticateRequest(r *http.Request) (Principal, error) {
	user, pass, ok := r.BasicAuth()
	if !ok {
		pbkdf2.Key([]byte(""), dummySalt, Iterations, KeyLen, sha256.New)
		return Principal{}, ErrUnauthenticated
	}
	return g.Authenticate(user, pass)
}

// HashPassword derives a fresh salt and hash for storing a new
// password. Both are hex-encoded for the config file.
func HashPassword(password string) (saltHex, hashHex string, err error) {
	salt, err := randomSalt()
	if err != nil {
		return "", "", err
	}
	hash := pbkdf2.Key([]byte(password), salt, Iterations, KeyLen, sha256.New)
	return hex.EncodeToString(salt), hex.EncodeToString(hash), nil
}
