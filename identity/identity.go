// Package identity derives user identities. Cloud identities come from an
// external provider; local vault identities are derived from a secret phrase
// and never leave the device.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// LocalVaultPrefix marks uids that belong to a device-only vault.
const LocalVaultPrefix = "vault_"

const (
	localVaultIterations = 10000
	localVaultIDLength   = 28

	localVaultEmail       = "private@vault.local"
	localVaultDisplayName = "Legacy Keeper"
)

// SecretKind says how a local secret was entered.
type SecretKind string

const (
	SecretEmail    SecretKind = "email"
	SecretPasscode SecretKind = "passcode"
)

// Identity is the authenticated subject of a story.
type Identity struct {
	UID         string
	Email       string
	DisplayName string
}

// Local reports whether the identity is a local vault.
func (i Identity) Local() bool { return IsLocalVault(i.UID) }

// IsLocalVault reports whether uid names a device-only vault.
func IsLocalVault(uid string) bool { return strings.HasPrefix(uid, LocalVaultPrefix) }

// LocalVaultID derives the stable uid of the vault unlocked by secret.
// The secret is trimmed and lower-cased first so the same phrase always
// opens the same vault.
func LocalVaultID(secret string, salt []byte) string {
	phrase := strings.ToLower(strings.TrimSpace(secret))
	sum := pbkdf2.Key([]byte(phrase), salt, localVaultIterations, sha256.Size, sha256.New)
	return LocalVaultPrefix + hex.EncodeToString(sum)[:localVaultIDLength]
}

// LocalIdentity builds the identity for a local secret.
func LocalIdentity(secret string, kind SecretKind, salt []byte) Identity {
	email := localVaultEmail
	if kind == SecretEmail {
		email = strings.TrimSpace(secret)
	}
	return Identity{
		UID:         LocalVaultID(secret, salt),
		Email:       email,
		DisplayName: localVaultDisplayName,
	}
}
