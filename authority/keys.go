package authority

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
)

// Keypair is an ed25519 wallet key. Payers and the trusted backend sign
// instructions with it.
type Keypair struct {
	private ed25519.PrivateKey
	public  Identity
}

// GenerateKeypair creates a random keypair.
func GenerateKeypair() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return newKeypair(priv, pub), nil
}

// KeypairFromSeed derives a keypair from a 32-byte seed.
func KeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("authority: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub, _ := priv.Public().(ed25519.PublicKey)
	return newKeypair(priv, pub), nil
}

// Public returns the wallet identity.
func (k *Keypair) Public() Identity { return k.public }

// Seed returns the private seed.
func (k *Keypair) Seed() []byte { return k.private.Seed() }

// Sign signs msg.
func (k *Keypair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.private, msg)
}

// Verify reports whether sig is signer's signature over msg. It is always
// false for program-derived identities.
func Verify(signer Identity, msg, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(signer[:]), msg, sig)
}

func newKeypair(priv ed25519.PrivateKey, pub ed25519.PublicKey) *Keypair {
	var id Identity
	copy(id[:], pub)
	return &Keypair{private: priv, public: id}
}
