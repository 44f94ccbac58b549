package crypto

import (
	"bytes"
	"crypto/rand"

	"github.com/hxrts/aura-sub001/lib"
)

const (
	NonceTokenSize = 32
)

// ThresholdSignerI abstracts a t-of-n threshold signature scheme from the point of view of a
// single share holder. Key generation is external; a signer is constructed from its private
// share and the group's public polynomial commitments.
type ThresholdSignerI interface {
	// SignShare() produces this holder's partial signature over the message
	SignShare(msg []byte) ([]byte, lib.ErrorI)
	// VerifyPartial() checks a partial signature from any share holder against the group commitments
	VerifyPartial(msg, sig []byte) lib.ErrorI
	// PartialIndex() extracts the share holder index embedded in a partial signature
	PartialIndex(sig []byte) (int, lib.ErrorI)
	// Combine() recovers the group signature from at least Threshold() distinct partial signatures
	Combine(msg []byte, sigs [][]byte) ([]byte, lib.ErrorI)
	// VerifySignature() checks a combined signature against the group public key
	VerifySignature(msg, sig []byte) bool
	// GenerateNonce() creates a fresh single-use nonce with its public commitment
	GenerateNonce() (*NonceCommitment, lib.ErrorI)
	// Index() returns this holder's share index
	Index() int
	// Threshold() returns t, the number of partial signatures required to combine
	Threshold() int
	// Total() returns n, the size of the share holder set
	Total() int
	// GroupPublicKey() returns the group public key bytes
	GroupPublicKey() []byte
}

// NonceToken is the secret half of a nonce: random bytes revealed exactly once,
// when the instance the commitment was bound to is executed
type NonceToken []byte

// NonceCommitment pairs a public commitment with the secret token it commits to.
// The commitment is distributed ahead of time and mixed into the instance identifier,
// making identifiers unpredictable before the committing witness participates.
type NonceCommitment struct {
	Commitment []byte     `json:"commitment"` // H(token), safe to publish
	Token      NonceToken `json:"token"`      // secret preimage, single use
}

// NewNonceCommitment() draws a fresh random token and commits to it
func NewNonceCommitment() (*NonceCommitment, lib.ErrorI) {
	token := make([]byte, NonceTokenSize)
	if _, err := rand.Read(token); err != nil {
		return nil, ErrGenerateNonce(err)
	}
	return &NonceCommitment{Commitment: Hash(token), Token: token}, nil
}

// Opens() checks that a revealed token is the preimage of this commitment
func (n *NonceCommitment) Opens(token NonceToken) bool {
	if n == nil || len(token) == 0 {
		return false
	}
	return bytes.Equal(n.Commitment, Hash(token))
}
