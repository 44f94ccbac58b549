package crypto

import (
	"fmt"

	bls12381 "github.com/drand/kyber-bls12381"
	"github.com/drand/kyber/pairing"
	"github.com/drand/kyber/share"
	"github.com/drand/kyber/sign"
	"github.com/drand/kyber/sign/tbls"

	"github.com/hxrts/aura-sub001/lib"
)

/*
	This file implements ThresholdSignerI with threshold BLS over the BLS12-381 curve.

	Private key shares are Shamir shares of a group secret; partial signatures live on G1 and
	carry the signer index in their first two bytes, so any t of them recover the one group
	signature regardless of which t holders contributed. The group public key is the free
	coefficient of the public polynomial.
*/

var _ ThresholdSignerI = &TBLS{}

// TBLS is a single holder's view of a t-of-n BLS threshold key
type TBLS struct {
	suite     pairing.Suite
	scheme    sign.ThresholdScheme
	privShare *share.PriShare
	pubPoly   *share.PubPoly
	threshold int
	total     int
}

// NewTBLS() constructs a signer from a private share and the group's public polynomial
func NewTBLS(privShare *share.PriShare, pubPoly *share.PubPoly, threshold, total int) (*TBLS, lib.ErrorI) {
	if privShare == nil || pubPoly == nil {
		return nil, ErrKeygen(fmt.Errorf("nil key material"))
	}
	if threshold < 1 || threshold > total {
		return nil, ErrKeygen(fmt.Errorf("invalid threshold %d of %d", threshold, total))
	}
	suite := newTBLSSuite()
	return &TBLS{
		suite:     suite,
		scheme:    tbls.NewThresholdSchemeOnG1(suite),
		privShare: privShare,
		pubPoly:   pubPoly,
		threshold: threshold,
		total:     total,
	}, nil
}

// SignShare() produces this holder's partial signature over the message
func (s *TBLS) SignShare(msg []byte) ([]byte, lib.ErrorI) {
	sig, err := s.scheme.Sign(s.privShare, msg)
	if err != nil {
		return nil, ErrSignShare(err)
	}
	return sig, nil
}

// VerifyPartial() checks a partial signature against the group's public polynomial
func (s *TBLS) VerifyPartial(msg, sig []byte) lib.ErrorI {
	if err := s.scheme.VerifyPartial(s.pubPoly, msg, sig); err != nil {
		return ErrInvalidPartialSignature(err)
	}
	return nil
}

// PartialIndex() extracts the share holder index embedded in a partial signature
func (s *TBLS) PartialIndex(sig []byte) (int, lib.ErrorI) {
	i, err := s.scheme.IndexOf(sig)
	if err != nil {
		return 0, ErrInvalidPartialSignature(err)
	}
	return i, nil
}

// Combine() recovers the group signature from at least t distinct partial signatures
func (s *TBLS) Combine(msg []byte, sigs [][]byte) ([]byte, lib.ErrorI) {
	if len(sigs) < s.threshold {
		return nil, ErrCombineShares(fmt.Errorf("got %d partial signatures, need %d", len(sigs), s.threshold))
	}
	sig, err := s.scheme.Recover(s.pubPoly, msg, sigs, s.threshold, s.total)
	if err != nil {
		return nil, ErrCombineShares(err)
	}
	return sig, nil
}

// VerifySignature() checks a combined signature against the group public key
func (s *TBLS) VerifySignature(msg, sig []byte) bool {
	return s.scheme.VerifyRecovered(s.pubPoly.Commit(), msg, sig) == nil
}

// GenerateNonce() creates a fresh single-use nonce with its public commitment
func (s *TBLS) GenerateNonce() (*NonceCommitment, lib.ErrorI) {
	return NewNonceCommitment()
}

// Index() returns this holder's share index
func (s *TBLS) Index() int { return s.privShare.I }

// Threshold() returns t
func (s *TBLS) Threshold() int { return s.threshold }

// Total() returns n
func (s *TBLS) Total() int { return s.total }

// GroupPublicKey() returns the group public key bytes
func (s *TBLS) GroupPublicKey() []byte {
	bz, _ := s.pubPoly.Commit().MarshalBinary()
	return bz
}

// NewThresholdKeygen() generates a fresh t-of-n key set with one signer per holder.
// This is trusted-dealer generation for tests and simulations; production key material
// comes from an external DKG and enters through NewTBLS()
func NewThresholdKeygen(threshold, total int) ([]*TBLS, lib.ErrorI) {
	if threshold < 1 || threshold > total {
		return nil, ErrKeygen(fmt.Errorf("invalid threshold %d of %d", threshold, total))
	}
	suite := newTBLSSuite()
	secret := suite.G2().Scalar().Pick(suite.RandomStream())
	priPoly := share.NewPriPoly(suite.G2(), threshold, secret, suite.RandomStream())
	pubPoly := priPoly.Commit(suite.G2().Point().Base())
	signers := make([]*TBLS, 0, total)
	for _, priShare := range priPoly.Shares(total) {
		signer, err := NewTBLS(priShare, pubPoly, threshold, total)
		if err != nil {
			return nil, err
		}
		signers = append(signers, signer)
	}
	return signers, nil
}

func newTBLSSuite() pairing.Suite { return bls12381.NewBLS12381Suite() }

func ErrSignShare(err error) lib.ErrorI {
	return lib.NewError(lib.CodeSignShare, lib.CryptoModule, fmt.Sprintf("signShare() failed with err: %s", err.Error()))
}

func ErrCombineShares(err error) lib.ErrorI {
	return lib.NewError(lib.CodeCombineShares, lib.CryptoModule, fmt.Sprintf("combineShares() failed with err: %s", err.Error()))
}

func ErrInvalidPartialSignature(err error) lib.ErrorI {
	return lib.NewError(lib.CodeInvalidPartialSig, lib.CryptoModule, fmt.Sprintf("invalid partial signature: %s", err.Error()))
}

func ErrGenerateNonce(err error) lib.ErrorI {
	return lib.NewError(lib.CodeGenerateNonce, lib.CryptoModule, fmt.Sprintf("generateNonce() failed with err: %s", err.Error()))
}

func ErrKeygen(err error) lib.ErrorI {
	return lib.NewError(lib.CodeKeygen, lib.CryptoModule, fmt.Sprintf("keygen() failed with err: %s", err.Error()))
}
