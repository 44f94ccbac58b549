package consensus

import (
	"fmt"

	"github.com/hxrts/aura-sub001/lib"
)

func ErrEmptyMessage() lib.ErrorI {
	return lib.NewError(lib.CodeEmptyMessage, lib.ConsensusModule, "the message is empty")
}

func ErrUnknownMessage(t any) lib.ErrorI {
	return lib.NewError(lib.CodeUnknownMessage, lib.ConsensusModule, fmt.Sprintf("unknown message type: %v", t))
}

func ErrNotWitness(id uint64) lib.ErrorI {
	return lib.NewError(lib.CodeNotWitness, lib.ConsensusModule, fmt.Sprintf("participant %d is not in the witness set", id))
}

func ErrDuplicateShare(id uint64) lib.ErrorI {
	return lib.NewError(lib.CodeDuplicateShare, lib.ConsensusModule, fmt.Sprintf("witness %d already contributed a share", id))
}

func ErrEquivocation(id uint64) lib.ErrorI {
	return lib.NewError(lib.CodeEquivocation, lib.ConsensusModule, fmt.Sprintf("witness %d equivocated", id))
}

func ErrThresholdNotReached(got, want int) lib.ErrorI {
	return lib.NewError(lib.CodeThresholdNotReached, lib.ConsensusModule, fmt.Sprintf("got %d non-equivocating shares, need %d", got, want))
}

func ErrInvalidSignature() lib.ErrorI {
	return lib.NewError(lib.CodeInvalidSignature, lib.ConsensusModule, "the signature is invalid")
}

func ErrInvalidCommitFact(reason string) lib.ErrorI {
	return lib.NewError(lib.CodeInvalidCommitFact, lib.ConsensusModule, fmt.Sprintf("invalid commit fact: %s", reason))
}

func ErrUnknownInstance(id lib.HexBytes) lib.ErrorI {
	return lib.NewError(lib.CodeUnknownInstance, lib.ConsensusModule, fmt.Sprintf("unknown instance: %s", lib.BytesToTruncatedString(id)))
}

func ErrPrestateMismatch(expected, actual lib.HexBytes) lib.ErrorI {
	return lib.NewError(lib.CodePrestateMismatch, lib.ConsensusModule,
		fmt.Sprintf("prestate mismatch: expected %s got %s", lib.BytesToTruncatedString(expected), lib.BytesToTruncatedString(actual)))
}

func ErrInvalidWitnessSet(reason string) lib.ErrorI {
	return lib.NewError(lib.CodeInvalidWitnessSet, lib.ConsensusModule, fmt.Sprintf("invalid witness set: %s", reason))
}

func ErrEmptyShare() lib.ErrorI {
	return lib.NewError(lib.CodeEmptyShare, lib.ConsensusModule, "the share is empty or malformed")
}

func ErrMismatchResultId() lib.ErrorI {
	return lib.NewError(lib.CodeMismatchResultId, lib.ConsensusModule, "the rid does not match the operation and prestate")
}

func ErrStaleEpoch(got, current uint64) lib.ErrorI {
	return lib.NewError(lib.CodeStaleEpoch, lib.ConsensusModule, fmt.Sprintf("epoch %d is stale, current is %d", got, current))
}

func ErrMismatchInstanceId() lib.ErrorI {
	return lib.NewError(lib.CodeMismatchInstanceId, lib.ConsensusModule, "the instance id does not match its derivation inputs")
}

func ErrEvidenceWrongInstance() lib.ErrorI {
	return lib.NewError(lib.CodeEvidenceWrongInstance, lib.ConsensusModule, "the evidence delta belongs to a different instance")
}
