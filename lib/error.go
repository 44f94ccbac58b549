package lib

import (
	"fmt"
	"math"
)

// ErrorI is the error type shared across all modules, carrying a code and the module of origin
type ErrorI interface {
	Code() ErrorCode     // returns the error code
	Module() ErrorModule // returns the error module
	error                // implements the built-in error interface
}

var _ ErrorI = &Error{}

type ErrorCode uint32

type ErrorModule string

type Error struct {
	ECode   ErrorCode   `json:"code"`
	EModule ErrorModule `json:"module"`
	Msg     string      `json:"msg"`
}

func NewError(code ErrorCode, module ErrorModule, msg string) *Error {
	return &Error{ECode: code, EModule: module, Msg: msg}
}

// Code() returns the associated error code
func (p *Error) Code() ErrorCode { return p.ECode }

// Module() returns the module field
func (p *Error) Module() ErrorModule { return p.EModule }

// String() calls Error()
func (p *Error) String() string { return p.Error() }

// Error() returns a formatted string including module, code and message
func (p *Error) Error() string {
	return fmt.Sprintf("\nModule:  %s\nCode:    %d\nMessage: %s", p.EModule, p.ECode, p.Msg)
}

const (
	NoCode ErrorCode = math.MaxUint32

	// Main Module
	MainModule ErrorModule = "main"

	// Main Module Error Codes
	CodeJSONMarshal   ErrorCode = 1
	CodeJSONUnmarshal ErrorCode = 2
	CodeMarshal       ErrorCode = 3
	CodeUnmarshal     ErrorCode = 4
	CodeStringToBytes ErrorCode = 5
	CodeWriteFile     ErrorCode = 6
	CodeReadFile      ErrorCode = 7
	CodeLogWrite      ErrorCode = 8

	// Consensus Module
	ConsensusModule ErrorModule = "consensus"

	// Consensus Module Error Codes
	CodeEmptyMessage          ErrorCode = 1
	CodeUnknownMessage        ErrorCode = 2
	CodeNotWitness            ErrorCode = 3
	CodeDuplicateShare        ErrorCode = 4
	CodeEquivocation          ErrorCode = 5
	CodeThresholdNotReached   ErrorCode = 6
	CodeInvalidSignature      ErrorCode = 7
	CodeInvalidCommitFact     ErrorCode = 8
	CodeAlreadyDecided        ErrorCode = 9
	CodeUnknownInstance       ErrorCode = 10
	CodePrestateMismatch      ErrorCode = 11
	CodeInvalidWitnessSet     ErrorCode = 12
	CodeEmptyShare            ErrorCode = 13
	CodeMismatchResultId      ErrorCode = 14
	CodeStaleEpoch            ErrorCode = 15
	CodeEvidenceWrongInstance ErrorCode = 16
	CodeMismatchInstanceId    ErrorCode = 17

	// Crypto Module
	CryptoModule ErrorModule = "crypto"

	// Crypto Module Error Codes
	CodeSignShare         ErrorCode = 1
	CodeCombineShares     ErrorCode = 2
	CodeKeygen            ErrorCode = 3
	CodeInvalidPartialSig ErrorCode = 4
	CodeGenerateNonce     ErrorCode = 5

	// Store Module
	StoreModule ErrorModule = "store"

	// Store Module Error Codes
	CodeOpenDB       ErrorCode = 1
	CodeStoreRead    ErrorCode = 2
	CodeStoreWrite   ErrorCode = 3
	CodeCloseDB      ErrorCode = 4
	CodeFactConflict ErrorCode = 5
)

func newLogError(err error) ErrorI {
	return NewError(CodeLogWrite, MainModule, fmt.Sprintf("log write failed with err: %s", err.Error()))
}

func ErrJSONMarshal(err error) ErrorI {
	return NewError(CodeJSONMarshal, MainModule, fmt.Sprintf("jsonMarshal() failed with err: %s", err.Error()))
}

func ErrJSONUnmarshal(err error) ErrorI {
	return NewError(CodeJSONUnmarshal, MainModule, fmt.Sprintf("jsonUnmarshal() failed with err: %s", err.Error()))
}

func ErrMarshal(err error) ErrorI {
	return NewError(CodeMarshal, MainModule, fmt.Sprintf("marshal() failed with err: %s", err.Error()))
}

func ErrUnmarshal(err error) ErrorI {
	return NewError(CodeUnmarshal, MainModule, fmt.Sprintf("unmarshal() failed with err: %s", err.Error()))
}

func ErrStringToBytes(err error) ErrorI {
	return NewError(CodeStringToBytes, MainModule, fmt.Sprintf("stringToBytes() failed with err: %s", err.Error()))
}

func ErrWriteFile(err error) ErrorI {
	return NewError(CodeWriteFile, MainModule, fmt.Sprintf("writeFile() failed with err: %s", err.Error()))
}

func ErrReadFile(err error) ErrorI {
	return NewError(CodeReadFile, MainModule, fmt.Sprintf("readFile() failed with err: %s", err.Error()))
}
