package lib

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
)

/*
	This file implements the binary and JSON codec helpers shared by all modules.

	The binary codec is canonical (deterministic) CBOR: the same value always encodes to the
	same bytes regardless of which participant encodes it. Protocol digests and sign-bytes are
	computed over these encodings, so determinism is load-bearing for agreement.
*/

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	if cborEnc, err = cbor.CanonicalEncOptions().EncMode(); err != nil {
		panic(err)
	}
	cborDec, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Marshal() serializes an object into canonical binary bytes
func Marshal(message any) ([]byte, ErrorI) {
	bz, err := cborEnc.Marshal(message)
	if err != nil {
		return nil, ErrMarshal(err)
	}
	return bz, nil
}

// Unmarshal() deserializes binary bytes into the object pointer
func Unmarshal(data []byte, ptr any) ErrorI {
	if err := cborDec.Unmarshal(data, ptr); err != nil {
		return ErrUnmarshal(err)
	}
	return nil
}

// MustMarshal() serializes an object, panicking on failure; for values that are
// marshalable by construction
func MustMarshal(message any) []byte {
	bz, err := Marshal(message)
	if err != nil {
		panic(err)
	}
	return bz
}

// MarshalJSON() serializes an object into a JSON byte representation
func MarshalJSON(message any) ([]byte, ErrorI) {
	bz, err := json.Marshal(message)
	if err != nil {
		return nil, ErrJSONMarshal(err)
	}
	return bz, nil
}

// MarshalJSONIndent() serializes an object into an indented JSON byte representation
func MarshalJSONIndent(message any) ([]byte, ErrorI) {
	bz, err := json.MarshalIndent(message, "", "  ")
	if err != nil {
		return nil, ErrJSONMarshal(err)
	}
	return bz, nil
}

// UnmarshalJSON() deserializes JSON bytes into the object pointer
func UnmarshalJSON(bz []byte, ptr any) ErrorI {
	if err := json.Unmarshal(bz, ptr); err != nil {
		return ErrJSONUnmarshal(err)
	}
	return nil
}

// NewJSONFromFile() populates an object from a JSON file in the data directory
func NewJSONFromFile(o any, dataDirPath, filePath string) ErrorI {
	bz, err := os.ReadFile(filepath.Join(dataDirPath, filePath))
	if err != nil {
		return ErrReadFile(err)
	}
	return UnmarshalJSON(bz, o)
}

// SaveJSONToFile() writes an object as indented JSON to a file in the data directory
func SaveJSONToFile(j any, dataDirPath, filePath string) ErrorI {
	bz, err := MarshalJSONIndent(j)
	if err != nil {
		return err
	}
	if e := os.WriteFile(filepath.Join(dataDirPath, filePath), bz, 0o600); e != nil {
		return ErrWriteFile(e)
	}
	return nil
}
