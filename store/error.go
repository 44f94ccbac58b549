package store

import (
	"fmt"

	"github.com/hxrts/aura-sub001/lib"
)

func ErrOpenDB(err error) lib.ErrorI {
	return lib.NewError(lib.CodeOpenDB, lib.StoreModule, fmt.Sprintf("openDB() failed with err: %s", err.Error()))
}

func ErrStoreRead(err error) lib.ErrorI {
	return lib.NewError(lib.CodeStoreRead, lib.StoreModule, fmt.Sprintf("store read failed with err: %s", err.Error()))
}

func ErrStoreWrite(err error) lib.ErrorI {
	return lib.NewError(lib.CodeStoreWrite, lib.StoreModule, fmt.Sprintf("store write failed with err: %s", err.Error()))
}

func ErrCloseDB(err error) lib.ErrorI {
	return lib.NewError(lib.CodeCloseDB, lib.StoreModule, fmt.Sprintf("closeDB() failed with err: %s", err.Error()))
}

func ErrFactConflict() lib.ErrorI {
	return lib.NewError(lib.CodeFactConflict, lib.StoreModule, "a different commit fact already exists for this (instance, prestate)")
}
