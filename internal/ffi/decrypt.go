package ffi

/*
#cgo CFLAGS: -I${SRCDIR}/../../rust/decrypt/include
#cgo LDFLAGS: -L${SRCDIR}/../../rust/decrypt/target/release -ljuno_decrypt

#include "juno_decrypt.h"
#include <stdlib.h>
*/
import "C"

import (
	"errors"
	"unsafe"
)

var errNull = errors.New("decrypt: null response")

// TryDecryptJSON passes a JSON trial-decryption request to the native
// library and returns its JSON response.
func TryDecryptJSON(req string) (string, error) {
	cReq := C.CString(req)
	defer C.free(unsafe.Pointer(cReq))

	out := C.juno_decrypt_try_output_json(cReq)
	if out == nil {
		return "", errNull
	}
	defer C.juno_decrypt_string_free(out)

	return C.GoString(out), nil
}

// ValidateViewingKeyJSON checks a viewing key's encoding.
func ValidateViewingKeyJSON(req string) (string, error) {
	cReq := C.CString(req)
	defer C.free(unsafe.Pointer(cReq))

	out := C.juno_decrypt_validate_key_json(cReq)
	if out == nil {
		return "", errNull
	}
	defer C.juno_decrypt_string_free(out)

	return C.GoString(out), nil
}
