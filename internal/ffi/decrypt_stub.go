//go:build !cgo

package ffi

import "errors"

func TryDecryptJSON(string) (string, error) {
	return "", errors.New("decrypt: cgo disabled")
}

func ValidateViewingKeyJSON(string) (string, error) {
	return "", errors.New("decrypt: cgo disabled")
}
