// Copyright 2026 The PosKernel Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides deterministic CBOR encoding for journal
// snapshot blobs. The journal's hash chain covers the encoded bytes,
// so the same logical snapshot must always produce identical bytes —
// Core Deterministic Encoding (RFC 8949 §4.2) guarantees that.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Snapshot blobs only ever use string map keys. When decoding
		// into an any-typed target, pick map[string]any rather than
		// the CBOR default map[any]any, which most Go code (and
		// encoding/json) cannot consume.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
