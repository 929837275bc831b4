// Copyright 2026 The Pulseroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides deterministic CBOR encoding for persisted
// session snapshots. The same logical snapshot always encodes to
// identical bytes (RFC 8949 §4.2 core deterministic encoding), which
// lets the authority store compare blobs cheaply and keeps on-disk
// state diffable.
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
		// Snapshot payloads only ever use string map keys. When the
		// decode target is any, pick map[string]any so the result is
		// compatible with encoding/json and ordinary Go code instead
		// of the CBOR default map[interface{}]interface{}.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v with core deterministic encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v. Unknown fields are ignored for
// forward compatibility.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
