// Copyright 2026 The Pulseroom Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

type sample struct {
	ID     string   `cbor:"id"`
	Count  int      `cbor:"count"`
	Labels []string `cbor:"labels,omitempty"`
}

func TestMarshalIsDeterministic(t *testing.T) {
	value := sample{ID: "s1", Count: 7, Labels: []string{"a", "b"}}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	second, err := Marshal(value)
	if err != nil {
		t.Fatalf("second Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("equal values encoded to different bytes")
	}
}

func TestRoundTrip(t *testing.T) {
	value := sample{ID: "s1", Count: 7, Labels: []string{"a"}}
	encoded, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sample
	if err := Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.ID != "s1" || decoded.Count != 7 || len(decoded.Labels) != 1 {
		t.Fatalf("decoded = %+v", decoded)
	}
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	encoded, err := Marshal(map[string]any{
		"id":     "s1",
		"count":  3,
		"future": "field",
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sample
	if err := Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("Unmarshal with unknown field: %v", err)
	}
	if decoded.ID != "s1" || decoded.Count != 3 {
		t.Fatalf("decoded = %+v", decoded)
	}
}

func TestUnmarshalAnyUsesStringKeys(t *testing.T) {
	encoded, err := Marshal(map[string]any{"key": "value"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded any
	if err := Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	asMap, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
	if asMap["key"] != "value" {
		t.Fatalf("decoded = %+v", asMap)
	}
}
