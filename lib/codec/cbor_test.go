// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

// sampleRecord mimics the shape of an agent-share store record: string
// keys, byte strings, and integers.
type sampleRecord struct {
	ChildID  string `cbor:"child_id"`
	Index    uint32 `cbor:"index"`
	KAgent   []byte `cbor:"k_agent"`
	Consumed bool   `cbor:"consumed,omitempty"`
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	original := sampleRecord{
		ChildID: "4f1c9be0",
		Index:   7,
		KAgent:  []byte{0x01, 0x02, 0x03, 0x04},
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("Marshal produced empty output")
	}

	var decoded sampleRecord
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.ChildID != original.ChildID || decoded.Index != original.Index ||
		!bytes.Equal(decoded.KAgent, original.KAgent) {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	record := sampleRecord{ChildID: "abcd", Index: 3, KAgent: []byte{9, 9}}

	first, err := Marshal(record)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	second, err := Marshal(record)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("encoding not deterministic: %x vs %x", first, second)
	}

	// Map encoding must also be byte-stable regardless of insertion
	// order, since the encrypted store is rewritten on every import.
	mapA := map[string]int{"alpha": 1, "beta": 2, "gamma": 3}
	mapB := map[string]int{"gamma": 3, "alpha": 1, "beta": 2}
	encodedA, _ := Marshal(mapA)
	encodedB, _ := Marshal(mapB)
	if !bytes.Equal(encodedA, encodedB) {
		t.Errorf("map encoding depends on insertion order: %x vs %x", encodedA, encodedB)
	}
}

func TestEncoderDecoderStreamRoundtrip(t *testing.T) {
	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)

	records := []sampleRecord{
		{ChildID: "one", Index: 0, KAgent: []byte{1}},
		{ChildID: "two", Index: 1, KAgent: []byte{2}, Consumed: true},
	}
	for _, record := range records {
		if err := encoder.Encode(record); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&buffer)
	for i, want := range records {
		var got sampleRecord
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("Decode record %d: %v", i, err)
		}
		if got.ChildID != want.ChildID || got.Consumed != want.Consumed {
			t.Errorf("record %d mismatch: got %+v, want %+v", i, got, want)
		}
	}
}

func TestUnmarshalInvalidCBOR(t *testing.T) {
	var target sampleRecord
	if err := Unmarshal([]byte{0xff, 0xff, 0xff}, &target); err == nil {
		t.Error("Unmarshal of garbage bytes should fail")
	}
}

func TestDefaultMapType(t *testing.T) {
	data, err := Marshal(map[string]any{"kind": "refill", "count": 4})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := decoded.(map[string]any); !ok {
		t.Errorf("decoded any-target is %T, want map[string]any", decoded)
	}
}
