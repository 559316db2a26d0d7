package codec

import (
	"math"
	"testing"

	"github.com/volteria/controller-core/internal/model"
)

func TestRoundTripEncodings(t *testing.T) {
	cases := []struct {
		name string
		reg  model.Register
		val  float64
	}{
		{"uint16", model.Register{Encoding: model.EncodingUint16, Scale: 1}, 42},
		{"int16-negative", model.Register{Encoding: model.EncodingInt16, Scale: 1}, -17},
		{"uint32", model.Register{Encoding: model.EncodingUint32, Scale: 1}, 123456},
		{"int32-negative", model.Register{Encoding: model.EncodingInt32, Scale: 1}, -99999},
		{"float32", model.Register{Encoding: model.EncodingFloat32, Scale: 1}, 3.25},
		{"float64", model.Register{Encoding: model.EncodingFloat64, Scale: 1}, 12345.6789},
		{"scaled-multiply-then-add", model.Register{Encoding: model.EncodingInt16, Scale: 10, Offset: 5, ScaleOrder: model.ScaleThenOffset}, 105},
		{"scaled-add-then-multiply", model.Register{Encoding: model.EncodingInt16, Scale: 2, Offset: 3, ScaleOrder: model.OffsetThenScale}, 16},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			words, err := Encode(tc.reg, tc.val)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, ok, err := Decode(tc.reg, words)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !ok {
				t.Fatal("expected ok=true")
			}
			if math.Abs(got-tc.val) > 1e-6 {
				t.Fatalf("round trip mismatch: want %v got %v", tc.val, got)
			}
		})
	}
}

func TestDecodeWrongWordCountErrors(t *testing.T) {
	reg := model.Register{Encoding: model.EncodingFloat32, Scale: 1}
	_, _, err := Decode(reg, []uint16{0x1234})
	if err == nil {
		t.Fatal("expected word-count error")
	}
}

func TestDecodeNaNIsNoValue(t *testing.T) {
	reg := model.Register{Encoding: model.EncodingFloat32, Scale: 1}
	words := split32(math.Float32bits(float32(math.NaN())))
	_, ok, err := Decode(reg, words)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for NaN")
	}
}

func TestDecodeString(t *testing.T) {
	words := []uint16{0x4142, 0x4300, 0x0000}
	got := DecodeString(words)
	if got != "ABC" {
		t.Fatalf("got %q", got)
	}
}

func TestEncodeStringRoundTrip(t *testing.T) {
	words := EncodeString("ABC", 3)
	if got := DecodeString(words); got != "ABC" {
		t.Fatalf("got %q", got)
	}
}

func TestEncodeStringTruncatesOverlongValue(t *testing.T) {
	words := EncodeString("TOOLONGFORTWOWORDS", 2)
	if len(words) != 2 {
		t.Fatalf("expected 2 words, got %d", len(words))
	}
}

func TestEncode_StringEncodingErrors(t *testing.T) {
	reg := model.Register{Encoding: model.EncodingString, WordCount: 3}
	if _, err := Encode(reg, 0); err == nil {
		t.Fatal("expected error directing caller to EncodeString")
	}
}

func TestWithinTolerance(t *testing.T) {
	if !WithinTolerance(50, 49.6) {
		t.Fatal("expected 49.6 within 1%% tolerance of 50")
	}
	if WithinTolerance(50, 48) {
		t.Fatal("expected 48 outside tolerance of 50 (scenario D)")
	}
	if !WithinTolerance(0.05, 0.06) {
		t.Fatal("expected small values to use the 1-unit floor tolerance")
	}
}
