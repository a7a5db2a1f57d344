package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidVIN(t *testing.T) {
	tests := []struct {
		vin  string
		want bool
	}{
		{"WBADT43452G123456", true},
		{"1HGBH41JXMN109186", true},
		{"WBADT43452G12345", false},   // 16 chars
		{"WBADT43452G1234567", false}, // 18 chars
		{"WBADT43452G12345I", false},  // I excluded
		{"WBADT43452G12345O", false},  // O excluded
		{"WBADT43452G12345Q", false},  // Q excluded
		{"wbadt43452g123456", false},  // lowercase
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.vin, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidVIN(tt.vin))
		})
	}
}

func TestValidStockNumber(t *testing.T) {
	assert.True(t, ValidStockNumber("TEST-E2E-001"))
	assert.True(t, ValidStockNumber("abc_123"))
	assert.False(t, ValidStockNumber(""))
	assert.False(t, ValidStockNumber("A B"))
	assert.False(t, ValidStockNumber("A,B"))
}

func TestImageTypeIsKey(t *testing.T) {
	for _, kt := range KeyImageTypes {
		assert.True(t, kt.IsKey(), string(kt))
	}
	assert.False(t, ImageTypeGallery.IsKey())
	assert.False(t, ImageTypeGalleryExterior.IsKey())
	assert.False(t, ImageTypeGalleryInterior.IsKey())
}

func TestImageTypeRank(t *testing.T) {
	// Canonical feed order.
	assert.Equal(t, 0, ImageTypeFrontQuarter.Rank())
	assert.Equal(t, 1, ImageTypeFront.Rank())
	assert.Equal(t, 2, ImageTypeBackQuarter.Rank())
	assert.Equal(t, 3, ImageTypeBack.Rank())
	assert.Equal(t, 4, ImageTypeDriverSide.Rank())
	assert.Equal(t, 5, ImageTypePassengerSide.Rank())
	assert.Equal(t, len(KeyImageTypes), ImageTypeGallery.Rank())
}

func TestJobStatusTerminal(t *testing.T) {
	assert.False(t, JobQueued.Terminal())
	assert.False(t, JobProcessing.Terminal())
	assert.True(t, JobCompleted.Terminal())
	assert.True(t, JobFailed.Terminal())
}

func TestValidatorRules(t *testing.T) {
	v := NewValidator()

	type payload struct {
		VIN   string `validate:"vin"`
		Stock string `validate:"stocknum"`
		Type  string `validate:"imagetype"`
	}

	assert.NoError(t, v.Struct(payload{VIN: "WBADT43452G123456", Stock: "TEST-E2E-001", Type: "FRONT"}))
	assert.Error(t, v.Struct(payload{VIN: "bad", Stock: "TEST-E2E-001", Type: "FRONT"}))
	assert.Error(t, v.Struct(payload{VIN: "WBADT43452G123456", Stock: "a b", Type: "FRONT"}))
	assert.Error(t, v.Struct(payload{VIN: "WBADT43452G123456", Stock: "ok", Type: "SIDEWAYS"}))
}
