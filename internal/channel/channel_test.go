// ABOUTME: Tests for channel classification
// ABOUTME: Verifies subtype-to-channel mapping and rejection of unknown subtypes

package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		subtype Subtype
		want    Type
	}{
		{"sms is text", SubtypeSMS, TypeText},
		{"mms is text", SubtypeMMS, TypeText},
		{"email is email", SubtypeEmail, TypeEmail},
		{"empty defaults to email", Subtype(""), TypeEmail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tt.subtype)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassify_RejectsUnknownSubtypes(t *testing.T) {
	for _, sub := range []Subtype{"fax", "SMS", "Email", "carrier-pigeon"} {
		_, err := Classify(sub)
		require.Error(t, err, "subtype %q", sub)
		assert.ErrorIs(t, err, ErrInvalidSubtype)
	}
}

func TestSubtype_IsText(t *testing.T) {
	assert.True(t, SubtypeSMS.IsText())
	assert.True(t, SubtypeMMS.IsText())
	assert.False(t, SubtypeEmail.IsText())
	assert.False(t, Subtype("").IsText())
}
