package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/adverant/nexus/labelverify-worker/internal/errors"
)

func TestParseApplicationJSON(t *testing.T) {
	rec, err := ParseApplicationJSON([]byte("\xef\xbb\xbf" + `{"brand_name": " Stone's Throw ", "abv": "13.5%", "net_contents": "750 mL"}`))
	require.NoError(t, err)
	assert.Equal(t, "Stone's Throw", rec.BrandName)
	assert.Equal(t, "13.5%", rec.ABV)
	assert.Equal(t, "750 mL", rec.NetContents)
	assert.True(t, rec.GovernmentWarningRequired)

	rec, err = ParseApplicationJSON([]byte(`{"brand_name": "Kestrel", "government_warning_required": false}`))
	require.NoError(t, err)
	assert.False(t, rec.GovernmentWarningRequired)
	assert.Empty(t, rec.ABV)
}

func TestParseApplicationJSONErrors(t *testing.T) {
	_, err := ParseApplicationJSON([]byte(`{"abv": "12%"}`))
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))

	_, err = ParseApplicationJSON([]byte(`{"brand_name":`))
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestApplicationCanonicalJSON(t *testing.T) {
	a := NewApplicationRecord("Stone's Throw", "13.5%", "750 mL")
	b := ApplicationRecord{BrandName: "  Stone's Throw", ABV: "13.5% ", NetContents: "750 mL", GovernmentWarningRequired: true}
	assert.Equal(t, a.CanonicalJSON(), b.CanonicalJSON())

	b.GovernmentWarningRequired = false
	assert.NotEqual(t, a.CanonicalJSON(), b.CanonicalJSON())
}
