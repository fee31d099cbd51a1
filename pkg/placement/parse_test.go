package placement

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want RawEstimate
	}{
		{
			name: "plain object",
			raw:  `{"centerX":410,"centerY":120,"hatWidth":300,"angleDeg":-5,"confidence":0.9}`,
			want: RawEstimate{410, 120, 300, -5, 0.9},
		},
		{
			name: "fenced with prose",
			raw:  "Sure! Here it is:\n```json\n{\"centerX\": 10, \"centerY\": 20, \"hatWidth\": 30, \"angleDeg\": 4, \"confidence\": 0.5}\n```\nHope that helps.",
			want: RawEstimate{10, 20, 30, 4, 0.5},
		},
		{
			name: "numeric strings",
			raw:  `{"centerX":"10.5","centerY":" 20 ","hatWidth":"30","angleDeg":"0","confidence":"1"}`,
			want: RawEstimate{10.5, 20, 30, 0, 1},
		},
		{
			name: "comments and trailing comma",
			raw: `{
				"centerX": 1, // head center
				"centerY": 2,
				/* width */ "hatWidth": 3,
				"angleDeg": 4,
				"confidence": 0.5,
			}`,
			want: RawEstimate{1, 2, 3, 4, 0.5},
		},
		{
			name: "slashes inside strings",
			raw:  `{"centerX":5,"centerY":6,"hatWidth":7,"angleDeg":0,"confidence":0.4,"note":"see https://example.com/a /* not a comment */"}`,
			want: RawEstimate{5, 6, 7, 0, 0.4},
		},
		{
			name: "escaped quote before comment",
			raw:  "{\"note\":\"a \\\" b\", // trailing\n\"centerX\":1,\"centerY\":2,\"hatWidth\":3,\"angleDeg\":4,\"confidence\":0.5}",
			want: RawEstimate{1, 2, 3, 4, 0.5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResponse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.Finite())
		})
	}
}

func TestParseResponse_MissingFieldsAreNaN(t *testing.T) {
	got, err := ParseResponse(`{"centerX":10,"centerY":"abc","confidence":null}`)
	require.NoError(t, err)

	assert.Equal(t, 10.0, got.CenterX)
	assert.True(t, math.IsNaN(got.CenterY))
	assert.True(t, math.IsNaN(got.HatWidth))
	assert.True(t, math.IsNaN(got.AngleDeg))
	assert.True(t, math.IsNaN(got.Confidence))
	assert.False(t, got.Finite())
}

func TestParseResponse_Errors(t *testing.T) {
	_, err := ParseResponse("I could not find a face in this picture.")
	assert.ErrorIs(t, err, ErrNoJSON)

	_, err = ParseResponse("} backwards {")
	assert.ErrorIs(t, err, ErrNoJSON)

	got, err := ParseResponse(`{"centerX": 1, "centerY": }`)
	assert.Error(t, err)
	assert.False(t, got.Finite())
}

func TestRawEstimate_FiniteRejectsInf(t *testing.T) {
	r := RawEstimate{1, 2, math.Inf(1), 0, 0}
	assert.False(t, r.Finite())
}
