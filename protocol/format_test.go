package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleFormat(t *testing.T) {
	for _, f := range []SampleFormat{FormatU8, FormatI16, FormatI24, FormatI32, FormatF32, FormatF64} {
		assert.True(t, f.Valid())
		assert.NotZero(t, f.SampleSize())

		parsed, err := ParseSampleFormat(f.String())
		require.NoError(t, err)
		assert.Equal(t, f, parsed)
	}

	assert.False(t, SampleFormat(0).Valid())
	assert.False(t, SampleFormat(7).Valid())
	assert.Equal(t, 4, FormatF32.SampleSize())

	f, err := ParseSampleFormat(" F32 ")
	require.NoError(t, err)
	assert.Equal(t, FormatF32, f)

	_, err = ParseSampleFormat("f16")
	assert.Error(t, err)
}

func TestRejectReason(t *testing.T) {
	assert.False(t, RejectReason(0).Valid())
	assert.True(t, RejectDenied.Valid())
	assert.False(t, (RejectDenied + 1).Valid())
	assert.Equal(t, "rate mismatch", RejectRateMismatch.String())
}

func TestAudioFrameFrames(t *testing.T) {
	assert.Equal(t, 2, AudioFrame{Channels: 2, Samples: make([]float32, 4)}.Frames())
	assert.Equal(t, 0, AudioFrame{}.Frames())
}
