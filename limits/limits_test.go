package limits

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateDatagramSize(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		max     int
		wantErr error
	}{
		{"empty", 0, 10, ErrDatagramEmpty},
		{"at limit", 10, 10, nil},
		{"over limit", 11, 10, ErrDatagramTooLarge},
		{"small", 1, 10, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDatagramSize(make([]byte, tt.size), tt.max)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestValidateOutgoing(t *testing.T) {
	assert.NoError(t, ValidateOutgoing(make([]byte, MaxDatagramSize)))
	assert.ErrorIs(t, ValidateOutgoing(make([]byte, MaxDatagramSize+1)), ErrDatagramTooLarge)
}

func TestMaxSamples(t *testing.T) {
	assert.Equal(t, (MaxDatagramSize-21)/SampleSize, MaxSamples(21))
	assert.Equal(t, 0, MaxSamples(MaxDatagramSize))
	assert.Equal(t, 0, MaxSamples(MaxDatagramSize+5))
}
