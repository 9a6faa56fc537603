package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoomCode(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		want    RoomCode
		wantErr bool
	}{
		{"plain", "abc-defg-hij", RoomCode{Base: "abc-defg-hij"}, false},
		{"breakout", "abc-defg-hij-br-0a1b2c", RoomCode{Base: "abc-defg-hij", BreakoutID: "br-0a1b2c"}, false},
		{"numeric", "abc-defg-hij-007", RoomCode{Base: "abc-defg-hij", Sequence: "007"}, false},
		{"uppercase", "ABC-defg-hij", RoomCode{}, true},
		{"short segment", "ab-defg-hij", RoomCode{}, true},
		{"bad breakout hex", "abc-defg-hij-br-zzzzzz", RoomCode{}, true},
		{"four digits", "abc-defg-hij-0001", RoomCode{}, true},
		{"empty", "", RoomCode{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRoomCode(tt.code)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateParticipantID(t *testing.T) {
	assert.NoError(t, ValidateParticipantID("guest_0a1b2c3d"))
	assert.NoError(t, ValidateParticipantID("42"))
	assert.Error(t, ValidateParticipantID(""))
	assert.Error(t, ValidateParticipantID("guest_XYZ"))
	assert.Error(t, ValidateParticipantID("user id with spaces"))
}

func TestValidateBreakoutNames(t *testing.T) {
	assert.NoError(t, ValidateBreakoutNames([]string{"B1", "B2"}, 10))
	assert.Error(t, ValidateBreakoutNames(nil, 10))
	assert.Error(t, ValidateBreakoutNames([]string{"B1", "   "}, 10))

	eleven := make([]string, 11)
	for i := range eleven {
		eleven[i] = "room"
	}
	assert.Error(t, ValidateBreakoutNames(eleven, 10))
	assert.Error(t, ValidateBreakoutNames([]string{strings.Repeat("x", 101)}, 10))
}

func TestValidateOrigin(t *testing.T) {
	tests := []struct {
		name    string
		origin  string
		host    string
		allowed []string
		wantErr bool
	}{
		{"missing origin", "", "meet.example.com", nil, false},
		{"same host", "https://meet.example.com", "meet.example.com", nil, false},
		{"cross host no list", "https://evil.example", "meet.example.com", nil, true},
		{"listed full origin", "https://app.example.com", "api", []string{"https://app.example.com"}, false},
		{"listed host", "https://app.example.com", "api", []string{"app.example.com"}, false},
		{"wildcard", "https://any.example", "api", []string{"*"}, false},
		{"not listed", "https://evil.example", "api", []string{"app.example.com"}, true},
		{"garbage", "::::", "api", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOrigin(tt.origin, tt.host, tt.allowed)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateOrigin() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDisplayName(t *testing.T) {
	assert.NoError(t, ValidateDisplayName(""))
	assert.NoError(t, ValidateDisplayName("Ada"))
	assert.Error(t, ValidateDisplayName(strings.Repeat("a", 101)))
	assert.Error(t, ValidateDisplayName("bad\xffname"))
}
