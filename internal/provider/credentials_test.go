package provider

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushpaanand/teleconsult/internal/config"
	"github.com/pushpaanand/teleconsult/internal/models"
)

func TestCredentialsValidate(t *testing.T) {
	tests := []struct {
		name    string
		creds   Credentials
		want    uint32
		wantErr error
	}{
		{"valid", Credentials{AppID: "123456789", ServerSecret: "s3cret"}, 123456789, nil},
		{"trimmed app id", Credentials{AppID: " 42 ", ServerSecret: "abc"}, 42, nil},
		{"missing app id", Credentials{ServerSecret: "abc"}, 0, ErrCredentialsMissing},
		{"missing secret", Credentials{AppID: "42"}, 0, ErrCredentialsMissing},
		{"non-numeric app id", Credentials{AppID: "abc", ServerSecret: "abc"}, 0, ErrCredentialsMalformed},
		{"app id overflows", Credentials{AppID: "4294967296", ServerSecret: "abc"}, 0, ErrCredentialsMalformed},
		{"zero app id", Credentials{AppID: "0", ServerSecret: "abc"}, 0, ErrCredentialsMalformed},
		{"blank secret", Credentials{AppID: "42", ServerSecret: "   "}, 0, ErrCredentialsMalformed},
		{"secret with space", Credentials{AppID: "42", ServerSecret: "ab cd"}, 0, ErrCredentialsMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.creds.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.False(t, Retryable(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCredentialsFromConfig(t *testing.T) {
	creds := CredentialsFromConfig(config.ProviderConfig{AppID: "7", ServerSecret: "x"})
	assert.Equal(t, Credentials{AppID: "7", ServerSecret: "x"}, creds)
}

func TestErrorTaxonomy(t *testing.T) {
	cause := errors.New("socket closed")
	err := fmt.Errorf("connect: %w", newError(KindJoinFailed, "join", cause))

	assert.ErrorIs(t, err, ErrJoinFailed)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrCreateFailed)
	assert.True(t, Retryable(err))
	assert.Equal(t, KindJoinFailed, KindOf(err))
	assert.Equal(t, ErrorKind(0), KindOf(cause))
	assert.Equal(t, "join: provider join failed: socket closed", newError(KindJoinFailed, "join", cause).Error())

	for _, sentinel := range []error{ErrCredentialsMissing, ErrCredentialsMalformed, ErrCreateFailed, ErrAlreadyActive} {
		assert.False(t, Retryable(sentinel), sentinel.Error())
	}
}

func TestKitToken(t *testing.T) {
	appt := models.AppointmentContext{RoomID: "ROOM_A1", LocalParticipantID: "U1", LocalDisplayName: "Jane"}
	now := time.Now()

	token, err := MintKitToken(42, "secret", appt, time.Hour, now)
	require.NoError(t, err)

	claims, err := ParseKitToken(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, uint32(42), claims.AppID)
	assert.Equal(t, "ROOM_A1", claims.RoomID)
	assert.Equal(t, "Jane", claims.UserName)
	assert.Equal(t, "U1", claims.Subject)
	assert.NotEmpty(t, claims.ID)

	_, err = ParseKitToken(token, "other-secret")
	assert.Error(t, err)

	expired, err := MintKitToken(42, "secret", appt, time.Minute, now.Add(-time.Hour))
	require.NoError(t, err)
	_, err = ParseKitToken(expired, "secret")
	assert.Error(t, err)
}
