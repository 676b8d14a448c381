package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateTOTP(t *testing.T) {
	code, err := GenerateTOTP("jbsw y3dp ehpk 3pxp")
	require.NoError(t, err)
	assert.Len(t, code, 6)

	valid, err := ValidateTOTP(code, testSecret)
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = ValidateTOTP("00000x", testSecret)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestTOTP_EmptyInputs(t *testing.T) {
	_, err := GenerateTOTP("")
	assert.Error(t, err)

	_, err = ValidateTOTP("123456", "")
	assert.Error(t, err)

	_, err = ValidateTOTP("", testSecret)
	assert.Error(t, err)
}

func TestTOTPSource(t *testing.T) {
	code, err := TOTPSource{Secret: testSecret}.Code(context.Background())
	require.NoError(t, err)
	assert.Len(t, code, 6)
}
