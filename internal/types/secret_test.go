package types

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "EAAB-page-access-token-12345"

func TestSecretString_NeverFormatsRawValue(t *testing.T) {
	s := SecretString(testToken)

	for _, verb := range []string{"%s", "%v", "%+v"} {
		out := fmt.Sprintf(verb, s)
		assert.NotContains(t, out, testToken, "verb %s leaked the secret", verb)
		assert.Equal(t, redacted, out)
	}
}

func TestSecretString_MarshalJSON(t *testing.T) {
	payload := struct {
		Token SecretString `json:"token"`
	}{Token: SecretString(testToken)}

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"token":"***REDACTED***"}`, string(data))
}

func TestSecretString_SlogAttribute(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	logger.Info("config loaded", "page_token", SecretString(testToken))

	assert.NotContains(t, buf.String(), testToken)
	assert.Contains(t, buf.String(), redacted)
}

func TestSecretString_UnmaskAndIsZero(t *testing.T) {
	assert.Equal(t, testToken, SecretString(testToken).Unmask())
	assert.False(t, SecretString(testToken).IsZero())
	assert.True(t, SecretString("").IsZero())
}
