package types

// redacted is the string used in place of secret values in logs and
// serialized output.
const redacted = "***REDACTED***"

// SecretString is a string that never prints or serializes its contents.
// Page access tokens, app secrets and database URLs are carried as
// SecretString so a config dump or a structured log line cannot leak them.
//
// Use Unmask() where the raw value is genuinely needed (signing a Graph API
// request, opening a database pool).
type SecretString string

// String returns a redacted placeholder instead of the raw value.
func (s SecretString) String() string {
	return redacted
}

// MarshalJSON returns the redacted placeholder as a JSON string.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// Unmask returns the raw plaintext value of the secret.
func (s SecretString) Unmask() string {
	return string(s)
}

// IsZero reports whether no secret was configured.
func (s SecretString) IsZero() bool {
	return s == ""
}
