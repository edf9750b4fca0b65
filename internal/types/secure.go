package types

import "log/slog"

const redacted = "***REDACTED***"

// SecretString holds a credential such as the catalog DATABASE_URL. It prints,
// marshals and logs as a placeholder; Unmask returns the value.
type SecretString string

func (s SecretString) String() string { return redacted }

// GoString covers %#v, which bypasses String.
func (s SecretString) GoString() string { return redacted }

func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// LogValue keeps the value out of slog records.
func (s SecretString) LogValue() slog.Value { return slog.StringValue(redacted) }

// Unmask returns the plaintext. Only pass it to the consumer that needs it.
func (s SecretString) Unmask() string { return string(s) }
