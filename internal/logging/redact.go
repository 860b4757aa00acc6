package logging

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/corpusd/internal/config"
)

// secretMarshaler wraps config.Secret for zap object marshaling.
type secretMarshaler struct {
	key string
	val config.Secret
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (s *secretMarshaler) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString(s.key, fmt.Sprintf("[REDACTED:%d]", len(s.val.Value())))
	return nil
}

// Secret creates a zap field for config.Secret with a redaction indicator.
func Secret(key string, val config.Secret) zap.Field {
	return zap.Object(key, &secretMarshaler{key: key, val: val})
}

// RedactedString creates a zap field carrying only the value's length.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val))+"]")
}

// Token creates a zap field for a bearer token, keeping the non-secret
// scheme and narrowing prefix so a specific credential can be correlated in
// logs without exposing the secret.
func Token(key, token string) zap.Field {
	const keep = 12 // "cpd_" plus the stored prefix
	if len(token) <= keep {
		return RedactedString(key, token)
	}
	return zap.String(key, token[:keep]+"..."+strings.Repeat("*", 4))
}
