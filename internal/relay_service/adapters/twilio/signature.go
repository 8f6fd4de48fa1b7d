package twilio

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"sort"
)

// RequestValidator verifies the X-Twilio-Signature header on provider
// webhooks: HMAC-SHA1 over the externally visible URL with the POST
// parameters appended in ascending key order (key then value, no
// separators), base64-encoded.
type RequestValidator struct {
	authToken []byte
}

func NewRequestValidator(authToken string) *RequestValidator {
	return &RequestValidator{authToken: []byte(authToken)}
}

// Validate reports whether signature matches the expected signature for url
// and params. Comparison is constant-time.
func (v *RequestValidator) Validate(url string, params map[string]string, signature string) bool {
	if signature == "" {
		return false
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	mac := hmac.New(sha1.New, v.authToken)
	mac.Write([]byte(url))
	for _, k := range keys {
		mac.Write([]byte(k))
		mac.Write([]byte(params[k]))
	}
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}
