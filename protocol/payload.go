package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/IsSlashy/Protocol-01-sub006/core"
)

// EncodePayload serializes a payload as unpadded base64url JSON.
func EncodePayload(p core.AuthQRPayload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodePayload parses an encoded payload. It returns either a fully valid
// payload or an INVALID_PAYLOAD error, never a partially populated value.
func DecodePayload(encoded string) (core.AuthQRPayload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(strings.TrimSpace(encoded), "="))
	if err != nil {
		return core.AuthQRPayload{}, invalidPayload("payload is not base64url", err)
	}

	var p core.AuthQRPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return core.AuthQRPayload{}, invalidPayload("payload is not valid JSON", err)
	}
	if err := ValidatePayload(p); err != nil {
		return core.AuthQRPayload{}, err
	}
	return p, nil
}

// ValidatePayload checks protocol identity and required fields.
func ValidatePayload(p core.AuthQRPayload) error {
	if p.Protocol != ProtocolID {
		return invalidPayload(fmt.Sprintf("unsupported protocol %q", p.Protocol), nil)
	}
	if p.Version != Version {
		return invalidPayload(fmt.Sprintf("unsupported version %d", p.Version), nil)
	}
	switch {
	case p.ServiceID == "":
		return invalidPayload("service is required", nil)
	case p.SessionID == "":
		return invalidPayload("session is required", nil)
	case p.Challenge == "":
		return invalidPayload("challenge is required", nil)
	case p.Callback == "":
		return invalidPayload("callback is required", nil)
	case p.ExpiresAt <= 0:
		return invalidPayload("exp must be positive", nil)
	}
	return nil
}

// GenerateDeepLink returns p01://auth?payload=<encoded>.
func GenerateDeepLink(p core.AuthQRPayload) (string, error) {
	encoded, err := EncodePayload(p)
	if err != nil {
		return "", err
	}
	return Scheme + "://" + DeepLinkAction + "?payload=" + encoded, nil
}

// ParseDeepLink is the inverse of GenerateDeepLink.
func ParseDeepLink(link string) (core.AuthQRPayload, error) {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return core.AuthQRPayload{}, invalidPayload("malformed deep link", err)
	}
	if u.Scheme != Scheme {
		return core.AuthQRPayload{}, invalidPayload(fmt.Sprintf("unexpected scheme %q", u.Scheme), nil)
	}
	if u.Host != DeepLinkAction {
		return core.AuthQRPayload{}, invalidPayload(fmt.Sprintf("unexpected action %q", u.Host), nil)
	}
	encoded := u.Query().Get("payload")
	if encoded == "" {
		return core.AuthQRPayload{}, invalidPayload("deep link has no payload", nil)
	}
	return DecodePayload(encoded)
}

func invalidPayload(msg string, cause error) *core.Error {
	return core.WrapError(core.CodeInvalidPayload, "Invalid payload: "+msg, cause)
}
