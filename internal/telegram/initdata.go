package telegram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/url"
	"sort"
	"strings"
)

// ErrInvalidAssertion covers every verification failure: bad or missing hash,
// tampered fields, and malformed user payloads. Callers never learn which,
// and no partially verified identity is ever returned.
var ErrInvalidAssertion = errors.New("invalid telegram assertion")

// WebAppUser is the identity blob Telegram embeds in Web App init data.
// It is untrusted until VerifyInitData succeeds.
type WebAppUser struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name,omitempty"`
	Username     string `json:"username,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
	IsBot        bool   `json:"is_bot,omitempty"`
}

// VerifyInitData checks the signature chain of a Web App init-data payload
// against the bot token and returns the embedded user on success.
//
// The check string is every field except hash, sorted by key and joined as
// key=value lines. The signing key is HMAC-SHA256("WebAppData", botToken),
// and the payload hash is HMAC-SHA256(key, checkString) in lowercase hex.
func VerifyInitData(initData, botToken string) (WebAppUser, error) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return WebAppUser{}, ErrInvalidAssertion
	}

	suppliedHash := values.Get("hash")
	if suppliedHash == "" {
		return WebAppUser{}, ErrInvalidAssertion
	}
	values.Del("hash")

	expected, err := hex.DecodeString(strings.ToLower(suppliedHash))
	if err != nil {
		return WebAppUser{}, ErrInvalidAssertion
	}

	computed := signCheckString(checkString(values), botToken)
	if !hmac.Equal(computed, expected) {
		return WebAppUser{}, ErrInvalidAssertion
	}

	userJSON := values.Get("user")
	if userJSON == "" {
		return WebAppUser{}, ErrInvalidAssertion
	}
	var user WebAppUser
	if err := json.Unmarshal([]byte(userJSON), &user); err != nil {
		return WebAppUser{}, ErrInvalidAssertion
	}
	if user.ID == 0 {
		return WebAppUser{}, ErrInvalidAssertion
	}
	return user, nil
}

func checkString(values url.Values) string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		lines = append(lines, key+"="+values.Get(key))
	}
	return strings.Join(lines, "\n")
}

func signCheckString(checkString, botToken string) []byte {
	keyMAC := hmac.New(sha256.New, []byte("WebAppData"))
	keyMAC.Write([]byte(botToken))
	secret := keyMAC.Sum(nil)

	sigMAC := hmac.New(sha256.New, secret)
	sigMAC.Write([]byte(checkString))
	return sigMAC.Sum(nil)
}
