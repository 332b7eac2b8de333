package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestL2HeadersDeterministic(t *testing.T) {
	secret := base64.URLEncoding.EncodeToString([]byte("super-secret-bytes"))
	auth := &HMACAuth{Key: "key-1", Secret: secret, Passphrase: "phrase"}

	headers := auth.L2HeadersAt("0xabc", "POST", "/order", `{"x":1}`, 1700000000)

	mac := hmac.New(sha256.New, []byte("super-secret-bytes"))
	mac.Write([]byte(`1700000000POST/order{"x":1}`))
	want := base64.URLEncoding.EncodeToString(mac.Sum(nil))

	assert.Equal(t, "0xabc", headers["POLY_ADDRESS"])
	assert.Equal(t, want, headers["POLY_SIGNATURE"])
	assert.Equal(t, "1700000000", headers["POLY_TIMESTAMP"])
	assert.Equal(t, "key-1", headers["POLY_API_KEY"])
	assert.Equal(t, "phrase", headers["POLY_PASSPHRASE"])
}

func TestL2HeadersStdBase64Fallback(t *testing.T) {
	// A secret that only decodes as standard base64 (contains '+' and '/').
	raw := []byte{0xfb, 0xef, 0xff, 0x01, 0x02, 0x03}
	secret := base64.StdEncoding.EncodeToString(raw)
	require.Contains(t, secret, "+")

	auth := &HMACAuth{Key: "k", Secret: secret, Passphrase: "p"}
	headers := auth.L2HeadersAt("0xabc", "GET", "/time", "", 1700000000)

	mac := hmac.New(sha256.New, raw)
	mac.Write([]byte("1700000000GET/time"))
	want := base64.URLEncoding.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, headers["POLY_SIGNATURE"])
}

func TestL2HeadersBodyOmittedForGet(t *testing.T) {
	secret := base64.URLEncoding.EncodeToString([]byte("s"))
	auth := &HMACAuth{Key: "k", Secret: secret, Passphrase: "p"}

	withBody := auth.L2HeadersAt("0xabc", "GET", "/x", "body", 1)
	without := auth.L2HeadersAt("0xabc", "GET", "/x", "", 1)

	assert.NotEqual(t, withBody["POLY_SIGNATURE"], without["POLY_SIGNATURE"])
}

func TestConfigured(t *testing.T) {
	assert.False(t, (&HMACAuth{}).Configured())
	assert.False(t, (&HMACAuth{Key: "k", Secret: "s"}).Configured())
	assert.True(t, (&HMACAuth{Key: "k", Secret: "s", Passphrase: "p"}).Configured())
}

func TestStringRedactsSecrets(t *testing.T) {
	auth := &HMACAuth{Key: "key-123456", Secret: "secret-value", Passphrase: "p"}
	s := auth.String()
	assert.NotContains(t, s, "key-123456")
	assert.NotContains(t, s, "secret-value")
}

func TestKeyRoundTrip(t *testing.T) {
	const keyHex = "4c0883a69102937d6231471b5dbb6204fe512961708279e5cf2b9d2b2b4e7c2d"

	blob, err := EncryptKey(keyHex, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, keyHex, got)

	_, err = DecryptKey(blob, "wrong-password")
	assert.Error(t, err)
}

func TestEncryptKeyValidatesInput(t *testing.T) {
	_, err := EncryptKey("zz", "pw")
	assert.Error(t, err)

	_, err = EncryptKey("4c0883a69102937d6231471b5dbb6204fe512961708279e5cf2b9d2b2b4e7c2d", "")
	assert.Error(t, err)
}
