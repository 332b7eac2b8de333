package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// addressRx matches a lowercased 20-byte hex address.
var addressRx = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

// Credentials is the singleton venue credential set, keyed by the literal
// "default" row in the store. SignerAddress is optional; when set and
// different from WalletAddress the order signer switches to proxy mode.
type Credentials struct {
	APIKey        string
	APISecret     string
	APIPassphrase string
	WalletAddress string
	SignerAddress string
	PrivateKey    string
	UpdatedAt     time.Time
}

// Configured reports whether all fields required for live trading are set.
func (c Credentials) Configured() bool {
	return c.APIKey != "" &&
		c.APISecret != "" &&
		c.APIPassphrase != "" &&
		c.WalletAddress != "" &&
		c.PrivateKey != ""
}

// Validate normalises and checks both addresses. Addresses are lowercased in
// place so the stored form is canonical.
func (c *Credentials) Validate() error {
	var err error
	if c.WalletAddress != "" {
		if c.WalletAddress, err = NormalizeAddress(c.WalletAddress); err != nil {
			return fmt.Errorf("wallet address: %w", err)
		}
	}
	if c.SignerAddress != "" {
		if c.SignerAddress, err = NormalizeAddress(c.SignerAddress); err != nil {
			return fmt.Errorf("signer address: %w", err)
		}
	}
	return nil
}

// SigningAddress returns the address used in auth headers: the signer when
// configured, otherwise the wallet.
func (c Credentials) SigningAddress() string {
	if c.SignerAddress != "" {
		return c.SignerAddress
	}
	return c.WalletAddress
}

// MaskedCredentials is the display form of Credentials with secrets redacted.
type MaskedCredentials struct {
	APIKey        string `json:"api_key"`
	APISecret     string `json:"api_secret"`
	APIPassphrase string `json:"api_passphrase"`
	WalletAddress string `json:"wallet_address"`
	SignerAddress string `json:"signer_address,omitempty"`
	PrivateKey    string `json:"private_key"`
	Configured    bool   `json:"configured"`
}

// Masked returns the credentials with each secret reduced to its first and
// last four characters.
func (c Credentials) Masked() MaskedCredentials {
	return MaskedCredentials{
		APIKey:        MaskSecret(c.APIKey),
		APISecret:     MaskSecret(c.APISecret),
		APIPassphrase: MaskSecret(c.APIPassphrase),
		WalletAddress: c.WalletAddress,
		SignerAddress: c.SignerAddress,
		PrivateKey:    MaskSecret(c.PrivateKey),
		Configured:    c.Configured(),
	}
}

// MaskSecret keeps the first and last 4 characters of s and replaces the
// middle with bullets. Secrets of 8 characters or fewer are fully bulleted.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return strings.Repeat("•", len(s))
	}
	return s[:4] + strings.Repeat("•", len(s)-8) + s[len(s)-4:]
}

// NormalizeAddress lowercases addr and validates it against the hex address
// pattern.
func NormalizeAddress(addr string) (string, error) {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if !addressRx.MatchString(addr) {
		return "", fmt.Errorf("%q is not a valid address", addr)
	}
	return addr, nil
}
