package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/openclob/polymirror/internal/domain"
)

// CredentialsStore persists the singleton credential row keyed by "default".
type CredentialsStore struct {
	db *sql.DB
}

func NewCredentialsStore(c *Client) *CredentialsStore {
	return &CredentialsStore{db: c.DB()}
}

// Get returns the stored credentials. A missing row yields zero-value
// credentials rather than an error so first-run setups see an empty form.
func (s *CredentialsStore) Get(ctx context.Context) (domain.Credentials, error) {
	const query = `
		SELECT api_key, api_secret, api_passphrase, wallet_address, signer_address, private_key, updated_at
		FROM credentials WHERE id = ?`

	var creds domain.Credentials
	err := s.db.QueryRowContext(ctx, query, singletonID).Scan(
		&creds.APIKey, &creds.APISecret, &creds.APIPassphrase,
		&creds.WalletAddress, &creds.SignerAddress, &creds.PrivateKey,
		&creds.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Credentials{}, nil
	}
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("sqlite: get credentials: %w", err)
	}
	return creds, nil
}

// Update validates and stores the credentials, normalising addresses to
// lowercase.
func (s *CredentialsStore) Update(ctx context.Context, creds domain.Credentials) error {
	if err := creds.Validate(); err != nil {
		return fmt.Errorf("sqlite: update credentials: %w", err)
	}

	const query = `
		INSERT INTO credentials (id, api_key, api_secret, api_passphrase, wallet_address, signer_address, private_key, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE SET
			api_key = excluded.api_key,
			api_secret = excluded.api_secret,
			api_passphrase = excluded.api_passphrase,
			wallet_address = excluded.wallet_address,
			signer_address = excluded.signer_address,
			private_key = excluded.private_key,
			updated_at = CURRENT_TIMESTAMP`

	_, err := s.db.ExecContext(ctx, query, singletonID,
		creds.APIKey, creds.APISecret, creds.APIPassphrase,
		creds.WalletAddress, creds.SignerAddress, creds.PrivateKey,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update credentials: %w", err)
	}
	return nil
}

var _ domain.CredentialsStore = (*CredentialsStore)(nil)
