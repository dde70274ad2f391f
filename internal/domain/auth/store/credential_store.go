package store

import (
	"context"
	"errors"
	"strconv"

	"socializor-server-go/internal/domain/auth"
	platformerrors "socializor-server-go/internal/platform/errors"
)

// Persisted field names. The expiration is stored as decimal milliseconds.
const (
	KeyToken          = "token"
	KeyExpirationTime = "token_expiration_time"
)

// CredentialStore persists at most one credential in a Medium as two
// fields. A half-written pair is never returned; it is cleared instead.
type CredentialStore struct {
	medium    Medium
	logger    Logger
	tokenKey  string
	expiryKey string
}

// NewCredentialStore wraps medium. namespace prefixes both field names.
func NewCredentialStore(medium Medium, namespace string, logger Logger) *CredentialStore {
	if logger == nil {
		logger = nopLogger{}
	}
	return &CredentialStore{
		medium:    medium,
		logger:    logger,
		tokenKey:  namespace + KeyToken,
		expiryKey: namespace + KeyExpirationTime,
	}
}

// Load returns the persisted credential, or nil when there is none. If only
// one field is present, or the pair does not form a valid credential, both
// fields are removed and nil is returned.
func (s *CredentialStore) Load(ctx context.Context) (*auth.Credential, error) {
	token, hasToken, err := s.medium.Get(ctx, s.tokenKey)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindStorage, "credential_store.load", "read token", err)
	}
	expiry, hasExpiry, err := s.medium.Get(ctx, s.expiryKey)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindStorage, "credential_store.load", "read expiration", err)
	}

	if !hasToken && !hasExpiry {
		return nil, nil
	}
	if !hasToken || !hasExpiry {
		s.logger.Warn("found a partial credential, clearing it")
		return nil, s.Clear(ctx)
	}

	expirationTime, err := strconv.ParseInt(expiry, 10, 64)
	if err != nil {
		s.logger.Warn("stored expiration %q is not a number, clearing credential", expiry)
		return nil, s.Clear(ctx)
	}
	cred, err := auth.NewCredential(token, expirationTime)
	if err != nil {
		s.logger.Warn("stored credential is invalid, clearing it: %v", err)
		return nil, s.Clear(ctx)
	}
	return &cred, nil
}

// Save persists cred and returns what is persisted afterwards. A nil cred
// clears the store. When the medium is out of space the store is cleared,
// an error is logged and (nil, nil) is returned.
func (s *CredentialStore) Save(ctx context.Context, cred *auth.Credential) (*auth.Credential, error) {
	if cred == nil {
		return nil, s.Clear(ctx)
	}
	if cred.IsZero() {
		return nil, platformerrors.Wrap(platformerrors.KindValidation, "credential_store.save",
			"credential was not constructed", auth.ErrInvalidCredential)
	}

	err := s.medium.Set(ctx, map[string]string{
		s.tokenKey:  cred.Value(),
		s.expiryKey: strconv.FormatInt(cred.ExpirationTime(), 10),
	})
	if errors.Is(err, ErrQuotaExceeded) {
		s.logger.Error("cannot persist credential, storage is full: %v", err)
		return nil, s.Clear(ctx)
	}
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindStorage, "credential_store.save", "write credential", err)
	}
	return cred, nil
}

// Clear removes both fields. Clearing an empty store is a no-op.
func (s *CredentialStore) Clear(ctx context.Context) error {
	if err := s.medium.Remove(ctx, s.tokenKey, s.expiryKey); err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "credential_store.clear", "remove credential", err)
	}
	return nil
}

// SubscribeToChanges calls fn with a freshly loaded credential (possibly nil)
// whenever another context writes either field.
func (s *CredentialStore) SubscribeToChanges(fn func(*auth.Credential)) (func(), error) {
	return s.medium.Subscribe(func(change Change) {
		if !change.Touches(s.tokenKey, s.expiryKey) {
			return
		}
		cred, err := s.Load(context.Background())
		if err != nil {
			s.logger.Warn("reload after external change failed: %v", err)
			return
		}
		s.logger.Debug("credential changed in another context")
		fn(cred)
	})
}

// Close releases the medium handle.
func (s *CredentialStore) Close() error {
	return s.medium.Close()
}
