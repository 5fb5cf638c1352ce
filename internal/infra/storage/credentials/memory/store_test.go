package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/postflow/internal/domain/content"
	"github.com/ahrav/postflow/pkg/common/uuid"
)

func TestCredentialStore(t *testing.T) {
	t.Parallel()

	store := NewCredentialStore()
	ownerID := uuid.New()

	_, err := store.Credential(context.Background(), ownerID)
	require.ErrorIs(t, err, content.ErrMissingCredential, "unconnected account has no credential")

	store.Put(ownerID, content.Credential{AccessToken: "token", MemberID: "member-1"})

	cred, err := store.Credential(context.Background(), ownerID)
	require.NoError(t, err)
	assert.Equal(t, "token", cred.AccessToken)
	assert.Equal(t, "member-1", cred.MemberID)

	store.Revoke(ownerID)
	_, err = store.Credential(context.Background(), ownerID)
	require.ErrorIs(t, err, content.ErrMissingCredential)
}

func TestCredentialStore_ExpiredToken(t *testing.T) {
	t.Parallel()

	store := NewCredentialStore()
	ownerID := uuid.New()

	store.Put(ownerID, content.Credential{
		AccessToken: "token",
		MemberID:    "member-1",
		ExpiresAt:   time.Now().Add(-time.Minute),
	})

	_, err := store.Credential(context.Background(), ownerID)
	require.ErrorIs(t, err, content.ErrMissingCredential, "an expired token is as good as none")
}
