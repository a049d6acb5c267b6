package adapters

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/domain"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/errval"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/memstore"
)

func TestRegistry_Resolve(t *testing.T) {
	store := memstore.New()
	store.PutPlatform(&domain.Platform{ID: "plat-1", Type: "test"})
	store.PutPlatform(&domain.Platform{ID: "plat-2", Type: "unregistered"})

	registry := NewRegistry(store)
	registry.Register("test", Funcs{})

	adapter, err := registry.Resolve(context.Background(), "plat-1")
	assert.NoError(t, err)
	assert.NotNil(t, adapter)

	// Known platform, no adapter for its type.
	_, err = registry.Resolve(context.Background(), "plat-2")
	assert.ErrorIs(t, err, errval.ErrNotFound)

	// Unknown platform id.
	_, err = registry.Resolve(context.Background(), "missing")
	assert.ErrorIs(t, err, errval.ErrNotFound)
}

func TestFuncs_Defaults(t *testing.T) {
	var f Funcs

	res, err := f.ExecuteTask(context.Background(), nil)
	assert.NoError(t, err)
	assert.True(t, res.Success)

	sent, err := f.SendDirectMessage(context.Background(), domain.DirectMessage{})
	assert.NoError(t, err)
	assert.True(t, sent.Success)
}
