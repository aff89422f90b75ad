package memory

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

func priced(id, price string) crawler.Product {
	p := crawler.Product{ID: id, Name: "Widget", Currency: "USD"}
	if price != "" {
		d := decimal.RequireFromString(price)
		p.Price = &d
	}
	return p
}

func TestUpsertSnapshotsOnlyOnPriceChange(t *testing.T) {
	t.Parallel()

	store := NewProductStore(newClock())
	ctx := context.Background()

	res, err := store.UpsertProduct(ctx, priced("w-1", "19.99"))
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.False(t, res.PriceChanged)
	require.NotNil(t, res.Snapshot)

	res, err = store.UpsertProduct(ctx, priced("w-1", "19.990"))
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.False(t, res.PriceChanged)
	assert.Nil(t, res.Snapshot)

	res, err = store.UpsertProduct(ctx, priced("w-1", "17.49"))
	require.NoError(t, err)
	assert.True(t, res.PriceChanged)
	require.NotNil(t, res.Snapshot)
	assert.True(t, decimal.RequireFromString("17.49").Equal(res.Snapshot.Price))
	require.NotNil(t, res.PreviousPrice)
	assert.True(t, decimal.RequireFromString("19.99").Equal(*res.PreviousPrice))

	res, err = store.UpsertProduct(ctx, priced("w-1", ""))
	require.NoError(t, err)
	assert.Nil(t, res.Snapshot)

	history, err := store.ListPriceHistory(ctx, "w-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, decimal.RequireFromString("17.49").Equal(history[0].Price))
	assert.True(t, history[0].CapturedAt.After(history[1].CapturedAt))

	latest, err := store.ListPriceHistory(ctx, "w-1", 1)
	require.NoError(t, err)
	assert.Len(t, latest, 1)
}

func TestUpsertNullPriceOnInsert(t *testing.T) {
	t.Parallel()

	store := NewProductStore(newClock())
	res, err := store.UpsertProduct(context.Background(), priced("n-1", ""))
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Nil(t, res.Snapshot)
}

func TestProductStoreErrorsAndCopies(t *testing.T) {
	t.Parallel()

	store := NewProductStore(newClock())
	ctx := context.Background()

	_, err := store.UpsertProduct(ctx, crawler.Product{})
	require.Error(t, err)
	_, err = store.GetProduct(ctx, "missing")
	require.ErrorIs(t, err, crawler.ErrNotFound)
	_, err = store.ListPriceHistory(ctx, "missing", 5)
	require.ErrorIs(t, err, crawler.ErrNotFound)

	p := priced("c-1", "2.00")
	p.Specifications = map[string]string{"Color": "red"}
	_, err = store.UpsertProduct(ctx, p)
	require.NoError(t, err)
	p.Specifications["Color"] = "blue"
	*p.Price = decimal.RequireFromString("3")

	got, err := store.GetProduct(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, "red", got.Specifications["Color"])
	assert.True(t, decimal.RequireFromString("2").Equal(*got.Price))
}
