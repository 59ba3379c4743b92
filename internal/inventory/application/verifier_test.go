package application

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCounter struct {
	counts map[uuid.UUID]int
	errs   map[uuid.UUID]error
}

func (s stubCounter) CountAvailable(_ context.Context, variantID, _, _ uuid.UUID) (int, error) {
	if err := s.errs[variantID]; err != nil {
		return 0, err
	}
	return s.counts[variantID], nil
}

type stubCatalog struct {
	info CatalogInfo
	err  error
}

func (s stubCatalog) Resolve(context.Context, uuid.UUID, uuid.UUID, uuid.UUID) (CatalogInfo, error) {
	return s.info, s.err
}

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func line(variant uuid.UUID, qty int) CartLine {
	return CartLine{
		VariantID: variant,
		ColorID:   uuid.New(),
		StoreID:   uuid.New(),
		Quantity:  qty,
	}
}

func TestVerifyCartMixedLines(t *testing.T) {
	ok, short, out := uuid.New(), uuid.New(), uuid.New()
	v := NewVerifier(discard(), stubCounter{counts: map[uuid.UUID]int{
		ok:    5,
		short: 1,
		out:   0,
	}}, stubCatalog{})

	res, err := v.VerifyCart(context.Background(), []CartLine{
		line(ok, 2),
		line(short, 3),
		line(out, 1),
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.False(t, res.CanProceed)
	require.Len(t, res.Lines, 3)
	assert.Equal(t, LineOK, res.Lines[0].Status)
	assert.Equal(t, 5, res.Lines[0].Available)
	assert.Equal(t, LineInsufficient, res.Lines[1].Status)
	assert.Equal(t, 1, res.Lines[1].Available)
	assert.Equal(t, LineOutOfStock, res.Lines[2].Status)
	assert.Len(t, res.Warnings, 2)
	assert.Equal(t, "2 of 3 lines cannot be fulfilled", res.Summary)
}

func TestVerifyCartAllInStock(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	v := NewVerifier(discard(), stubCounter{counts: map[uuid.UUID]int{a: 3, b: 10}}, stubCatalog{})

	res, err := v.VerifyCart(context.Background(), []CartLine{line(a, 3), line(b, 1)})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.True(t, res.CanProceed)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, "all 2 lines in stock", res.Summary)
	for _, lr := range res.Lines {
		assert.Equal(t, LineOK, lr.Status)
	}
}

func TestVerifyCartLookupErrorBlocksCart(t *testing.T) {
	good, bad := uuid.New(), uuid.New()
	v := NewVerifier(discard(), stubCounter{
		counts: map[uuid.UUID]int{good: 9},
		errs:   map[uuid.UUID]error{bad: errors.New("connection reset")},
	}, stubCatalog{})

	res, err := v.VerifyCart(context.Background(), []CartLine{line(good, 1), line(bad, 1)})
	require.NoError(t, err)

	assert.True(t, res.Success, "the check itself completed")
	assert.False(t, res.CanProceed, "a failed lookup must never let the cart proceed")
	assert.Equal(t, LineError, res.Lines[1].Status)
	assert.Len(t, res.Warnings, 1)
}

func TestVerifyCartEmptyCart(t *testing.T) {
	v := NewVerifier(discard(), stubCounter{}, stubCatalog{})

	_, err := v.VerifyCart(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestVerifyCartRejectsNonPositiveQuantity(t *testing.T) {
	v := NewVerifier(discard(), stubCounter{}, stubCatalog{})

	_, err := v.VerifyCart(context.Background(), []CartLine{line(uuid.New(), 0)})
	assert.Error(t, err)
}

func TestVerifyCartFillsCatalogNames(t *testing.T) {
	id := uuid.New()
	v := NewVerifier(discard(),
		stubCounter{counts: map[uuid.UUID]int{id: 2}},
		stubCatalog{info: CatalogInfo{Designation: "Trail Runner", ColorName: "Slate", Locality: "Lyon"}},
	)

	res, err := v.VerifyCart(context.Background(), []CartLine{line(id, 1)})
	require.NoError(t, err)
	assert.Equal(t, "Trail Runner", res.Lines[0].Designation)
	assert.Equal(t, "Slate", res.Lines[0].ColorName)
	assert.Equal(t, "Lyon", res.Lines[0].Locality)
}

func TestVerifyCartCatalogFailureIsCosmetic(t *testing.T) {
	id := uuid.New()
	v := NewVerifier(discard(),
		stubCounter{counts: map[uuid.UUID]int{id: 2}},
		stubCatalog{err: errors.New("catalog down")},
	)

	res, err := v.VerifyCart(context.Background(), []CartLine{line(id, 1)})
	require.NoError(t, err)
	assert.True(t, res.CanProceed)
	assert.Equal(t, LineOK, res.Lines[0].Status)
}
