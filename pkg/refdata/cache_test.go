package refdata

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/tradevault/tickstream/pkg/models"
	"github.com/tradevault/tickstream/pkg/tradovate"
)

type fakeContractSource struct {
	contractCalls int
	maturityCalls int
	productCalls  int

	contractErr error
	maturityErr error
	productErr  error

	product tradovate.Product
}

func (f *fakeContractSource) Contract(ctx context.Context, id int64) (tradovate.Contract, error) {
	f.contractCalls++
	if f.contractErr != nil {
		return tradovate.Contract{}, f.contractErr
	}
	return tradovate.Contract{ID: id, Name: "ESZ5", ContractMaturityID: id + 1000}, nil
}

func (f *fakeContractSource) Maturity(ctx context.Context, id int64) (tradovate.Maturity, error) {
	f.maturityCalls++
	if f.maturityErr != nil {
		return tradovate.Maturity{}, f.maturityErr
	}
	return tradovate.Maturity{ID: id, ProductID: id + 1000}, nil
}

func (f *fakeContractSource) Product(ctx context.Context, id int64) (tradovate.Product, error) {
	f.productCalls++
	if f.productErr != nil {
		return tradovate.Product{}, f.productErr
	}
	return f.product, nil
}

func (f *fakeContractSource) Flavor() models.VenueFlavor { return models.FlavorDemo }

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestContractDetailsResolvesChainOnce(t *testing.T) {
	src := &fakeContractSource{product: tradovate.Product{ID: 1, Name: "ES", ValuePerPoint: 50, TickSize: 0.25}}
	cache := NewCache(src, testLogger())
	ctx := context.Background()

	first := cache.ContractDetails(ctx, 42, models.FlavorDemo)
	second := cache.ContractDetails(ctx, 42, models.FlavorDemo)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, src.contractCalls, "chain must run at most once per contract id")
	assert.Equal(t, 1, src.maturityCalls)
	assert.Equal(t, 1, src.productCalls)
	assert.Equal(t, 50.0, first.ValuePerPoint)
	assert.Equal(t, 0.25, first.TickSize)
	assert.Equal(t, "ESZ5", first.DisplayName)
}

func TestContractDetailsFlavorSeparatesCacheEntries(t *testing.T) {
	src := &fakeContractSource{product: tradovate.Product{ValuePerPoint: 20, TickSize: 0.1}}
	cache := NewCache(src, testLogger())
	ctx := context.Background()

	cache.ContractDetails(ctx, 42, models.FlavorDemo)
	cache.ContractDetails(ctx, 42, models.FlavorLive)

	assert.Equal(t, 2, src.contractCalls, "demo and live flavors must not share entries")
}

func TestContractDetailsDefaultsOnFailure(t *testing.T) {
	testCases := []struct {
		name string
		src  *fakeContractSource
	}{
		{name: "contract step fails", src: &fakeContractSource{contractErr: errors.New("down")}},
		{name: "maturity step fails", src: &fakeContractSource{maturityErr: errors.New("down")}},
		{name: "product step fails", src: &fakeContractSource{productErr: errors.New("down")}},
		{name: "product has no multiplier", src: &fakeContractSource{product: tradovate.Product{}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cache := NewCache(tc.src, testLogger())
			details := cache.ContractDetails(context.Background(), 7, models.FlavorDemo)

			assert.Equal(t, 50.0, details.ValuePerPoint, "failures degrade to the default multiplier")
			assert.Equal(t, 0.25, details.TickSize)
		})
	}
}

func TestContractDetailsFailureIsCached(t *testing.T) {
	src := &fakeContractSource{contractErr: errors.New("down")}
	cache := NewCache(src, testLogger())
	ctx := context.Background()

	cache.ContractDetails(ctx, 7, models.FlavorDemo)
	cache.ContractDetails(ctx, 7, models.FlavorDemo)

	assert.Equal(t, 1, src.contractCalls, "defaulted entries are cached like any other")
}
