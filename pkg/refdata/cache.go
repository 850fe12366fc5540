// Package refdata resolves and caches contract multiplier metadata.
package refdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tradevault/tickstream/pkg/models"
	"github.com/tradevault/tickstream/pkg/tradovate"
)

// Cache memoizes the contract -> maturity -> product resolution chain for
// the lifetime of the process. Entries are immutable once stored and the
// cache key includes the venue flavor: the same contract id on demo and
// live represents different products.
type Cache struct {
	source  tradovate.ContractSource
	timeout time.Duration
	logger  *logrus.Logger

	mu      sync.RWMutex
	entries map[string]models.ContractDetails
}

func NewCache(source tradovate.ContractSource, logger *logrus.Logger) *Cache {
	return &Cache{
		source:  source,
		timeout: 10 * time.Second,
		logger:  logger,
		entries: make(map[string]models.ContractDetails),
	}
}

func key(flavor models.VenueFlavor, contractID int64) string {
	return fmt.Sprintf("%s:%d", flavor, contractID)
}

// ContractDetails returns cached details for the contract, resolving the
// external chain on first use. Any lookup failure degrades to the default
// multiplier so PnL computation never stalls on reference data.
func (c *Cache) ContractDetails(ctx context.Context, contractID int64, flavor models.VenueFlavor) models.ContractDetails {
	k := key(flavor, contractID)

	c.mu.RLock()
	if d, ok := c.entries[k]; ok {
		c.mu.RUnlock()
		return d
	}
	c.mu.RUnlock()

	d := c.resolve(ctx, contractID)

	c.mu.Lock()
	// Insert-if-absent: a concurrent resolver may have won the race; keep
	// the first entry so repeated calls stay identical.
	if existing, ok := c.entries[k]; ok {
		c.mu.Unlock()
		return existing
	}
	c.entries[k] = d
	c.mu.Unlock()
	return d
}

func (c *Cache) resolve(ctx context.Context, contractID int64) models.ContractDetails {
	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	fallbackName := fmt.Sprintf("contract-%d", contractID)

	contract, err := c.source.Contract(rctx, contractID)
	if err != nil {
		c.logger.WithError(err).WithField("contract_id", contractID).
			Warn("Contract lookup failed, using default details")
		return models.DefaultContractDetails(fallbackName)
	}
	name := contract.Name
	if name == "" {
		name = fallbackName
	}

	maturity, err := c.source.Maturity(rctx, contract.ContractMaturityID)
	if err != nil {
		c.logger.WithError(err).WithField("contract_id", contractID).
			Warn("Maturity lookup failed, using default details")
		return models.DefaultContractDetails(name)
	}

	product, err := c.source.Product(rctx, maturity.ProductID)
	if err != nil {
		c.logger.WithError(err).WithField("contract_id", contractID).
			Warn("Product lookup failed, using default details")
		return models.DefaultContractDetails(name)
	}

	details := models.ContractDetails{
		ValuePerPoint: product.ValuePerPoint,
		TickSize:      product.TickSize,
		DisplayName:   name,
	}
	if details.ValuePerPoint <= 0 {
		details.ValuePerPoint = 50
	}
	if details.TickSize <= 0 {
		details.TickSize = 0.25
	}
	return details
}
