package adaptor

import (
	"fmt"
	"sync"
	"time"

	"github.com/halcyon-labs/yve/internal/types"
	"github.com/halcyon-labs/yve/internal/utils"
)

// stakingCert is the protocol-side state behind one liquid-staking handle:
// certificate units and the certificate-to-principal exchange rate, which
// only grows as staking rewards accrue (or drops on slashing).
type stakingCert struct {
	CertUnits    types.Int
	ExchangeRate types.Dec
	Borrowed     bool
}

// StakingAdaptor shims an external liquid-staking protocol.
type StakingAdaptor struct {
	mu sync.Mutex

	precision int
	certs     map[string]*stakingCert
}

func NewStakingAdaptor(precision int) *StakingAdaptor {
	return &StakingAdaptor{
		precision: precision,
		certs:     make(map[string]*stakingCert),
	}
}

func (a *StakingAdaptor) Kind() types.AssetKind { return types.KindStakingCert }

// RegisterCert registers protocol state behind a new handle.
func (a *StakingAdaptor) RegisterCert(handle string, units types.Int, exchangeRate types.Dec) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.certs[handle] = &stakingCert{CertUnits: units, ExchangeRate: exchangeRate}
}

// SetExchangeRate mutates the accrual rate, standing in for reward accrual or
// slashing on the external protocol.
func (a *StakingAdaptor) SetExchangeRate(handle string, rate types.Dec) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	cert, exists := a.certs[handle]
	if !exists {
		return fmt.Errorf("%w: unknown certificate %s", types.ErrAssetIdentityMismatch, handle)
	}
	cert.ExchangeRate = rate
	return nil
}

func (a *StakingAdaptor) lookup(pos types.Position) (*stakingCert, error) {
	if pos.Kind != types.KindStakingCert {
		return nil, fmt.Errorf("%w: expected %s, got %s", types.ErrAssetIdentityMismatch, types.KindStakingCert, pos.Kind)
	}
	cert, exists := a.certs[pos.Handle]
	if !exists {
		return nil, fmt.Errorf("%w: unknown certificate %s", types.ErrAssetIdentityMismatch, pos.Handle)
	}
	return cert, nil
}

func (a *StakingAdaptor) Borrow(pos types.Position) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	cert, err := a.lookup(pos)
	if err != nil {
		return err
	}
	if cert.Borrowed {
		return fmt.Errorf("certificate %s is already checked out", pos.Handle)
	}
	cert.Borrowed = true
	return nil
}

func (a *StakingAdaptor) Return(pos types.Position) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	cert, err := a.lookup(pos)
	if err != nil {
		return err
	}
	if !cert.Borrowed {
		return fmt.Errorf("certificate %s was not checked out", pos.Handle)
	}
	cert.Borrowed = false
	return nil
}

// Value reports cert units converted through the exchange rate at the current
// principal price.
func (a *StakingAdaptor) Value(pos types.Position, src PriceSource, now time.Time) (types.Dec, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cert, err := a.lookup(pos)
	if err != nil {
		return types.ZeroDec(), err
	}
	if cert.ExchangeRate.IsNil() || !cert.ExchangeRate.IsPositive() {
		return types.ZeroDec(), fmt.Errorf("certificate %s has invalid exchange rate", pos.Handle)
	}

	price, _, err := src.Price(types.KindPrincipal, now)
	if err != nil {
		return types.ZeroDec(), fmt.Errorf("cannot price certificate %s: %w", pos.Handle, err)
	}

	certUSD, err := utils.AmountToUSD(cert.CertUnits, a.precision, price)
	if err != nil {
		return types.ZeroDec(), fmt.Errorf("certificate %s: %w", pos.Handle, err)
	}
	return certUSD.Mul(cert.ExchangeRate), nil
}
