package token

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simplifi-protocol/simplifi-core/internal/domain"
)

var (
	tokenAddr = common.HexToAddress("0x0000000000000000000000000000000000000201")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob       = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	carol     = common.HexToAddress("0x00000000000000000000000000000000000000c1")
)

func newTestLedger(t *testing.T, supply int64) *Ledger {
	t.Helper()
	return NewLedger("Genius USD", "gUSDC", 18, tokenAddr, alice, big.NewInt(supply))
}

func TestLedgerMetadata(t *testing.T) {
	l := newTestLedger(t, 1000)

	assert.Equal(t, "Genius USD", l.Name())
	assert.Equal(t, "gUSDC", l.Symbol())
	assert.Equal(t, uint8(18), l.Decimals())
	assert.Equal(t, tokenAddr, l.Address())
	assert.Equal(t, big.NewInt(1000), l.TotalSupply())
	assert.Equal(t, big.NewInt(1000), l.BalanceOf(alice))
	assert.Equal(t, big.NewInt(0), l.BalanceOf(bob))
}

func TestLedgerTransfer(t *testing.T) {
	l := newTestLedger(t, 1000)

	require.NoError(t, l.Transfer(alice, bob, big.NewInt(400)))
	assert.Equal(t, big.NewInt(600), l.BalanceOf(alice))
	assert.Equal(t, big.NewInt(400), l.BalanceOf(bob))

	err := l.Transfer(alice, bob, big.NewInt(601))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	err = l.Transfer(bob, common.Address{}, big.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrZeroAddress)

	// Failed transfers leave balances untouched.
	assert.Equal(t, big.NewInt(600), l.BalanceOf(alice))
	assert.Equal(t, big.NewInt(400), l.BalanceOf(bob))
}

func TestLedgerTransferFromSpendsAllowance(t *testing.T) {
	l := newTestLedger(t, 1000)

	err := l.TransferFrom(carol, alice, bob, big.NewInt(100))
	assert.ErrorIs(t, err, domain.ErrInsufficientAllowance)

	require.NoError(t, l.Approve(alice, carol, big.NewInt(300)))
	assert.Equal(t, big.NewInt(300), l.Allowance(alice, carol))

	require.NoError(t, l.TransferFrom(carol, alice, bob, big.NewInt(200)))
	assert.Equal(t, big.NewInt(100), l.Allowance(alice, carol))
	assert.Equal(t, big.NewInt(800), l.BalanceOf(alice))
	assert.Equal(t, big.NewInt(200), l.BalanceOf(bob))

	err = l.TransferFrom(carol, alice, bob, big.NewInt(101))
	assert.ErrorIs(t, err, domain.ErrInsufficientAllowance)
}

func TestLedgerTransferFromInsufficientBalanceKeepsAllowance(t *testing.T) {
	l := newTestLedger(t, 50)
	require.NoError(t, l.Approve(alice, carol, big.NewInt(100)))

	err := l.TransferFrom(carol, alice, bob, big.NewInt(80))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, big.NewInt(100), l.Allowance(alice, carol))
}

func TestLedgerApproveZeroSpender(t *testing.T) {
	l := newTestLedger(t, 100)
	err := l.Approve(alice, common.Address{}, big.NewInt(10))
	assert.ErrorIs(t, err, domain.ErrZeroAddress)
}

func TestLedgerMintBurn(t *testing.T) {
	l := newTestLedger(t, 0)
	assert.Equal(t, big.NewInt(0), l.TotalSupply())

	require.NoError(t, l.Mint(bob, big.NewInt(500)))
	assert.Equal(t, big.NewInt(500), l.TotalSupply())
	assert.Equal(t, big.NewInt(500), l.BalanceOf(bob))

	err := l.Mint(common.Address{}, big.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrZeroAddress)

	require.NoError(t, l.Burn(bob, big.NewInt(200)))
	assert.Equal(t, big.NewInt(300), l.TotalSupply())
	assert.Equal(t, big.NewInt(300), l.BalanceOf(bob))

	err = l.Burn(bob, big.NewInt(301))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestLedgerBalanceCopiesAreDetached(t *testing.T) {
	l := newTestLedger(t, 100)

	bal := l.BalanceOf(alice)
	bal.SetInt64(0)
	assert.Equal(t, big.NewInt(100), l.BalanceOf(alice))

	allow := l.Allowance(alice, bob)
	allow.SetInt64(999)
	assert.Equal(t, big.NewInt(0), l.Allowance(alice, bob))
}
