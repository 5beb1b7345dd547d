package storage

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/lendbook/lendbook/pkg/book"
	"github.com/lendbook/lendbook/pkg/util"
	"github.com/lendbook/lendbook/pkg/wad"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err, "open store")
	t.Cleanup(func() { s.Close() })
	return s
}

func buildBook(t *testing.T) (*book.Book, *book.Vault) {
	t.Helper()
	vault := book.NewVault()
	b, err := book.New(book.DefaultParams(), book.Deps{
		Ledger: vault,
		Feed:   book.NewStaticFeed(wad.FromUnits(100)),
		Clock:  util.NewManualClock(time.Unix(1_700_000_000, 0)),
	})
	require.NoError(t, err, "new book")
	return b, vault
}

func TestLoadSnapshotEmptyStore(t *testing.T) {
	s := openTestStore(t)
	st, err := s.LoadSnapshot()
	require.NoError(t, err)
	require.Nil(t, st, "fresh store should have no snapshot")
}

func TestSnapshotRoundTrip(t *testing.T) {
	maker := common.HexToAddress("0x1111111111111111111111111111111111111111")
	borrower := common.HexToAddress("0x2222222222222222222222222222222222222222")

	b, vault := buildBook(t)
	vault.Mint(book.Buy, maker, wad.FromUnits(2000))
	vault.Mint(book.Sell, borrower, wad.FromUnits(30))

	lendOrder, err := b.Deposit(maker, book.DepositArgs{
		Quantity: wad.FromUnits(2000), Price: wad.FromUnits(100),
		Side: book.Buy, Borrowable: true,
	})
	require.NoError(t, err, "lend deposit")
	_, err = b.Deposit(borrower, book.DepositArgs{
		Quantity: wad.FromUnits(30), Price: wad.FromUnits(125), Side: book.Sell,
	})
	require.NoError(t, err, "collateral deposit")
	pos, err := b.Borrow(borrower, lendOrder, wad.FromUnits(900))
	require.NoError(t, err, "borrow")

	s := openTestStore(t)
	require.NoError(t, s.SaveSnapshot(b.Snapshot()), "save")

	st, err := s.LoadSnapshot()
	require.NoError(t, err, "load")
	require.NotNil(t, st, "snapshot missing after save")

	// Restore into a fresh book and compare the observable state.
	b2, _ := buildBook(t)
	require.NoError(t, b2.Restore(st), "restore")

	o, err := b2.GetOrder(lendOrder)
	require.NoError(t, err)
	require.True(t, o.Quantity.Eq(wad.FromUnits(2000)), "restored order quantity %s", o.Quantity.Dec())
	require.True(t, o.Borrowable, "restored borrowable flag")

	p, err := b2.GetPosition(pos)
	require.NoError(t, err)
	require.True(t, p.Borrowed.Eq(wad.FromUnits(900)), "restored debt %s", p.Borrowed.Dec())
	require.Equal(t, borrower, p.Borrower, "restored borrower")

	require.True(t, b2.TotalAssets(book.Buy).Eq(b.TotalAssets(book.Buy)), "restored buy assets")
	require.True(t, b2.TotalBorrow(book.Buy).Eq(b.TotalBorrow(book.Buy)), "restored buy borrow")
	require.True(t, b2.TotalAssets(book.Sell).Eq(b.TotalAssets(book.Sell)), "restored sell assets")
	require.NoError(t, b2.CheckInvariants(), "restored invariants")
}

func TestSnapshotOverwrite(t *testing.T) {
	maker := common.HexToAddress("0x1111111111111111111111111111111111111111")

	b, vault := buildBook(t)
	vault.Mint(book.Buy, maker, wad.FromUnits(1000))
	id, err := b.Deposit(maker, book.DepositArgs{
		Quantity: wad.FromUnits(500), Price: wad.FromUnits(100), Side: book.Buy,
	})
	require.NoError(t, err, "deposit")

	s := openTestStore(t)
	require.NoError(t, s.SaveSnapshot(b.Snapshot()), "first save")

	require.NoError(t, b.Withdraw(maker, id, wad.FromUnits(200)), "withdraw")
	require.NoError(t, s.SaveSnapshot(b.Snapshot()), "second save")

	st, err := s.LoadSnapshot()
	require.NoError(t, err, "load")
	require.True(t, st.Orders[id].Quantity.Eq(wad.FromUnits(300)), "latest snapshot should win")
	require.True(t, st.TotalAssets[book.Buy].Eq(wad.FromUnits(300)), "meta aggregates")
}
