package chain_test

import (
	`encoding/json`
	`testing`

	`cosmochain/chain`
	`cosmochain/wallet`

	`github.com/stretchr/testify/require`
)

func TestNewCoinbaseIsValid(t *testing.T) {
	kp, err := wallet.Generate()
	require.NoError(t, err)

	tx := chain.NewCoinbase(kp.Address(), 50, 1000)
	require.True(t, tx.IsCoinbase())
	require.True(t, tx.IsValid())
	require.NoError(t, tx.Validate())
}

func TestCoinbaseCannotBeSigned(t *testing.T) {
	kp, err := wallet.Generate()
	require.NoError(t, err)

	tx := chain.NewCoinbase(kp.Address(), 50, 1000)
	err = tx.Sign(kp.Private)
	require.Error(t, err)
}

func TestTransferRoundTrip(t *testing.T) {
	sender, err := wallet.Generate()
	require.NoError(t, err)
	receiver, err := wallet.Generate()
	require.NoError(t, err)

	tx, err := chain.NewTransfer(sender.Address(), receiver.Address(), 10, 1, 1000)
	require.NoError(t, err)
	require.False(t, tx.IsValid()) // unsigned

	require.NoError(t, tx.Sign(sender.Private))
	require.True(t, tx.IsValid())
	require.NoError(t, tx.Validate())
}

func TestNewTransferRejectsZeroAmount(t *testing.T) {
	sender, err := wallet.Generate()
	require.NoError(t, err)
	receiver, err := wallet.Generate()
	require.NoError(t, err)

	_, err = chain.NewTransfer(sender.Address(), receiver.Address(), 0, 0, 1000)
	require.Error(t, err)
}

func TestNewTransferRejectsSelfTransfer(t *testing.T) {
	sender, err := wallet.Generate()
	require.NoError(t, err)

	_, err = chain.NewTransfer(sender.Address(), sender.Address(), 10, 0, 1000)
	require.Error(t, err)
}

func TestTamperedAmountInvalidatesSignature(t *testing.T) {
	sender, err := wallet.Generate()
	require.NoError(t, err)
	receiver, err := wallet.Generate()
	require.NoError(t, err)

	tx, err := chain.NewTransfer(sender.Address(), receiver.Address(), 10, 1, 1000)
	require.NoError(t, err)
	require.NoError(t, tx.Sign(sender.Private))

	tx.Amount = 1000
	require.False(t, tx.IsValid())
}

func TestSignatureFromWrongKeyFailsValidation(t *testing.T) {
	sender, err := wallet.Generate()
	require.NoError(t, err)
	receiver, err := wallet.Generate()
	require.NoError(t, err)
	impostor, err := wallet.Generate()
	require.NoError(t, err)

	tx, err := chain.NewTransfer(sender.Address(), receiver.Address(), 10, 1, 1000)
	require.NoError(t, err)
	require.NoError(t, tx.Sign(impostor.Private))

	require.False(t, tx.IsValid())
	require.ErrorIs(t, tx.Validate(), chain.ErrInvalidSignature)
}

func TestCloneIsIndependent(t *testing.T) {
	sender, err := wallet.Generate()
	require.NoError(t, err)
	receiver, err := wallet.Generate()
	require.NoError(t, err)

	tx, err := chain.NewTransfer(sender.Address(), receiver.Address(), 10, 1, 1000)
	require.NoError(t, err)
	require.NoError(t, tx.Sign(sender.Private))

	clone := tx.Clone()
	clone.Amount = 99
	require.NotEqual(t, tx.Amount, clone.Amount)
	require.NotSame(t, tx.Signature, clone.Signature)
}

func TestTransactionJSONRoundTrip(t *testing.T) {
	sender, err := wallet.Generate()
	require.NoError(t, err)
	receiver, err := wallet.Generate()
	require.NoError(t, err)

	tx, err := chain.NewTransfer(sender.Address(), receiver.Address(), 10, 1, 1000)
	require.NoError(t, err)
	require.NoError(t, tx.Sign(sender.Private))

	raw, err := json.Marshal(tx)
	require.NoError(t, err)

	var roundTripped chain.Transaction
	require.NoError(t, json.Unmarshal(raw, &roundTripped))

	require.Equal(t, *tx, roundTripped)
	require.True(t, roundTripped.IsValid())
}
