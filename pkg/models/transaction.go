package models

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// UnknownCounterparty is the sentinel wallet used for sent transactions that
// carry no outputs.
const UnknownCounterparty = "Unknown"

// ErrUnknownDirection is returned when a record's "type" is neither sent nor received.
var ErrUnknownDirection = errors.New("unknown transaction direction")

// Direction is the transfer direction relative to the service wallet.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// Output is a single payout destination of a sent transaction.
type Output struct {
	Counterparty string  `json:"wallet_id"`
	Amount       float64 `json:"amount"` // in BTC
}

// Sent is a transfer out of the service wallet.
type Sent struct {
	Outputs []Output
}

// Received is a transfer into the service wallet (a bet).
type Received struct {
	Counterparty string
	Amount       float64 // in BTC
}

// Transaction is one record of a service's history. Exactly one of Sent or
// Received is set.
type Transaction struct {
	TxID        string
	Time        int64 // unix seconds, valid only when HasTime is set
	HasTime     bool
	BlockHeight int64

	Sent     *Sent
	Received *Received
}

// Direction reports which variant the transaction holds.
func (t Transaction) Direction() Direction {
	switch {
	case t.Received != nil:
		return DirectionReceived
	case t.Sent != nil:
		return DirectionSent
	}
	return ""
}

// Flow resolves the counterparty and amount of the transfer. Sent transactions
// use their first output; a sent transaction without outputs maps to
// UnknownCounterparty with a zero amount.
func (t Transaction) Flow() (counterparty string, amount float64, dir Direction) {
	switch {
	case t.Received != nil:
		return t.Received.Counterparty, t.Received.Amount, DirectionReceived
	case t.Sent != nil:
		if len(t.Sent.Outputs) == 0 {
			return UnknownCounterparty, 0, DirectionSent
		}
		return t.Sent.Outputs[0].Counterparty, t.Sent.Outputs[0].Amount, DirectionSent
	}
	return "", 0, ""
}

// ToSatoshis converts a BTC amount to satoshis, rounding to the nearest unit.
// It fails on NaN and infinite amounts.
func ToSatoshis(btc float64) (btcutil.Amount, error) {
	sat, err := btcutil.NewAmount(btc)
	if err != nil {
		return 0, fmt.Errorf("convert %v BTC: %w", btc, err)
	}
	return sat, nil
}

// Satoshis returns the resolved flow amount in satoshis, zero when the amount
// is not a finite number.
func (t Transaction) Satoshis() btcutil.Amount {
	_, amount, _ := t.Flow()
	sat, err := ToSatoshis(amount)
	if err != nil {
		return 0
	}
	return sat
}

// IsCanonicalTxID reports whether id parses as a 32-byte hex transaction hash.
func IsCanonicalTxID(id string) bool {
	if len(id) != chainhash.MaxHashStringSize {
		return false
	}
	_, err := chainhash.NewHashFromStr(id)
	return err == nil
}

// wireTransaction is the flat WalletExplorer record shape.
type wireTransaction struct {
	TxID        string    `json:"txid"`
	Time        *int64    `json:"time,omitempty"`
	Type        Direction `json:"type"`
	BlockHeight int64     `json:"block_height,omitempty"`
	WalletID    string    `json:"wallet_id,omitempty"`
	Amount      *float64  `json:"amount,omitempty"`
	Outputs     []Output  `json:"outputs,omitempty"`
}

// UnmarshalJSON decodes the flat wire record into the matching variant.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	var w wireTransaction
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	tx := Transaction{TxID: w.TxID, BlockHeight: w.BlockHeight}
	if w.Time != nil {
		tx.Time = *w.Time
		tx.HasTime = true
	}

	switch w.Type {
	case DirectionReceived:
		r := &Received{Counterparty: w.WalletID}
		if w.Amount != nil {
			r.Amount = *w.Amount
		}
		tx.Received = r
	case DirectionSent:
		tx.Sent = &Sent{Outputs: w.Outputs}
	default:
		return fmt.Errorf("tx %q: %w: %q", w.TxID, ErrUnknownDirection, w.Type)
	}

	*t = tx
	return nil
}

// MarshalJSON encodes the variant back into the flat wire record.
func (t Transaction) MarshalJSON() ([]byte, error) {
	w := wireTransaction{TxID: t.TxID, BlockHeight: t.BlockHeight}
	if t.HasTime {
		ts := t.Time
		w.Time = &ts
	}

	switch {
	case t.Received != nil:
		amount := t.Received.Amount
		w.Type = DirectionReceived
		w.WalletID = t.Received.Counterparty
		w.Amount = &amount
	case t.Sent != nil:
		w.Type = DirectionSent
		w.Outputs = t.Sent.Outputs
	default:
		return nil, fmt.Errorf("tx %q: %w", t.TxID, ErrUnknownDirection)
	}

	return json.Marshal(w)
}
