package models

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestTransactionDecodeVariants(t *testing.T) {
	raw := `[
		{"txid":"a1","time":1366000000,"type":"received","wallet_id":"w1","amount":0.5},
		{"txid":"a2","time":1366000100,"type":"sent","outputs":[{"wallet_id":"w1","amount":0.9},{"wallet_id":"w2","amount":0.1}]},
		{"txid":"a3","time":1366000200,"type":"sent","outputs":[]},
		{"txid":"a4","type":"received","wallet_id":"w3","amount":1}
	]`

	var txs []Transaction
	if err := json.Unmarshal([]byte(raw), &txs); err != nil {
		t.Fatalf("Unexpected decode error: %v", err)
	}
	if len(txs) != 4 {
		t.Fatalf("Expected 4 transactions. Got: %d", len(txs))
	}

	tests := []struct {
		name         string
		tx           Transaction
		counterparty string
		amount       float64
		dir          Direction
		hasTime      bool
	}{
		{"received", txs[0], "w1", 0.5, DirectionReceived, true},
		{"sent uses first output", txs[1], "w1", 0.9, DirectionSent, true},
		{"sent without outputs", txs[2], UnknownCounterparty, 0, DirectionSent, true},
		{"missing time", txs[3], "w3", 1, DirectionReceived, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cp, amount, dir := tt.tx.Flow()
			if cp != tt.counterparty || amount != tt.amount || dir != tt.dir {
				t.Errorf("Expected (%s, %v, %s). Got: (%s, %v, %s)", tt.counterparty, tt.amount, tt.dir, cp, amount, dir)
			}
			if tt.tx.HasTime != tt.hasTime {
				t.Errorf("Expected HasTime=%v. Got: %v", tt.hasTime, tt.tx.HasTime)
			}
		})
	}
}

func TestTransactionDecodeUnknownType(t *testing.T) {
	var tx Transaction
	err := json.Unmarshal([]byte(`{"txid":"x","time":1,"type":"fee"}`), &tx)
	if !errors.Is(err, ErrUnknownDirection) {
		t.Fatalf("Expected ErrUnknownDirection. Got: %v", err)
	}
}

func TestTransactionEncodeKeepsWireShape(t *testing.T) {
	tx := Transaction{TxID: "b1", Time: 42, HasTime: true, Received: &Received{Counterparty: "w9", Amount: 0.25}}
	data, err := json.Marshal(tx)
	if err != nil {
		t.Fatalf("Unexpected encode error: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("Unexpected decode error: %v", err)
	}
	if fields["type"] != "received" || fields["wallet_id"] != "w9" || fields["time"] != float64(42) {
		t.Errorf("Unexpected wire fields: %v", fields)
	}

	untimed := Transaction{TxID: "b2", Sent: &Sent{}}
	data, err = json.Marshal(untimed)
	if err != nil {
		t.Fatalf("Unexpected encode error: %v", err)
	}
	var back Transaction
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unexpected decode error: %v", err)
	}
	if back.HasTime {
		t.Errorf("Expected untimed transaction to stay untimed")
	}
	if cp, _, _ := back.Flow(); cp != UnknownCounterparty {
		t.Errorf("Expected %s counterparty. Got: %s", UnknownCounterparty, cp)
	}
}

func TestSatoshis(t *testing.T) {
	tx := Transaction{Received: &Received{Counterparty: "w", Amount: 0.00012345}}
	if got := tx.Satoshis(); int64(got) != 12345 {
		t.Errorf("Expected 12345 sat. Got: %d", int64(got))
	}
}

func TestToSatoshis(t *testing.T) {
	tests := []struct {
		btc  float64
		want int64
	}{
		{0, 0},
		{1, 100_000_000},
		{0.00000001, 1},
		{1.1, 110_000_000},
		{-0.5, -50_000_000},
	}
	for _, tt := range tests {
		got, err := ToSatoshis(tt.btc)
		if err != nil {
			t.Fatalf("Unexpected error for %v: %v", tt.btc, err)
		}
		if int64(got) != tt.want {
			t.Errorf("Expected %v BTC to be %d sats. Got: %d", tt.btc, tt.want, int64(got))
		}
	}
	if _, err := ToSatoshis(math.NaN()); err == nil {
		t.Errorf("Expected NaN to be rejected")
	}
}

func TestIsCanonicalTxID(t *testing.T) {
	if !IsCanonicalTxID("4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b") {
		t.Errorf("Expected genesis coinbase txid to be canonical")
	}
	if IsCanonicalTxID("not-a-hash") {
		t.Errorf("Expected short id to be rejected")
	}
}

func TestWindowLabelRoundTrip(t *testing.T) {
	l, err := ParseWindowLabel("2012-06-01_to_2012-08-31")
	if err != nil {
		t.Fatalf("Unexpected parse error: %v", err)
	}
	if got := l.String(); got != "2012-06-01_to_2012-08-31" {
		t.Errorf("Expected label to round trip. Got: %s", got)
	}
	if _, err := ParseWindowLabel("2012-06-01"); err == nil {
		t.Errorf("Expected error for label without range")
	}
}
