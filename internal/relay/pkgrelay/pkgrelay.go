// Package pkgrelay validates BIP331 transaction packages against the
// policy limits and hands accepted packages to mempool admission.
package pkgrelay

import (
	"bytes"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"relaynet/internal/txcodec"
	"relaynet/internal/wire"
)

// Policy limits for one package.
const (
	MaxPackageTxs    = 25
	MaxPackageWeight = 404_000
)

// Config tunes package acceptance. A zero MinFeeRate disables the
// fee-rate gate.
type Config struct {
	// MinFeeRate is in satoshis per kilo-weight-unit.
	MinFeeRate int64
	// LookupOutput resolves a prevout's value for fee computation. It may
	// be nil only when MinFeeRate is zero. Prevouts internal to the
	// package are resolved from the package itself before this is asked.
	LookupOutput func(op txcodec.OutPoint) (value int64, ok bool)
}

// Package is a validated package ready for admission.
type Package struct {
	ID  wire.Hash
	Txs []*txcodec.Tx
}

// ComputeID is the double-SHA256 over the concatenated member txids in
// package order.
func ComputeID(txids []wire.Hash) wire.Hash {
	var buf bytes.Buffer
	for _, id := range txids {
		buf.Write(id[:])
	}
	var h wire.Hash
	copy(h[:], chainhash.DoubleHashB(buf.Bytes()))
	return h
}

// Validate checks a pkgtxn message against the structural and policy
// rules. On failure it returns the reject reason to send back; the
// mempool is untouched either way.
func Validate(msg *wire.PkgTxnMsg, cfg Config) (*Package, *wire.PkgTxnRejectMsg) {
	reject := func(reason wire.PkgRejectReason) (*Package, *wire.PkgTxnRejectMsg) {
		return nil, &wire.PkgTxnRejectMsg{PackageID: msg.PackageID, Reason: reason}
	}

	if len(msg.Txs) == 0 {
		return reject(wire.PkgRejectInvalidStructure)
	}
	if len(msg.Txs) > MaxPackageTxs {
		return reject(wire.PkgRejectTooManyTransactions)
	}

	txs := make([]*txcodec.Tx, 0, len(msg.Txs))
	txids := make([]wire.Hash, 0, len(msg.Txs))
	seen := make(map[wire.Hash]int, len(msg.Txs))
	totalWeight := 0
	for i, raw := range msg.Txs {
		tx, err := txcodec.ParseTx(raw)
		if err != nil {
			return reject(wire.PkgRejectInvalidStructure)
		}
		if _, dup := seen[tx.ID]; dup {
			return reject(wire.PkgRejectDuplicateTransactions)
		}
		seen[tx.ID] = i
		txs = append(txs, tx)
		txids = append(txids, tx.ID)
		totalWeight += tx.Weight
	}
	if totalWeight > MaxPackageWeight {
		return reject(wire.PkgRejectWeightExceedsLimit)
	}

	// Parents-before-children: an input referencing an in-package txid
	// must reference a transaction at an earlier position.
	for i, tx := range txs {
		for _, in := range tx.Inputs {
			if pos, ok := seen[in.PrevOut.Hash]; ok && pos >= i {
				return reject(wire.PkgRejectInvalidOrder)
			}
		}
	}

	if cfg.MinFeeRate > 0 {
		feeRate, ok := packageFeeRate(txs, totalWeight, cfg.LookupOutput)
		if !ok {
			return reject(wire.PkgRejectInvalidStructure)
		}
		if feeRate < cfg.MinFeeRate {
			return reject(wire.PkgRejectFeeRateTooLow)
		}
	}

	return &Package{ID: ComputeID(txids), Txs: txs}, nil
}

// packageFeeRate computes the aggregate fee rate in sat/kWU. Prevouts
// internal to the package resolve against the package's own outputs;
// everything else goes through the UTXO lookup.
func packageFeeRate(txs []*txcodec.Tx, totalWeight int, lookup func(txcodec.OutPoint) (int64, bool)) (int64, bool) {
	internal := make(map[txcodec.OutPoint]int64)
	for _, tx := range txs {
		for i, out := range tx.Outputs {
			internal[txcodec.OutPoint{Hash: tx.ID, Index: uint32(i)}] = out.Value
		}
	}
	var inputSum, outputSum int64
	for _, tx := range txs {
		outputSum += tx.OutputSum()
		for _, in := range tx.Inputs {
			if v, ok := internal[in.PrevOut]; ok {
				inputSum += v
				continue
			}
			if lookup == nil {
				return 0, false
			}
			v, ok := lookup(in.PrevOut)
			if !ok {
				return 0, false
			}
			inputSum += v
		}
	}
	fee := inputSum - outputSum
	if fee < 0 || totalWeight == 0 {
		return 0, false
	}
	return fee * 1000 / int64(totalWeight), true
}
