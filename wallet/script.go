package wallet

import (
	"github.com/decred/dcrd/txscript/v4"
)

// p2pkhScript builds the classic pay-to-pubkey-hash locking script over
// pkHash. It is the "puzzle" whose hash every Wallet variant without a
// custom locking script (Standard, RateLimited, DistributedID, Pooling)
// reports as its puzzle
// hash, grounded on the same opcode-builder pattern the chain's own
// standard scripts use.
func p2pkhScript(pkHash []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(pkHash).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}
