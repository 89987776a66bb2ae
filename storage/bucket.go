// Package storage provides the thin bucket-oriented persistence layer
// shared by the wallet and singleton packages. It treats the concrete
// record stores as opaque tables, exactly as spec'd: every ledger or store
// built on top of this package is handed a walletdb.DB by its caller and
// never opens or configures a driver itself.
package storage

import (
	"bytes"
	"encoding/gob"

	"github.com/btcsuite/btcwallet/walletdb"
)

// TopLevelBucket opens (creating if necessary) a top-level bucket inside a
// read-write transaction. Every store in this module keeps its records in
// exactly one top-level bucket, named after the store.
func TopLevelBucket(tx walletdb.ReadWriteTx, name []byte) (walletdb.ReadWriteBucket, error) {
	return tx.CreateTopLevelBucket(name)
}

// Encode gob-encodes a record for storage. The corpus this module is
// grounded on has no shared third-party serialization library for ad hoc
// record values (dcrd's wire types hand-roll their own binary codecs per
// message, which would be pure boilerplate duplicated here), so the
// standard library's gob encoding is used for bucket values.
func Encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode gob-decodes a record previously written with Encode.
func Decode(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// ForEach walks every key/value pair in bucket, stopping on the first error
// returned by fn.
func ForEach(bucket walletdb.ReadBucket, fn func(k, v []byte) error) error {
	return bucket.ForEach(fn)
}
