// Package backup documents the wire shape of the encrypted backup file
// surface. The file format's cryptography (Fernet encryption and its BLS
// signature) is owned by callers outside this module (see DESIGN.md);
// Envelope exists only so that those callers have a shared Go type for the
// JSON shape to encrypt into and sign.
package backup

// Envelope is the top-level JSON structure of a backup file: `data` is
// base64(fernet-encrypted JSON); `signature` is
// hex(BLS.sign(backup_sk, sha256(encrypted) || sha256(meta_data_json))).
type Envelope struct {
	Data      string   `json:"data"`
	MetaData  MetaData `json:"meta_data"`
	Signature string   `json:"signature"`
}

// MetaData is the Envelope's unencrypted, signed header.
type MetaData struct {
	Timestamp uint64 `json:"timestamp"`
	PubKey    string `json:"pubkey"`
}
