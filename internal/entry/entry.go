package entry

import "github.com/pkg/errors"

// Entry is a validator-produced record: a proof-of-history tick count, the
// hash after applying those ticks, and the transactions it carries.
type Entry struct {
	NumHashes    uint64
	Hash         [32]byte
	Transactions []*VersionedTransaction
}

// Decode reads exactly one Entry starting at offset 0 of buf, returning the
// number of bytes consumed.
func Decode(buf []byte) (*Entry, int, error) {
	c := &cursor{buf: buf}

	numHashes, err := c.u64()
	if err != nil {
		return nil, 0, errors.Wrap(err, "num_hashes")
	}
	hash, err := c.bytes32()
	if err != nil {
		return nil, 0, errors.Wrap(err, "hash")
	}

	txCount, err := c.u64()
	if err != nil {
		return nil, 0, errors.Wrap(err, "transactions length")
	}

	txs := make([]*VersionedTransaction, 0, txCount)
	for i := uint64(0); i < txCount; i++ {
		tx, err := decodeVersionedTransaction(c)
		if err != nil {
			return nil, 0, errors.Wrapf(err, "transaction %d", i)
		}
		txs = append(txs, tx)
	}

	return &Entry{NumHashes: numHashes, Hash: hash, Transactions: txs}, c.pos, nil
}
