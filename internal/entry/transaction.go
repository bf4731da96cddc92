package entry

import "github.com/pkg/errors"

// messageVersionPrefix marks a message as versioned (MESSAGE_VERSION_PREFIX
// in Solana's own wire format): the high bit of the first message byte.
// A legacy message's first byte is instead its header.num_required_signatures,
// which is always well below 0x80 in practice.
const messageVersionPrefix = 0x80

// Signature is a raw ed25519 signature, never verified by this pipeline.
type Signature [64]byte

// VersionedTransaction is a signed, serialized transaction: zero or more
// signatures over a legacy or versioned message.
type VersionedTransaction struct {
	Signatures []Signature
	Message    *Message
}

// MessageHeader carries the legacy/v0 signer and read-write account counts.
type MessageHeader struct {
	NumRequiredSignatures       uint8
	NumReadonlySignedAccounts   uint8
	NumReadonlyUnsignedAccounts uint8
}

// CompiledInstruction references accounts by index into Message.AccountKeys.
type CompiledInstruction struct {
	ProgramIDIndex uint8
	Accounts       []uint8
	Data           []byte
}

// AddressTableLookup resolves additional accounts at runtime; only present
// on versioned (v0) messages.
type AddressTableLookup struct {
	AccountKey      [32]byte
	WritableIndexes []uint8
	ReadonlyIndexes []uint8
}

// Message is a decoded legacy or v0 message. Version is 0 for a legacy
// message (no version byte was present on the wire) or the message's
// version number otherwise; AddressTableLookups is only populated for
// versioned messages.
type Message struct {
	Version             int
	Header              MessageHeader
	AccountKeys         [][32]byte
	RecentBlockhash     [32]byte
	Instructions        []CompiledInstruction
	AddressTableLookups []AddressTableLookup
}

func decodeVersionedTransaction(c *cursor) (*VersionedTransaction, error) {
	sigCount, err := c.shortVecLen()
	if err != nil {
		return nil, errors.Wrap(err, "signatures length")
	}

	sigs := make([]Signature, sigCount)
	for i := range sigs {
		b, err := c.take(64)
		if err != nil {
			return nil, errors.Wrapf(err, "signature %d", i)
		}
		copy(sigs[i][:], b)
	}

	msg, err := decodeMessage(c)
	if err != nil {
		return nil, errors.Wrap(err, "message")
	}

	return &VersionedTransaction{Signatures: sigs, Message: msg}, nil
}

func decodeMessage(c *cursor) (*Message, error) {
	first, err := c.u8()
	if err != nil {
		return nil, errors.Wrap(err, "message prefix")
	}

	versioned := first&messageVersionPrefix != 0
	version := 0
	headerFirstByte := first

	if versioned {
		version = int(first &^ messageVersionPrefix)
		headerFirstByte, err = c.u8()
		if err != nil {
			return nil, errors.Wrap(err, "header after version byte")
		}
	}

	header := MessageHeader{NumRequiredSignatures: headerFirstByte}
	header.NumReadonlySignedAccounts, err = c.u8()
	if err != nil {
		return nil, errors.Wrap(err, "header.num_readonly_signed_accounts")
	}
	header.NumReadonlyUnsignedAccounts, err = c.u8()
	if err != nil {
		return nil, errors.Wrap(err, "header.num_readonly_unsigned_accounts")
	}

	keyCount, err := c.shortVecLen()
	if err != nil {
		return nil, errors.Wrap(err, "account_keys length")
	}
	accountKeys := make([][32]byte, keyCount)
	for i := range accountKeys {
		accountKeys[i], err = c.bytes32()
		if err != nil {
			return nil, errors.Wrapf(err, "account_keys[%d]", i)
		}
	}

	blockhash, err := c.bytes32()
	if err != nil {
		return nil, errors.Wrap(err, "recent_blockhash")
	}

	instrCount, err := c.shortVecLen()
	if err != nil {
		return nil, errors.Wrap(err, "instructions length")
	}
	instructions := make([]CompiledInstruction, instrCount)
	for i := range instructions {
		instructions[i], err = decodeCompiledInstruction(c)
		if err != nil {
			return nil, errors.Wrapf(err, "instructions[%d]", i)
		}
	}

	msg := &Message{
		Version:         version,
		Header:          header,
		AccountKeys:     accountKeys,
		RecentBlockhash: blockhash,
		Instructions:    instructions,
	}

	// Legacy messages have no address table lookups: the wire format simply
	// ends after the instruction list.
	if versioned {
		lookupCount, err := c.shortVecLen()
		if err != nil {
			return nil, errors.Wrap(err, "address_table_lookups length")
		}
		lookups := make([]AddressTableLookup, lookupCount)
		for i := range lookups {
			lookups[i], err = decodeAddressTableLookup(c)
			if err != nil {
				return nil, errors.Wrapf(err, "address_table_lookups[%d]", i)
			}
		}
		msg.AddressTableLookups = lookups
	}

	return msg, nil
}

func decodeCompiledInstruction(c *cursor) (CompiledInstruction, error) {
	programIdx, err := c.u8()
	if err != nil {
		return CompiledInstruction{}, errors.Wrap(err, "program_id_index")
	}

	accountCount, err := c.shortVecLen()
	if err != nil {
		return CompiledInstruction{}, errors.Wrap(err, "accounts length")
	}
	accounts := make([]uint8, accountCount)
	for i := range accounts {
		accounts[i], err = c.u8()
		if err != nil {
			return CompiledInstruction{}, errors.Wrapf(err, "accounts[%d]", i)
		}
	}

	dataLen, err := c.shortVecLen()
	if err != nil {
		return CompiledInstruction{}, errors.Wrap(err, "data length")
	}
	data, err := c.take(dataLen)
	if err != nil {
		return CompiledInstruction{}, errors.Wrap(err, "data")
	}
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	return CompiledInstruction{ProgramIDIndex: programIdx, Accounts: accounts, Data: dataCopy}, nil
}

func decodeAddressTableLookup(c *cursor) (AddressTableLookup, error) {
	key, err := c.bytes32()
	if err != nil {
		return AddressTableLookup{}, errors.Wrap(err, "account_key")
	}

	writableCount, err := c.shortVecLen()
	if err != nil {
		return AddressTableLookup{}, errors.Wrap(err, "writable_indexes length")
	}
	writable := make([]uint8, writableCount)
	for i := range writable {
		writable[i], err = c.u8()
		if err != nil {
			return AddressTableLookup{}, errors.Wrapf(err, "writable_indexes[%d]", i)
		}
	}

	readonlyCount, err := c.shortVecLen()
	if err != nil {
		return AddressTableLookup{}, errors.Wrap(err, "readonly_indexes length")
	}
	readonly := make([]uint8, readonlyCount)
	for i := range readonly {
		readonly[i], err = c.u8()
		if err != nil {
			return AddressTableLookup{}, errors.Wrapf(err, "readonly_indexes[%d]", i)
		}
	}

	return AddressTableLookup{AccountKey: key, WritableIndexes: writable, ReadonlyIndexes: readonly}, nil
}
