package pebble

import (
	"encoding/binary"
)

// Key layout. Components are separated by 0x00 so that an account id which
// is a prefix of another never shares an iteration range with it.
const (
	prefixBalance   = "bal:"  // bal:{account}\x00{asset}
	prefixHold      = "hold:" // hold:{orderID}
	prefixHoldIndex = "hacc:" // hacc:{account}\x00{orderID}, empty value
	prefixEntry     = "ent:"  // ent:{account}\x00{seq:8}
	prefixRef       = "ref:"  // ref:{type}\x00{id} -> entry key of the first entry
)

var keySeq = []byte("meta:seq")

func balanceKey(accountID, asset string) []byte {
	return append(balancePrefix(accountID), asset...)
}

func balancePrefix(accountID string) []byte {
	return join(prefixBalance, accountID)
}

func holdKey(orderID string) []byte {
	return []byte(prefixHold + orderID)
}

func holdIndexKey(accountID, orderID string) []byte {
	return append(holdIndexPrefix(accountID), orderID...)
}

func holdIndexPrefix(accountID string) []byte {
	return join(prefixHoldIndex, accountID)
}

func entryKey(accountID string, seq uint64) []byte {
	return binary.BigEndian.AppendUint64(entryPrefix(accountID), seq)
}

func entryPrefix(accountID string) []byte {
	return join(prefixEntry, accountID)
}

func refKey(referenceID, referenceType string) []byte {
	return append(join(prefixRef, referenceType), referenceID...)
}

// join builds prefix+part+0x00.
func join(prefix, part string) []byte {
	k := make([]byte, 0, len(prefix)+len(part)+1)
	k = append(k, prefix...)
	k = append(k, part...)
	return append(k, 0)
}

// keyUpperBound returns the smallest key greater than every key with prefix.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	for i := len(bound) - 1; i >= 0; i-- {
		bound[i]++
		if bound[i] != 0 {
			return bound[:i+1]
		}
	}
	return nil // prefix is all 0xff: no upper bound
}
