package badger

import "fmt"

// Key layout:
//
//	n:<id>          JSON node record
//	c:<parent>:<n>  4 byte big-endian child id
//	d:<id>          file content
//	seq:ids         id sequence
const (
	prefixNode    = "n:"
	prefixChild   = "c:"
	prefixData    = "d:"
	keySequenceID = "seq:ids"
)

func keyNode(id uint32) []byte {
	return []byte(fmt.Sprintf("%s%08x", prefixNode, id))
}

func keyChild(parent uint32, name string) []byte {
	return []byte(fmt.Sprintf("%s%08x:%s", prefixChild, parent, name))
}

func keyChildPrefix(parent uint32) []byte {
	return []byte(fmt.Sprintf("%s%08x:", prefixChild, parent))
}

func keyData(id uint32) []byte {
	return []byte(fmt.Sprintf("%s%08x", prefixData, id))
}
