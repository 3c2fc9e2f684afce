package protocol

// Wire type markers, one trailing byte appended to a SHAMap node's wire
// encoding so the receiving side knows how to deserialize it without a
// side channel. Mirrors rippled's SHAMapTreeNode wire-type byte.
const (
	WireTypeInner               byte = 0
	WireTypeCompressedInner     byte = 1
	WireTypeTransaction         byte = 2
	WireTypeAccountState        byte = 3
	WireTypeTransactionWithMeta byte = 4
)
