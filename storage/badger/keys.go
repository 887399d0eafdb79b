package badger

// Key prefixes for different data types
const (
	documentPrefix = "doc:"
	indexPrefix    = "idx:"
)

// makeDocumentKey generates a key for a document by canonical key.
func makeDocumentKey(key string) []byte {
	return append([]byte(documentPrefix), key...)
}

// makeIndexKey generates a key for an index descriptor by name.
func makeIndexKey(name string) []byte {
	return append([]byte(indexPrefix), name...)
}
