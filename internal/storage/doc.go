// Package storage provides the in-memory JSON document collections used by
// the demo backend for its product catalog and orders.
//
// A Collection[T] keeps every document encoded as JSON, keyed by id:
//
//	products := storage.NewCollection[Product]("products")
//	_ = products.Put("1", Product{ID: "1", Name: "Laptop"})
//	p, err := products.Get("1")
//
// Encoding on Put and decoding on Get means a caller can never mutate a
// stored document through a retained pointer or slice.
//
// Missing documents are reported with ErrNotFound, wrapped with the
// collection name and id; test with errors.Is.
//
// Nothing is persisted. The real product and order services own their
// databases; the backend here only has to answer the gateway's contract.
package storage
