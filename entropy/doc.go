// Package entropy implements the final coding stage: zigzag scanning
// of quantized transform blocks, zero-run-length symbolization, and
// canonical Huffman coding against a deterministic pre-trained table.
//
// The table is identified by a version number carried in the stream
// header; both codec sides rebuild the identical canonical code from
// the version alone, so no table data travels with the stream.
package entropy
