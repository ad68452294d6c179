// Package segment implements a single-file, append-only key-value store
// backed by a shared memory mapping.
//
// # File layout
//
// A segment file is a log. Every [Segment.Put] appends three things:
//
//	key ':' value                 the record, no length prefix
//	snapshot                      every live key -> (value offset, value length)
//	footer                        8 bytes, little-endian offset of the snapshot
//
// so after any completed write the file reads
//
//	[ data region ][ current snapshot ][ footer ]
//
// Older snapshots and footers stay in the data region as dead bytes. Nothing
// is overwritten in place: a Put that fails halfway leaves the previous footer
// intact in the file, and [Repair] truncates back to it.
//
// Readers hold no index in memory. [Segment.Get] reads the footer, decodes
// the snapshot it points at, and copies the value out of the mapping.
//
// # Snapshot encoding
//
//	magic   "SGX1"
//	count   uint32
//	entries count * { key_len uint32, key, value_offset uint64, value_length uint64 }
//	crc     uint32 (CRC32-C over everything before it)
//
// # Basic usage
//
//	s, err := segment.Open(segment.Options{Path: "data.seg"})
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	err = s.Put("key1", []byte("value1"))
//	// ...
//	v, err := s.Get("key1")
//
// # Concurrency
//
// One writer per file. Writable handles hold an exclusive flock on
// Path+".lock" until closed; a second writer gets [ErrBusy]. Within a process
// a Segment is safe for concurrent use: Put excludes readers of that handle.
// Read-only handles see the file as it was when opened.
package segment
