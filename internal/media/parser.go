package media

// InitFunc receives the full list of streams found in a container. It is
// invoked exactly once per container parser, before any sample.
type InitFunc func(streams []*StreamInfo)

// NewStreamFunc receives the configuration of an elementary stream once it
// has been established.
type NewStreamFunc func(info *StreamInfo)

// EmitSampleFunc receives every complete sample, in stream order.
type EmitSampleFunc func(s *Sample)

// Parser is implemented by container-level parsers. Parse accepts an
// arbitrary fragment of the byte stream; bytes that do not yet form a
// complete unit are kept until the next call. Callbacks run synchronously
// inside Parse and Flush. A Parser must not be used concurrently.
type Parser interface {
	Parse(data []byte) error
	Flush()
}

// ESParser is implemented by elementary-stream parsers. pts and dts apply
// to the first access unit starting at or after the beginning of data;
// pass NoTimestamp when the carrier had none.
type ESParser interface {
	Parse(data []byte, pts, dts int64) error
	Flush()
	Reset()
}

// KeySource receives the key identifiers of encrypted tracks so that
// decryption keys can be fetched ahead of the first encrypted sample.
type KeySource interface {
	OnEncryptedMediaInitData(keyID []byte)
}
