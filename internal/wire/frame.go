package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/psgo/ps/internal/message"
	"github.com/psgo/ps/internal/sbuf"
)

// WriteFrames writes one multipart message to w as a length-delimited
// identity frame, a length-delimited encoded-Meta frame, and N
// length-delimited data frames, mirroring rpc/transport/base/util.go's
// writeFrame but generalized from one fixed-shape header to an
// arbitrary part count.
func WriteFrames(w io.Writer, senderIdentity string, msg message.Message) error {
	parts := make([][]byte, 0, 2+len(msg.Data))
	parts = append(parts, []byte(senderIdentity))
	parts = append(parts, EncodeMeta(msg.Meta))
	for _, d := range msg.Data {
		parts = append(parts, d.Bytes())
	}

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(parts)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("wire: write part count: %w", err)
	}
	for _, p := range parts {
		lenBuf := make([]byte, 4)
		binary.BigEndian.PutUint32(lenBuf, uint32(len(p)))
		if _, err := w.Write(lenBuf); err != nil {
			return fmt.Errorf("wire: write part length: %w", err)
		}
		if len(p) > 0 {
			if _, err := w.Write(p); err != nil {
				return fmt.Errorf("wire: write part: %w", err)
			}
		}
	}
	return nil
}

// ReadFrames reads one multipart message from r, returning the sender
// identity and the decoded message.
func ReadFrames(r io.Reader) (senderIdentity string, msg message.Message, err error) {
	header := make([]byte, 4)
	if _, err = io.ReadFull(r, header); err != nil {
		return "", msg, err
	}
	n := binary.BigEndian.Uint32(header)
	if n < 2 {
		return "", msg, fmt.Errorf("wire: expected at least 2 parts (identity, meta), got %d", n)
	}

	readPart := func() ([]byte, error) {
		lenBuf := make([]byte, 4)
		if _, err := io.ReadFull(r, lenBuf); err != nil {
			return nil, err
		}
		l := binary.BigEndian.Uint32(lenBuf)
		if l == 0 {
			return []byte{}, nil
		}
		buf := make([]byte, l)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		return buf, nil
	}

	identity, err := readPart()
	if err != nil {
		return "", msg, fmt.Errorf("wire: read identity frame: %w", err)
	}
	metaBytes, err := readPart()
	if err != nil {
		return "", msg, fmt.Errorf("wire: read meta frame: %w", err)
	}
	msg.Meta, err = DecodeMeta(metaBytes)
	if err != nil {
		return "", msg, err
	}
	for i := uint32(2); i < n; i++ {
		part, err := readPart()
		if err != nil {
			return "", msg, fmt.Errorf("wire: read data frame %d: %w", i-2, err)
		}
		// part is this connection's own transport buffer, read fresh
		// off the wire for this sub-frame and never shared with any
		// other frame; ViewOf wraps it as a zero-copy Slice whose
		// deleter releases that buffer once every downstream view
		// (a decoded shard, a sliced sub-range) drops its reference.
		msg.Data = append(msg.Data, sbuf.ViewOf(part))
	}
	return string(identity), msg, nil
}
