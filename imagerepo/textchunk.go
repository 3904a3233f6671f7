package imagerepo

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

var errNotPNG = errors.New("imagerepo: not a PNG stream")

// textEntry is one key/value pair stored in an image.
type textEntry struct {
	Key   string
	Value string
}

// embedPNGText inserts one tEXt chunk per entry right after IHDR.
func embedPNGText(data []byte, entries []textEntry) ([]byte, error) {
	if !bytes.HasPrefix(data, pngSignature) || len(data) < len(pngSignature)+12 {
		return nil, errNotPNG
	}
	ihdrLen := int(binary.BigEndian.Uint32(data[8:12]))
	ihdrEnd := len(pngSignature) + 12 + ihdrLen
	if string(data[12:16]) != "IHDR" || ihdrEnd > len(data) {
		return nil, errNotPNG
	}

	var buf bytes.Buffer
	buf.Grow(len(data) + 64*len(entries))
	buf.Write(data[:ihdrEnd])
	for _, e := range entries {
		writeChunk(&buf, "tEXt", textPayload(e))
	}
	buf.Write(data[ihdrEnd:])
	return buf.Bytes(), nil
}

// readPNGText returns the tEXt chunks of a PNG stream in file order.
func readPNGText(data []byte) ([]textEntry, error) {
	if !bytes.HasPrefix(data, pngSignature) {
		return nil, errNotPNG
	}
	var entries []textEntry
	for off := len(pngSignature); off+12 <= len(data); {
		n := int(binary.BigEndian.Uint32(data[off : off+4]))
		typ := string(data[off+4 : off+8])
		end := off + 12 + n
		if n < 0 || end > len(data) {
			return entries, errNotPNG
		}
		if typ == "tEXt" {
			payload := data[off+8 : off+8+n]
			if i := bytes.IndexByte(payload, 0); i > 0 {
				entries = append(entries, textEntry{Key: string(payload[:i]), Value: latin1ToString(payload[i+1:])})
			}
		}
		if typ == "IEND" {
			break
		}
		off = end
	}
	return entries, nil
}

func writeChunk(buf *bytes.Buffer, typ string, payload []byte) {
	var header [8]byte
	binary.BigEndian.PutUint32(header[:4], uint32(len(payload)))
	copy(header[4:], typ)
	buf.Write(header[:])
	buf.Write(payload)

	crc := crc32.NewIEEE()
	crc.Write(header[4:])
	crc.Write(payload)
	var sum [4]byte
	binary.BigEndian.PutUint32(sum[:], crc.Sum32())
	buf.Write(sum[:])
}

// textPayload encodes keyword NUL text. tEXt is Latin-1, so runes outside
// it are replaced with '?'.
func textPayload(e textEntry) []byte {
	key := e.Key
	if len(key) > 79 {
		key = key[:79]
	}
	out := make([]byte, 0, len(key)+1+len(e.Value))
	out = append(out, key...)
	out = append(out, 0)
	for _, r := range e.Value {
		if r > 0xff {
			r = '?'
		}
		out = append(out, byte(r))
	}
	return out
}

func latin1ToString(b []byte) string {
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}

// jpegCommentMarker is the COM segment marker.
const jpegCommentMarker = 0xFE

// embedJPEGComment inserts a COM segment after SOI.
func embedJPEGComment(data []byte, comment string) ([]byte, error) {
	if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		return nil, errors.New("imagerepo: not a JPEG stream")
	}
	text := []byte(comment)
	if len(text) > 0xFFFF-2 {
		text = text[:0xFFFF-2]
	}
	var buf bytes.Buffer
	buf.Grow(len(data) + len(text) + 4)
	buf.Write(data[:2])
	buf.Write([]byte{0xFF, jpegCommentMarker})
	var size [2]byte
	binary.BigEndian.PutUint16(size[:], uint16(len(text)+2))
	buf.Write(size[:])
	buf.Write(text)
	buf.Write(data[2:])
	return buf.Bytes(), nil
}

// readJPEGComment returns the first COM segment, if any.
func readJPEGComment(data []byte) (string, bool) {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return "", false
	}
	for off := 2; off+4 <= len(data); {
		if data[off] != 0xFF {
			return "", false
		}
		marker := data[off+1]
		if marker == 0xDA || marker == 0xD9 {
			return "", false
		}
		n := int(binary.BigEndian.Uint16(data[off+2 : off+4]))
		if n < 2 || off+2+n > len(data) {
			return "", false
		}
		if marker == jpegCommentMarker {
			return string(data[off+4 : off+2+n]), true
		}
		off += 2 + n
	}
	return "", false
}
