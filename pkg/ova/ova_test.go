package ova

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fixedClock() func() time.Time {
	at := time.Unix(1500000000, 0)
	return func() time.Time { return at }
}

// findFile walks the tar blocks and returns the offset of the header block
// for the named file, or -1.
func findFile(data []byte, name string) int {
	pos := 0
	for pos+blockSize <= len(data) {
		block := data[pos : pos+blockSize]
		if bytes.Equal(block, make([]byte, blockSize)) {
			break
		}

		end := bytes.IndexByte(block[:100], 0)
		if end < 0 {
			end = 100
		}
		if string(block[:end]) == name {
			return pos
		}

		size, err := strconv.ParseInt(strings.TrimRight(string(block[124:135]), "\x00 "), 8, 64)
		if err != nil {
			return -1
		}
		pos += blockSize + int((size+blockSize-1)/blockSize)*blockSize
	}
	return -1
}

func TestHeaderFields(t *testing.T) {

	w := NewWriter(new(bytes.Buffer))
	w.SetClock(fixedClock())

	hdr := w.header("test.ovf", 1234)

	assert.Equal(t, []byte("test.ovf"), hdr[0:8])
	assert.Equal(t, byte(0), hdr[8])
	assert.Equal(t, []byte("0000644\x00"), hdr[100:108])
	assert.Equal(t, []byte("0000000\x00"), hdr[108:116])
	assert.Equal(t, []byte("0000000\x00"), hdr[116:124])
	assert.Equal(t, []byte("00000002322"), hdr[124:135]) // 1234 octal
	assert.Equal(t, byte(0), hdr[135])
	assert.Equal(t, byte('0'), hdr[156])
	assert.Equal(t, []byte("ustar\x00"), hdr[257:263])
	assert.Equal(t, []byte("00"), hdr[263:265])
	assert.Equal(t, []byte("root"), hdr[265:269])
	assert.Equal(t, []byte("root"), hdr[297:301])

}

func TestHeaderChecksum(t *testing.T) {

	w := NewWriter(new(bytes.Buffer))
	w.SetClock(fixedClock())

	hdr := w.header("file.vmdk", 42)

	// Recompute with the checksum field as spaces.
	verify := make([]byte, blockSize)
	copy(verify, hdr)
	copy(verify[148:156], "        ")

	var sum uint32
	for _, b := range verify {
		sum += uint32(b)
	}

	got, err := strconv.ParseUint(strings.TrimRight(string(hdr[148:155]), "\x00"), 8, 32)
	assert.NoError(t, err)
	assert.Equal(t, uint64(sum), got)
	assert.Equal(t, byte(0), hdr[154])
	assert.Equal(t, byte(' '), hdr[155])

}

func TestAddFileAndStructure(t *testing.T) {

	buf := new(bytes.Buffer)
	w := NewWriter(buf)
	w.SetClock(fixedClock())

	assert.NoError(t, w.AddFile("test.txt", []byte("hello")))
	assert.NoError(t, w.Finalize())

	data := buf.Bytes()

	assert.Equal(t, []byte("test.txt"), data[0:8])
	assert.Equal(t, []byte("hello"), data[blockSize:blockSize+5])
	assert.Zero(t, len(data)%blockSize)

	// Final 1024 bytes are zero.
	assert.Equal(t, make([]byte, 1024), data[len(data)-1024:])

}

func TestManifest(t *testing.T) {

	buf := new(bytes.Buffer)
	w := NewWriter(buf)
	w.SetClock(fixedClock())

	content1 := []byte("content1")
	content2 := []byte("content2")
	assert.NoError(t, w.AddFile("file1.ovf", content1))
	assert.NoError(t, w.AddFile("file2.vmdk", content2))
	assert.NoError(t, w.Finalize())

	data := buf.Bytes()

	pos := findFile(data, "manifest.mf")
	assert.GreaterOrEqual(t, pos, 0)

	size, err := strconv.ParseInt(strings.TrimRight(string(data[pos+124:pos+135]), "\x00 "), 8, 64)
	assert.NoError(t, err)

	manifest := string(data[pos+blockSize : pos+blockSize+int(size)])

	sum1 := sha256.Sum256(content1)
	sum2 := sha256.Sum256(content2)

	lines := strings.Split(strings.TrimSuffix(manifest, "\n"), "\n")
	assert.Len(t, lines, 2)
	assert.Equal(t, "SHA256(file1.ovf)= "+hex.EncodeToString(sum1[:]), lines[0])
	assert.Equal(t, "SHA256(file2.vmdk)= "+hex.EncodeToString(sum2[:]), lines[1])

}

func TestFinalizeWithoutFiles(t *testing.T) {

	buf := new(bytes.Buffer)
	w := NewWriter(buf)
	assert.NoError(t, w.Finalize())

	// Only the end-of-archive marker.
	assert.Equal(t, make([]byte, 1024), buf.Bytes())

}

func TestStreamingWrite(t *testing.T) {

	buf := new(bytes.Buffer)
	w := NewWriter(buf)
	w.SetClock(fixedClock())

	payload := []byte("streaming content")

	fw, err := w.AddFileStreaming("stream.txt", int64(len(payload)))
	assert.NoError(t, err)

	_, err = fw.Write(payload[:9])
	assert.NoError(t, err)
	_, err = fw.Write(payload[9:])
	assert.NoError(t, err)
	assert.NoError(t, fw.Close())

	assert.NoError(t, w.Finalize())

	data := buf.Bytes()
	assert.Equal(t, []byte("stream.txt"), data[0:10])
	assert.Equal(t, payload, data[blockSize:blockSize+len(payload)])

	// Streamed files appear in the manifest with the correct hash.
	pos := findFile(data, "manifest.mf")
	assert.GreaterOrEqual(t, pos, 0)
	sum := sha256.Sum256(payload)
	assert.Contains(t, string(data[pos+blockSize:pos+2*blockSize]),
		"SHA256(stream.txt)= "+hex.EncodeToString(sum[:]))

}

func TestStreamingSizeMismatch(t *testing.T) {

	w := NewWriter(new(bytes.Buffer))

	fw, err := w.AddFileStreaming("short.txt", 100)
	assert.NoError(t, err)

	_, err = fw.Write([]byte("short"))
	assert.NoError(t, err)

	err = fw.Close()
	assert.Error(t, err)

	var oerr *Error
	assert.ErrorAs(t, err, &oerr)

}

func TestStreamingOverflow(t *testing.T) {

	w := NewWriter(new(bytes.Buffer))

	fw, err := w.AddFileStreaming("tiny.txt", 2)
	assert.NoError(t, err)

	_, err = fw.Write([]byte("too long"))
	assert.Error(t, err)

}

func TestPaddingAlignment(t *testing.T) {

	for _, size := range []int{0, 1, 5, 511, 512, 513, 1000} {
		buf := new(bytes.Buffer)
		w := NewWriter(buf)
		assert.NoError(t, w.AddFile("f.bin", make([]byte, size)))
		assert.NoError(t, w.Finalize())
		assert.Zero(t, buf.Len()%blockSize, "archive misaligned for size %d", size)
	}

}

func TestLongNameTruncated(t *testing.T) {

	w := NewWriter(new(bytes.Buffer))
	name := strings.Repeat("x", 150)
	hdr := w.header(name, 0)

	assert.Equal(t, bytes.Repeat([]byte("x"), 99), hdr[0:99])
	assert.Equal(t, byte(0), hdr[99])

}
