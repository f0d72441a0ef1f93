package apxrec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"apx-evs/internal/config"
	"apx-evs/internal/models"
)

func writeBinFile(t *testing.T, data []byte) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "apx_4_4_1.bin")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func Test_read_block(t *testing.T) {
	should := require.New(t)

	data := make([]byte, 16)
	for i := range data {
		data[i] = byte(i)
	}
	f := writeBinFile(t, data)

	block, err := ReadBlock(f, models.Record{Offset: 4, Length: 8})
	should.Nil(err)
	should.Equal([]byte{4, 5, 6, 7, 8, 9, 10, 11}, block)
}

func Test_read_block_truncated_file(t *testing.T) {
	should := require.New(t)

	f := writeBinFile(t, make([]byte, 16))

	_, err := ReadBlock(f, models.Record{Offset: 10, Length: 10})
	should.NotNil(err)

	te, ok := err.(*TruncatedRecordError)
	should.True(ok)
	should.Equal(int64(10), te.Offset)
	should.Equal(int64(10), te.Want)
	should.Equal(int64(6), te.Got)
}

func Test_extract_payload_trailing(t *testing.T) {
	should := require.New(t)

	block := []byte{9, 9, 9, 9, 1, 2, 3, 4}
	payload, err := ExtractPayload(block, models.Record{}, geom4x4, config.LayoutTrailing)
	should.Nil(err)
	should.Equal([]byte{1, 2, 3, 4}, payload)
}

func Test_extract_payload_after_header(t *testing.T) {
	should := require.New(t)

	block := make([]byte, config.BlockHeaderSize+8)
	copy(block[config.BlockHeaderSize:], []byte{1, 2, 3, 4, 5, 6, 7, 8})

	payload, err := ExtractPayload(block, models.Record{}, geom4x4, config.LayoutHeader128)
	should.Nil(err)
	should.Equal([]byte{1, 2, 3, 4}, payload)
}

func Test_extract_payload_block_too_small(t *testing.T) {
	should := require.New(t)

	_, err := ExtractPayload([]byte{1, 2, 3}, models.Record{Offset: 7}, geom4x4, config.LayoutTrailing)
	should.NotNil(err)
	te, ok := err.(*TruncatedRecordError)
	should.True(ok)
	should.Equal(int64(7), te.Offset)

	_, err = ExtractPayload(make([]byte, 100), models.Record{}, geom4x4, config.LayoutHeader128)
	should.NotNil(err)
}

func Test_read_payload(t *testing.T) {
	should := require.New(t)

	data := make([]byte, config.BlockHeaderSize+4)
	copy(data[config.BlockHeaderSize:], []byte{0x02, 0, 0, 0x40})
	f := writeBinFile(t, data)

	payload, err := ReadPayload(f, models.Record{Offset: 0, Length: int64(len(data))}, geom4x4, config.LayoutHeader128)
	should.Nil(err)
	should.Equal([]byte{0x02, 0, 0, 0x40}, payload)
}
