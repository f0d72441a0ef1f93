package npz

import (
	"archive/zip"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"apx-evs/internal/models"
)

func testStream() *models.EventStream {
	return &models.EventStream{
		T: []float64{0.001, 0.001, 0.002},
		X: []uint16{0, 815, 3},
		Y: []uint16{0, 611, 3},
		P: []int8{1, 1, -1},
	}
}

func Test_write_read_round_trip(t *testing.T) {
	should := require.New(t)

	path := filepath.Join(t.TempDir(), "events_1.npz")
	should.Nil(Write(path, testStream()))

	s, err := Read(path)
	should.Nil(err)
	should.Equal(testStream(), s)
}

func Test_write_read_empty_stream(t *testing.T) {
	should := require.New(t)

	path := filepath.Join(t.TempDir(), "empty.npz")
	should.Nil(Write(path, &models.EventStream{}))

	s, err := Read(path)
	should.Nil(err)
	should.Equal(0, s.Len())
}

func Test_entries_in_archive_order(t *testing.T) {
	should := require.New(t)

	path := filepath.Join(t.TempDir(), "events_1.npz")
	should.Nil(Write(path, testStream()))

	names, err := Entries(path)
	should.Nil(err)
	should.Equal([]string{"t", "x", "y", "p"}, names)
}

func Test_member_header_is_numpy_compatible(t *testing.T) {
	should := require.New(t)

	path := filepath.Join(t.TempDir(), "events_1.npz")
	should.Nil(Write(path, testStream()))

	zr, err := zip.OpenReader(path)
	should.Nil(err)
	defer zr.Close()

	rc, err := zr.File[0].Open()
	should.Nil(err)
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	should.Nil(err)

	// 魔数与 1.0 版本号
	should.Equal(append([]byte{}, npyMagic...), raw[:6])
	should.Equal(byte(1), raw[6])
	should.Equal(byte(0), raw[7])

	// 头部总长对齐 64 字节且以换行结尾
	hlen := int(binary.LittleEndian.Uint16(raw[8:10]))
	should.Equal(0, (10+hlen)%64)
	header := string(raw[10 : 10+hlen])
	should.Contains(header, "'descr': '<f8'")
	should.Contains(header, "'fortran_order': False")
	should.Contains(header, "'shape': (3,)")
	should.Equal(byte('\n'), header[len(header)-1])

	// 数据区为小端 float64
	should.Equal(8*3, len(raw)-10-hlen)
}

func Test_write_rejects_mismatched_columns(t *testing.T) {
	should := require.New(t)

	s := testStream()
	s.P = s.P[:2]
	err := Write(filepath.Join(t.TempDir(), "bad.npz"), s)
	should.True(errors.Is(err, ErrLengthMismatch))
}

// writeRawMember 构造任意头部的归档成员
func writeRawMember(t *testing.T, zw *zip.Writer, name, dict string, data []byte) {
	t.Helper()
	w, err := zw.Create(name)
	if err != nil {
		t.Fatal(err)
	}
	var buf []byte
	buf = append(buf, npyMagic...)
	buf = append(buf, 1, 0)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(dict)))
	buf = append(buf, dict...)
	buf = append(buf, data...)
	if _, err := w.Write(buf); err != nil {
		t.Fatal(err)
	}
}

func writeCustomArchive(t *testing.T, build func(zw *zip.Writer)) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "custom.npz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	build(zw)
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func Test_read_missing_array(t *testing.T) {
	should := require.New(t)

	path := writeCustomArchive(t, func(zw *zip.Writer) {
		writeRawMember(t, zw, "t.npy",
			"{'descr': '<f8', 'fortran_order': False, 'shape': (0,), }\n", nil)
	})

	_, err := Read(path)
	should.True(errors.Is(err, ErrMissingArray))
}

func Test_read_wrong_descr(t *testing.T) {
	should := require.New(t)

	path := writeCustomArchive(t, func(zw *zip.Writer) {
		writeRawMember(t, zw, "t.npy",
			"{'descr': '<f4', 'fortran_order': False, 'shape': (0,), }\n", nil)
	})

	_, err := Read(path)
	should.True(errors.Is(err, ErrBadDescr))
}

func Test_read_fortran_order_rejected(t *testing.T) {
	should := require.New(t)

	path := writeCustomArchive(t, func(zw *zip.Writer) {
		writeRawMember(t, zw, "t.npy",
			"{'descr': '<f8', 'fortran_order': True, 'shape': (0,), }\n", nil)
	})

	_, err := Read(path)
	should.True(errors.Is(err, ErrFortranOrder))
}

func Test_read_accepts_signed_polarity_descr(t *testing.T) {
	should := require.New(t)

	path := writeCustomArchive(t, func(zw *zip.Writer) {
		writeRawMember(t, zw, "t.npy",
			"{'descr': '<f8', 'fortran_order': False, 'shape': (1,), }\n", make([]byte, 8))
		writeRawMember(t, zw, "x.npy",
			"{'descr': '<u2', 'fortran_order': False, 'shape': (1,), }\n", make([]byte, 2))
		writeRawMember(t, zw, "y.npy",
			"{'descr': '<u2', 'fortran_order': False, 'shape': (1,), }\n", make([]byte, 2))
		// numpy 在部分平台下将 int8 写作 '<i1'
		writeRawMember(t, zw, "p.npy",
			"{'descr': '<i1', 'fortran_order': False, 'shape': (1,), }\n", []byte{0xFF})
	})

	s, err := Read(path)
	should.Nil(err)
	should.Equal([]int8{-1}, s.P)
}

func Test_read_multidimensional_shape_rejected(t *testing.T) {
	should := require.New(t)

	path := writeCustomArchive(t, func(zw *zip.Writer) {
		writeRawMember(t, zw, "t.npy",
			"{'descr': '<f8', 'fortran_order': False, 'shape': (2, 3), }\n", make([]byte, 48))
	})

	_, err := Read(path)
	should.True(errors.Is(err, ErrBadShape))
}

func Test_read_mismatched_column_lengths(t *testing.T) {
	should := require.New(t)

	path := writeCustomArchive(t, func(zw *zip.Writer) {
		writeRawMember(t, zw, "t.npy",
			"{'descr': '<f8', 'fortran_order': False, 'shape': (2,), }\n", make([]byte, 16))
		writeRawMember(t, zw, "x.npy",
			"{'descr': '<u2', 'fortran_order': False, 'shape': (1,), }\n", make([]byte, 2))
		writeRawMember(t, zw, "y.npy",
			"{'descr': '<u2', 'fortran_order': False, 'shape': (2,), }\n", make([]byte, 4))
		writeRawMember(t, zw, "p.npy",
			"{'descr': '|i1', 'fortran_order': False, 'shape': (2,), }\n", make([]byte, 2))
	})

	_, err := Read(path)
	should.True(errors.Is(err, ErrLengthMismatch))
}

func Test_read_truncated_archive(t *testing.T) {
	should := require.New(t)

	path := filepath.Join(t.TempDir(), "events_1.npz")
	should.Nil(Write(path, testStream()))

	raw, err := os.ReadFile(path)
	should.Nil(err)
	should.Nil(os.WriteFile(path, raw[:len(raw)/2], 0644))

	_, err = Read(path)
	should.NotNil(err)
}

func Test_read_truncated_member_data(t *testing.T) {
	should := require.New(t)

	path := writeCustomArchive(t, func(zw *zip.Writer) {
		// 头部声明 4 个元素, 数据只有 1 个
		writeRawMember(t, zw, "t.npy",
			"{'descr': '<f8', 'fortran_order': False, 'shape': (4,), }\n", make([]byte, 8))
	})

	_, err := Read(path)
	should.NotNil(err)
}
