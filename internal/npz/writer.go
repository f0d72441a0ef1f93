package npz

import (
	"archive/zip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/flate"

	"apx-evs/internal/models"
)

// Write 将事件流写为一个归档文件
func Write(path string, s *models.EventStream) error {
	n := s.Len()
	if len(s.X) != n || len(s.Y) != n || len(s.P) != n {
		return ErrLengthMismatch
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}

	zw := zip.NewWriter(f)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.DefaultCompression)
	})

	err = writeMembers(zw, s)
	if cerr := zw.Close(); err == nil {
		err = cerr
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func writeMembers(zw *zip.Writer, s *models.EventStream) error {
	if err := writeMember(zw, "t.npy", descrTime, len(s.T), encodeFloat64(s.T)); err != nil {
		return err
	}
	if err := writeMember(zw, "x.npy", descrCoord, len(s.X), encodeUint16(s.X)); err != nil {
		return err
	}
	if err := writeMember(zw, "y.npy", descrCoord, len(s.Y), encodeUint16(s.Y)); err != nil {
		return err
	}
	return writeMember(zw, "p.npy", descrPolarity, len(s.P), encodeInt8(s.P))
}

func writeMember(zw *zip.Writer, name, descr string, n int, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	if err := writeNpyHeader(w, descr, n); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// writeNpyHeader 写 1.0 版 NPY 头部, 总长以空格补齐到 64 字节边界
func writeNpyHeader(w io.Writer, descr string, n int) error {
	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%d,), }", descr, n)

	total := len(npyMagic) + 4 + len(dict) + 1
	pad := 0
	if r := total % 64; r != 0 {
		pad = 64 - r
	}
	header := dict + strings.Repeat(" ", pad) + "\n"

	buf := make([]byte, 0, len(npyMagic)+4+len(header))
	buf = append(buf, npyMagic...)
	buf = append(buf, 1, 0)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(header)))
	buf = append(buf, header...)

	_, err := w.Write(buf)
	return err
}

func encodeFloat64(vs []float64) []byte {
	buf := make([]byte, 8*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

func encodeUint16(vs []uint16) []byte {
	buf := make([]byte, 2*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint16(buf[i*2:], v)
	}
	return buf
}

func encodeInt8(vs []int8) []byte {
	buf := make([]byte, len(vs))
	for i, v := range vs {
		buf[i] = byte(v)
	}
	return buf
}
