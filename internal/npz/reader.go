package npz

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/klauspost/compress/flate"

	"apx-evs/internal/models"
)

// Read 读取归档, 校验四列齐全且等长
func Read(path string) (*models.EventStream, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	zr.RegisterDecompressor(zip.Deflate, flate.NewReader)

	s := &models.EventStream{}
	if s.T, err = readFloat64Member(&zr.Reader, "t.npy"); err != nil {
		return nil, err
	}
	if s.X, err = readUint16Member(&zr.Reader, "x.npy"); err != nil {
		return nil, err
	}
	if s.Y, err = readUint16Member(&zr.Reader, "y.npy"); err != nil {
		return nil, err
	}
	if s.P, err = readInt8Member(&zr.Reader, "p.npy"); err != nil {
		return nil, err
	}

	n := len(s.T)
	if len(s.X) != n || len(s.Y) != n || len(s.P) != n {
		return nil, fmt.Errorf("%w: %s", ErrLengthMismatch, path)
	}
	return s, nil
}

// Entries 按归档内顺序列出数组名
func Entries(path string) ([]string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var names []string
	for _, f := range zr.File {
		names = append(names, strings.TrimSuffix(f.Name, ".npy"))
	}
	return names, nil
}

func openMember(zr *zip.Reader, name string) (io.ReadCloser, error) {
	for _, f := range zr.File {
		if f.Name == name {
			return f.Open()
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrMissingArray, strings.TrimSuffix(name, ".npy"))
}

func readFloat64Member(zr *zip.Reader, name string) ([]float64, error) {
	rc, err := openMember(zr, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	n, err := expectHeader(rc, name, descrTime)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 8*n)
	if _, err := io.ReadFull(rc, buf); err != nil {
		return nil, fmt.Errorf("npz: %s 数据截断: %w", name, err)
	}

	vs := make([]float64, n)
	for i := range vs {
		vs[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return vs, nil
}

func readUint16Member(zr *zip.Reader, name string) ([]uint16, error) {
	rc, err := openMember(zr, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	n, err := expectHeader(rc, name, descrCoord)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 2*n)
	if _, err := io.ReadFull(rc, buf); err != nil {
		return nil, fmt.Errorf("npz: %s 数据截断: %w", name, err)
	}

	vs := make([]uint16, n)
	for i := range vs {
		vs[i] = binary.LittleEndian.Uint16(buf[i*2:])
	}
	return vs, nil
}

func readInt8Member(zr *zip.Reader, name string) ([]int8, error) {
	rc, err := openMember(zr, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	n, err := expectHeader(rc, name, descrPolarity, "<i1")
	if err != nil {
		return nil, err
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(rc, buf); err != nil {
		return nil, fmt.Errorf("npz: %s 数据截断: %w", name, err)
	}

	vs := make([]int8, n)
	for i := range vs {
		vs[i] = int8(buf[i])
	}
	return vs, nil
}

func expectHeader(r io.Reader, name string, accept ...string) (int, error) {
	descr, n, err := parseNpyHeader(r)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	for _, d := range accept {
		if descr == d {
			return n, nil
		}
	}
	return 0, fmt.Errorf("%w: %s 为 %q", ErrBadDescr, name, descr)
}

// parseNpyHeader 解析成员头部, 返回 dtype 与元素个数
func parseNpyHeader(r io.Reader) (string, int, error) {
	head := make([]byte, len(npyMagic)+4)
	if _, err := io.ReadFull(r, head); err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if !bytes.Equal(head[:len(npyMagic)], npyMagic) {
		return "", 0, ErrBadMagic
	}
	if head[6] != 1 {
		return "", 0, ErrBadVersion
	}

	hlen := int(binary.LittleEndian.Uint16(head[8:10]))
	dict := make([]byte, hlen)
	if _, err := io.ReadFull(r, dict); err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	header := string(dict)

	descr, err := dictString(header, "descr")
	if err != nil {
		return "", 0, err
	}

	order, err := dictValue(header, "fortran_order")
	if err != nil {
		return "", 0, err
	}
	if strings.HasPrefix(order, "True") {
		return "", 0, ErrFortranOrder
	}

	n, err := dictShape(header)
	if err != nil {
		return "", 0, err
	}
	return descr, n, nil
}

// dictValue 返回 'key': 之后的原始取值文本
func dictValue(header, key string) (string, error) {
	marker := "'" + key + "':"
	i := strings.Index(header, marker)
	if i < 0 {
		return "", fmt.Errorf("%w: 缺少 %s", ErrBadHeader, key)
	}
	return strings.TrimLeft(header[i+len(marker):], " "), nil
}

func dictString(header, key string) (string, error) {
	v, err := dictValue(header, key)
	if err != nil {
		return "", err
	}
	if len(v) == 0 || v[0] != '\'' {
		return "", ErrBadHeader
	}
	end := strings.IndexByte(v[1:], '\'')
	if end < 0 {
		return "", ErrBadHeader
	}
	return v[1 : 1+end], nil
}

// dictShape 解析 shape 元组, 仅接受一维
func dictShape(header string) (int, error) {
	v, err := dictValue(header, "shape")
	if err != nil {
		return 0, err
	}
	if len(v) == 0 || v[0] != '(' {
		return 0, ErrBadShape
	}
	end := strings.IndexByte(v, ')')
	if end < 0 {
		return 0, ErrBadShape
	}

	var dims []string
	for _, d := range strings.Split(v[1:end], ",") {
		d = strings.TrimSpace(d)
		if d != "" {
			dims = append(dims, d)
		}
	}
	if len(dims) != 1 {
		return 0, ErrBadShape
	}

	n, err := strconv.Atoi(dims[0])
	if err != nil || n < 0 {
		return 0, ErrBadShape
	}
	return n, nil
}
