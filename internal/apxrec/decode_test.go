package apxrec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"apx-evs/internal/config"
	"apx-evs/internal/models"
)

var geom4x4 = config.Geometry{Width: 4, Height: 4}

func Test_decode_empty_payload(t *testing.T) {
	should := require.New(t)

	xs, ys, ps := DecodePayload(nil, geom4x4)
	should.Equal(0, len(xs))
	should.Equal(0, len(ys))
	should.Equal(0, len(ps))
}

func Test_decode_all_zero_payload(t *testing.T) {
	should := require.New(t)

	xs, _, _ := DecodePayload([]byte{0, 0, 0, 0}, geom4x4)
	should.Equal(0, len(xs))
}

func Test_decode_reserved_code_is_ignored(t *testing.T) {
	should := require.New(t)

	// 0xFF 的四个槽全是保留码 3
	xs, _, _ := DecodePayload([]byte{0xFF, 0xFF, 0xFF, 0xFF}, geom4x4)
	should.Equal(0, len(xs))
}

func Test_decode_on_event_at_first_pixel(t *testing.T) {
	should := require.New(t)

	// 0x02: 最低位槽编码 2 (ON), 像素 0
	xs, ys, ps := DecodePayload([]byte{0x02, 0, 0, 0}, geom4x4)
	should.Equal([]uint16{0}, xs)
	should.Equal([]uint16{0}, ys)
	should.Equal([]int8{models.PolarityOn}, ps)
}

func Test_decode_off_event_at_last_pixel(t *testing.T) {
	should := require.New(t)

	// 0x40 在第 4 字节: 最高位槽编码 1 (OFF), 像素 15 -> (3,3)
	xs, ys, ps := DecodePayload([]byte{0, 0, 0, 0x40}, geom4x4)
	should.Equal([]uint16{3}, xs)
	should.Equal([]uint16{3}, ys)
	should.Equal([]int8{models.PolarityOff}, ps)
}

func Test_decode_four_slots_in_one_byte(t *testing.T) {
	should := require.New(t)

	// 0xAA: 四个槽全为 ON, 像素 0..3
	xs, ys, ps := DecodePayload([]byte{0xAA, 0, 0, 0}, geom4x4)
	should.Equal([]uint16{0, 1, 2, 3}, xs)
	should.Equal([]uint16{0, 0, 0, 0}, ys)
	should.Equal([]int8{1, 1, 1, 1}, ps)
}

func Test_decode_mixed_polarities_in_one_byte(t *testing.T) {
	should := require.New(t)

	// 0x09 = 00001001: 槽 0 为 OFF, 槽 1 为 ON
	xs, _, ps := DecodePayload([]byte{0x09}, geom4x4)
	should.Equal([]uint16{0, 1}, xs)
	should.Equal([]int8{models.PolarityOff, models.PolarityOn}, ps)
}

func Test_decode_row_major_mapping(t *testing.T) {
	should := require.New(t)

	// 像素 5 -> 第二行第二列
	xs, ys, _ := DecodePayload([]byte{0, 0x04, 0, 0}, geom4x4)
	should.Equal([]uint16{1}, xs)
	should.Equal([]uint16{1}, ys)
}

func Test_decode_ignores_bytes_beyond_expected_size(t *testing.T) {
	should := require.New(t)

	// 4x4 只需要 4 字节, 第 5 字节即使有事件也被裁掉
	xs, _, _ := DecodePayload([]byte{0, 0, 0, 0, 0xAA}, geom4x4)
	should.Equal(0, len(xs))
}

func Test_decode_short_payload(t *testing.T) {
	should := require.New(t)

	// 载荷不足时只解码已有部分
	xs, ys, _ := DecodePayload([]byte{0x02}, geom4x4)
	should.Equal([]uint16{0}, xs)
	should.Equal([]uint16{0}, ys)
}
