package apxrec

import (
	"apx-evs/internal/config"
	"apx-evs/internal/models"
)

// 2 bit 像素编码
const (
	codeNone     = 0 // 无事件
	codeOff      = 1 // OFF 事件
	codeOn       = 2 // ON 事件
	codeReserved = 3 // 保留, 始终忽略
)

// DecodePayload 解码一帧打包载荷
// 每字节承载 4 个像素, 低位槽在前; 超出载荷长度的部分被忽略
func DecodePayload(payload []byte, geom config.Geometry) (xs, ys []uint16, ps []int8) {
	total := geom.TotalPixels()
	expected := geom.PayloadSize()
	if len(payload) > expected {
		payload = payload[:expected]
	}

	width := geom.Width
	for i, b := range payload {
		if b == 0 {
			// 快速路径: 四个槽均无事件
			continue
		}

		base := i * config.PixelsPerByte
		for s := 0; s < config.PixelsPerByte; s++ {
			code := (b >> uint(2*s)) & 0x03
			if code == codeNone || code == codeReserved {
				continue
			}

			pixel := base + s
			if pixel >= total {
				continue
			}

			y := pixel / width
			x := pixel - y*width

			polarity := models.PolarityOff
			if code == codeOn {
				polarity = models.PolarityOn
			}

			xs = append(xs, uint16(x))
			ys = append(ys, uint16(y))
			ps = append(ps, polarity)
		}
	}
	return xs, ys, ps
}
