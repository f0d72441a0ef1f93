package evframe

import (
	"fmt"
	"image"
	"image/png"
	"os"

	"apx-evs/internal/config"
	"apx-evs/internal/models"
	"apx-evs/internal/npz"
)

// RenderOptions 灰度渲染选项
type RenderOptions struct {
	PolarityMap map[int8]float32 // 极性到灰度增量的映射, 未映射的极性忽略
	Increment   float32          // 无映射时每个事件的增量, 0 视为 1
	Normalize   bool             // 按最大累积值归一化到 [0,255]
}

// RenderFrame 将事件累积为灰度图
// 每个窗口使用独立累加缓冲, 同一像素的重复事件叠加而非覆盖
func RenderFrame(s *models.EventStream, geom config.Geometry, opts RenderOptions) *image.Gray {
	w, h := geom.Width, geom.Height
	acc := make([]float32, w*h)

	inc := opts.Increment
	if inc == 0 {
		inc = 1
	}

	for i := range s.T {
		x, y := int(s.X[i]), int(s.Y[i])
		if x >= w || y >= h {
			continue
		}

		if opts.PolarityMap != nil {
			if grey, ok := opts.PolarityMap[s.P[i]]; ok {
				acc[y*w+x] += grey
			}
			continue
		}
		acc[y*w+x] += inc
	}

	if opts.Normalize {
		var max float32
		for _, v := range acc {
			if v > max {
				max = v
			}
		}
		if max > 0 {
			scale := 255 / max
			for i := range acc {
				acc[i] *= scale
			}
		}
	}

	img := image.NewGray(image.Rect(0, 0, w, h))
	for i, v := range acc {
		if v < 0 {
			v = 0
		} else if v > 255 {
			v = 255
		}
		img.Pix[i] = uint8(v)
	}
	return img
}

// WritePNG 保存灰度图
func WritePNG(path string, img *image.Gray) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	err = png.Encode(f, img)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// ReadGrayPNG 读取 PNG 并转为灰度
func ReadGrayPNG(path string) (*image.Gray, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, err := png.Decode(f)
	if err != nil {
		return nil, err
	}

	if g, ok := src.(*image.Gray); ok {
		return g, nil
	}

	// 非灰度图按 ITU-R 601 亮度转换
	b := src.Bounds()
	g := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g.Set(x, y, src.At(x, y))
		}
	}
	return g, nil
}

// SelectInstant 取第 k 个瞬间的全部事件
// 瞬间按时间戳首次出现的顺序计数
func SelectInstant(s *models.EventStream, k int) (*models.EventStream, error) {
	if s.Len() == 0 {
		return nil, fmt.Errorf("事件流为空")
	}

	out := &models.EventStream{}
	current := 0
	last := s.T[0]
	for i, t := range s.T {
		if t != last {
			current++
			last = t
			if current > k {
				break
			}
		}
		if current == k {
			out.T = append(out.T, t)
			out.X = append(out.X, s.X[i])
			out.Y = append(out.Y, s.Y[i])
			out.P = append(out.P, s.P[i])
		}
	}

	if out.Len() == 0 {
		return nil, fmt.Errorf("瞬间序号超出范围: %d", k)
	}
	return out, nil
}

// RenderArchive 从事件归档渲染第 frame 个瞬间为灰度 PNG
func RenderArchive(npzPath, pngPath string, geom config.Geometry, frame int, opts RenderOptions) error {
	if err := geom.Validate(); err != nil {
		return err
	}

	s, err := npz.Read(npzPath)
	if err != nil {
		return err
	}

	sub, err := SelectInstant(s, frame)
	if err != nil {
		return err
	}

	img := RenderFrame(sub, geom, opts)
	if err := WritePNG(pngPath, img); err != nil {
		return err
	}

	fmt.Printf("[Render] ✓ 已保存图像到 %s (%dx%d)\n", pngPath, geom.Width, geom.Height)
	return nil
}
