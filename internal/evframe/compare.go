package evframe

import (
	"fmt"
	"image"
)

// DimensionMismatchError 两幅图像尺寸不一致
type DimensionMismatchError struct {
	W1, H1 int
	W2, H2 int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("图像尺寸不一致: %dx%d vs %dx%d", e.W1, e.H1, e.W2, e.H2)
}

// DiffStats 两图差值统计, 均值/极值只统计非零差值像素
type DiffStats struct {
	Identical     bool
	NonzeroPixels int
	MeanDiff      float64
	MaxDiff       int
	MinDiff       int
}

// ComparePNGs 逐像素对比两幅灰度图, 可选保存绝对差值图
func ComparePNGs(path1, path2, diffPath string, saveDiff bool) (*DiffStats, error) {
	img1, err := ReadGrayPNG(path1)
	if err != nil {
		return nil, err
	}
	img2, err := ReadGrayPNG(path2)
	if err != nil {
		return nil, err
	}

	b1, b2 := img1.Bounds(), img2.Bounds()
	if b1.Dx() != b2.Dx() || b1.Dy() != b2.Dy() {
		return nil, &DimensionMismatchError{
			W1: b1.Dx(), H1: b1.Dy(),
			W2: b2.Dx(), H2: b2.Dy(),
		}
	}

	diff := image.NewGray(image.Rect(0, 0, b1.Dx(), b1.Dy()))
	stats := &DiffStats{Identical: true}
	var sum int64

	for i := range img1.Pix {
		d := int(img1.Pix[i]) - int(img2.Pix[i])
		if d < 0 {
			d = -d
		}
		diff.Pix[i] = uint8(d)

		if d == 0 {
			continue
		}
		stats.Identical = false
		stats.NonzeroPixels++
		sum += int64(d)
		if d > stats.MaxDiff {
			stats.MaxDiff = d
		}
		if stats.MinDiff == 0 || d < stats.MinDiff {
			stats.MinDiff = d
		}
	}
	if stats.NonzeroPixels > 0 {
		stats.MeanDiff = float64(sum) / float64(stats.NonzeroPixels)
	}

	if saveDiff {
		if err := WritePNG(diffPath, diff); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

// ValueCount 单个像素值的出现统计
type ValueCount struct {
	Value int
	Count int
	Ratio float64 // 百分比
}

// PixelDistribution 统计图像像素值分布, 按值升序
func PixelDistribution(img *image.Gray) []ValueCount {
	var counts [256]int
	for _, v := range img.Pix {
		counts[v]++
	}

	total := len(img.Pix)
	var out []ValueCount
	for v, c := range counts {
		if c == 0 {
			continue
		}
		out = append(out, ValueCount{
			Value: v,
			Count: c,
			Ratio: float64(c) / float64(total) * 100,
		})
	}
	return out
}
