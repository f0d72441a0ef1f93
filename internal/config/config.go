package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// 记录块常量
	BlockHeaderSize = 128 // 记录头部字节数
	PixelsPerByte   = 4   // 每字节打包的像素数
	MaxDimension    = 65535

	// 默认传感器分辨率
	DefaultWidth  = 816
	DefaultHeight = 612

	// 输出目录约定 (与 evframe 保持一致)
	FrameDirSuffix = "_event_frame"
	NpzSubdir      = "npz"
	PngSubdir      = "png"
	MergedName     = "all.npz"
)

var (
	// 默认配置
	DefaultDataPath = "."
	Host            = "0.0.0.0"
	Port            = 8080
)

// PayloadLayout 指定事件载荷在记录块中的位置
type PayloadLayout int

const (
	// LayoutHeader128 载荷紧跟 128 字节块头部
	LayoutHeader128 PayloadLayout = iota
	// LayoutTrailing 载荷位于记录块末尾
	LayoutTrailing
)

func (l PayloadLayout) String() string {
	if l == LayoutTrailing {
		return "trailing"
	}
	return "header128"
}

// ParseLayout 解析布局名称
func ParseLayout(s string) (PayloadLayout, error) {
	switch s {
	case "", "header128":
		return LayoutHeader128, nil
	case "trailing":
		return LayoutTrailing, nil
	}
	return LayoutHeader128, fmt.Errorf("未知的载荷布局: %q (可选 header128/trailing)", s)
}

// Geometry 传感器分辨率
type Geometry struct {
	Width  int
	Height int
}

// DefaultGeometry 返回默认分辨率
func DefaultGeometry() Geometry {
	return Geometry{Width: DefaultWidth, Height: DefaultHeight}
}

// Validate 检查分辨率是否在有效范围内
func (g Geometry) Validate() error {
	if g.Width < 1 || g.Width > MaxDimension {
		return fmt.Errorf("无效的传感器宽度: %d", g.Width)
	}
	if g.Height < 1 || g.Height > MaxDimension {
		return fmt.Errorf("无效的传感器高度: %d", g.Height)
	}
	return nil
}

// TotalPixels 像素总数
func (g Geometry) TotalPixels() int {
	return g.Width * g.Height
}

// PayloadSize 单条记录的载荷字节数 (向下取整)
func (g Geometry) PayloadSize() int {
	return g.Width * g.Height / PixelsPerByte
}

// ParseCaptureName 从采集文件名解析分辨率与时间戳
// 命名约定: <前缀>_<宽>_<高>_<时间戳>[.bin]
func ParseCaptureName(path string) (Geometry, string, error) {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	parts := strings.Split(base, "_")
	if len(parts) < 4 {
		return Geometry{}, "", fmt.Errorf("文件名 %q 不符合 <前缀>_<宽>_<高>_<时间戳> 约定", base)
	}

	w, err := strconv.Atoi(parts[len(parts)-3])
	if err != nil {
		return Geometry{}, "", fmt.Errorf("文件名宽度字段无效 %q: %w", parts[len(parts)-3], err)
	}
	h, err := strconv.Atoi(parts[len(parts)-2])
	if err != nil {
		return Geometry{}, "", fmt.Errorf("文件名高度字段无效 %q: %w", parts[len(parts)-2], err)
	}

	g := Geometry{Width: w, Height: h}
	if err := g.Validate(); err != nil {
		return Geometry{}, "", err
	}
	return g, parts[len(parts)-1], nil
}

// InfoPathFor 返回采集文件对应的索引文件路径
func InfoPathFor(binPath string) string {
	return strings.TrimSuffix(binPath, filepath.Ext(binPath)) + "_info.txt"
}
