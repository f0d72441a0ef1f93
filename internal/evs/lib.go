// Package evs APX 事件相机算法库
//
// 统一管理采集文件解码与事件流处理算法。
package evs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"apx-evs/internal/apxindex"
	"apx-evs/internal/apxrec"
	"apx-evs/internal/config"
	"apx-evs/internal/evcache"
	"apx-evs/internal/models"
	"apx-evs/internal/npz"
)

// ============================================================================
// 错误定义
// ============================================================================

// ErrNoEvents 整个采集文件未解码出任何事件
// 调用方收到该错误时不应写出归档文件
var ErrNoEvents = errors.New("no events decoded")

// ============================================================================
// 采集源
// ============================================================================

// Source 一个采集来源: 数据文件 + 记录索引 + 解码参数
type Source struct {
	BinPath  string
	InfoPath string
	Stamp    string
	Geom     config.Geometry
	Layout   config.PayloadLayout
}

// NewSource 按命名约定构造采集源, 分辨率与时间戳取自文件名
func NewSource(binPath string, layout config.PayloadLayout) (*Source, error) {
	geom, stamp, err := config.ParseCaptureName(binPath)
	if err != nil {
		return nil, err
	}

	return &Source{
		BinPath:  binPath,
		InfoPath: config.InfoPathFor(binPath),
		Stamp:    stamp,
		Geom:     geom,
		Layout:   layout,
	}, nil
}

// ============================================================================
// 解码流程
// ============================================================================

// Decode 解码整个采集文件为一条事件流
// 按索引逐记录读取载荷并解码, 记录时间戳由微秒换算为秒;
// 空记录被丢弃, 全部为空时返回 ErrNoEvents
func (s *Source) Decode() (*models.EventStream, error) {
	if err := s.Geom.Validate(); err != nil {
		return nil, err
	}

	parser := apxindex.NewInfoParser(s.InfoPath)
	if err := parser.Parse(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.BinPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stream := &models.EventStream{}
	for _, rec := range parser.Records {
		payload, err := apxrec.ReadPayload(f, rec, s.Geom, s.Layout)
		if err != nil {
			return nil, err
		}

		xs, ys, ps := apxrec.DecodePayload(payload, s.Geom)
		if len(xs) == 0 {
			continue
		}
		stream.AppendRecord(float64(rec.TimestampUs)*1e-6, xs, ys, ps)
	}

	if stream.Len() == 0 {
		return nil, ErrNoEvents
	}

	LogDebug("解码完成", "file", filepath.Base(s.BinPath),
		"records", len(parser.Records), "events", stream.Len())
	return stream, nil
}

// DecodeCached 带磁盘缓存的解码
// 首次解码后按列缓存, 之后 mmap 零拷贝读取
func (s *Source) DecodeCached() (*models.EventStream, error) {
	if evcache.Exists(s.BinPath, s.Geom, s.Layout) {
		cache, err := evcache.Load(s.BinPath, s.Geom, s.Layout)
		if err == nil {
			stream := cache.Stream()
			cache.Close()
			LogDebug("事件缓存 加载", "file", filepath.Base(s.BinPath), "events", stream.Len())
			return stream, nil
		}
		// 缓存无效, 继续解码原始文件
	}

	stream, err := s.Decode()
	if err != nil {
		return nil, err
	}

	if err := evcache.Save(s.BinPath, s.Geom, s.Layout, stream); err != nil {
		LogWarn("事件缓存 保存失败", "error", err)
	} else {
		LogDebug("事件缓存 保存", "file", filepath.Base(s.BinPath), "events", stream.Len())
	}

	return stream, nil
}

// ============================================================================
// 归档转换
// ============================================================================

// ConvertResult 转换结果
type ConvertResult struct {
	OutPath string
	Events  int
}

// Convert 解码采集文件并写出事件归档
// 输出命名为 events_<时间戳>.npz; 无事件时不落盘并返回 ErrNoEvents
func Convert(binPath, outDir string, layout config.PayloadLayout, useCache bool) (*ConvertResult, error) {
	src, err := NewSource(binPath, layout)
	if err != nil {
		return nil, err
	}

	var stream *models.EventStream
	if useCache {
		stream, err = src.DecodeCached()
	} else {
		stream, err = src.Decode()
	}
	if err != nil {
		return nil, err
	}

	if outDir == "" {
		outDir = filepath.Dir(binPath)
	}
	outPath := filepath.Join(outDir, fmt.Sprintf("events_%s.npz", src.Stamp))
	if err := npz.Write(outPath, stream); err != nil {
		return nil, err
	}

	fmt.Printf("[Convert] ✓ 已保存 %d 个事件到 %s\n", stream.Len(), outPath)
	return &ConvertResult{OutPath: outPath, Events: stream.Len()}, nil
}
