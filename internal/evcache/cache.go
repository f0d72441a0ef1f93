package evcache

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"apx-evs/internal/config"
	"apx-evs/internal/models"

	"golang.org/x/sys/unix"
)

// ============================================================================
// 事件流 mmap 缓存 - 零拷贝实现
// ============================================================================

// 缓存文件格式:
// Header (32 bytes):
//   Magic (4): "EVSC"
//   Version (4): 1
//   EventCount (4): N
//   Reserved (20)
// Events (N * eventSize bytes each) - 与 CachedEvent 内存布局一致

const (
	CacheMagic      = "EVSC"
	CacheVersion    = 1
	CacheHeaderSize = 32
)

// CachedEvent 缓存中单个事件的定长布局
// float64 放在开头确保 8 字节对齐, 尾部补齐到 16 字节
type CachedEvent struct {
	T float64
	X uint16
	Y uint16
	P int8
	_ [3]byte
}

var cachedEventSize = int(unsafe.Sizeof(CachedEvent{}))

// Cache mmap 事件缓存 - 零拷贝
type Cache struct {
	data   []byte        // mmap 原始数据
	Events []CachedEvent // 直接指向 mmap 的切片视图
}

var cacheDir string

func init() {
	// 默认缓存目录: 工作目录下的 .evs_cache
	cwd, err := os.Getwd()
	if err != nil {
		cacheDir = ".evs_cache"
	} else {
		cacheDir = filepath.Join(cwd, ".evs_cache")
	}
}

// SetCacheDir 设置缓存目录
func SetCacheDir(dir string) {
	cacheDir = dir
	os.MkdirAll(cacheDir, 0755)
}

// GetCacheDir 获取当前缓存目录
func GetCacheDir() string {
	return cacheDir
}

// cacheKey 计算采集文件的缓存标识
// 同一文件在不同分辨率或载荷布局下解码结果不同, 因此一并纳入哈希
func cacheKey(binPath string, geom config.Geometry, layout config.PayloadLayout) (string, error) {
	info, err := os.Stat(binPath)
	if err != nil {
		return "", err
	}

	identifier := fmt.Sprintf("%s:%d:%d:%dx%d:%s",
		filepath.Base(binPath), info.Size(), info.ModTime().Unix(),
		geom.Width, geom.Height, layout)
	hash := md5.Sum([]byte(identifier))
	return hex.EncodeToString(hash[:]), nil
}

func getCachePath(key string) string {
	return filepath.Join(cacheDir, key+".evc")
}

// Exists 检查缓存是否存在
func Exists(binPath string, geom config.Geometry, layout config.PayloadLayout) bool {
	key, err := cacheKey(binPath, geom, layout)
	if err != nil {
		return false
	}

	info, err := os.Stat(getCachePath(key))
	if err != nil {
		return false
	}
	return info.Size() >= CacheHeaderSize
}

// Save 将解码结果按 CachedEvent 布局写入缓存文件
func Save(binPath string, geom config.Geometry, layout config.PayloadLayout, s *models.EventStream) error {
	if s.Len() == 0 {
		return nil
	}

	key, err := cacheKey(binPath, geom, layout)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return err
	}

	events := make([]CachedEvent, s.Len())
	for i := range events {
		events[i] = CachedEvent{T: s.T[i], X: s.X[i], Y: s.Y[i], P: s.P[i]}
	}

	f, err := os.Create(getCachePath(key))
	if err != nil {
		return err
	}

	err = writeCache(f, events)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	fmt.Printf("[EvCache] 保存: %s -> %s.evc (%d 个事件)\n",
		filepath.Base(binPath), key, len(events))
	return nil
}

// writeCache 写出头部与事件区, 刷盘失败由调用方通过 Close 错误发现
func writeCache(f *os.File, events []CachedEvent) error {
	header := make([]byte, CacheHeaderSize)
	copy(header[0:4], CacheMagic)
	binary.LittleEndian.PutUint32(header[4:8], CacheVersion)
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(events)))
	if _, err := f.Write(header); err != nil {
		return err
	}

	// 直接写入结构体内存, 读取时零拷贝
	data := unsafe.Slice((*byte)(unsafe.Pointer(&events[0])), len(events)*cachedEventSize)
	_, err := f.Write(data)
	return err
}

// Load 使用 mmap 加载事件缓存 (零拷贝)
func Load(binPath string, geom config.Geometry, layout config.PayloadLayout) (*Cache, error) {
	key, err := cacheKey(binPath, geom, layout)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(getCachePath(key))
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	size := int(info.Size())
	if size < CacheHeaderSize {
		f.Close()
		return nil, fmt.Errorf("cache file too small: %d", size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, err
	}

	// mmap 完成后即可关闭 fd, 映射依然有效
	f.Close()

	if string(data[0:4]) != CacheMagic {
		unix.Munmap(data)
		return nil, fmt.Errorf("invalid cache magic")
	}

	version := binary.LittleEndian.Uint32(data[4:8])
	if version != CacheVersion {
		unix.Munmap(data)
		return nil, fmt.Errorf("cache version mismatch: got %d, want %d", version, CacheVersion)
	}

	count := int(binary.LittleEndian.Uint32(data[8:12]))
	if size < CacheHeaderSize+count*cachedEventSize {
		unix.Munmap(data)
		return nil, fmt.Errorf("cache file truncated")
	}

	cache := &Cache{data: data}

	// 零拷贝: 直接将 mmap 内存解释为 []CachedEvent
	if count > 0 {
		ptr := unsafe.Pointer(&data[CacheHeaderSize])
		cache.Events = unsafe.Slice((*CachedEvent)(ptr), count)
	}

	return cache, nil
}

// Close 释放 mmap 映射
func (c *Cache) Close() error {
	if c.data == nil {
		return nil
	}
	err := unix.Munmap(c.data)
	c.data = nil
	c.Events = nil
	return err
}

// Count 返回缓存的事件数量
func (c *Cache) Count() int {
	return len(c.Events)
}

// Stream 从缓存视图复制出事件流, 复制后可安全 Close
func (c *Cache) Stream() *models.EventStream {
	s := &models.EventStream{
		T: make([]float64, len(c.Events)),
		X: make([]uint16, len(c.Events)),
		Y: make([]uint16, len(c.Events)),
		P: make([]int8, len(c.Events)),
	}
	for i, ev := range c.Events {
		s.T[i] = ev.T
		s.X[i] = ev.X
		s.Y[i] = ev.Y
		s.P[i] = ev.P
	}
	return s
}
