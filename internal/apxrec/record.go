package apxrec

import (
	"fmt"
	"io"
	"os"

	"apx-evs/internal/config"
	"apx-evs/internal/models"
)

// TruncatedRecordError 采集文件数据不足以覆盖索引声明的记录
type TruncatedRecordError struct {
	Offset int64
	Want   int64
	Got    int64
}

func (e *TruncatedRecordError) Error() string {
	return fmt.Sprintf("记录块不完整: 偏移 %d 处需要 %d 字节, 实际 %d 字节",
		e.Offset, e.Want, e.Got)
}

// ReadBlock 按索引记录读取一个完整数据块
// 会移动文件游标, 调用方不得跨协程共享同一句柄
func ReadBlock(f *os.File, rec models.Record) ([]byte, error) {
	if _, err := f.Seek(rec.Offset, io.SeekStart); err != nil {
		return nil, err
	}

	block := make([]byte, rec.Length)
	n, err := io.ReadFull(f, block)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return nil, &TruncatedRecordError{Offset: rec.Offset, Want: rec.Length, Got: int64(n)}
	}
	if err != nil {
		return nil, err
	}
	return block, nil
}

// ExtractPayload 从数据块中取出定长事件载荷
// 布局由采集来源决定, 文件本身不携带该信息:
//   - LayoutTrailing  载荷为块末尾 PayloadSize 字节
//   - LayoutHeader128 载荷从 128 字节块头部之后开始
func ExtractPayload(block []byte, rec models.Record, geom config.Geometry, layout config.PayloadLayout) ([]byte, error) {
	size := geom.PayloadSize()

	if layout == config.LayoutTrailing {
		if len(block) < size {
			return nil, &TruncatedRecordError{Offset: rec.Offset, Want: int64(size), Got: int64(len(block))}
		}
		return block[len(block)-size:], nil
	}

	end := config.BlockHeaderSize + size
	if len(block) < end {
		return nil, &TruncatedRecordError{Offset: rec.Offset, Want: int64(end), Got: int64(len(block))}
	}
	return block[config.BlockHeaderSize:end], nil
}

// ReadPayload 读取并提取一条记录的事件载荷
func ReadPayload(f *os.File, rec models.Record, geom config.Geometry, layout config.PayloadLayout) ([]byte, error) {
	block, err := ReadBlock(f, rec)
	if err != nil {
		return nil, err
	}
	return ExtractPayload(block, rec, geom, layout)
}
