package apxindex

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"apx-evs/internal/models"
)

// FormatError 索引表字段无法解析为整数
type FormatError struct {
	Line  int
	Field string
	Value string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("索引表第 %d 行 %s 字段无法解析: %q", e.Line, e.Field, e.Value)
}

// columns 三个数据列的位置, 解析循环开始前确定一次
type columns struct {
	ts     int
	offset int
	length int
}

// need 一行至少要有的字段数
func (c columns) need() int {
	n := c.ts
	if c.offset > n {
		n = c.offset
	}
	if c.length > n {
		n = c.length
	}
	if n < 3 {
		n = 3
	}
	return n + 1
}

// defaultColumns 无表头时的固定列位置: index,timestamp,offset,length
func defaultColumns() columns {
	return columns{ts: 1, offset: 2, length: 3}
}

// InfoParser 记录索引表解析器
// 索引表为逗号分隔文本, 表头行可有可无 (含 "timestamp" 字样视为表头)
type InfoParser struct {
	FilePath string
	Records  []models.Record
	Skipped  int // 字段不足或取值非法而被跳过的行数
}

// NewInfoParser 创建解析器
func NewInfoParser(filePath string) *InfoParser {
	return &InfoParser{
		FilePath: filePath,
	}
}

// Parse 解析索引表
func (p *InfoParser) Parse() error {
	f, err := os.Open(p.FilePath)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	cols := defaultColumns()
	lineNo := 0

	// 首行: 含 "timestamp" 视为表头并按列名定位, 否则按固定列当作数据
	if sc.Scan() {
		lineNo++
		first := strings.TrimSpace(sc.Text())
		parts := strings.Split(first, ",")
		if strings.Contains(first, "timestamp") {
			cols, err = resolveColumns(parts, lineNo)
			if err != nil {
				return err
			}
		} else if len(parts) >= cols.need() {
			if err := p.appendRow(parts, cols, lineNo); err != nil {
				return err
			}
		} else if first != "" {
			p.Skipped++
		}
	}

	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		parts := strings.Split(line, ",")
		if len(parts) < cols.need() {
			fmt.Printf("[Index] 第 %d 行字段不足, 已跳过\n", lineNo)
			p.Skipped++
			continue
		}

		if err := p.appendRow(parts, cols, lineNo); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}

	fmt.Printf("[Index] 解析完成: %d 条记录\n", len(p.Records))
	return nil
}

// resolveColumns 按列名定位 timestamp/offset/length
func resolveColumns(header []string, lineNo int) (columns, error) {
	find := func(name string) (int, error) {
		for i, h := range header {
			if strings.TrimSpace(h) == name {
				return i, nil
			}
		}
		return 0, &FormatError{Line: lineNo, Field: name, Value: strings.Join(header, ",")}
	}

	var cols columns
	var err error
	if cols.ts, err = find("timestamp"); err != nil {
		return cols, err
	}
	if cols.offset, err = find("offset"); err != nil {
		return cols, err
	}
	if cols.length, err = find("length"); err != nil {
		return cols, err
	}
	return cols, nil
}

func (p *InfoParser) appendRow(parts []string, cols columns, lineNo int) error {
	ts, err := parseField(parts, cols.ts, "timestamp", lineNo)
	if err != nil {
		return err
	}
	offset, err := parseField(parts, cols.offset, "offset", lineNo)
	if err != nil {
		return err
	}
	length, err := parseField(parts, cols.length, "length", lineNo)
	if err != nil {
		return err
	}

	// 跳过取值非法的行
	if ts < 0 || offset < 0 || length <= 0 {
		fmt.Printf("[Index] 第 %d 行取值非法 (ts=%d offset=%d length=%d), 已跳过\n",
			lineNo, ts, offset, length)
		p.Skipped++
		return nil
	}

	p.Records = append(p.Records, models.Record{
		TimestampUs: ts,
		Offset:      offset,
		Length:      length,
	})
	return nil
}

func parseField(parts []string, idx int, name string, lineNo int) (int64, error) {
	raw := strings.TrimSpace(parts[idx])
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, &FormatError{Line: lineNo, Field: name, Value: raw}
	}
	return v, nil
}
