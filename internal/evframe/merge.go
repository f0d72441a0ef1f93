package evframe

import (
	"fmt"
	"path/filepath"
	"sort"

	"apx-evs/internal/models"
	"apx-evs/internal/npz"
)

// MergeReport 合并统计
type MergeReport struct {
	Files         int
	Events        int
	DistinctTimes int
	OutPath       string
}

// MergeDir 合并目录下全部事件归档为一个
// 按文件名字典序拼接四列, 可选按时间戳稳定排序 (同刻事件保持原顺序);
// 输出文件自身不参与合并
func MergeDir(dir, outPath string, sortByTime bool) (*MergeReport, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.npz"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	absOut, _ := filepath.Abs(outPath)

	merged := &models.EventStream{}
	count := 0
	for _, file := range files {
		if abs, _ := filepath.Abs(file); abs == absOut {
			continue
		}

		s, err := npz.Read(file)
		if err != nil {
			return nil, fmt.Errorf("读取 %s 失败: %w", file, err)
		}

		merged.Concat(s)
		count++
		fmt.Printf("[Merge] %s: %d 个事件\n", filepath.Base(file), s.Len())
	}

	if count == 0 {
		return nil, fmt.Errorf("目录中没有可合并的归档: %s", dir)
	}

	if sortByTime {
		merged.SortByTime()
	}

	if err := npz.Write(outPath, merged); err != nil {
		return nil, err
	}

	distinct := merged.DistinctTimes()
	fmt.Printf("[Merge] ✓ 合并完成, %d 个瞬间中共有 %d 个事件, 已保存到: %s\n",
		distinct, merged.Len(), outPath)
	return &MergeReport{
		Files:         count,
		Events:        merged.Len(),
		DistinctTimes: distinct,
		OutPath:       outPath,
	}, nil
}
