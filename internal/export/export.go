package export

// ============================================================================
// 職責說明：
// 1. 將請求的 Final 快照序列化為 JSON 檔（plan --output）
// 2. 使用原子性寫入（temp file + rename）防止讀到寫一半的檔案
// 3. 載入時驗證 schema 版本相容性
// ============================================================================

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ChuLiYu/trip-planner/pkg/types"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	ErrCorruptedExport     = errors.New("export file is corrupted")
	ErrIncompatibleVersion = errors.New("export schema version is incompatible")
	ErrNotFinal            = errors.New("only the final snapshot can be exported")
)

// SchemaVersion is written into every export.
const SchemaVersion = 1

// Document is the on-disk format.
type Document struct {
	SchemaVer  int                     `json:"schema_version"`
	ExportedAt time.Time               `json:"exported_at"`
	Snapshot   types.AggregateSnapshot `json:"snapshot"`
}

// Exporter 快照匯出器
type Exporter struct {
	path string     // 匯出檔案路徑
	mu   sync.Mutex // 保護檔案操作
	now  func() time.Time
}

// NewExporter 建立匯出器
func NewExporter(path string) *Exporter {
	return &Exporter{path: path, now: time.Now}
}

// Path returns the export file path.
func (e *Exporter) Path() string { return e.path }

// Write 原子性寫入 Final 快照
//
// 流程：
// 1. 寫入臨時檔案（.tmp）並 fsync
// 2. 使用 os.Rename 原子性替換目標檔案
func (e *Exporter) Write(s types.AggregateSnapshot) error {
	if !s.IsFinal() {
		return fmt.Errorf("%w: stage %s", ErrNotFinal, s.Stage)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	doc := Document{SchemaVer: SchemaVersion, ExportedAt: e.now().UTC(), Snapshot: s}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if dir := filepath.Dir(e.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create export dir: %w", err)
		}
	}

	tmpPath := e.path + ".tmp"
	if err := writeSynced(tmpPath, data); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp export: %w", err)
	}
	if err := os.Rename(tmpPath, e.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename export: %w", err)
	}
	return nil
}

func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Load 載入匯出檔
//
// 錯誤：
//   - os.ErrNotExist: 檔案不存在
//   - ErrCorruptedExport: JSON 無法解析
//   - ErrIncompatibleVersion: schema 版本不符
func (e *Exporter) Load() (Document, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var doc Document
	data, err := os.ReadFile(e.path)
	if err != nil {
		return doc, fmt.Errorf("failed to read export: %w", err)
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("%w: %v", ErrCorruptedExport, err)
	}
	if doc.SchemaVer != SchemaVersion {
		return doc, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, doc.SchemaVer, SchemaVersion)
	}
	return doc, nil
}

// Exists 檢查匯出檔是否存在
func (e *Exporter) Exists() bool {
	_, err := os.Stat(e.path)
	return err == nil
}
