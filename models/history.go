package models

import "time"

// HistoryEntry records one conversion whose original was kept as a backup
type HistoryEntry struct {
	ItemID         string    `json:"item_id"`
	OriginalFormat string    `json:"original_format"`
	OriginalPath   string    `json:"original_path"`
	BackupKey      string    `json:"backup_key"`
	BackupBackend  string    `json:"backup_backend"`
	ConvertedPath  string    `json:"converted_path"`
	ConvertedAt    time.Time `json:"converted_at"`
}

// RedirectMapping maps a retired public path to its replacement
type RedirectMapping struct {
	OldPath    string    `json:"old_path"`
	TargetPath string    `json:"target_path"`
	CreatedAt  time.Time `json:"created_at"`
}
