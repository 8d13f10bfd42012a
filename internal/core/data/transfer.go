package data

import (
	"time"

	"gorm.io/gorm"
)

// Operations recorded in the transfer history.
const (
	OperationUpload   = "upload"
	OperationDownload = "download"
	OperationDelete   = "delete"
)

// TransferRecord is one completed upload, download or delete.
type TransferRecord struct {
	ID        uint64 `gorm:"primaryKey"`
	Username  string `gorm:"index; not null"`
	Filename  string `gorm:"index; not null"`
	Operation string `gorm:"not null"`
	Bytes     int64
	CreatedAt time.Time
}

// RecordTransfer persists the TransferRecord to the database.
func RecordTransfer(db *gorm.DB, record *TransferRecord) error {
	return db.Create(record).Error
}

// RecentTransfers returns up to limit records, newest first.
func RecentTransfers(db *gorm.DB, limit int) ([]TransferRecord, error) {
	var records []TransferRecord
	err := db.Order("created_at desc, id desc").Limit(limit).Find(&records).Error
	return records, err
}

// TransfersForFile returns every record for filename, oldest first.
func TransfersForFile(db *gorm.DB, filename string) ([]TransferRecord, error) {
	var records []TransferRecord
	err := db.Where("filename = ?", filename).Order("id").Find(&records).Error
	return records, err
}
