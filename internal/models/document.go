package models

import "gorm.io/datatypes"

// Document is one schemaless record of the SQL document store. Fields holds a
// JSON envelope of scalar values together with their kinds. Version is bumped
// on every update and guards conditional writes.
type Document struct {
	BaseModel
	Collection string         `gorm:"size:128;index;not null" json:"collection"`
	Fields     datatypes.JSON `json:"fields"`
	Version    int64          `gorm:"not null;default:1" json:"version"`
}

// TableName pins the table name regardless of naming strategy.
func (Document) TableName() string {
	return "documents"
}
