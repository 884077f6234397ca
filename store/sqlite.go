// Copyright © 2020 Ispirata Srl
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"errors"
	"fmt"

	"github.com/astarte-platform/astarte-device-sdk-go/interfaces"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// propertyRow is the gorm model backing the properties table. Value is stored as a gob-encoded
// BLOB, independent of whatever wire encoding a transport adapter uses.
type propertyRow struct {
	Interface string `gorm:"primaryKey"`
	Path      string `gorm:"primaryKey"`
	Major     int
	Ownership string
	Value     []byte
}

func (propertyRow) TableName() string { return "properties" }

// SQLiteStore is a Store backed by an embedded SQLite database via gorm.
type SQLiteStore struct {
	db *gorm.DB
}

// OpenSQLiteStore opens (creating if needed) a SQLite-backed property store at path. Use
// "file::memory:?cache=shared" for an ephemeral, on-disk-format-compatible store in tests.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	if err := db.AutoMigrate(&propertyRow{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Store(interfaceName string, major int, path string, ownership interfaces.Ownership, value *interfaces.Value) error {
	if value == nil {
		return s.Delete(interfaceName, path)
	}

	encoded, err := value.GobEncode()
	if err != nil {
		return fmt.Errorf("store: encode value: %w", err)
	}

	row := propertyRow{
		Interface: interfaceName,
		Path:      path,
		Major:     major,
		Ownership: string(ownership),
		Value:     encoded,
	}
	return s.db.Save(&row).Error
}

func (s *SQLiteStore) Load(interfaceName string, major int, path string) (*StoredProperty, error) {
	var row propertyRow
	err := s.db.First(&row, "\"interface\" = ? AND path = ?", interfaceName, path).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if row.Major != major {
		if err := s.Delete(interfaceName, path); err != nil {
			return nil, err
		}
		return nil, nil
	}

	return s.toStoredProperty(row)
}

func (s *SQLiteStore) Delete(interfaceName, path string) error {
	return s.db.Delete(&propertyRow{}, "\"interface\" = ? AND path = ?", interfaceName, path).Error
}

func (s *SQLiteStore) DeleteByInterface(interfaceName string) error {
	return s.db.Delete(&propertyRow{}, "\"interface\" = ?", interfaceName).Error
}

func (s *SQLiteStore) Clear() error {
	return s.db.Exec("DELETE FROM properties").Error
}

func (s *SQLiteStore) AllProperties() ([]StoredProperty, error) {
	var rows []propertyRow
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	return s.toStoredProperties(rows)
}

func (s *SQLiteStore) PropertiesByInterface(interfaceName string) ([]StoredProperty, error) {
	var rows []propertyRow
	if err := s.db.Find(&rows, "\"interface\" = ?", interfaceName).Error; err != nil {
		return nil, err
	}
	return s.toStoredProperties(rows)
}

func (s *SQLiteStore) PropertiesByOwnership(ownership interfaces.Ownership) ([]StoredProperty, error) {
	var rows []propertyRow
	if err := s.db.Find(&rows, "ownership = ?", string(ownership)).Error; err != nil {
		return nil, err
	}
	return s.toStoredProperties(rows)
}

func (s *SQLiteStore) toStoredProperty(row propertyRow) (*StoredProperty, error) {
	ownership, err := validateOwnership(row.Ownership)
	if err != nil {
		return nil, err
	}
	var value interfaces.Value
	if err := value.GobDecode(row.Value); err != nil {
		return nil, fmt.Errorf("store: decode value for %s%s: %w", row.Interface, row.Path, err)
	}
	return &StoredProperty{
		Interface: row.Interface,
		Major:     row.Major,
		Path:      row.Path,
		Ownership: ownership,
		Value:     value,
	}, nil
}

func (s *SQLiteStore) toStoredProperties(rows []propertyRow) ([]StoredProperty, error) {
	out := make([]StoredProperty, 0, len(rows))
	for _, row := range rows {
		sp, err := s.toStoredProperty(row)
		if err != nil {
			return nil, err
		}
		out = append(out, *sp)
	}
	return out, nil
}

var _ Store = (*SQLiteStore)(nil)
