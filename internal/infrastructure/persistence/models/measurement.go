package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/measurement"
)

// MeasurementModel is the persistence model for a measurement summary.
// Channel samples are not stored; the catalog keeps metadata, provenance and
// the channel layout so the raw file can be located and re-imported.
type MeasurementModel struct {
	BaseModel
	SampleName    string          `gorm:"type:varchar(256);not null;default:'';index"`
	Operator      string          `gorm:"type:varchar(128);not null;default:''"`
	Instrument    string          `gorm:"type:varchar(128);not null;default:''"`
	Channel       string          `gorm:"type:varchar(32);not null;default:''"`
	Technique     string          `gorm:"type:varchar(32);not null;index"`
	ElectrodeArea decimal.Decimal `gorm:"type:decimal(24,12);not null;default:0"`
	ActiveMass    decimal.Decimal `gorm:"type:decimal(24,12);not null;default:0"`
	RotationRate  decimal.Decimal `gorm:"type:decimal(24,12);not null;default:0"`
	Temperature   decimal.Decimal `gorm:"type:decimal(24,12);not null;default:0"`
	StartTime     time.Time       `gorm:"not null;index"`
	Extra         string          `gorm:"type:text;not null;default:'{}'"`
	SourceURI     string          `gorm:"type:text;not null"`
	Reader        string          `gorm:"type:varchar(64);not null"`
	Checksum      *string         `gorm:"type:char(64);uniqueIndex"`
	Size          int64           `gorm:"not null;default:0"`
	ImportedAt    time.Time       `gorm:"not null"`
	Warnings      string          `gorm:"type:text;not null;default:'[]'"`
	Tags          string          `gorm:"type:text;not null;default:''"`
	Points        int             `gorm:"not null;default:0"`
	Channels      string          `gorm:"type:text;not null;default:'[]'"`
}

// TableName returns the table name for GORM
func (MeasurementModel) TableName() string {
	return "measurements"
}

// TagPattern returns the LIKE pattern matching one tag in the Tags column
func TagPattern(tag string) string {
	return "%," + strings.ToLower(strings.TrimSpace(tag)) + ",%"
}

// encodeTags stores tags as ",a,b," so that a single tag can be matched with LIKE
func encodeTags(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	return "," + strings.Join(tags, ",") + ","
}

func decodeTags(s string) []string {
	s = strings.Trim(s, ",")
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// ToDomain converts the persistence model to a domain Summary.
func (m *MeasurementModel) ToDomain() (*measurement.Summary, error) {
	s := &measurement.Summary{
		ID: m.ID,
		Metadata: measurement.Metadata{
			SampleName:    m.SampleName,
			Operator:      m.Operator,
			Instrument:    m.Instrument,
			Channel:       m.Channel,
			Technique:     measurement.Technique(m.Technique),
			ElectrodeArea: m.ElectrodeArea,
			ActiveMass:    m.ActiveMass,
			RotationRate:  m.RotationRate,
			Temperature:   m.Temperature,
			StartTime:     m.StartTime,
		},
		Provenance: measurement.Provenance{
			SourceURI:  m.SourceURI,
			Reader:     m.Reader,
			Size:       m.Size,
			ImportedAt: m.ImportedAt,
		},
		Tags:      decodeTags(m.Tags),
		Points:    m.Points,
		CreatedAt: m.CreatedAt,
	}
	if m.Checksum != nil {
		s.Provenance.Checksum = *m.Checksum
	}
	if err := unmarshalColumn("extra", m.Extra, &s.Metadata.Extra); err != nil {
		return nil, err
	}
	if err := unmarshalColumn("warnings", m.Warnings, &s.Provenance.Warnings); err != nil {
		return nil, err
	}
	if err := unmarshalColumn("channels", m.Channels, &s.Channels); err != nil {
		return nil, err
	}
	return s, nil
}

// FromDomain populates the persistence model from a domain Summary.
func (m *MeasurementModel) FromDomain(s *measurement.Summary) error {
	m.stamp(s.ID, s.CreatedAt)

	meta := s.Metadata
	m.SampleName = meta.SampleName
	m.Operator = meta.Operator
	m.Instrument = meta.Instrument
	m.Channel = meta.Channel
	m.Technique = string(meta.Technique)
	m.ElectrodeArea = meta.ElectrodeArea
	m.ActiveMass = meta.ActiveMass
	m.RotationRate = meta.RotationRate
	m.Temperature = meta.Temperature
	m.StartTime = meta.StartTime.UTC()

	prov := s.Provenance
	m.SourceURI = prov.SourceURI
	m.Reader = prov.Reader
	m.Checksum = nil
	if prov.Checksum != "" {
		sum := strings.ToLower(prov.Checksum)
		m.Checksum = &sum
	}
	m.Size = prov.Size
	m.ImportedAt = prov.ImportedAt.UTC()
	if m.ImportedAt.IsZero() {
		m.ImportedAt = m.CreatedAt
	}
	m.Tags = encodeTags(s.Tags)
	m.Points = s.Points

	var err error
	if m.Extra, err = marshalColumn("extra", meta.Extra, "{}"); err != nil {
		return err
	}
	if m.Warnings, err = marshalColumn("warnings", prov.Warnings, "[]"); err != nil {
		return err
	}
	if m.Channels, err = marshalColumn("channels", s.Channels, "[]"); err != nil {
		return err
	}
	return nil
}

func marshalColumn[T any](column string, v T, empty string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", column, err)
	}
	if string(b) == "null" {
		return empty, nil
	}
	return string(b), nil
}

func unmarshalColumn(column, raw string, dst any) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("decode %s: %w", column, err)
	}
	return nil
}
