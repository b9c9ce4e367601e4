// Package measurement defines the normalized, technique-independent model of an
// electrochemical experiment: channels in canonical units plus metadata and provenance.
package measurement

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Metadata describes the experiment a measurement belongs to
type Metadata struct {
	SampleName string    `json:"sample_name" validate:"max=256"`
	Operator   string    `json:"operator,omitempty" validate:"max=128"`
	Instrument string    `json:"instrument,omitempty" validate:"max=128"`
	Channel    string    `json:"channel,omitempty" validate:"max=32"`
	Technique  Technique `json:"technique" validate:"required,technique"`
	// ElectrodeArea is the geometric electrode area in cm²
	ElectrodeArea decimal.Decimal `json:"electrode_area" validate:"gte=0"`
	// ActiveMass is the active material mass in g
	ActiveMass decimal.Decimal `json:"active_mass" validate:"gte=0"`
	// RotationRate is the electrode rotation rate in rpm for single-rate RDE files
	RotationRate decimal.Decimal `json:"rotation_rate" validate:"gte=0"`
	// Temperature in K, zero when unknown
	Temperature decimal.Decimal   `json:"temperature" validate:"gte=0"`
	StartTime   time.Time         `json:"start_time"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// Warning is a non-fatal problem found while reading or normalizing a file
type Warning struct {
	Row     int    `json:"row,omitempty"`
	Column  string `json:"column,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Provenance records where a measurement came from
type Provenance struct {
	SourceURI  string    `json:"source_uri" validate:"required"`
	Reader     string    `json:"reader" validate:"required"`
	Checksum   string    `json:"checksum,omitempty" validate:"omitempty,hexadecimal,len=64"`
	Size       int64     `json:"size" validate:"gte=0"`
	ImportedAt time.Time `json:"imported_at"`
	Warnings   []Warning `json:"warnings,omitempty"`
}

// Measurement is a normalized experiment record.
// All channels have the same number of samples and each quantity appears at most once.
type Measurement struct {
	shared.Identity
	Metadata   Metadata   `json:"metadata"`
	Provenance Provenance `json:"provenance"`
	Tags       []string   `json:"tags,omitempty"`
	channels   []*Channel
}

// NewMeasurement creates an empty measurement with a generated ID
func NewMeasurement(meta Metadata, prov Provenance) *Measurement {
	if meta.Technique == "" {
		meta.Technique = TechniqueUnknown
	}
	if prov.ImportedAt.IsZero() {
		prov.ImportedAt = time.Now()
	}
	return &Measurement{
		Identity:   shared.NewIdentity(),
		Metadata:   meta,
		Provenance: prov,
	}
}

// WithID replaces the generated ID, used when rehydrating stored records
func (m *Measurement) WithID(id uuid.UUID) *Measurement {
	m.ID = id
	return m
}

// AddChannel appends a channel.
// The channel must not duplicate an existing quantity and must match the current length.
func (m *Measurement) AddChannel(ch Channel) error {
	if ch.Quantity == "" {
		return shared.NewDomainError("INVALID_CHANNEL", "Channel quantity cannot be empty")
	}
	if _, ok := m.Channel(ch.Quantity); ok {
		return shared.NewDomainError("DUPLICATE_CHANNEL", fmt.Sprintf("Channel %s already exists", ch.Quantity))
	}
	if len(m.channels) > 0 && ch.Len() != m.Len() {
		return shared.NewDomainError("CHANNEL_LENGTH_MISMATCH",
			fmt.Sprintf("Channel %s has %d samples, expected %d", ch.Quantity, ch.Len(), m.Len()))
	}
	c := ch
	m.channels = append(m.channels, &c)
	m.Touch()
	return nil
}

// ReplaceChannel swaps the values of an existing channel, keeping its position
func (m *Measurement) ReplaceChannel(ch Channel) error {
	for i, existing := range m.channels {
		if existing.Quantity != ch.Quantity {
			continue
		}
		if ch.Len() != m.Len() {
			return shared.NewDomainError("CHANNEL_LENGTH_MISMATCH",
				fmt.Sprintf("Channel %s has %d samples, expected %d", ch.Quantity, ch.Len(), m.Len()))
		}
		c := ch
		m.channels[i] = &c
		m.Touch()
		return nil
	}
	return m.AddChannel(ch)
}

// Channel returns the channel for a quantity
func (m *Measurement) Channel(q Quantity) (*Channel, bool) {
	for _, c := range m.channels {
		if c.Quantity == q {
			return c, true
		}
	}
	return nil, false
}

// Values returns the samples of a quantity, or nil when absent
func (m *Measurement) Values(q Quantity) []float64 {
	if c, ok := m.Channel(q); ok {
		return c.Values
	}
	return nil
}

// Has reports whether every given quantity is present
func (m *Measurement) Has(qs ...Quantity) bool {
	for _, q := range qs {
		if _, ok := m.Channel(q); !ok {
			return false
		}
	}
	return true
}

// Channels returns the channels in insertion order
func (m *Measurement) Channels() []*Channel {
	out := make([]*Channel, len(m.channels))
	copy(out, m.channels)
	return out
}

// ChannelInfos describes the channels in insertion order
func (m *Measurement) ChannelInfos() []ChannelInfo {
	out := make([]ChannelInfo, 0, len(m.channels))
	for _, c := range m.channels {
		out = append(out, c.Info())
	}
	return out
}

// Quantities lists the quantities in insertion order
func (m *Measurement) Quantities() []Quantity {
	out := make([]Quantity, 0, len(m.channels))
	for _, c := range m.channels {
		out = append(out, c.Quantity)
	}
	return out
}

// Len returns the number of samples per channel
func (m *Measurement) Len() int {
	if len(m.channels) == 0 {
		return 0
	}
	return m.channels[0].Len()
}

// Select returns a new measurement holding only the rows at the given indices.
// The copy keeps metadata and provenance but gets its own ID.
func (m *Measurement) Select(indices []int) *Measurement {
	out := NewMeasurement(m.Metadata, m.Provenance)
	out.Tags = append([]string(nil), m.Tags...)
	for _, c := range m.channels {
		values := make([]float64, len(indices))
		for i, idx := range indices {
			values[i] = c.Values[idx]
		}
		out.channels = append(out.channels, &Channel{
			Quantity:   c.Quantity,
			Unit:       c.Unit,
			Values:     values,
			SourceName: c.SourceName,
		})
	}
	return out
}

// SplitBy groups rows by the integer value of a quantity, e.g. the cycle number.
// Keys are returned in ascending order. Rows with a NaN key are dropped.
func (m *Measurement) SplitBy(q Quantity) ([]int, map[int]*Measurement) {
	keyValues := m.Values(q)
	if keyValues == nil {
		return nil, nil
	}
	groups := make(map[int][]int)
	for i, v := range keyValues {
		if math.IsNaN(v) {
			continue
		}
		k := int(math.Round(v))
		groups[k] = append(groups[k], i)
	}
	keys := make([]int, 0, len(groups))
	out := make(map[int]*Measurement, len(groups))
	for k, rows := range groups {
		keys = append(keys, k)
		out[k] = m.Select(rows)
	}
	sort.Ints(keys)
	return keys, out
}

// AbsoluteTime returns the wall-clock time of sample i.
// ok is false without a start time or time channel.
func (m *Measurement) AbsoluteTime(i int) (time.Time, bool) {
	t := m.Values(QuantityTime)
	if m.Metadata.StartTime.IsZero() || t == nil || i < 0 || i >= len(t) || math.IsNaN(t[i]) {
		return time.Time{}, false
	}
	return m.Metadata.StartTime.Add(time.Duration(t[i] * float64(time.Second))), true
}

// Duration returns the span of the time channel
func (m *Measurement) Duration() time.Duration {
	c, ok := m.Channel(QuantityTime)
	if !ok {
		return 0
	}
	lo, hi, ok := c.Range()
	if !ok {
		return 0
	}
	return time.Duration((hi - lo) * float64(time.Second))
}

// AddTag adds a tag, keeping tags unique and sorted
func (m *Measurement) AddTag(tag string) {
	tag = strings.TrimSpace(strings.ToLower(tag))
	if tag == "" {
		return
	}
	idx := sort.SearchStrings(m.Tags, tag)
	if idx < len(m.Tags) && m.Tags[idx] == tag {
		return
	}
	m.Tags = append(m.Tags, "")
	copy(m.Tags[idx+1:], m.Tags[idx:])
	m.Tags[idx] = tag
}

// HasTag reports whether the measurement carries the tag
func (m *Measurement) HasTag(tag string) bool {
	tag = strings.TrimSpace(strings.ToLower(tag))
	idx := sort.SearchStrings(m.Tags, tag)
	return idx < len(m.Tags) && m.Tags[idx] == tag
}

// Summary returns the channel-free description kept by the catalog
func (m *Measurement) Summary() Summary {
	return Summary{
		ID:         m.ID,
		Metadata:   m.Metadata,
		Provenance: m.Provenance,
		Tags:       append([]string(nil), m.Tags...),
		Points:     m.Len(),
		Channels:   m.ChannelInfos(),
		CreatedAt:  m.CreatedAt,
	}
}
