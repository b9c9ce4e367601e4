package measurement

import (
	"math"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/units"
)

// Channel is one column of samples with its quantity and unit
type Channel struct {
	Quantity   Quantity   `json:"quantity"`
	Unit       units.Unit `json:"unit"`
	Values     []float64  `json:"values"`
	SourceName string     `json:"source_name,omitempty"`
}

// ChannelInfo describes a channel without its samples
type ChannelInfo struct {
	Quantity   Quantity `json:"quantity"`
	Unit       string   `json:"unit"`
	SourceName string   `json:"source_name,omitempty"`
}

// Len returns the number of samples
func (c *Channel) Len() int {
	return len(c.Values)
}

// Info returns the channel description
func (c *Channel) Info() ChannelInfo {
	return ChannelInfo{Quantity: c.Quantity, Unit: c.Unit.Symbol, SourceName: c.SourceName}
}

// Clone returns a deep copy of the channel
func (c *Channel) Clone() Channel {
	values := make([]float64, len(c.Values))
	copy(values, c.Values)
	return Channel{Quantity: c.Quantity, Unit: c.Unit, Values: values, SourceName: c.SourceName}
}

// Range returns the smallest and largest finite value.
// ok is false when the channel holds no finite value.
func (c *Channel) Range() (minV, maxV float64, ok bool) {
	minV, maxV = math.Inf(1), math.Inf(-1)
	for _, v := range c.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		ok = true
		minV = math.Min(minV, v)
		maxV = math.Max(maxV, v)
	}
	if !ok {
		return 0, 0, false
	}
	return minV, maxV, true
}
