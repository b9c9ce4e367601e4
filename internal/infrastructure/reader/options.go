package reader

// Options controls how the readers decode and interpret text exports
type Options struct {
	// Encoding is "auto" or an encoding label such as "windows-1252" or "utf-16le"
	Encoding string `mapstructure:"encoding"`
	// Delimiter forces the field delimiter of delimited files; 0 sniffs it
	Delimiter rune `mapstructure:"-"`
	// DecimalSeparator is '.', ',' or 0 to accept both
	DecimalSeparator rune `mapstructure:"-"`
	// MaxErrors caps the number of row diagnostics kept per file
	MaxErrors int `mapstructure:"max_errors"`
}

// DefaultOptions returns options that auto-detect encoding and decimal separator
func DefaultOptions() Options {
	return Options{
		Encoding:  EncodingAuto,
		MaxErrors: 100,
	}
}

func (o Options) withDefaults() Options {
	if o.Encoding == "" {
		o.Encoding = EncodingAuto
	}
	if o.MaxErrors <= 0 {
		o.MaxErrors = 100
	}
	return o
}

// ParseDecimalSeparator converts a configuration value into a separator rune
func ParseDecimalSeparator(s string) rune {
	switch s {
	case ".", "dot", "point":
		return '.'
	case ",", "comma":
		return ','
	default:
		return 0
	}
}
