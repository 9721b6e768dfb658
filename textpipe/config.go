package textpipe

import (
	"log/slog"
	"time"
)

// Heuristics gathers every tunable threshold the pipeline uses. They started
// life as calibrated literals in the original extraction code; keeping them
// in one struct makes them independently testable and overridable.
type Heuristics struct {
	// Layout reconstruction.
	LineYTolerance        float64 `json:"line_y_tolerance" yaml:"line_y_tolerance"`                 // blocks within this top-Y distance share a line
	ColumnGapRatio        float64 `json:"column_gap_ratio" yaml:"column_gap_ratio"`                 // gap > pageWidth*ratio splits columns
	ColumnGapMin          float64 `json:"column_gap_min" yaml:"column_gap_min"`                     // absolute floor for the column gap
	ColumnPad             float64 `json:"column_pad" yaml:"column_pad"`                             // padding applied to column bounds
	HeadingUppercaseRatio float64 `json:"heading_uppercase_ratio" yaml:"heading_uppercase_ratio"`   // uppercase/alphabetic ratio for heading detection
	HeadingShortMax       int     `json:"heading_short_max" yaml:"heading_short_max"`               // max significant chars for the short-heading rule
	TableMinRows          int     `json:"table_min_rows" yaml:"table_min_rows"`                     // consecutive aligned lines to form a table
	TableMinCells         int     `json:"table_min_cells" yaml:"table_min_cells"`                   // non-empty blocks per line to count as a row
	SyntheticLineHeight   float64 `json:"synthetic_line_height" yaml:"synthetic_line_height"`       // pseudo-line height for docx/text layouts
	SyntheticWrapWidth    int     `json:"synthetic_wrap_width" yaml:"synthetic_wrap_width"`         // rune width for synthetic line wrapping

	// Quality acceptance (see Assess / Acceptable).
	AcceptLength         int     `json:"accept_length" yaml:"accept_length"`                   // length alone suffices
	AcceptLengthCyr      int     `json:"accept_length_cyr" yaml:"accept_length_cyr"`           // length floor when combined with cyrillic count
	AcceptCyrCount       int     `json:"accept_cyr_count" yaml:"accept_cyr_count"`             // cyrillic chars needed with AcceptLengthCyr
	AcceptLengthDigit    int     `json:"accept_length_digit" yaml:"accept_length_digit"`       // length floor when combined with digit count
	AcceptDigitCount     int     `json:"accept_digit_count" yaml:"accept_digit_count"`         // digits needed with AcceptLengthDigit
	AcceptMixedLength    int     `json:"accept_mixed_length" yaml:"accept_mixed_length"`       // length floor for the mixed rule
	AcceptMixedCyr       int     `json:"accept_mixed_cyr" yaml:"accept_mixed_cyr"`             // cyrillic floor for the mixed rule
	AcceptMixedDigits    int     `json:"accept_mixed_digits" yaml:"accept_mixed_digits"`       // digit floor for the mixed rule
	AcceptScore          float64 `json:"accept_score" yaml:"accept_score"`                     // score alone suffices
	PatchScoreThreshold  float64 `json:"patch_score_threshold" yaml:"patch_score_threshold"`   // pages scoring below this get OCR-patched
	MinOCRChars          int     `json:"min_ocr_chars" yaml:"min_ocr_chars"`                   // full-document OCR below this is "unreadable"
}

func defaultHeuristics() Heuristics {
	return Heuristics{
		LineYTolerance:        6,
		ColumnGapRatio:        0.08,
		ColumnGapMin:          42,
		ColumnPad:             2,
		HeadingUppercaseRatio: 0.65,
		HeadingShortMax:       32,
		TableMinRows:          3,
		TableMinCells:         3,
		SyntheticLineHeight:   20,
		SyntheticWrapWidth:    90,

		AcceptLength:        200,
		AcceptLengthCyr:     120,
		AcceptCyrCount:      40,
		AcceptLengthDigit:   120,
		AcceptDigitCount:    30,
		AcceptMixedLength:   70,
		AcceptMixedCyr:      20,
		AcceptMixedDigits:   2,
		AcceptScore:         12,
		PatchScoreThreshold: 0.12,
		MinOCRChars:         40,
	}
}

// Config configures the pipeline.
type Config struct {
	// MaxFileSize is the maximum input size to process (default: 100 MB).
	MaxFileSize int64 `json:"max_file_size" yaml:"max_file_size"`

	// Heuristics holds every layout/quality threshold. Zero fields are
	// filled with defaults.
	Heuristics Heuristics `json:"heuristics" yaml:"heuristics"`

	// OCR defaults applied when request options leave them unset.
	OCRLanguages []string `json:"ocr_languages" yaml:"ocr_languages"`
	OCRPageLimit int      `json:"ocr_page_limit" yaml:"ocr_page_limit"`

	// RemoteEndpoint is the extraction fallback service URL. Empty disables it.
	RemoteEndpoint string `json:"remote_endpoint" yaml:"remote_endpoint"`

	// Timeouts for outbound calls. Timeout is a normal fallback-continue
	// condition, never fatal.
	RemoteTimeout time.Duration `json:"remote_timeout" yaml:"remote_timeout"`
	OCRTimeout    time.Duration `json:"ocr_timeout" yaml:"ocr_timeout"`

	// Logger for debug/warn messages.
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 100 * 1024 * 1024
	}
	def := defaultHeuristics()
	h := &c.Heuristics
	if h.LineYTolerance <= 0 {
		h.LineYTolerance = def.LineYTolerance
	}
	if h.ColumnGapRatio <= 0 {
		h.ColumnGapRatio = def.ColumnGapRatio
	}
	if h.ColumnGapMin <= 0 {
		h.ColumnGapMin = def.ColumnGapMin
	}
	if h.ColumnPad <= 0 {
		h.ColumnPad = def.ColumnPad
	}
	if h.HeadingUppercaseRatio <= 0 {
		h.HeadingUppercaseRatio = def.HeadingUppercaseRatio
	}
	if h.HeadingShortMax <= 0 {
		h.HeadingShortMax = def.HeadingShortMax
	}
	if h.TableMinRows <= 0 {
		h.TableMinRows = def.TableMinRows
	}
	if h.TableMinCells <= 0 {
		h.TableMinCells = def.TableMinCells
	}
	if h.SyntheticLineHeight <= 0 {
		h.SyntheticLineHeight = def.SyntheticLineHeight
	}
	if h.SyntheticWrapWidth <= 0 {
		h.SyntheticWrapWidth = def.SyntheticWrapWidth
	}
	if h.AcceptLength <= 0 {
		h.AcceptLength = def.AcceptLength
	}
	if h.AcceptLengthCyr <= 0 {
		h.AcceptLengthCyr = def.AcceptLengthCyr
	}
	if h.AcceptCyrCount <= 0 {
		h.AcceptCyrCount = def.AcceptCyrCount
	}
	if h.AcceptLengthDigit <= 0 {
		h.AcceptLengthDigit = def.AcceptLengthDigit
	}
	if h.AcceptDigitCount <= 0 {
		h.AcceptDigitCount = def.AcceptDigitCount
	}
	if h.AcceptMixedLength <= 0 {
		h.AcceptMixedLength = def.AcceptMixedLength
	}
	if h.AcceptMixedCyr <= 0 {
		h.AcceptMixedCyr = def.AcceptMixedCyr
	}
	if h.AcceptMixedDigits <= 0 {
		h.AcceptMixedDigits = def.AcceptMixedDigits
	}
	if h.AcceptScore <= 0 {
		h.AcceptScore = def.AcceptScore
	}
	if h.PatchScoreThreshold <= 0 {
		h.PatchScoreThreshold = def.PatchScoreThreshold
	}
	if h.MinOCRChars <= 0 {
		h.MinOCRChars = def.MinOCRChars
	}
	if len(c.OCRLanguages) == 0 {
		c.OCRLanguages = []string{"eng", "rus"}
	}
	if c.OCRPageLimit <= 0 {
		c.OCRPageLimit = 20
	}
	if c.RemoteTimeout <= 0 {
		c.RemoteTimeout = 30 * time.Second
	}
	if c.OCRTimeout <= 0 {
		c.OCRTimeout = 60 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
