package manifest

import (
	"fmt"
	"strconv"
	"strings"
)

// Row is one flat manifest row as delivered by the remote service.
type Row = map[string]any

// RowHook lets callers normalize or mutate a row before decoding.
type RowHook func(Row) (Row, error)

// EntryHook lets callers adjust or validate the decoded entry.
type EntryHook func(*Entry) error

// DecoderOption configures a Decoder instance.
type DecoderOption func(*Decoder)

// WithPreHook applies hook prior to decoding.
func WithPreHook(hook RowHook) DecoderOption {
	return func(d *Decoder) {
		d.pre = append(d.pre, hook)
	}
}

// WithPostHook applies hook after decoding.
func WithPostHook(hook EntryHook) DecoderOption {
	return func(d *Decoder) {
		d.post = append(d.post, hook)
	}
}

// Decoder converts loosely-typed manifest rows into strongly-typed entries.
// This is the single normalization point: keys are lower-cased, plural and
// singular spellings collapse, and value shapes (string, comma list, array,
// number) are unified here so nothing downstream touches raw rows.
type Decoder struct {
	pre  []RowHook
	post []EntryHook
}

// NewDecoder constructs a Decoder. LowercaseKeys always runs first.
func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{pre: []RowHook{LowercaseKeys}}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Decode converts one (possibly aggregated) row into an Entry.
func (d *Decoder) Decode(row Row) (*Entry, error) {
	var err error
	for _, hook := range d.pre {
		if hook == nil {
			continue
		}
		if row, err = hook(row); err != nil {
			return nil, fmt.Errorf("manifest: pre-decode hook: %w", err)
		}
	}

	// The experiment id outranks display names: grouping and override
	// matching key on Name(), so a row carrying both must resolve under
	// its id.
	entry := &Entry{
		Selector:  firstString(row, "selector"),
		URLs:      stringsOf(row, "url", "urls"),
		Pages:     stringsOf(row, "page", "pages"),
		Audiences: stringsOf(row, "audience", "audiences"),
		Names:     stringsOf(row, "experiment", "name", "names"),
		Splits:    floatsOf(row, "split", "splits"),
		Status:    firstString(row, "status"),
		StartDate: firstString(row, "start-date", "startdate"),
		EndDate:   firstString(row, "end-date", "enddate"),
	}
	if entry.Selector == "" {
		return nil, fmt.Errorf("manifest: row has no selector")
	}
	if len(entry.URLs) == 0 {
		return nil, fmt.Errorf("manifest: row %q has no url", entry.Selector)
	}

	for _, hook := range d.post {
		if hook == nil {
			continue
		}
		if err = hook(entry); err != nil {
			return nil, fmt.Errorf("manifest: post-decode hook: %w", err)
		}
	}
	return entry, nil
}

// LowercaseKeys rewrites every row key to its lower-cased form. Ingestion is
// case-insensitive by contract.
func LowercaseKeys(row Row) (Row, error) {
	out := make(Row, len(row))
	for key, value := range row {
		out[strings.ToLower(strings.TrimSpace(key))] = value
	}
	return out, nil
}

func firstString(row Row, keys ...string) string {
	for _, key := range keys {
		if values := valueStrings(row[key]); len(values) > 0 {
			return values[0]
		}
	}
	return ""
}

// stringsOf collects the values of the first key (singular or plural) that
// has any.
func stringsOf(row Row, keys ...string) []string {
	for _, key := range keys {
		if values := valueStrings(row[key]); len(values) > 0 {
			return values
		}
	}
	return nil
}

func floatsOf(row Row, keys ...string) []float64 {
	var out []float64
	for _, raw := range stringsOf(row, keys...) {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		out = append(out, value)
	}
	return out
}

// valueStrings unifies the value shapes rows arrive with: scalar strings
// (split on commas), numbers, booleans and arrays of any of those.
func valueStrings(value any) []string {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	case float64:
		return []string{strconv.FormatFloat(v, 'f', -1, 64)}
	case int:
		return []string{strconv.Itoa(v)}
	case bool:
		return []string{strconv.FormatBool(v)}
	case []string:
		var out []string
		for _, item := range v {
			out = append(out, valueStrings(item)...)
		}
		return out
	case []any:
		var out []string
		for _, item := range v {
			out = append(out, valueStrings(item)...)
		}
		return out
	default:
		return nil
	}
}
