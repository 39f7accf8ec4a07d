package etl

// ── Record ─────────────────────────────────────────────────
// Sources emit the sheet's header row once and then one Record per data row,
// the same shape the webhook receives.

// Schema is the header row of an export, in sheet order.
type Schema struct {
	Headers []string `json:"headers"`
}

// Record is a single data row keyed by raw header.
type Record struct {
	Data map[string]any `json:"data"`
}

// blank reports whether every cell of the record is empty.
func (r Record) blank() bool {
	for _, v := range r.Data {
		switch val := v.(type) {
		case nil:
		case string:
			if val != "" {
				return false
			}
		default:
			return false
		}
	}
	return true
}
