// Package schema evolves the synced table's columns to follow the source's
// header row. Structural changes are additive here; the only subtractive path
// is DropColumn, which the reconciler uses.
package schema

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"

	"sheetsync/internal/domain"
)

var identifierRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// MaxColumnLength is the longest column name every backend keeps intact.
// Postgres truncates identifiers past 63 bytes; MySQL rejects past 64.
const MaxColumnLength = 63

// Normalize turns a raw header into a column name: trimmed, lowercased, and
// every character outside [A-Za-z0-9] replaced with an underscore.
// "Phone Number" → "phone_number". Names longer than MaxColumnLength are cut
// and suffixed with a hash of the full name, so the same header always maps
// to the same column and two long headers sharing a prefix stay apart.
func Normalize(header string) string {
	return shorten(normalizeFull(header))
}

// Shortened reports whether Normalize had to cut the header.
func Shortened(header string) bool {
	return len(normalizeFull(header)) > MaxColumnLength
}

func shorten(name string) string {
	if len(name) <= MaxColumnLength {
		return name
	}
	h := fnv.New32a()
	h.Write([]byte(name))
	suffix := fmt.Sprintf("_%08x", h.Sum32())
	return name[:MaxColumnLength-len(suffix)] + suffix
}

func normalizeFull(header string) string {
	h := strings.ToLower(strings.TrimSpace(header))
	var b strings.Builder
	b.Grow(len(h))
	for _, r := range h {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// ValidIdentifier reports whether name may be used as a column identifier in a
// store statement. It is checked on the raw input, before any normalization.
func ValidIdentifier(name string) bool {
	return identifierRe.MatchString(name)
}

// IsReserved reports whether a header would collide with an engine-owned
// column. Underscores are ignored so "createdAt", "Created At" and
// "created_at" all hit the created timestamp.
func IsReserved(header string) bool {
	compact := strings.ReplaceAll(Normalize(header), "_", "")
	switch compact {
	case "superjoinid", "createdat", "updatedat":
		return true
	}
	return false
}

// IsIdentity reports whether a raw header names the identity column.
func IsIdentity(header string) bool {
	return strings.ReplaceAll(Normalize(header), "_", "") == "superjoinid"
}

// Role classifies a physical column name.
func Role(name string) domain.ColumnRole {
	switch name {
	case domain.IdentityColumn:
		return domain.RoleIdentity
	case domain.CreatedAtColumn, domain.UpdatedAtColumn:
		return domain.RoleSystemTimestamp
	}
	return domain.RoleUser
}

// Describe builds the descriptor of a physical column from its name.
func Describe(name string) domain.Column {
	switch Role(name) {
	case domain.RoleIdentity:
		return domain.Column{Name: name, Kind: domain.KindIdentityKey, Role: domain.RoleIdentity}
	case domain.RoleSystemTimestamp:
		return domain.Column{Name: name, Kind: domain.KindTimestamp, Role: domain.RoleSystemTimestamp}
	}
	return domain.UserColumn(name)
}

// NormalizeHeaders normalizes a header row, dropping empty and reserved
// entries and duplicates while keeping first-seen order.
func NormalizeHeaders(headers []string) []string {
	seen := make(map[string]bool, len(headers))
	out := make([]string, 0, len(headers))
	for _, h := range headers {
		if strings.TrimSpace(h) == "" || IsReserved(h) {
			continue
		}
		n := Normalize(h)
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
