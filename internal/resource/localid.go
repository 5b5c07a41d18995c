package resource

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set"
)

// IdKind is the syntax family of a non-fungible local id.
type IdKind uint8

const (
	IdInteger IdKind = 1 // IdInteger renders as #123#
	IdString  IdKind = 2 // IdString renders as <name>
	IdBytes   IdKind = 3 // IdBytes renders as [c0ffee]
	IdRuid    IdKind = 4 // IdRuid renders as {a-b-c-d}, four 16-hex groups
)

const maxIdLength = 64

// LocalId identifies one unit of a non-fungible resource. It is
// comparable; ordering is by kind, then numeric value, then raw bytes.
type LocalId struct {
	kind IdKind
	num  uint64
	raw  string
}

// IntegerId returns #n#.
func IntegerId(n uint64) LocalId {
	return LocalId{kind: IdInteger, num: n}
}

// StringId returns <s>. The caller must pass a valid name.
func StringId(s string) LocalId {
	return LocalId{kind: IdString, raw: s}
}

// BytesId returns [hex(b)].
func BytesId(b []byte) LocalId {
	return LocalId{kind: IdBytes, raw: string(b)}
}

// RuidId returns {...} for a 32-byte random id.
func RuidId(b [32]byte) LocalId {
	return LocalId{kind: IdRuid, raw: string(b[:])}
}

// Kind returns the syntax family.
func (l LocalId) Kind() IdKind {
	return l.kind
}

// String renders the canonical form.
func (l LocalId) String() string {
	switch l.kind {
	case IdInteger:
		return "#" + strconv.FormatUint(l.num, 10) + "#"
	case IdString:
		return "<" + l.raw + ">"
	case IdBytes:
		return "[" + hex.EncodeToString([]byte(l.raw)) + "]"
	case IdRuid:
		h := hex.EncodeToString([]byte(l.raw))
		return "{" + h[0:16] + "-" + h[16:32] + "-" + h[32:48] + "-" + h[48:64] + "}"
	}
	return "?"
}

// Less orders local ids.
func (l LocalId) Less(o LocalId) bool {
	if l.kind != o.kind {
		return l.kind < o.kind
	}
	if l.num != o.num {
		return l.num < o.num
	}
	return l.raw < o.raw
}

// ParseLocalId parses the canonical form.
func ParseLocalId(s string) (LocalId, error) {
	if len(s) < 3 {
		return LocalId{}, fmt.Errorf("%w: %q", ErrInvalidLocalId, s)
	}

	body := s[1 : len(s)-1]

	switch {
	case s[0] == '#' && s[len(s)-1] == '#':
		if body == "" || (len(body) > 1 && body[0] == '0') {
			break
		}
		n, err := strconv.ParseUint(body, 10, 64)
		if err != nil {
			break
		}
		return IntegerId(n), nil

	case s[0] == '<' && s[len(s)-1] == '>':
		if !validName(body) {
			break
		}
		return StringId(body), nil

	case s[0] == '[' && s[len(s)-1] == ']':
		if strings.ToLower(body) != body {
			break
		}
		b, err := hex.DecodeString(body)
		if err != nil || len(b) == 0 || len(b) > maxIdLength {
			break
		}
		return BytesId(b), nil

	case s[0] == '{' && s[len(s)-1] == '}':
		parts := strings.Split(body, "-")
		if len(parts) != 4 {
			break
		}
		joined := strings.Join(parts, "")
		if len(joined) != 64 || strings.ToLower(joined) != joined {
			break
		}
		b, err := hex.DecodeString(joined)
		if err != nil {
			break
		}
		var r [32]byte
		copy(r[:], b)
		return RuidId(r), nil
	}

	return LocalId{}, fmt.Errorf("%w: %q", ErrInvalidLocalId, s)
}

// validName reports whether s is a legal <string> id body.
func validName(s string) bool {
	if s == "" || len(s) > maxIdLength {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
		default:
			return false
		}
	}
	return true
}

// IdSet is a set of local ids iterated in id order. The zero value is an
// empty set ready to use.
type IdSet struct {
	set mapset.Set
}

// NewIdSet builds a set from ids.
func NewIdSet(list ...LocalId) IdSet {
	s := IdSet{set: mapset.NewThreadUnsafeSet()}
	for _, id := range list {
		s.set.Add(id)
	}
	return s
}

// ensure allocates the backing set of a zero value.
func (s *IdSet) ensure() {
	if s.set == nil {
		s.set = mapset.NewThreadUnsafeSet()
	}
}

// Add inserts id and reports whether it was absent.
func (s *IdSet) Add(id LocalId) bool {
	s.ensure()
	return s.set.Add(id)
}

// Remove deletes id.
func (s *IdSet) Remove(id LocalId) {
	if s.set != nil {
		s.set.Remove(id)
	}
}

// Contains reports membership.
func (s IdSet) Contains(id LocalId) bool {
	return s.set != nil && s.set.Contains(id)
}

// Len returns the number of ids.
func (s IdSet) Len() int {
	if s.set == nil {
		return 0
	}
	return s.set.Cardinality()
}

// Slice returns the ids in order.
func (s IdSet) Slice() []LocalId {
	if s.set == nil {
		return nil
	}

	out := make([]LocalId, 0, s.set.Cardinality())
	for _, v := range s.set.ToSlice() {
		out = append(out, v.(LocalId))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })

	return out
}

// Clone returns an independent copy.
func (s IdSet) Clone() IdSet {
	if s.set == nil {
		return IdSet{}
	}
	return IdSet{set: s.set.Clone()}
}

// IsSubset reports whether every id of s is in o.
func (s IdSet) IsSubset(o IdSet) bool {
	for _, id := range s.Slice() {
		if !o.Contains(id) {
			return false
		}
	}
	return true
}

// Intersects reports whether s and o share an id.
func (s IdSet) Intersects(o IdSet) bool {
	for _, id := range s.Slice() {
		if o.Contains(id) {
			return true
		}
	}
	return false
}

// Strings renders every id in order.
func (s IdSet) Strings() []string {
	list := s.Slice()
	out := make([]string, len(list))
	for i, id := range list {
		out[i] = id.String()
	}
	return out
}

// ParseIdSet parses canonical ids, rejecting duplicates.
func ParseIdSet(list []string) (IdSet, error) {
	s := NewIdSet()
	for _, str := range list {
		id, err := ParseLocalId(str)
		if err != nil {
			return IdSet{}, err
		}
		if !s.Add(id) {
			return IdSet{}, fmt.Errorf("%w: %s", ErrDuplicateId, id)
		}
	}
	return s, nil
}
