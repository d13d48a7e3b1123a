package codec

import (
	"regexp"
	"strconv"
	"strings"
)

// GroupRecord is one LIST ACTIVE line: "group high low flags". Count is
// computed as max(0, high-low+1); a group reporting high < low (no
// articles retained) yields Count == 0. See DESIGN.md for why this
// implementation does not follow the inverted high>=low emptiness check
// the source's comment suggests.
type GroupRecord struct {
	Name  string
	High  int64
	Low   int64
	Flags string
	Count int64
}

// GroupListDecoder parses one LIST ACTIVE response, one group per line.
type GroupListDecoder struct {
	groups []*GroupRecord
}

func NewGroupListDecoder() *GroupListDecoder {
	return &GroupListDecoder{}
}

func (d *GroupListDecoder) Name() string { return "grouplist" }

func (d *GroupListDecoder) Detect(line string) bool {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return false
	}
	_, err := strconv.ParseInt(fields[1], 10, 64)
	return err == nil
}

func (d *GroupListDecoder) Feed(line string) Step {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return Failed()
	}

	high, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return Failed()
	}
	low, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return Failed()
	}

	count := high - low + 1
	if count < 0 {
		count = 0
	}

	rec := &GroupRecord{
		Name:  fields[0],
		High:  high,
		Low:   low,
		Flags: fields[3],
		Count: count,
	}
	d.groups = append(d.groups, rec)
	return DoneGroup(rec)
}

func (d *GroupListDecoder) Reset() { d.groups = nil }

// Groups returns every GroupRecord decoded since the last Reset.
func (d *GroupListDecoder) Groups() []*GroupRecord { return d.groups }

// FilterSubstring returns the subset of groups whose name contains needle,
// case-insensitively.
func FilterSubstring(groups []*GroupRecord, needle string) []*GroupRecord {
	needle = strings.ToLower(needle)
	out := make([]*GroupRecord, 0, len(groups))
	for _, g := range groups {
		if strings.Contains(strings.ToLower(g.Name), needle) {
			out = append(out, g)
		}
	}
	return out
}

// FilterRegexp returns the subset of groups whose name matches pattern.
func FilterRegexp(groups []*GroupRecord, pattern string) ([]*GroupRecord, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	out := make([]*GroupRecord, 0, len(groups))
	for _, g := range groups {
		if re.MatchString(g.Name) {
			out = append(out, g)
		}
	}
	return out, nil
}
