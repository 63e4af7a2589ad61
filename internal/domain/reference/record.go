package reference

import (
	"strings"
	"time"

	"github.com/turtacn/KidneyMatch/internal/domain/features"
	apperrors "github.com/turtacn/KidneyMatch/pkg/errors"
)

const (
	// SequenceField identifies a reference row.
	SequenceField = "PTR_SEQUENCE_NUM"
	// OutcomeField holds whether the offer was accepted.
	OutcomeField = "PTR_OFFER_ACPT"
)

// Outcome is the binary accepted/rejected flag of a historical offer.
type Outcome int

const (
	Rejected Outcome = iota
	Accepted
)

func (o Outcome) String() string {
	if o == Accepted {
		return "accepted"
	}
	return "rejected"
}

func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *Outcome) UnmarshalText(b []byte) error {
	*o = ParseOutcome(features.Text(string(b)))
	return nil
}

// ParseOutcome reads an outcome cell.  Y, 1, true and accepted (any case)
// mean accepted; everything else, including null, is rejected.
func ParseOutcome(v features.Value) Outcome {
	if f, ok := v.Float(); ok {
		if f == 1 {
			return Accepted
		}
		return Rejected
	}
	switch strings.ToLower(strings.TrimSpace(v.String())) {
	case "y", "yes", "true", "accepted":
		return Accepted
	}
	return Rejected
}

// Record is one historical offer.
type Record struct {
	Index    int             `json:"index"`
	Sequence string          `json:"sequence"`
	Outcome  Outcome         `json:"outcome"`
	Features features.Vector `json:"features"`
}

// NewRecord wraps v, reading its sequence id and outcome.  Rows without a
// sequence id are identified by their position.
func NewRecord(index int, v features.Vector) Record {
	seq := ""
	if val, ok := v.Lookup(SequenceField); ok {
		seq = val.String()
	}
	outcome := Rejected
	if val, ok := v.Lookup(OutcomeField); ok {
		outcome = ParseOutcome(val)
	}
	return Record{Index: index, Sequence: seq, Outcome: outcome, Features: v}
}

// Population is the ordered, read-only set of reference records for a region.
type Population struct {
	region   Region
	records  []Record
	bySeq    map[string]int
	loadedAt time.Time
}

// NewPopulation builds a Population from raw rows.  An empty row set is a
// load failure.
func NewPopulation(region Region, rows []features.Vector) (*Population, error) {
	if len(rows) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeReferenceEmpty, "no reference data for region "+region.Name)
	}
	p := &Population{
		region:   region,
		records:  make([]Record, len(rows)),
		bySeq:    make(map[string]int, len(rows)),
		loadedAt: time.Now(),
	}
	for i, row := range rows {
		rec := NewRecord(i, row)
		p.records[i] = rec
		if rec.Sequence != "" {
			if _, dup := p.bySeq[rec.Sequence]; !dup {
				p.bySeq[rec.Sequence] = i
			}
		}
	}
	return p, nil
}

func (p *Population) Region() Region      { return p.region }
func (p *Population) Len() int            { return len(p.records) }
func (p *Population) LoadedAt() time.Time { return p.loadedAt }

// At returns the i-th record.
func (p *Population) At(i int) Record { return p.records[i] }

// Records returns the records in load order.  The slice is shared and must
// not be modified.
func (p *Population) Records() []Record { return p.records }

// Vectors returns the feature vectors in load order.
func (p *Population) Vectors() []features.Vector {
	out := make([]features.Vector, len(p.records))
	for i, r := range p.records {
		out[i] = r.Features
	}
	return out
}

// FindBySequence looks a record up by its sequence id.
func (p *Population) FindBySequence(seq string) (Record, bool) {
	i, ok := p.bySeq[seq]
	if !ok {
		return Record{}, false
	}
	return p.records[i], true
}
