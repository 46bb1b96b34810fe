package estimation

import (
	"sort"

	"github.com/google/uuid"
	"github.com/mcdev12/planningpoker/go/internal/models"
)

// Projection is a client's local copy of one session. Participants are kept in join
// order; estimates are keyed by participant name.
type Projection struct {
	Session      *models.Session
	Participants []models.Participant
	Estimates    map[string]models.Estimate
	SelectedCard *string
}

func newProjection(s *models.Session, participants []models.Participant, estimates []models.Estimate) Projection {
	p := Projection{
		Session:   s,
		Estimates: make(map[string]models.Estimate, len(estimates)),
	}
	for _, pt := range participants {
		p.addParticipant(pt)
	}
	for _, e := range estimates {
		p.mergeEstimate(e)
	}
	return p
}

// Clone returns a deep copy safe to hand to other goroutines.
func (p Projection) Clone() Projection {
	out := Projection{
		Participants: append([]models.Participant(nil), p.Participants...),
		Estimates:    make(map[string]models.Estimate, len(p.Estimates)),
	}
	if p.Session != nil {
		s := *p.Session
		out.Session = &s
	}
	for name, e := range p.Estimates {
		if e.Value != nil {
			v := *e.Value
			e.Value = &v
		}
		out.Estimates[name] = e
	}
	if p.SelectedCard != nil {
		c := *p.SelectedCard
		out.SelectedCard = &c
	}
	return out
}

// Participant returns the participant with the given name, if present.
func (p *Projection) Participant(name string) *models.Participant {
	for i := range p.Participants {
		if p.Participants[i].Name == name {
			return &p.Participants[i]
		}
	}
	return nil
}

// EstimateList returns estimates in participant join order, followed by estimates of
// names no longer present sorted by name.
func (p *Projection) EstimateList() []models.Estimate {
	out := make([]models.Estimate, 0, len(p.Estimates))
	seen := make(map[string]bool, len(p.Estimates))
	for _, pt := range p.Participants {
		if e, ok := p.Estimates[pt.Name]; ok && !seen[pt.Name] {
			out = append(out, e)
			seen[pt.Name] = true
		}
	}
	var rest []models.Estimate
	for name, e := range p.Estimates {
		if !seen[name] {
			rest = append(rest, e)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].UserName < rest[j].UserName })
	return append(out, rest...)
}

// VotedCount returns how many estimates hold a card.
func (p *Projection) VotedCount() int {
	n := 0
	for _, e := range p.Estimates {
		if e.HasValue() {
			n++
		}
	}
	return n
}

// addParticipant inserts pt in join order. It is a no-op if the identifier is known.
func (p *Projection) addParticipant(pt models.Participant) bool {
	for _, existing := range p.Participants {
		if existing.ID == pt.ID {
			return false
		}
	}
	i := sort.Search(len(p.Participants), func(i int) bool {
		return joinedBefore(pt, p.Participants[i])
	})
	p.Participants = append(p.Participants, models.Participant{})
	copy(p.Participants[i+1:], p.Participants[i:])
	p.Participants[i] = pt
	return true
}

func joinedBefore(a, b models.Participant) bool {
	if !a.JoinedAt.Equal(b.JoinedAt) {
		return a.JoinedAt.Before(b.JoinedAt)
	}
	return a.ID.String() < b.ID.String()
}

func (p *Projection) removeParticipant(id uuid.UUID) (models.Participant, bool) {
	for i, pt := range p.Participants {
		if pt.ID == id {
			p.Participants = append(p.Participants[:i], p.Participants[i+1:]...)
			return pt, true
		}
	}
	return models.Participant{}, false
}

// mergeEstimate stores e under its participant name. When the name already maps to a
// different row, the most recently created row wins; the other one must have been
// deleted because a name holds at most one estimate row at a time.
func (p *Projection) mergeEstimate(e models.Estimate) (prev models.Estimate, hadPrev bool, applied bool) {
	prev, hadPrev = p.Estimates[e.UserName]
	if hadPrev && staleEstimate(e, prev) {
		return prev, true, false
	}
	p.Estimates[e.UserName] = e
	return prev, hadPrev, true
}

// staleEstimate reports whether e is older than the locally known row cur: a row created
// earlier than a different row for the same name, or an earlier version of the same row.
func staleEstimate(e, cur models.Estimate) bool {
	if e.ID != cur.ID {
		return e.CreatedAt.Before(cur.CreatedAt)
	}
	return e.UpdatedAt.Before(cur.UpdatedAt)
}

// replaceEstimate applies an update to the row with e's identifier, falling back to a
// name keyed merge when the row is not known locally.
func (p *Projection) replaceEstimate(e models.Estimate) (prev models.Estimate, hadPrev bool, applied bool) {
	for name, existing := range p.Estimates {
		if existing.ID != e.ID {
			continue
		}
		if staleEstimate(e, existing) {
			return existing, true, false
		}
		if name != e.UserName {
			delete(p.Estimates, name)
		}
		p.Estimates[e.UserName] = e
		return existing, true, true
	}
	return p.mergeEstimate(e)
}

func (p *Projection) removeEstimate(id uuid.UUID) (models.Estimate, bool) {
	for name, e := range p.Estimates {
		if e.ID == id {
			delete(p.Estimates, name)
			return e, true
		}
	}
	return models.Estimate{}, false
}
